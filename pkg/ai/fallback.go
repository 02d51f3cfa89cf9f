package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"
)

// FallbackService routes classification to the hosted model first and
// falls back to the local one when it is unavailable or rate limited.
type FallbackService struct {
	primary   Classifier
	secondary Classifier
	log       zerolog.Logger
}

// NewFallbackService creates a new fallback service with both providers
func NewFallbackService(primary, secondary Classifier, log zerolog.Logger) *FallbackService {
	return &FallbackService{
		primary:   primary,
		secondary: secondary,
		log:       log,
	}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
		"circuit breaker is open",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// Classify tries the primary provider, then the secondary. A malformed
// answer is also retried on the secondary since it is a model failure.
func (f *FallbackService) Classify(ctx context.Context, req ClassificationRequest) (*Classification, error) {
	var primaryErr error
	if f.primary != nil {
		result, err := f.primary.Classify(ctx, req)
		if err == nil {
			return result, nil
		}
		primaryErr = err

		reason := "error"
		switch {
		case isQuotaError(err):
			reason = "quota"
		case isConnectionError(err):
			reason = "connection"
		case errors.Is(err, ErrMalformedResponse):
			reason = "malformed"
		}
		f.log.Warn().Err(err).Str("reason", reason).Msg("primary classifier failed, falling back")
	}

	if f.secondary != nil {
		result, err := f.secondary.Classify(ctx, req)
		if err == nil {
			return result, nil
		}
		if primaryErr != nil {
			return nil, fmt.Errorf("all classifiers failed: %w", errors.Join(primaryErr, err))
		}
		return nil, err
	}

	if primaryErr != nil {
		return nil, primaryErr
	}
	return nil, fmt.Errorf("no AI provider available for classification")
}
