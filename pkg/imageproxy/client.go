package imageproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"jobtrack-backend/pkg/breaker"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const maxImageBytes = 10 << 20

// ErrTooLarge is returned when a remote image exceeds the size cap.
var ErrTooLarge = errors.New("image exceeds size limit")

type Image struct {
	Data        []byte
	ContentType string
}

// Client fetches remote images through the image proxy. Repeated failures
// trip a circuit breaker so a dead proxy does not stall intake.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cb:      breaker.New("image-proxy", log),
	}
}

// Fetch downloads src. Without a configured proxy the image is fetched
// directly.
func (c *Client) Fetch(ctx context.Context, src string) (*Image, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetch(ctx, src)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Image), nil
}

func (c *Client) fetch(ctx context.Context, src string) (*Image, error) {
	target := src
	if c.baseURL != "" {
		target = c.baseURL + "?url=" + url.QueryEscape(src)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("image proxy returned %d for %s", resp.StatusCode, src)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, ErrTooLarge
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Image{Data: data, ContentType: contentType}, nil
}
