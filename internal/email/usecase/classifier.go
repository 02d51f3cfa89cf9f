package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	emaildomain "jobtrack-backend/internal/email/domain"
	emailRepo "jobtrack-backend/internal/email/repository"
	"jobtrack-backend/internal/pipeline"
	"jobtrack-backend/pkg/ai"
	"jobtrack-backend/pkg/mailparser"
	"jobtrack-backend/pkg/objectstorage"
	"jobtrack-backend/pkg/queue"

	"github.com/rs/zerolog"
)

// ClassifierUsecase turns one stored message into zero or more email
// records and queues each for grouping.
type ClassifierUsecase struct {
	blobs      BlobReader
	parser     *mailparser.Parser
	classifier ai.Classifier
	records    emailRepo.EmailRecordRepository
	publisher  queue.Publisher
	groupTopic string
	tokenizer  ai.Tokenizer
	maxTokens  int
	log        zerolog.Logger
}

type ClassifierConfig struct {
	GroupTopic string
	// MaxTokens bounds the email content sent to the model; 0 disables it.
	MaxTokens int
}

func NewClassifierUsecase(
	blobs BlobReader,
	parser *mailparser.Parser,
	classifier ai.Classifier,
	records emailRepo.EmailRecordRepository,
	publisher queue.Publisher,
	tokenizer ai.Tokenizer,
	cfg ClassifierConfig,
	log zerolog.Logger,
) *ClassifierUsecase {
	return &ClassifierUsecase{
		blobs:      blobs,
		parser:     parser,
		classifier: classifier,
		records:    records,
		publisher:  publisher,
		groupTopic: cfg.GroupTopic,
		tokenizer:  tokenizer,
		maxTokens:  cfg.MaxTokens,
		log:        log,
	}
}

// Handle classifies the message at msg.ObjectKey. Classification failures
// drop the message; only storage and queue failures are returned.
func (u *ClassifierUsecase) Handle(ctx context.Context, msg pipeline.ClassificationMessage) error {
	log := u.log.With().Str("object_key", msg.ObjectKey).Str("user_id", msg.UserID).Logger()
	if msg.ObjectKey == "" || msg.UserID == "" {
		log.Error().Msg("dropping incomplete classification message")
		return nil
	}

	raw, err := u.blobs.Get(ctx, msg.ObjectKey)
	if err != nil {
		if errors.Is(err, objectstorage.ErrNotFound) {
			log.Warn().Msg("stored message no longer exists")
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", msg.ObjectKey, err)
	}

	parsed, err := u.parser.Parse(raw)
	if err != nil {
		log.Error().Err(err).Msg("dropping unparseable message")
		return nil
	}

	result, err := u.classifier.Classify(ctx, ai.ClassificationRequest{
		SystemInstructions: ai.SystemInstructions,
		EmailContent:       u.content(parsed, log),
	})
	if err != nil {
		log.Error().Err(err).Msg("classification failed, dropping message")
		return nil
	}
	if result.Skipped > 0 {
		log.Warn().Int("skipped", result.Skipped).Msg("ignored application tuples without a company")
	}
	if !result.IsJobApplication || len(result.Applications) == 0 {
		log.Debug().Msg("not a job application")
		return nil
	}

	messageID := path.Base(msg.ObjectKey)
	for i, app := range result.Applications {
		rec := &emaildomain.EmailRecord{
			ID:                emaildomain.RecordID(messageID, i, app.CompanyTitle, app.JobTitle),
			UserID:            msg.UserID,
			CompanyTitle:      app.CompanyTitle,
			JobTitle:          app.JobTitle,
			ApplicationStatus: emaildomain.ApplicationStatus(app.ApplicationStatus),
			Confidence:        app.Confidence,
			SourceBlobRef:     msg.ObjectKey,
			SentOn:            parsed.Date.UTC(),
			Subject:           parsed.Subject,
			From:              parsed.From,
			Preview:           parsed.Preview,
		}
		if err := u.store(ctx, rec, log); err != nil {
			return err
		}
	}
	return nil
}

// store writes rec and queues it. A record that already exists and is
// grouped has been fully processed; one without a group is queued again
// since its earlier publish may have been lost.
func (u *ClassifierUsecase) store(ctx context.Context, rec *emaildomain.EmailRecord, log zerolog.Logger) error {
	existing, err := u.records.FindByID(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to check record %s: %w", rec.ID, err)
	}
	if existing != nil {
		if existing.GroupID != "" {
			log.Debug().Str("email_id", rec.ID).Msg("record already processed")
			return nil
		}
		rec = existing
	} else if _, err := u.records.Create(ctx, rec); err != nil {
		return fmt.Errorf("failed to create record %s: %w", rec.ID, err)
	}

	if err := u.publisher.Publish(ctx, u.groupTopic, rec); err != nil {
		return fmt.Errorf("failed to queue record %s: %w", rec.ID, err)
	}
	log.Info().
		Str("email_id", rec.ID).
		Str("company", rec.CompanyTitle).
		Str("status", string(rec.ApplicationStatus)).
		Msg("queued email record for grouping")
	return nil
}

func (u *ClassifierUsecase) content(parsed *mailparser.ParsedEmail, log zerolog.Logger) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", parsed.Subject)
	if parsed.FromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\n", parsed.FromName, parsed.From)
	} else {
		fmt.Fprintf(&b, "From: %s\n", parsed.From)
	}
	fmt.Fprintf(&b, "Date: %s\n\n", parsed.Date.Format(time.RFC1123Z))
	b.WriteString(parsed.PlainText())

	text := b.String()
	if u.tokenizer != nil && u.maxTokens > 0 {
		if cut, truncated := u.tokenizer.Truncate(text, u.maxTokens); truncated {
			log.Warn().Int("max_tokens", u.maxTokens).Msg("email content truncated for classification")
			text = cut
		}
	}
	return text
}
