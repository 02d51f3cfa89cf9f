package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	emaildomain "jobtrack-backend/internal/email/domain"
	emailRepo "jobtrack-backend/internal/email/repository"
	"jobtrack-backend/internal/pipeline"
	"jobtrack-backend/pkg/ai"
	"jobtrack-backend/pkg/mailparser"
	"jobtrack-backend/pkg/objectstorage"

	"github.com/rs/zerolog"
)

// SearchSyncUsecase mirrors email record changes into the search index.
type SearchSyncUsecase struct {
	index     emailRepo.SearchIndexRepository
	blobs     BlobReader
	parser    *mailparser.Parser
	embedder  ai.Embedder
	tokenizer ai.Tokenizer
	maxTokens int
	log       zerolog.Logger
}

func NewSearchSyncUsecase(
	index emailRepo.SearchIndexRepository,
	blobs BlobReader,
	parser *mailparser.Parser,
	embedder ai.Embedder,
	tokenizer ai.Tokenizer,
	maxTokens int,
	log zerolog.Logger,
) *SearchSyncUsecase {
	return &SearchSyncUsecase{
		index:     index,
		blobs:     blobs,
		parser:    parser,
		embedder:  embedder,
		tokenizer: tokenizer,
		maxTokens: maxTokens,
		log:       log,
	}
}

// Handle applies one change event. Errors leave the indexed document as it
// was and are returned so the event is redelivered.
func (u *SearchSyncUsecase) Handle(ctx context.Context, event emaildomain.EmailChangeEvent) error {
	rec := event.Record()
	if rec == nil || rec.ID == "" || rec.UserID == "" {
		return nil
	}
	log := u.log.With().Str("email_id", rec.ID).Str("op", string(event.Op)).Logger()

	var err error
	switch event.Op {
	case pipeline.OpInsert:
		err = u.create(ctx, rec, log)
	case pipeline.OpUpdate:
		err = u.update(ctx, rec, log)
	case pipeline.OpDelete:
		err = u.index.Delete(ctx, rec.UserID, rec.ID)
	default:
		log.Warn().Msg("ignoring unknown change operation")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("search index sync failed")
		return err
	}
	return nil
}

func (u *SearchSyncUsecase) create(ctx context.Context, rec *emaildomain.EmailRecord, log zerolog.Logger) error {
	exists, err := u.index.Exists(ctx, rec.UserID, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		return u.update(ctx, rec, log)
	}

	doc, err := u.embed(ctx, rec, log)
	if err != nil {
		return err
	}
	if err := u.index.Index(ctx, doc); err != nil {
		return err
	}
	log.Debug().Int("dimensions", len(doc.Embedding)).Msg("indexed email")
	return nil
}

// update carries the stored embedding and text forward; only the record
// fields change.
func (u *SearchSyncUsecase) update(ctx context.Context, rec *emaildomain.EmailRecord, log zerolog.Logger) error {
	doc, err := u.index.Get(ctx, rec.UserID, rec.ID)
	if err != nil {
		return err
	}
	if doc == nil || len(doc.Embedding) == 0 {
		log.Debug().Msg("no indexed document yet, indexing in full")
		if doc, err = u.embed(ctx, rec, log); err != nil {
			return err
		}
		return u.index.Upsert(ctx, doc)
	}
	doc.EmailRecord = *rec
	return u.index.Upsert(ctx, doc)
}

// embed builds a full document for rec. The embedded input is the
// serialized record cut to the token budget.
func (u *SearchSyncUsecase) embed(ctx context.Context, rec *emaildomain.EmailRecord, log zerolog.Logger) (*emaildomain.SearchDocument, error) {
	body := u.sourceText(ctx, rec, log)
	input := SerializeRecord(rec, body)
	if u.tokenizer != nil && u.maxTokens > 0 {
		if cut, truncated := u.tokenizer.Truncate(input, u.maxTokens); truncated {
			log.Warn().Int("max_tokens", u.maxTokens).Int("chars", len(input)).Msg("embedding input truncated")
			input = cut
		}
	}
	vector, err := u.embedder.Embed(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to embed: %w", err)
	}
	return &emaildomain.SearchDocument{EmailRecord: *rec, Embedding: vector, Text: body}, nil
}

// sourceText returns the full message text, or the stored preview when the
// source is gone or unreadable.
func (u *SearchSyncUsecase) sourceText(ctx context.Context, rec *emaildomain.EmailRecord, log zerolog.Logger) string {
	if rec.SourceBlobRef == "" {
		return rec.Preview
	}
	raw, err := u.blobs.Get(ctx, rec.SourceBlobRef)
	if err != nil {
		if !errors.Is(err, objectstorage.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to load source message, using preview")
		}
		return rec.Preview
	}
	parsed, err := u.parser.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse source message, using preview")
		return rec.Preview
	}
	return parsed.PlainText()
}

// SerializeRecord renders the text that is embedded for a record.
func SerializeRecord(rec *emaildomain.EmailRecord, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", rec.CompanyTitle)
	fmt.Fprintf(&b, "Role: %s\n", rec.JobTitle)
	fmt.Fprintf(&b, "Status: %s\n", rec.ApplicationStatus)
	fmt.Fprintf(&b, "Subject: %s\n", rec.Subject)
	fmt.Fprintf(&b, "From: %s\n", rec.From)
	if !rec.SentOn.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", rec.SentOn.Format(time.RFC3339))
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}
