package repository

import (
	"context"
	"fmt"
	"time"

	emaildomain "jobtrack-backend/internal/email/domain"
	"jobtrack-backend/pkg/chroma"
)

// VectorStore is the subset of the Chroma client used for search documents.
type VectorStore interface {
	Exists(ctx context.Context, userID, id string) (bool, error)
	Get(ctx context.Context, userID, id string) (*chroma.Document, error)
	Add(ctx context.Context, userID string, doc chroma.Document) error
	Upsert(ctx context.Context, userID string, doc chroma.Document) error
	Delete(ctx context.Context, userID, id string) error
	Query(ctx context.Context, userID string, vector []float32, n int) ([]chroma.Match, error)
}

// SearchIndexRepository stores SearchDocuments in per-user namespaces.
type SearchIndexRepository interface {
	Exists(ctx context.Context, userID, id string) (bool, error)
	Get(ctx context.Context, userID, id string) (*emaildomain.SearchDocument, error)
	Index(ctx context.Context, doc *emaildomain.SearchDocument) error
	Upsert(ctx context.Context, doc *emaildomain.SearchDocument) error
	Delete(ctx context.Context, userID, id string) error
	Nearest(ctx context.Context, userID string, vector []float32, k int) ([]emaildomain.SearchHit, error)
}

type searchIndexRepository struct {
	store VectorStore
}

func NewSearchIndexRepository(store VectorStore) SearchIndexRepository {
	return &searchIndexRepository{store: store}
}

func (r *searchIndexRepository) Exists(ctx context.Context, userID, id string) (bool, error) {
	return r.store.Exists(ctx, userID, id)
}

func (r *searchIndexRepository) Get(ctx context.Context, userID, id string) (*emaildomain.SearchDocument, error) {
	doc, err := r.store.Get(ctx, userID, id)
	if err != nil || doc == nil {
		return nil, err
	}
	out := &emaildomain.SearchDocument{
		EmailRecord: RecordFromMetadata(doc.ID, doc.Metadata),
		Embedding:   doc.Embedding,
		Text:        doc.Text,
	}
	return out, nil
}

func (r *searchIndexRepository) Index(ctx context.Context, doc *emaildomain.SearchDocument) error {
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document %s has no embedding", doc.ID)
	}
	return r.store.Add(ctx, doc.UserID, toChroma(doc))
}

func (r *searchIndexRepository) Upsert(ctx context.Context, doc *emaildomain.SearchDocument) error {
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document %s has no embedding", doc.ID)
	}
	return r.store.Upsert(ctx, doc.UserID, toChroma(doc))
}

func (r *searchIndexRepository) Delete(ctx context.Context, userID, id string) error {
	return r.store.Delete(ctx, userID, id)
}

func (r *searchIndexRepository) Nearest(ctx context.Context, userID string, vector []float32, k int) ([]emaildomain.SearchHit, error) {
	matches, err := r.store.Query(ctx, userID, vector, k)
	if err != nil {
		return nil, err
	}
	hits := make([]emaildomain.SearchHit, 0, len(matches))
	for _, m := range matches {
		rec := RecordFromMetadata(m.ID, m.Metadata)
		hits = append(hits, emaildomain.SearchHit{
			ID:           m.ID,
			GroupID:      rec.GroupID,
			CompanyTitle: rec.CompanyTitle,
			JobTitle:     rec.JobTitle,
			Distance:     m.Distance,
		})
	}
	return hits, nil
}

func toChroma(doc *emaildomain.SearchDocument) chroma.Document {
	return chroma.Document{
		ID:        doc.ID,
		Text:      doc.Text,
		Embedding: doc.Embedding,
		Metadata:  MetadataFromRecord(&doc.EmailRecord),
	}
}

// MetadataFromRecord flattens the record into filterable metadata.
// sent_on is stored as Unix seconds.
func MetadataFromRecord(rec *emaildomain.EmailRecord) map[string]interface{} {
	md := map[string]interface{}{
		"user_id":            rec.UserID,
		"company_title":      rec.CompanyTitle,
		"job_title":          rec.JobTitle,
		"application_status": string(rec.ApplicationStatus),
		"confidence":         rec.Confidence,
		"group_id":           rec.GroupID,
		"source_blob_ref":    rec.SourceBlobRef,
		"subject":            rec.Subject,
		"from":               rec.From,
		"preview":            rec.Preview,
	}
	if !rec.SentOn.IsZero() {
		md["sent_on"] = rec.SentOn.Unix()
	}
	return md
}

// RecordFromMetadata is the inverse of MetadataFromRecord. Unknown or
// mistyped keys are ignored.
func RecordFromMetadata(id string, md map[string]interface{}) emaildomain.EmailRecord {
	rec := emaildomain.EmailRecord{
		ID:                id,
		UserID:            metaString(md, "user_id"),
		CompanyTitle:      metaString(md, "company_title"),
		JobTitle:          metaString(md, "job_title"),
		ApplicationStatus: emaildomain.ApplicationStatus(metaString(md, "application_status")),
		GroupID:           metaString(md, "group_id"),
		SourceBlobRef:     metaString(md, "source_blob_ref"),
		Subject:           metaString(md, "subject"),
		From:              metaString(md, "from"),
		Preview:           metaString(md, "preview"),
	}
	if v, ok := metaNumber(md, "confidence"); ok {
		rec.Confidence = v
	}
	if v, ok := metaNumber(md, "sent_on"); ok {
		rec.SentOn = time.Unix(int64(v), 0).UTC()
	}
	return rec
}

func metaString(md map[string]interface{}, key string) string {
	s, _ := md[key].(string)
	return s
}

func metaNumber(md map[string]interface{}, key string) (float64, bool) {
	switch v := md[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
