package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"

	emaildomain "jobtrack-backend/internal/email/domain"
	"jobtrack-backend/pkg/ai"
	"jobtrack-backend/pkg/objectstorage"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sampleMessage = "From: Acme Recruiting <jobs@acme.com>\r\n" +
	"To: u-1@inbox.jobtrack.local\r\n" +
	"Subject: Your application\r\n" +
	"Message-ID: <abc@acme.com>\r\n" +
	"Date: Mon, 03 Jun 2024 09:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Thanks for applying to the Engineer role at Acme.\r\n"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&emaildomain.EmailRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeBlobs struct {
	objects map[string][]byte
	err     error
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, objectstorage.ErrNotFound
	}
	return data, nil
}

type fakeClassifier struct {
	result *ai.Classification
	err    error
	got    []ai.ClassificationRequest
}

func (f *fakeClassifier) Classify(_ context.Context, req ai.ClassificationRequest) (*ai.Classification, error) {
	f.got = append(f.got, req)
	return f.result, f.err
}

type fakePublisher struct {
	mu   sync.Mutex
	sent map[string][]interface{}
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[string][]interface{}{}
	}
	f.sent[topic] = append(f.sent[topic], v)
	return nil
}

type fakeEmbedder struct {
	inputs []string
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(f.inputs)), 0.5}, nil
}

// wordTokenizer treats each whitespace separated word as one token.
type wordTokenizer struct{}

func (wordTokenizer) Truncate(text string, maxTokens int) (string, bool) {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text, false
	}
	return strings.Join(words[:maxTokens], " "), true
}

type memoryIndex struct {
	docs map[string]*emaildomain.SearchDocument
	err  error
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{docs: map[string]*emaildomain.SearchDocument{}}
}

func (m *memoryIndex) Exists(_ context.Context, _, id string) (bool, error) {
	_, ok := m.docs[id]
	return ok, m.err
}

func (m *memoryIndex) Get(_ context.Context, _, id string) (*emaildomain.SearchDocument, error) {
	if m.err != nil {
		return nil, m.err
	}
	doc, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	c := *doc
	return &c, nil
}

func (m *memoryIndex) Index(_ context.Context, doc *emaildomain.SearchDocument) error {
	if m.err != nil {
		return m.err
	}
	c := *doc
	m.docs[doc.ID] = &c
	return nil
}

func (m *memoryIndex) Upsert(ctx context.Context, doc *emaildomain.SearchDocument) error {
	return m.Index(ctx, doc)
}

func (m *memoryIndex) Delete(_ context.Context, _, id string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.docs, id)
	return nil
}

func (m *memoryIndex) Nearest(context.Context, string, []float32, int) ([]emaildomain.SearchHit, error) {
	return nil, nil
}
