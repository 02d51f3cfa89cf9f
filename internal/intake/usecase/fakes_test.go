package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	userdomain "jobtrack-backend/internal/user/domain"
	userRepo "jobtrack-backend/internal/user/repository"
	"jobtrack-backend/pkg/cache"
	"jobtrack-backend/pkg/imageproxy"
	"jobtrack-backend/pkg/mailparser"
	"jobtrack-backend/pkg/objectstorage"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	appAddress  = "u-1@inbox.jobtrack.local"
	userMailbox = "jane@gmail.com"
	placeholder = "https://static.test/unavailable.png"
	publicBase  = "https://cdn.test"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, objectstorage.ErrNotFound
	}
	return data, nil
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

func (s *memoryStore) PutArchive(ctx context.Context, key string, raw []byte) error {
	return s.Put(ctx, key, raw, "message/rfc822")
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memoryStore) PublicURL(key string) string {
	return publicBase + "/" + key
}

func (s *memoryStore) keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

type fakeRecords struct {
	sources map[string]bool
}

func (f *fakeRecords) ExistsBySource(_ context.Context, ref string) (bool, error) {
	return f.sources[ref], nil
}

type fakeForwarder struct {
	recipients []string
	raw        [][]byte
}

func (f *fakeForwarder) Forward(_ context.Context, raw []byte, recipient string) error {
	f.recipients = append(f.recipients, recipient)
	f.raw = append(f.raw, raw)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []interface{}
}

func (f *fakePublisher) Publish(_ context.Context, _ string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

type fakeFetcher struct {
	images map[string]*imageproxy.Image
}

func (f *fakeFetcher) Fetch(_ context.Context, src string) (*imageproxy.Image, error) {
	if img, ok := f.images[src]; ok {
		return img, nil
	}
	return nil, imageproxy.ErrTooLarge
}

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
	if err := db.AutoMigrate(&userdomain.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type harness struct {
	intake    *IntakeUsecase
	store     *memoryStore
	records   *fakeRecords
	forwarder *fakeForwarder
	publisher *fakePublisher
	delivered int
}

func newHarness(t *testing.T, fetcher ImageFetcher) *harness {
	t.Helper()
	users := userRepo.NewUserRepository(openTestDB(t))
	err := users.Create(context.Background(), &userdomain.User{
		ID:              "u1",
		Email:           userMailbox,
		AppAddress:      appAddress,
		SourceAddresses: []string{userMailbox, "jane@work.example"},
	})
	if err != nil {
		t.Fatal(err)
	}

	log := zerolog.Nop()
	h := &harness{
		store:     newMemoryStore(),
		records:   &fakeRecords{sources: map[string]bool{}},
		forwarder: &fakeForwarder{},
		publisher: &fakePublisher{},
	}
	parser := &mailparser.Parser{Now: func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }}
	resolver := NewUserResolver(users, cache.NewMemoryCache(16, time.Minute), log)
	images := NewImageRehoster(h.store, fetcher, placeholder, 4, log)
	h.intake = NewIntakeUsecase(h.store, parser, resolver, h.records, h.forwarder, images, h.publisher,
		IntakeConfig{ClassifyTopic: "classify"}, log)
	return h
}

// deliver drops raw into the inbound area and returns its key.
func (h *harness) deliver(raw string) string {
	h.delivered++
	key := fmt.Sprintf("inbound/%d", h.delivered)
	h.store.objects[key] = []byte(raw)
	return key
}

// forwardedMessage is recruiter mail auto-forwarded from the user's mailbox.
func forwardedMessage(html string) string {
	return "From: Acme Recruiting <jobs@acme.com>\r\n" +
		"To: " + userMailbox + "\r\n" +
		"X-Original-To: " + appAddress + "\r\n" +
		"Subject: Interview invitation\r\n" +
		"Message-ID: <m1@acme.com>\r\n" +
		"Date: Mon, 03 Jun 2024 09:00:00 +0000\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/related; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		html + "\r\n" +
		"--b1\r\n" +
		"Content-Type: image/png\r\n" +
		"Content-ID: <logo@acme>\r\n" +
		"Content-Disposition: inline; filename=\"logo.png\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"iVBORw0KGgoAAAANSUhEUg==\r\n" +
		"--b1--\r\n"
}
