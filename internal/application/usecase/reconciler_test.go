package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	appdomain "jobtrack-backend/internal/application/domain"
	appRepo "jobtrack-backend/internal/application/repository"
	emaildomain "jobtrack-backend/internal/email/domain"
	emailRepo "jobtrack-backend/internal/email/repository"
	"jobtrack-backend/internal/pipeline"

	"github.com/rs/zerolog"
)

func TestReconcilerAfterMerge(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	emails := emailRepo.NewEmailRecordRepository(db, nil)
	events := &groupEvents{}
	engine := NewGroupingEngine(appRepo.NewGroupRepository(db, events), newFakeIndex(), zerolog.Nop())
	reconciler := NewReconciler(emails, 2, zerolog.Nop())

	e1 := record("e1", "Acme", "Engineer", emaildomain.StatusAcknowledged, t0)
	e2 := record("e2", "Acme", "Engineer", emaildomain.StatusInterviewRequested, t0.Add(time.Hour))
	for _, e := range []*emaildomain.EmailRecord{e1, e2} {
		if _, err := emails.Create(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	var group *appdomain.ApplicationGroup
	for _, e := range []*emaildomain.EmailRecord{e1, e2} {
		g, err := engine.Assign(ctx, e)
		if err != nil {
			t.Fatal(err)
		}
		group = g
	}
	for _, ev := range events.events {
		if err := reconciler.Handle(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	for _, id := range []string{"e1", "e2"} {
		got, err := emails.FindByID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.GroupID != group.ID {
			t.Fatalf("%s group_id = %q, want %q", id, got.GroupID, group.ID)
		}
	}
}

// flakyEmails fails lookups for selected ids.
type flakyEmails struct {
	emailRepo.EmailRecordRepository
	fail map[string]bool
}

func (f *flakyEmails) FindByID(ctx context.Context, id string) (*emaildomain.EmailRecord, error) {
	if f.fail[id] {
		return nil, errors.New("connection reset")
	}
	return f.EmailRecordRepository.FindByID(ctx, id)
}

func TestReconcilerIsolatesFailures(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := emailRepo.NewEmailRecordRepository(db, nil)
	for _, id := range []string{"ok1", "bad", "ok2"} {
		if _, err := base.Create(ctx, record(id, "Acme", "Engineer", emaildomain.StatusAcknowledged, t0)); err != nil {
			t.Fatal(err)
		}
	}
	reconciler := NewReconciler(&flakyEmails{EmailRecordRepository: base, fail: map[string]bool{"bad": true}}, 4, zerolog.Nop())

	group := &appdomain.ApplicationGroup{
		ID: "g1",
		EmailIDs: appdomain.EmailIDsByStatus{
			emaildomain.StatusAcknowledged: {"ok1", "bad", "missing"},
			emaildomain.StatusRejected:     {"ok2"},
		},
	}
	if err := reconciler.Handle(ctx, appdomain.GroupChangeEvent{Op: pipeline.OpUpdate, After: group}); err != nil {
		t.Fatalf("batch should not fail: %v", err)
	}
	for _, id := range []string{"ok1", "ok2"} {
		got, _ := base.FindByID(ctx, id)
		if got.GroupID != "g1" {
			t.Fatalf("%s not reconciled", id)
		}
	}
	bad, _ := base.FindByID(ctx, "bad")
	if bad.GroupID != "" {
		t.Fatal("failed email should be left untouched")
	}
}

func TestReconcilerIgnoresDeletes(t *testing.T) {
	reconciler := NewReconciler(nil, 1, zerolog.Nop())
	err := reconciler.Handle(context.Background(), appdomain.GroupChangeEvent{Op: pipeline.OpDelete, Before: &appdomain.ApplicationGroup{ID: "g"}})
	if err != nil {
		t.Fatal(err)
	}
}
