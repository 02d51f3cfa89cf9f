package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	appdomain "jobtrack-backend/internal/application/domain"
	appRepo "jobtrack-backend/internal/application/repository"
	emaildomain "jobtrack-backend/internal/email/domain"
	userdomain "jobtrack-backend/internal/user/domain"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

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
	if err := db.AutoMigrate(&appdomain.ApplicationGroup{}, &emaildomain.EmailRecord{}, &userdomain.DeviceToken{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type groupEvents struct {
	events []appdomain.GroupChangeEvent
}

func (n *groupEvents) GroupChanged(_ context.Context, event appdomain.GroupChangeEvent) {
	n.events = append(n.events, event)
}

// fakeIndex serves stored documents and a fixed neighbour list.
type fakeIndex struct {
	docs map[string]*emaildomain.SearchDocument
	hits []emaildomain.SearchHit
	err  error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]*emaildomain.SearchDocument{}}
}

func (f *fakeIndex) Get(_ context.Context, _, id string) (*emaildomain.SearchDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[id], nil
}

func (f *fakeIndex) Nearest(_ context.Context, _ string, _ []float32, k int) ([]emaildomain.SearchHit, error) {
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) indexed(e *emaildomain.EmailRecord) {
	f.docs[e.ID] = &emaildomain.SearchDocument{EmailRecord: *e, Embedding: []float32{1, 0}}
}

func record(id, company, title string, status emaildomain.ApplicationStatus, sent time.Time) *emaildomain.EmailRecord {
	return &emaildomain.EmailRecord{
		ID:                id,
		UserID:            "u1",
		CompanyTitle:      company,
		JobTitle:          title,
		ApplicationStatus: status,
		Confidence:        0.9,
		SentOn:            sent,
		Subject:           "subject " + id,
	}
}

func hit(e *emaildomain.EmailRecord, groupID string, distance float64) emaildomain.SearchHit {
	return emaildomain.SearchHit{ID: e.ID, GroupID: groupID, CompanyTitle: e.CompanyTitle, JobTitle: e.JobTitle, Distance: distance}
}

type engineFixture struct {
	groups appRepo.GroupRepository
	events *groupEvents
	index  *fakeIndex
	engine *GroupingEngine
	db     *gorm.DB
}

func newEngine(t *testing.T, opts ...GroupingOption) *engineFixture {
	t.Helper()
	db := openTestDB(t)
	events := &groupEvents{}
	groups := appRepo.NewGroupRepository(db, events)
	index := newFakeIndex()
	return &engineFixture{
		groups: groups,
		events: events,
		index:  index,
		engine: NewGroupingEngine(groups, index, zerolog.Nop(), opts...),
		db:     db,
	}
}

func TestUntitledEmailCreatesPlaceholderGroup(t *testing.T) {
	f := newEngine(t)
	e := record("e1", "Acme", "", emaildomain.StatusAcknowledged, t0)

	g, err := f.engine.Assign(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	if g.JobTitle == "" || !g.PlaceholderTitle || !strings.HasPrefix(g.JobTitle, "untitled-") {
		t.Fatalf("job title = %q placeholder=%v", g.JobTitle, g.PlaceholderTitle)
	}
	if ids := g.EmailIDs[emaildomain.StatusAcknowledged]; len(ids) != 1 || ids[0] != "e1" {
		t.Fatalf("email ids = %v", g.EmailIDs)
	}
	stored, err := f.groups.FindByID(context.Background(), g.ID)
	if err != nil || stored == nil {
		t.Fatalf("group not stored: %v", err)
	}
}

func TestTitledEmailJoinsSemanticPlaceholderGroup(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	first := record("e1", "Acme", "", emaildomain.StatusAcknowledged, t0)
	placeholder, err := f.engine.Assign(ctx, first)
	if err != nil {
		t.Fatal(err)
	}

	second := record("e2", "Acme", "Engineer", emaildomain.StatusInterviewRequested, t0.Add(48*time.Hour))
	f.index.indexed(first)
	f.index.indexed(second)
	f.index.hits = []emaildomain.SearchHit{hit(second, "", 0), hit(first, placeholder.ID, 0.12)}

	g, err := f.engine.Assign(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if g.ID != placeholder.ID {
		t.Fatalf("merged into %s, want %s", g.ID, placeholder.ID)
	}
	if got := g.AllEmailIDs(); len(got) != 2 {
		t.Fatalf("email ids = %v, want two", got)
	}
	if g.JobTitle != "Engineer" || g.PlaceholderTitle {
		t.Fatalf("title = %q placeholder=%v, want upgraded", g.JobTitle, g.PlaceholderTitle)
	}
	if g.LastStatus != emaildomain.StatusInterviewRequested || g.LastEmailSubject != "subject e2" {
		t.Fatalf("last fields = %s %q", g.LastStatus, g.LastEmailSubject)
	}

	// A later email for the same role finds the upgraded group even though
	// its key was derived from the placeholder.
	third := record("e3", "ACME", "engineer", emaildomain.StatusOfferExtended, t0.Add(96*time.Hour))
	f.index.hits = nil
	g3, err := f.engine.Assign(ctx, third)
	if err != nil {
		t.Fatal(err)
	}
	if g3.ID != placeholder.ID || len(g3.AllEmailIDs()) != 3 {
		t.Fatalf("third email went to %s with %v", g3.ID, g3.AllEmailIDs())
	}
}

func TestTitledEmailsShareExactGroup(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	a, err := f.engine.Assign(ctx, record("e1", "Globex", "Analyst", emaildomain.StatusAcknowledged, t0))
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.engine.Assign(ctx, record("e2", " globex ", "ANALYST", emaildomain.StatusRejected, t0.Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatalf("groups differ: %s vs %s", a.ID, b.ID)
	}
	if b.LastStatus != emaildomain.StatusRejected {
		t.Fatalf("last status = %s", b.LastStatus)
	}
}

func TestTitledEmailDoesNotJoinOtherRole(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	other := record("e1", "Acme", "Designer", emaildomain.StatusAcknowledged, t0)
	og, err := f.engine.Assign(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	e := record("e2", "Acme", "Engineer", emaildomain.StatusAcknowledged, t0)
	f.index.indexed(e)
	f.index.hits = []emaildomain.SearchHit{hit(other, og.ID, 0.05)}

	g, err := f.engine.Assign(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if g.ID == og.ID {
		t.Fatal("email for a different role must not merge")
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	for _, title := range []string{"", "Engineer"} {
		t.Run("title="+title, func(t *testing.T) {
			f := newEngine(t)
			ctx := context.Background()
			e := record("e1", "Acme", title, emaildomain.StatusAcknowledged, t0)

			first, err := f.engine.Assign(ctx, e)
			if err != nil {
				t.Fatal(err)
			}
			second, err := f.engine.Assign(ctx, e)
			if err != nil {
				t.Fatal(err)
			}
			if first.ID != second.ID {
				t.Fatalf("redelivery produced a second group")
			}
			if ids := second.AllEmailIDs(); len(ids) != 1 {
				t.Fatalf("email ids = %v", ids)
			}
			if len(f.events.events) != 1 {
				t.Fatalf("%d writes, want 1", len(f.events.events))
			}
		})
	}
}

func TestUntitledSemanticRequiresTitledNeighbours(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	titled := record("e1", "Acme", "Engineer", emaildomain.StatusAcknowledged, t0)
	tg, err := f.engine.Assign(ctx, titled)
	if err != nil {
		t.Fatal(err)
	}
	untitledPrev := record("e2", "Acme Inc", "", emaildomain.StatusAcknowledged, t0)
	ug, err := f.engine.Assign(ctx, untitledPrev)
	if err != nil {
		t.Fatal(err)
	}

	e := record("e3", "Acme", "", emaildomain.StatusProceed, t0.Add(time.Hour))
	f.index.indexed(e)
	f.index.hits = []emaildomain.SearchHit{hit(untitledPrev, ug.ID, 0.01), hit(titled, tg.ID, 0.02)}

	g, err := f.engine.Assign(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if g.ID != tg.ID {
		t.Fatalf("merged into %s, want titled group %s", g.ID, tg.ID)
	}
}

func TestUntitledFallsBackToCompany(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	existing, err := f.engine.Assign(ctx, record("e1", "Initech", "Developer", emaildomain.StatusAcknowledged, t0))
	if err != nil {
		t.Fatal(err)
	}
	// Not yet indexed: semantic lookup yields nothing.
	g, err := f.engine.Assign(ctx, record("e2", "initech", "", emaildomain.StatusProceed, t0.Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if g.ID != existing.ID {
		t.Fatalf("merged into %s, want %s", g.ID, existing.ID)
	}
}

func TestCompanyMismatchIsIgnored(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	other := record("e1", "Umbrella", "Engineer", emaildomain.StatusAcknowledged, t0)
	og, err := f.engine.Assign(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	e := record("e2", "Acme", "", emaildomain.StatusAcknowledged, t0)
	f.index.indexed(e)
	f.index.hits = []emaildomain.SearchHit{hit(other, og.ID, 0.01)}

	g, err := f.engine.Assign(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if g.ID == og.ID {
		t.Fatal("neighbour from another company must not qualify")
	}
}

func TestStrategyErrorFallsThrough(t *testing.T) {
	f := newEngine(t)
	f.index.err = errors.New("search unavailable")

	g, err := f.engine.Assign(context.Background(), record("e1", "Acme", "", emaildomain.StatusAcknowledged, t0))
	if err != nil {
		t.Fatalf("search failure should not fail grouping: %v", err)
	}
	if g == nil || !g.PlaceholderTitle {
		t.Fatalf("group = %+v", g)
	}
}

func TestValidityPredicateRejectsCandidate(t *testing.T) {
	f := newEngine(t, WithValidity(ChronologicalValidity))
	ctx := context.Background()

	rejected, err := f.engine.Assign(ctx, record("e1", "Acme", "Engineer", emaildomain.StatusRejected, t0))
	if err != nil {
		t.Fatal(err)
	}
	reapply := record("e2", "Acme", "", emaildomain.StatusAcknowledged, t0.Add(30*24*time.Hour))
	g, err := f.engine.Assign(ctx, reapply)
	if err != nil {
		t.Fatal(err)
	}
	if g.ID == rejected.ID {
		t.Fatal("acknowledgment after rejection should start a new group")
	}
}

func TestTitledReapplyKeepsClosedGroup(t *testing.T) {
	f := newEngine(t, WithValidity(ChronologicalValidity))
	ctx := context.Background()

	var closed *appdomain.ApplicationGroup
	for i, status := range []emaildomain.ApplicationStatus{
		emaildomain.StatusAcknowledged, emaildomain.StatusInterviewRequested, emaildomain.StatusRejected,
	} {
		g, err := f.engine.Assign(ctx, record(fmt.Sprintf("e%d", i+1), "Acme", "Engineer", status, t0.Add(time.Duration(i)*24*time.Hour)))
		if err != nil {
			t.Fatal(err)
		}
		closed = g
	}

	reapply := record("e4", "Acme", "Engineer", emaildomain.StatusAcknowledged, t0.Add(30*24*time.Hour))
	g, err := f.engine.Assign(ctx, reapply)
	if err != nil {
		t.Fatal(err)
	}
	if g.ID == closed.ID {
		t.Fatal("acknowledgment after rejection should start a new group")
	}
	if ids := g.AllEmailIDs(); len(ids) != 1 || ids[0] != "e4" || g.JobTitle != "Engineer" {
		t.Fatalf("new group = %q %v", g.JobTitle, ids)
	}

	stored, err := f.groups.FindByID(ctx, closed.ID)
	if err != nil || stored == nil {
		t.Fatalf("closed group = (%v, %v)", stored, err)
	}
	if ids := stored.AllEmailIDs(); len(ids) != 3 || stored.Contains("e4") {
		t.Fatalf("closed group email ids = %v, want e1 e2 e3", ids)
	}

	// Redelivery of the reapplication lands in the same successor group.
	again, err := f.engine.Assign(ctx, reapply)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != g.ID || len(again.AllEmailIDs()) != 1 {
		t.Fatalf("redelivery went to %s with %v", again.ID, again.AllEmailIDs())
	}
}

// failingGroups fails lookups by id while leaving writes intact.
type failingGroups struct {
	appRepo.GroupRepository
	companyErr error
}

func (f failingGroups) FindByID(context.Context, string) (*appdomain.ApplicationGroup, error) {
	return nil, errors.New("database unavailable")
}

func (f failingGroups) FindByCompany(ctx context.Context, userID, company string) ([]*appdomain.ApplicationGroup, error) {
	if f.companyErr != nil {
		return nil, f.companyErr
	}
	return f.GroupRepository.FindByCompany(ctx, userID, company)
}

func TestExactLookupFailureIsReturned(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	existing, err := f.engine.Assign(ctx, record("e1", "Acme", "Engineer", emaildomain.StatusAcknowledged, t0))
	if err != nil {
		t.Fatal(err)
	}

	broken := failingGroups{GroupRepository: f.groups, companyErr: errors.New("database unavailable")}
	engine := NewGroupingEngine(broken, f.index, zerolog.Nop())
	if _, err := engine.Assign(ctx, record("e2", "Acme", "Engineer", emaildomain.StatusProceed, t0.Add(time.Hour))); err == nil {
		t.Fatal("expected the lookup failure to be returned")
	}

	stored, err := f.groups.FindByID(ctx, existing.ID)
	if err != nil || stored == nil || len(stored.AllEmailIDs()) != 1 || !stored.Contains("e1") {
		t.Fatalf("existing group changed: %+v (%v)", stored, err)
	}
}

func TestSemanticLooksPastOtherCompanies(t *testing.T) {
	f := newEngine(t)
	ctx := context.Background()

	acme := record("e1", "Acme", "Engineer", emaildomain.StatusAcknowledged, t0)
	target, err := f.engine.Assign(ctx, acme)
	if err != nil {
		t.Fatal(err)
	}

	e := record("e9", "Acme Inc.", "", emaildomain.StatusProceed, t0.Add(time.Hour))
	f.index.indexed(e)
	f.index.hits = []emaildomain.SearchHit{hit(e, "", 0)}
	for i := 1; i <= semanticNeighbours; i++ {
		other := record(fmt.Sprintf("o%d", i), fmt.Sprintf("Other%d", i), "Engineer", emaildomain.StatusAcknowledged, t0)
		f.index.hits = append(f.index.hits, hit(other, fmt.Sprintf("g-other-%d", i), 0.01*float64(i)))
	}
	f.index.hits = append(f.index.hits, hit(acme, target.ID, 0.3))

	g, err := f.engine.Assign(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if g.ID != target.ID {
		t.Fatalf("merged into %s, want %s", g.ID, target.ID)
	}
}

func TestChronologicalValidity(t *testing.T) {
	closed := &appdomain.ApplicationGroup{LastStatus: emaildomain.StatusRejected, LastUpdated: t0}
	open := &appdomain.ApplicationGroup{LastStatus: emaildomain.StatusProceed, LastUpdated: t0}
	tests := []struct {
		name string
		g    *appdomain.ApplicationGroup
		e    *emaildomain.EmailRecord
		want bool
	}{
		{"open group", open, record("e", "A", "", emaildomain.StatusAcknowledged, t0.Add(time.Hour)), true},
		{"late ack after rejection", closed, record("e", "A", "", emaildomain.StatusAcknowledged, t0.Add(time.Hour)), false},
		{"early ack after rejection", closed, record("e", "A", "", emaildomain.StatusAcknowledged, t0.Add(-time.Hour)), true},
		{"offer after rejection", closed, record("e", "A", "", emaildomain.StatusOfferExtended, t0.Add(time.Hour)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChronologicalValidity(tt.g, tt.e); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

type recordingStatusNotifier struct {
	calls []string
}

func (n *recordingStatusNotifier) StatusChanged(_ context.Context, before, after *appdomain.ApplicationGroup) {
	n.calls = append(n.calls, string(before.LastStatus)+"->"+string(after.LastStatus))
}

func TestStatusChangeNotifies(t *testing.T) {
	notifier := &recordingStatusNotifier{}
	f := newEngine(t, WithStatusNotifier(notifier))
	ctx := context.Background()

	for _, e := range []*emaildomain.EmailRecord{
		record("e1", "Acme", "Engineer", emaildomain.StatusAcknowledged, t0),
		record("e2", "Acme", "Engineer", emaildomain.StatusAcknowledged, t0.Add(time.Hour)),
		record("e3", "Acme", "Engineer", emaildomain.StatusOfferExtended, t0.Add(2*time.Hour)),
	} {
		if _, err := f.engine.Assign(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "Acknowledged->OfferExtended" {
		t.Fatalf("notifications = %v", notifier.calls)
	}
}

func TestHandleDropsIncompleteRecords(t *testing.T) {
	f := newEngine(t)
	if err := f.engine.Handle(context.Background(), emaildomain.EmailRecord{ID: "e1"}); err != nil {
		t.Fatal(err)
	}
	if len(f.events.events) != 0 {
		t.Fatal("incomplete record must not create a group")
	}
}
