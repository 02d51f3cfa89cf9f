package usecase

import (
	"context"
	"fmt"

	appdomain "jobtrack-backend/internal/application/domain"
	appRepo "jobtrack-backend/internal/application/repository"
	emaildomain "jobtrack-backend/internal/email/domain"
	"jobtrack-backend/pkg/fuzzy"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Strategy proposes merge candidates for an email, best first. An empty
// result means "no match" and the next strategy is tried.
type Strategy interface {
	Name() string
	Candidates(ctx context.Context, e *emaildomain.EmailRecord) ([]*appdomain.ApplicationGroup, error)
}

// GroupFilter decides whether a loaded group may receive e.
type GroupFilter func(g *appdomain.ApplicationGroup, e *emaildomain.EmailRecord) bool

// NeighborIndex is the part of the search index grouping needs.
type NeighborIndex interface {
	Get(ctx context.Context, userID, id string) (*emaildomain.SearchDocument, error)
	Nearest(ctx context.Context, userID string, vector []float32, k int) ([]emaildomain.SearchHit, error)
}

// candidateTitle is the title an email's own group would carry.
func candidateTitle(e *emaildomain.EmailRecord) string {
	if isTitled(e) {
		return e.JobTitle
	}
	return appdomain.PlaceholderTitle(e.ID)
}

func isTitled(e *emaildomain.EmailRecord) bool {
	return appdomain.Normalize(e.JobTitle) != ""
}

// ExactKeyStrategy looks up the group keyed by the email's own user,
// company and title.
type ExactKeyStrategy struct {
	Groups appRepo.GroupRepository
}

func (s ExactKeyStrategy) Name() string { return "exact" }

func (s ExactKeyStrategy) Candidates(ctx context.Context, e *emaildomain.EmailRecord) ([]*appdomain.ApplicationGroup, error) {
	g, err := s.Groups.FindByID(ctx, appdomain.GroupKey(e.UserID, e.CompanyTitle, candidateTitle(e)))
	if err != nil || g == nil {
		return nil, err
	}
	return []*appdomain.ApplicationGroup{g}, nil
}

// SemanticStrategy finds groups of the email's nearest neighbours in the
// user's search index.
type SemanticStrategy struct {
	Index  NeighborIndex
	Groups appRepo.GroupRepository
	Log    zerolog.Logger

	// K company-matching neighbours are considered, not counting the email
	// itself. The index is scanned at most MaxScan results deep.
	K       int
	MaxScan int

	// MinCompanyMatch is the company token match ratio a neighbour needs.
	MinCompanyMatch float64

	// QualifyHits sees every matched document of one group.
	QualifyHits  func(hits []emaildomain.SearchHit) bool
	QualifyGroup GroupFilter
}

func (s SemanticStrategy) Name() string { return "semantic" }

func (s SemanticStrategy) Candidates(ctx context.Context, e *emaildomain.EmailRecord) ([]*appdomain.ApplicationGroup, error) {
	doc, err := s.Index.Get(ctx, e.UserID, e.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding: %w", err)
	}
	if doc == nil || len(doc.Embedding) == 0 {
		s.Log.Debug().Str("email_id", e.ID).Msg("email not indexed yet, skipping semantic lookup")
		return nil, nil
	}

	hits, err := s.companyNeighbours(ctx, e, doc.Embedding)
	if err != nil {
		return nil, err
	}

	var order []string
	byGroup := make(map[string][]emaildomain.SearchHit)
	for _, h := range hits {
		if _, ok := byGroup[h.GroupID]; !ok {
			order = append(order, h.GroupID)
		}
		byGroup[h.GroupID] = append(byGroup[h.GroupID], h)
	}

	var ids []string
	for _, id := range order {
		if s.QualifyHits == nil || s.QualifyHits(byGroup[id]) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	groups, err := loadGroups(ctx, s.Groups, ids)
	if err != nil {
		return nil, err
	}
	out := groups[:0]
	for _, g := range groups {
		if g.UserID != e.UserID {
			continue
		}
		if s.QualifyGroup == nil || s.QualifyGroup(g, e) {
			out = append(out, g)
		}
	}
	return out, nil
}

// companyNeighbours returns up to K grouped neighbours whose company matches
// e, nearest first. The query widens until enough matches are found, the
// index runs out, or MaxScan is reached.
func (s SemanticStrategy) companyNeighbours(ctx context.Context, e *emaildomain.EmailRecord, vector []float32) ([]emaildomain.SearchHit, error) {
	limit := s.MaxScan
	if limit < s.K+1 {
		limit = s.K + 1
	}
	n := s.K + 1
	for {
		hits, err := s.Index.Nearest(ctx, e.UserID, vector, n)
		if err != nil {
			return nil, fmt.Errorf("nearest neighbour query failed: %w", err)
		}

		var matched []emaildomain.SearchHit
		for _, h := range hits {
			if h.ID == e.ID || h.GroupID == "" {
				continue
			}
			if fuzzy.TokenMatchRatio(h.CompanyTitle, e.CompanyTitle) < s.MinCompanyMatch {
				continue
			}
			matched = append(matched, h)
			if len(matched) == s.K {
				return matched, nil
			}
		}
		if len(hits) < n || n >= limit {
			return matched, nil
		}
		n = min(n*4, limit)
	}
}

// loadGroups fetches ids concurrently, keeping their order and dropping
// ids that no longer resolve.
func loadGroups(ctx context.Context, repo appRepo.GroupRepository, ids []string) ([]*appdomain.ApplicationGroup, error) {
	loaded := make([]*appdomain.ApplicationGroup, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			group, err := repo.FindByID(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load group %s: %w", id, err)
			}
			loaded[i] = group
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*appdomain.ApplicationGroup, 0, len(ids))
	for _, group := range loaded {
		if group != nil {
			out = append(out, group)
		}
	}
	return out, nil
}

// CompanyStrategy falls back to every group of the user with the same
// company title, most recently updated first.
type CompanyStrategy struct {
	Groups       appRepo.GroupRepository
	QualifyGroup GroupFilter
}

func (s CompanyStrategy) Name() string { return "company" }

func (s CompanyStrategy) Candidates(ctx context.Context, e *emaildomain.EmailRecord) ([]*appdomain.ApplicationGroup, error) {
	groups, err := s.Groups.FindByCompany(ctx, e.UserID, e.CompanyTitle)
	if err != nil {
		return nil, fmt.Errorf("company lookup failed: %w", err)
	}
	if s.QualifyGroup == nil {
		return groups, nil
	}
	out := groups[:0]
	for _, g := range groups {
		if s.QualifyGroup(g, e) {
			out = append(out, g)
		}
	}
	return out, nil
}

// allTitled qualifies a neighbour group only when each of its matched
// documents names a role.
func allTitled(hits []emaildomain.SearchHit) bool {
	for _, h := range hits {
		if appdomain.Normalize(h.JobTitle) == "" {
			return false
		}
	}
	return true
}

// sameTitleOrPlaceholder lets a titled email join a group for the same
// role, or claim a group whose role was never named.
func sameTitleOrPlaceholder(g *appdomain.ApplicationGroup, e *emaildomain.EmailRecord) bool {
	return g.PlaceholderTitle || sameTitle(g, e)
}

func sameTitle(g *appdomain.ApplicationGroup, e *emaildomain.EmailRecord) bool {
	return !g.PlaceholderTitle && appdomain.Normalize(g.JobTitle) == appdomain.Normalize(e.JobTitle)
}
