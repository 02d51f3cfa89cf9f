package usecase

import (
	"context"
	"errors"
	"fmt"

	appdomain "jobtrack-backend/internal/application/domain"
	appRepo "jobtrack-backend/internal/application/repository"
	emaildomain "jobtrack-backend/internal/email/domain"

	"github.com/rs/zerolog"
)

const (
	semanticNeighbours = 5
	semanticScanDepth  = 100
	minCompanyMatch    = 0.95
)

// StatusNotifier is told when a group's latest status changes.
type StatusNotifier interface {
	StatusChanged(ctx context.Context, before, after *appdomain.ApplicationGroup)
}

// GroupingEngine files each classified email into an application group.
type GroupingEngine struct {
	groups   appRepo.GroupRepository
	validity Validity
	notifier StatusNotifier
	log      zerolog.Logger

	titled   []Strategy
	untitled []Strategy
}

// GroupingOption customises a GroupingEngine.
type GroupingOption func(*GroupingEngine)

func WithValidity(v Validity) GroupingOption {
	return func(e *GroupingEngine) { e.validity = v }
}

func WithStatusNotifier(n StatusNotifier) GroupingOption {
	return func(e *GroupingEngine) { e.notifier = n }
}

func NewGroupingEngine(groups appRepo.GroupRepository, index NeighborIndex, log zerolog.Logger, opts ...GroupingOption) *GroupingEngine {
	e := &GroupingEngine{
		groups:   groups,
		validity: AlwaysValid,
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}

	exact := ExactKeyStrategy{Groups: groups}
	e.titled = []Strategy{
		exact,
		SemanticStrategy{
			Index:           index,
			Groups:          groups,
			Log:             log,
			K:               semanticNeighbours,
			MaxScan:         semanticScanDepth,
			MinCompanyMatch: minCompanyMatch,
			QualifyGroup:    sameTitleOrPlaceholder,
		},
		// Picks up groups whose placeholder title was later replaced.
		CompanyStrategy{Groups: groups, QualifyGroup: sameTitle},
	}
	e.untitled = []Strategy{
		// Only matches the group this email created on an earlier delivery.
		exact,
		SemanticStrategy{
			Index:           index,
			Groups:          groups,
			Log:             log,
			K:               semanticNeighbours,
			MaxScan:         semanticScanDepth,
			MinCompanyMatch: minCompanyMatch,
			QualifyHits:     allTitled,
		},
		CompanyStrategy{Groups: groups},
	}
	return e
}

// Assign merges e into the first valid candidate of its strategy chain, or
// creates a group for it, and persists the result. Replaying the same
// email returns the group that already holds it without writing.
func (g *GroupingEngine) Assign(ctx context.Context, e *emaildomain.EmailRecord) (*appdomain.ApplicationGroup, error) {
	log := g.log.With().Str("email_id", e.ID).Str("user_id", e.UserID).Logger()

	chain := g.untitled
	if isTitled(e) {
		chain = g.titled
	}

	for _, strategy := range chain {
		candidates, err := strategy.Candidates(ctx, e)
		if err != nil {
			if _, exact := strategy.(ExactKeyStrategy); exact {
				return nil, fmt.Errorf("exact group lookup failed: %w", err)
			}
			log.Warn().Err(err).Str("strategy", strategy.Name()).Msg("strategy failed")
			continue
		}
		for _, candidate := range candidates {
			if candidate.Contains(e.ID) {
				log.Debug().Str("group_id", candidate.ID).Msg("email already grouped")
				return candidate, nil
			}
		}
		for _, candidate := range candidates {
			if !g.validity(candidate, e) {
				log.Debug().Str("group_id", candidate.ID).Str("strategy", strategy.Name()).Msg("candidate rejected by validity check")
				continue
			}
			before := candidate.Clone()
			candidate.Merge(e)
			if err := g.groups.Save(ctx, candidate); err != nil {
				return nil, fmt.Errorf("failed to save group %s: %w", candidate.ID, err)
			}
			log.Info().Str("group_id", candidate.ID).Str("strategy", strategy.Name()).Msg("merged email into group")
			g.notify(ctx, before, candidate)
			return candidate, nil
		}
	}

	group, err := g.create(ctx, e)
	if err != nil {
		return nil, err
	}
	log.Info().Str("group_id", group.ID).Bool("placeholder_title", group.PlaceholderTitle).Msg("created group")
	return group, nil
}

// create inserts a group seeded with e. When the role's own key is taken by
// a group that was passed over, the group is opened under e's successor key.
// A taken id that already holds e is a redelivery and is returned as is.
func (g *GroupingEngine) create(ctx context.Context, e *emaildomain.EmailRecord) (*appdomain.ApplicationGroup, error) {
	group := appdomain.NewGroup(e)
	ids := []string{group.ID}
	if !group.PlaceholderTitle {
		ids = append(ids, appdomain.SuccessorKey(e.UserID, e.CompanyTitle, group.JobTitle, e.ID))
	}

	for _, id := range ids {
		group.ID = id
		err := g.groups.Create(ctx, group)
		if err == nil {
			return group, nil
		}
		if !errors.Is(err, appRepo.ErrGroupExists) {
			return nil, fmt.Errorf("failed to create group %s: %w", id, err)
		}
		existing, err := g.groups.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load group %s: %w", id, err)
		}
		if existing != nil && existing.Contains(e.ID) {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("no free group id for email %s", e.ID)
}

// Handle is the queue entry point. Only persistence failures are returned.
func (g *GroupingEngine) Handle(ctx context.Context, e emaildomain.EmailRecord) error {
	if e.ID == "" || e.UserID == "" || e.CompanyTitle == "" {
		g.log.Error().Str("email_id", e.ID).Msg("dropping incomplete email record")
		return nil
	}
	_, err := g.Assign(ctx, &e)
	return err
}

func (g *GroupingEngine) notify(ctx context.Context, before, after *appdomain.ApplicationGroup) {
	if g.notifier == nil || before.LastStatus == after.LastStatus {
		return
	}
	g.notifier.StatusChanged(ctx, before, after)
}
