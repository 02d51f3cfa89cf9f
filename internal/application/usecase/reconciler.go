package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	appdomain "jobtrack-backend/internal/application/domain"
	emailRepo "jobtrack-backend/internal/email/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Reconciler points every member email of a changed group back at it.
type Reconciler struct {
	emails      emailRepo.EmailRecordRepository
	concurrency int
	log         zerolog.Logger
}

func NewReconciler(emails emailRepo.EmailRecordRepository, concurrency int, log zerolog.Logger) *Reconciler {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Reconciler{emails: emails, concurrency: concurrency, log: log}
}

// Handle rewrites group_id on each listed email. Per-email failures are
// logged together and never fail the batch.
func (r *Reconciler) Handle(ctx context.Context, event appdomain.GroupChangeEvent) error {
	group := event.After
	if group == nil {
		return nil
	}
	log := r.log.With().Str("group_id", group.ID).Logger()

	var (
		mu      sync.Mutex
		errs    []error
		updated int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, id := range group.AllEmailIDs() {
		g.Go(func() error {
			changed, err := r.reconcile(ctx, id, group.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("email %s: %w", id, err))
			} else if changed {
				updated++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Int("failed", len(errs)).Msg("some emails were not reconciled")
	}
	log.Debug().Int("updated", updated).Msg("group reconciled")
	return nil
}

func (r *Reconciler) reconcile(ctx context.Context, emailID, groupID string) (bool, error) {
	rec, err := r.emails.FindByID(ctx, emailID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		r.log.Warn().Str("email_id", emailID).Str("group_id", groupID).Msg("grouped email not found")
		return false, nil
	}
	if rec.GroupID == groupID {
		return false, nil
	}
	if err := r.emails.UpdateGroupID(ctx, emailID, groupID); err != nil {
		return false, err
	}
	return true, nil
}
