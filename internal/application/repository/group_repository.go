package repository

import (
	"context"
	"errors"
	"time"

	appdomain "jobtrack-backend/internal/application/domain"
	"jobtrack-backend/internal/pipeline"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChangeNotifier receives an event after each committed group write.
type ChangeNotifier interface {
	GroupChanged(ctx context.Context, event appdomain.GroupChangeEvent)
}

// ErrGroupExists is returned by Create when the id is already taken.
var ErrGroupExists = errors.New("group already exists")

// GroupRepository persists application groups. Save writes the whole
// group so a replayed merge converges on the same row. Create never
// touches an existing row.
type GroupRepository interface {
	FindByID(ctx context.Context, id string) (*appdomain.ApplicationGroup, error)
	FindByCompany(ctx context.Context, userID, company string) ([]*appdomain.ApplicationGroup, error)
	Create(ctx context.Context, group *appdomain.ApplicationGroup) error
	Save(ctx context.Context, group *appdomain.ApplicationGroup) error
}

type groupRepository struct {
	db       *gorm.DB
	notifier ChangeNotifier
}

func NewGroupRepository(db *gorm.DB, notifier ChangeNotifier) GroupRepository {
	return &groupRepository{
		db:       db,
		notifier: notifier,
	}
}

func (r *groupRepository) FindByID(ctx context.Context, id string) (*appdomain.ApplicationGroup, error) {
	return findByID(r.db.WithContext(ctx), id)
}

func findByID(db *gorm.DB, id string) (*appdomain.ApplicationGroup, error) {
	var group appdomain.ApplicationGroup
	err := db.Where("id = ?", id).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

// FindByCompany returns the user's groups for an exact (case-insensitive)
// company title, most recently updated first.
func (r *groupRepository) FindByCompany(ctx context.Context, userID, company string) ([]*appdomain.ApplicationGroup, error) {
	var groups []*appdomain.ApplicationGroup
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(company_title) = LOWER(?)", userID, company).
		Order("last_updated DESC").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *groupRepository) Create(ctx context.Context, group *appdomain.ApplicationGroup) error {
	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(group)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrGroupExists
	}

	if r.notifier != nil {
		r.notifier.GroupChanged(ctx, appdomain.GroupChangeEvent{Op: pipeline.OpInsert, After: group.Clone()})
	}
	return nil
}

func (r *groupRepository) Save(ctx context.Context, group *appdomain.ApplicationGroup) error {
	var before *appdomain.ApplicationGroup
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findByID(tx, group.ID)
		if err != nil {
			return err
		}
		before = existing

		now := time.Now()
		if existing != nil {
			group.CreatedAt = existing.CreatedAt
		} else if group.CreatedAt.IsZero() {
			group.CreatedAt = now
		}
		group.UpdatedAt = now
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(group).Error
	})
	if err != nil {
		return err
	}

	if r.notifier != nil {
		op := pipeline.OpUpdate
		if before == nil {
			op = pipeline.OpInsert
		}
		r.notifier.GroupChanged(ctx, appdomain.GroupChangeEvent{Op: op, Before: before, After: group.Clone()})
	}
	return nil
}
