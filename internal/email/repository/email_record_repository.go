package repository

import (
	"context"
	"errors"
	"time"

	emaildomain "jobtrack-backend/internal/email/domain"
	"jobtrack-backend/internal/pipeline"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChangeNotifier receives an event after each committed write.
type ChangeNotifier interface {
	EmailChanged(ctx context.Context, event emaildomain.EmailChangeEvent)
}

// EmailRecordRepository defines persistence for classified email records.
type EmailRecordRepository interface {
	Create(ctx context.Context, record *emaildomain.EmailRecord) (bool, error)
	FindByID(ctx context.Context, id string) (*emaildomain.EmailRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	ExistsBySource(ctx context.Context, sourceBlobRef string) (bool, error)
	UpdateGroupID(ctx context.Context, id, groupID string) error
	Delete(ctx context.Context, id string) error
}

type emailRecordRepository struct {
	db       *gorm.DB
	notifier ChangeNotifier
}

// NewEmailRecordRepository creates a repository. notifier may be nil.
func NewEmailRecordRepository(db *gorm.DB, notifier ChangeNotifier) EmailRecordRepository {
	return &emailRecordRepository{
		db:       db,
		notifier: notifier,
	}
}

// Create inserts record unless its id already exists. It reports whether a
// row was written.
func (r *emailRecordRepository) Create(ctx context.Context, record *emaildomain.EmailRecord) (bool, error) {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	r.notify(ctx, pipeline.OpInsert, nil, record)
	return true, nil
}

func (r *emailRecordRepository) FindByID(ctx context.Context, id string) (*emaildomain.EmailRecord, error) {
	var record emaildomain.EmailRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *emailRecordRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&emaildomain.EmailRecord{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *emailRecordRepository) ExistsBySource(ctx context.Context, sourceBlobRef string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&emaildomain.EmailRecord{}).
		Where("source_blob_ref = ?", sourceBlobRef).
		Count(&count).Error
	return count > 0, err
}

// UpdateGroupID rewrites only the group_id column. Writing the value the
// record already holds emits nothing.
func (r *emailRecordRepository) UpdateGroupID(ctx context.Context, id, groupID string) error {
	before, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return gorm.ErrRecordNotFound
	}
	if before.GroupID == groupID {
		return nil
	}

	after := *before
	after.GroupID = groupID
	after.UpdatedAt = time.Now()
	err = r.db.WithContext(ctx).Model(&emaildomain.EmailRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"group_id": groupID, "updated_at": after.UpdatedAt}).Error
	if err != nil {
		return err
	}
	r.notify(ctx, pipeline.OpUpdate, before, &after)
	return nil
}

func (r *emailRecordRepository) Delete(ctx context.Context, id string) error {
	before, err := r.FindByID(ctx, id)
	if err != nil || before == nil {
		return err
	}
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&emaildomain.EmailRecord{}).Error; err != nil {
		return err
	}
	r.notify(ctx, pipeline.OpDelete, before, nil)
	return nil
}

func (r *emailRecordRepository) notify(ctx context.Context, op pipeline.ChangeOp, before, after *emaildomain.EmailRecord) {
	if r.notifier == nil {
		return
	}
	r.notifier.EmailChanged(ctx, emaildomain.EmailChangeEvent{Op: op, Before: before, After: after})
}
