package repository

import (
	"context"
	"time"

	userdomain "jobtrack-backend/internal/user/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceTokenRepository defines the interface for FCM token operations
type DeviceTokenRepository interface {
	SaveToken(ctx context.Context, userID, token, deviceInfo string) error
	GetTokensByUserID(ctx context.Context, userID string) ([]userdomain.DeviceToken, error)
	DeleteToken(ctx context.Context, token string) error
}

type deviceTokenRepository struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &deviceTokenRepository{
		db: db,
	}
}

// SaveToken saves or updates a token for a user (atomic upsert)
func (r *deviceTokenRepository) SaveToken(ctx context.Context, userID, token, deviceInfo string) error {
	now := time.Now()
	t := &userdomain.DeviceToken{
		ID:         uuid.New().String(),
		UserID:     userID,
		Token:      token,
		DeviceInfo: deviceInfo,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "device_info", "updated_at"}),
	}).Create(t).Error
}

func (r *deviceTokenRepository) GetTokensByUserID(ctx context.Context, userID string) ([]userdomain.DeviceToken, error) {
	var tokens []userdomain.DeviceToken
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *deviceTokenRepository) DeleteToken(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Where("token = ?", token).Delete(&userdomain.DeviceToken{}).Error
}
