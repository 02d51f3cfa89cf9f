package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	userdomain "jobtrack-backend/internal/user/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository defines the lookups intake needs to resolve recipients.
type UserRepository interface {
	Create(ctx context.Context, user *userdomain.User) error
	FindByID(ctx context.Context, id string) (*userdomain.User, error)
	FindByAppAddress(ctx context.Context, address string) (*userdomain.User, error)
	FindBySourceAddress(ctx context.Context, address string) (*userdomain.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new instance of userRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{
		db: db,
	}
}

func (r *userRepository) Create(ctx context.Context, user *userdomain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.AppAddress = userdomain.NormalizeAddress(user.AppAddress)
	for i, addr := range user.SourceAddresses {
		user.SourceAddresses[i] = userdomain.NormalizeAddress(addr)
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*userdomain.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *userRepository) FindByAppAddress(ctx context.Context, address string) (*userdomain.User, error) {
	return r.first(ctx, "app_address = ?", userdomain.NormalizeAddress(address))
}

// FindBySourceAddress matches against the JSON-encoded address list, then
// confirms the hit so a substring of another address never matches.
func (r *userRepository) FindBySourceAddress(ctx context.Context, address string) (*userdomain.User, error) {
	address = userdomain.NormalizeAddress(address)
	if address == "" {
		return nil, nil
	}
	var candidates []userdomain.User
	pattern := "%" + escapeLike(`"`+address+`"`) + "%"
	err := r.db.WithContext(ctx).
		Where(`source_addresses LIKE ? ESCAPE '\'`, pattern).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if candidates[i].OwnsSource(address) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (r *userRepository) first(ctx context.Context, query string, arg string) (*userdomain.User, error) {
	var user userdomain.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
