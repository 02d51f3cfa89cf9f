package usecase

import (
	"context"
	"fmt"

	userdomain "jobtrack-backend/internal/user/domain"
	userRepo "jobtrack-backend/internal/user/repository"
	"jobtrack-backend/pkg/cache"

	"github.com/rs/zerolog"
)

// UserResolver maps an inbound target address to its owner: first by the
// app-assigned address, then by registered source addresses. Hits are
// cached; misses are not.
type UserResolver struct {
	users userRepo.UserRepository
	cache cache.Cache
	log   zerolog.Logger
}

func NewUserResolver(users userRepo.UserRepository, c cache.Cache, log zerolog.Logger) *UserResolver {
	return &UserResolver{users: users, cache: c, log: log}
}

func cacheKey(address string) string {
	return "intake:user:" + address
}

// Resolve returns nil when no user owns address.
func (r *UserResolver) Resolve(ctx context.Context, address string) (*userdomain.User, error) {
	address = userdomain.NormalizeAddress(address)
	if address == "" {
		return nil, nil
	}

	if r.cache != nil {
		var cached userdomain.User
		ok, err := cache.GetJSON(ctx, r.cache, cacheKey(address), &cached)
		if err != nil {
			r.log.Warn().Err(err).Msg("user cache read failed")
		} else if ok {
			return &cached, nil
		}
	}

	user, err := r.users.FindByAppAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("lookup by app address: %w", err)
	}
	if user == nil {
		if user, err = r.users.FindBySourceAddress(ctx, address); err != nil {
			return nil, fmt.Errorf("lookup by source address: %w", err)
		}
	}
	if user == nil {
		return nil, nil
	}

	if r.cache != nil {
		if err := cache.SetJSON(ctx, r.cache, cacheKey(address), user); err != nil {
			r.log.Warn().Err(err).Msg("user cache write failed")
		}
	}
	return user, nil
}
