package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	userdomain "jobtrack-backend/internal/user/domain"
	userRepo "jobtrack-backend/internal/user/repository"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenService validates the HS256 access tokens issued by the dashboard.
type TokenService struct {
	secret []byte
	users  userRepo.UserRepository
}

func NewTokenService(secret string, users userRepo.UserRepository) *TokenService {
	return &TokenService{secret: []byte(secret), users: users}
}

// Issue signs an access token for user.
func (s *TokenService) Issue(user *userdomain.User, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *TokenService) Validate(ctx context.Context, tokenString string) (*userdomain.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}
