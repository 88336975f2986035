package services

import (
	"context"
	"fmt"
	"time"

	"flashpair-backend/internal/common"
	"flashpair-backend/internal/models"
	"flashpair-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const jwtExpDays = 365

// UserService issues anonymous identities and validates their tokens
type UserService struct {
	store     repository.Store
	jwtSecret string
	now       func() time.Time
}

// NewUserService creates a new user service
func NewUserService(store repository.Store, jwtSecret string, opts ...Option) *UserService {
	o := buildOptions(opts)
	return &UserService{
		store:     store,
		jwtSecret: jwtSecret,
		now:       o.now,
	}
}

// CreatedUser is a new user together with its bearer token
type CreatedUser struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// GenerateJWT generates a JWT token for a user
func (s *UserService) GenerateJWT(userID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.AddDate(0, 0, jwtExpDays).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns the user ID
func (s *UserService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user_id not found in token")
	}

	return userID, nil
}

// CreateUser creates a new anonymous user
func (s *UserService) CreateUser(ctx context.Context) (*CreatedUser, error) {
	user := &models.User{
		ID:        uuid.New().String(),
		CreatedAt: s.now(),
	}

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	err = s.store.WithTx(ctx, func(q repository.Queries) error {
		return q.Users().Create(ctx, user)
	})
	if err != nil {
		return nil, common.StorageError(err)
	}

	return &CreatedUser{User: user, Token: token}, nil
}

// GetUser retrieves a user by ID
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user *models.User
	err := s.store.View(ctx, func(q repository.Queries) error {
		var err error
		user, err = q.Users().GetByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, common.StorageError(err)
	}
	return user, nil
}

// UpdatePushToken sets or clears the APNs device token of a user
func (s *UserService) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		return q.Users().UpdatePushToken(ctx, userID, pushToken)
	})
	return common.StorageError(err)
}
