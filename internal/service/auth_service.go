package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront-api/internal/apperr"
	"storefront-api/internal/auth"
	"storefront-api/internal/models"
	"storefront-api/internal/store"
	"storefront-api/internal/util"

	"go.uber.org/zap"
)

// UserStore is the persistence AuthService needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// AuthService handles registration and login
type AuthService struct {
	users  UserStore
	tokens *auth.TokenIssuer
	logger *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(users UserStore, tokens *auth.TokenIssuer) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		logger: util.GetLogger(),
	}
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type RegisterResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string            `json:"token"`
	User  models.PublicUser `json:"user"`
}

var registerMessages = fieldMessages{
	"Email.required":    "Email and password required",
	"Password.required": "Email and password required",
	"Email":             "Invalid email",
	"Password.min":      "Password must be at least 6 characters",
	"Password.max":      "Password must be at most 72 characters",
	"Name":              "Name is too long",
}

var loginMessages = fieldMessages{
	"Email":    "Email and password required",
	"Password": "Email and password required",
}

// Register creates a customer account. A taken email is rejected without creating a row.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Register")
	defer span.End()

	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := check(req, registerMessages, "Invalid registration"); err != nil {
		util.AuthAttemptsTotal.WithLabelValues("register", "invalid").Inc()
		return nil, err
	}

	_, err := s.users.GetUserByEmail(ctx, req.Email)
	switch {
	case err == nil:
		util.AuthAttemptsTotal.WithLabelValues("register", "conflict").Inc()
		return nil, apperr.New(apperr.ErrConflict, "Email already exists")
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Name:     req.Name,
		Email:    req.Email,
		Password: hash,
		Role:     models.RoleCustomer,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			util.AuthAttemptsTotal.WithLabelValues("register", "conflict").Inc()
			return nil, apperr.New(apperr.ErrConflict, "Email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	util.AuthAttemptsTotal.WithLabelValues("register", "success").Inc()
	s.logger.Info("User registered", zap.Int64("user_id", user.ID))

	return &RegisterResponse{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// Login verifies credentials and issues a token. Unknown emails and wrong passwords
// produce the same error.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	req.Email = normalizeEmail(req.Email)
	if err := check(req, loginMessages, "Email and password required"); err != nil {
		util.AuthAttemptsTotal.WithLabelValues("login", "invalid").Inc()
		return nil, err
	}

	invalid := apperr.New(apperr.ErrInvalidCredentials, "Invalid credentials")

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		auth.BurnPasswordCheck(req.Password)
		util.AuthAttemptsTotal.WithLabelValues("login", "rejected").Inc()
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !auth.CheckPassword(user.Password, req.Password) {
		util.AuthAttemptsTotal.WithLabelValues("login", "rejected").Inc()
		return nil, invalid
	}

	token, err := s.tokens.Issue(auth.Principal{UserID: user.ID, Role: user.Role})
	if err != nil {
		return nil, err
	}

	util.AuthAttemptsTotal.WithLabelValues("login", "success").Inc()
	return &LoginResponse{Token: token, User: user.Public()}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
