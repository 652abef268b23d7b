package service

import (
	"context"
	"testing"
	"time"

	"storefront-api/internal/apperr"
	"storefront-api/internal/auth"
	"storefront-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(st *memStore) (*AuthService, *auth.TokenIssuer) {
	tokens := auth.NewTokenIssuer("test-secret", 7*24*time.Hour)
	return NewAuthService(st, tokens), tokens
}

func TestRegisterCreatesCustomer(t *testing.T) {
	st := newMemStore()
	svc, _ := newAuthService(st)

	resp, err := svc.Register(context.Background(), &RegisterRequest{
		Name:     "Asha",
		Email:    " Asha@Example.com ",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", resp.Email)
	assert.Equal(t, models.RoleCustomer, resp.Role)

	stored, err := st.GetUserByEmail(context.Background(), "asha@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", stored.Password)
	assert.True(t, auth.CheckPassword(stored.Password, "secret123"))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	st := newMemStore()
	svc, _ := newAuthService(st)
	req := func() *RegisterRequest {
		return &RegisterRequest{Email: "dup@example.com", Password: "secret123"}
	}

	_, err := svc.Register(context.Background(), req())
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), req())
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "Email already exists", apperr.PublicMessage(err, ""))
	assert.Len(t, st.users, 1)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     RegisterRequest
		message string
	}{
		{"missing email", RegisterRequest{Password: "secret123"}, "Email and password required"},
		{"missing password", RegisterRequest{Email: "a@example.com"}, "Email and password required"},
		{"bad email", RegisterRequest{Email: "not-an-email", Password: "secret123"}, "Invalid email"},
		{"short password", RegisterRequest{Email: "a@example.com", Password: "abc"}, "Password must be at least 6 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			svc, _ := newAuthService(st)

			_, err := svc.Register(context.Background(), &tt.req)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, tt.message, apperr.PublicMessage(err, ""))
			assert.Empty(t, st.users)
		})
	}
}

func TestLoginIssuesToken(t *testing.T) {
	st := newMemStore()
	svc, tokens := newAuthService(st)

	reg, err := svc.Register(context.Background(), &RegisterRequest{Name: "Asha", Email: "asha@example.com", Password: "secret123"})
	require.NoError(t, err)

	resp, err := svc.Login(context.Background(), &LoginRequest{Email: "asha@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, reg.ID, resp.User.ID)
	assert.Equal(t, "Asha", resp.User.Name)
	assert.Equal(t, models.RoleCustomer, resp.User.Role)

	p, err := tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, p.UserID)
	assert.Equal(t, models.RoleCustomer, p.Role)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	st := newMemStore()
	svc, _ := newAuthService(st)

	_, err := svc.Register(context.Background(), &RegisterRequest{Email: "asha@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, wrongPassword := svc.Login(context.Background(), &LoginRequest{Email: "asha@example.com", Password: "nope123"})
	_, unknownEmail := svc.Login(context.Background(), &LoginRequest{Email: "ghost@example.com", Password: "secret123"})

	require.Error(t, wrongPassword)
	require.Error(t, unknownEmail)
	assert.ErrorIs(t, wrongPassword, apperr.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, apperr.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	assert.Equal(t, "Invalid credentials", apperr.PublicMessage(unknownEmail, ""))
}

func TestLoginRequiresBothFields(t *testing.T) {
	svc, _ := newAuthService(newMemStore())

	_, err := svc.Login(context.Background(), &LoginRequest{Email: "asha@example.com"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Email and password required", apperr.PublicMessage(err, ""))
}
