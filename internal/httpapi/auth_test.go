package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendapos/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "", store)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, resp.Role)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NotEqual(t, "admin123", users[0].Password)
	assert.True(t, strings.HasPrefix(users[0].Password, "$2"))
	assert.GreaterOrEqual(t, store.updates, 1)
}

func TestLoginRejectsBadPasswordAndInactiveAccount(t *testing.T) {
	hash, err := hashPassword("cashier123")
	require.NoError(t, err)
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"ana":  {Username: "ana", Password: hash, Role: domain.RoleCashier, Active: true},
			"luis": {Username: "luis", Password: hash, Role: domain.RoleCashier, Active: false},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "", store)
	ctx := context.Background()

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "ana", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "nadie", Password: "cashier123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "luis", Password: "cashier123"})
	assert.ErrorIs(t, err, ErrInactiveAccount)
}

func TestTokenRoundTrip(t *testing.T) {
	hash, err := hashPassword("cashier123")
	require.NoError(t, err)
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"ana": {Username: "ana", Password: hash, Role: domain.RoleCashier, Active: true},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "", store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " ANA ", Password: "cashier123"})
	require.NoError(t, err)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "ana", Role: domain.RoleCashier}, actor)

	other := NewAuthManager("another-secret", time.Hour, "", store)
	_, err = other.ParseToken(resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsExpiredAndForeignIssuer(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "", nil)

	expired, err := manager.sign("ana", domain.RoleCashier, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = manager.ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "ana",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = manager.ParseToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAdminSecretActor(t *testing.T) {
	disabled := NewAuthManager("test-secret", time.Hour, "", nil)
	_, ok := disabled.AdminSecretActor("")
	assert.False(t, ok)

	manager := NewAuthManager("test-secret", time.Hour, "s3cret-admin-key-42", nil)
	_, ok = manager.AdminSecretActor("s3cret-admin-key-41")
	assert.False(t, ok)

	actor, ok := manager.AdminSecretActor("s3cret-admin-key-42")
	require.True(t, ok)
	assert.Equal(t, domain.RoleAdmin, actor.Role)
}
