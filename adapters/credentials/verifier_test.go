package credentials

import (
	"context"
	"strings"
	"testing"

	"github.com/layer-3/tokenward/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func newTestVerifier(t *testing.T) *PasswordVerifier {
	t.Helper()
	dir := NewDirectory(
		Account{Identifier: "Alice@Example.com", Subject: "user-1", PasswordHash: mustHash(t, "correct horse"), Active: true},
		Account{Identifier: "bob@example.com", Subject: "user-2", PasswordHash: mustHash(t, "hunter2"), Active: false},
	)
	v, err := NewPasswordVerifier(dir, bcrypt.MinCost)
	require.NoError(t, err)
	return v
}

func TestPasswordVerifier(t *testing.T) {
	v := newTestVerifier(t)
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		sub, err := v.VerifyCredentials(ctx, "  alice@example.COM ", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, "user-1", sub)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := v.VerifyCredentials(ctx, "alice@example.com", "wrong")
		assert.ErrorIs(t, err, core.ErrInvalidCredentials)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := v.VerifyCredentials(ctx, "nobody@example.com", "whatever")
		assert.ErrorIs(t, err, core.ErrInvalidCredentials)
	})

	t.Run("inactive account", func(t *testing.T) {
		_, err := v.VerifyCredentials(ctx, "bob@example.com", "hunter2")
		assert.ErrorIs(t, err, core.ErrAccountInactive)
	})

	t.Run("inactive account with wrong password", func(t *testing.T) {
		_, err := v.VerifyCredentials(ctx, "bob@example.com", "nope")
		assert.ErrorIs(t, err, core.ErrInvalidCredentials)
	})
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("", bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrEmptyPassword)

	long := strings.Repeat("x", 100)
	h, err := HashPassword(long, bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte(long[:72])))
}

func TestLoadDirectory(t *testing.T) {
	dir, err := LoadDirectory(strings.NewReader(`[
		{"identifier": "carol", "password_hash": "$2a$04$abc", "active": true},
		{"identifier": "dave", "subject": "user-4", "password_hash": "$2a$04$def"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Len())

	carol, ok := dir.Lookup("CAROL")
	require.True(t, ok)
	assert.Equal(t, "carol", carol.Subject)
	assert.True(t, carol.Active)

	dave, ok := dir.Lookup("dave")
	require.True(t, ok)
	assert.Equal(t, "user-4", dave.Subject)
	assert.False(t, dave.Active)

	_, err = LoadDirectory(strings.NewReader(`[{"identifier": "eve"}]`))
	assert.Error(t, err)

	_, err = LoadDirectory(strings.NewReader(`{`))
	assert.Error(t, err)
}
