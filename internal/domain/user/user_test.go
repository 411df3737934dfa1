package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserNormalizes(t *testing.T) {
	u, err := NewUser(CreateParams{
		ID:           "u1",
		Email:        "  Ana@Campus.TEST ",
		DisplayName:  " Ana ",
		PasswordHash: "hash",
		Roles:        []Role{"Admin", "admin", "student"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@campus.test", u.Email)
	assert.Equal(t, "Ana", u.DisplayName)
	assert.Equal(t, []Role{RoleAdmin, RoleStudent}, u.Roles)
	assert.True(t, u.IsAdmin())
	assert.Equal(t, u.CreatedAt, u.UpdatedAt)
}

func TestNewUserDefaultsToStudent(t *testing.T) {
	u, err := NewUser(CreateParams{ID: "u1", Email: "b@campus.test", DisplayName: "B", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleStudent}, u.Roles)
	assert.False(t, u.IsAdmin())
}

func TestNewUserValidation(t *testing.T) {
	_, err := NewUser(CreateParams{Email: "a@b", DisplayName: "A", PasswordHash: "h"})
	assert.ErrorIs(t, err, ErrIDRequired)
	_, err = NewUser(CreateParams{ID: "u", DisplayName: "A", PasswordHash: "h"})
	assert.ErrorIs(t, err, ErrEmailRequired)
	_, err = NewUser(CreateParams{ID: "u", Email: "a@b", DisplayName: "A"})
	assert.ErrorIs(t, err, ErrPasswordHashMissing)
	_, err = NewUser(CreateParams{ID: "u", Email: "a@b", PasswordHash: "h"})
	assert.ErrorIs(t, err, ErrNameRequired)
	_, err = NewUser(CreateParams{ID: "u", Email: "a@b", DisplayName: "A", PasswordHash: "h", Roles: []Role{"owner"}})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestProfileAndRoles(t *testing.T) {
	u, err := NewUser(CreateParams{ID: "u1", Email: "a@b", DisplayName: "A", PasswordHash: "h"})
	require.NoError(t, err)
	later := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, u.UpdateProfile(" ", "", later), ErrNameRequired)
	require.NoError(t, u.UpdateProfile(" Alex ", " https://img.test/a.png ", later))
	assert.Equal(t, "Alex", u.DisplayName)
	assert.Equal(t, "https://img.test/a.png", u.AvatarURL)
	assert.Equal(t, later, u.UpdatedAt)

	require.NoError(t, u.EnsureRole(RoleAdmin, later))
	require.NoError(t, u.EnsureRole("ADMIN", later))
	assert.Equal(t, []Role{RoleStudent, RoleAdmin}, u.Roles)
	assert.ErrorIs(t, u.EnsureRole("owner", later), ErrInvalidRole)
}
