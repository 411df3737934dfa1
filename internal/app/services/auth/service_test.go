package auth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"campusmarket/internal/app/services/auth"
	domainauth "campusmarket/internal/domain/auth"
	domainuser "campusmarket/internal/domain/user"
	"campusmarket/internal/infra/security"
	"campusmarket/internal/infra/storage/memory"
)

func newService() *auth.Service {
	return &auth.Service{
		Users:       memory.NewUserRepository(),
		Sessions:    memory.NewSessionStore(),
		Passwords:   security.BcryptHasher{Cost: bcrypt.MinCost},
		Tokens:      security.RandomTokenGenerator{},
		AdminEmails: []string{"mod@campus.test"},
	}
}

func TestRegisterLoginResolveLogout(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, auth.RegisterParams{Email: " Alice@Campus.test ", DisplayName: "Alice", Password: "correct horse", Campus: "North"})
	require.NoError(t, err)
	assert.Equal(t, "alice@campus.test", reg.User.Email)
	assert.Equal(t, []domainuser.Role{domainuser.RoleStudent}, reg.User.Roles)
	assert.NotEmpty(t, reg.Token)

	_, err = svc.Login(ctx, auth.LoginParams{Email: "alice@campus.test", Password: "wrong password"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	login, err := svc.Login(ctx, auth.LoginParams{Email: "alice@campus.test", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotEqual(t, reg.Token, login.Token)

	resolved, err := svc.ResolveToken(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, resolved.User.ID)

	require.NoError(t, svc.Logout(ctx, login.Token))
	_, err = svc.ResolveToken(ctx, login.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}

func TestRegisterValidation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Register(ctx, auth.RegisterParams{Email: "a@campus.test", DisplayName: "A", Password: "short"})
	assert.ErrorIs(t, err, auth.ErrPasswordTooShort)

	_, err = svc.Register(ctx, auth.RegisterParams{Email: "a@campus.test", Password: "long enough"})
	assert.ErrorIs(t, err, domainuser.ErrNameRequired)

	_, err = svc.Register(ctx, auth.RegisterParams{Email: "a@campus.test", DisplayName: "A", Password: "long enough"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, auth.RegisterParams{Email: "A@campus.test", DisplayName: "B", Password: "long enough"})
	assert.ErrorIs(t, err, domainuser.ErrEmailAlreadyUsed)
}

func TestAdminEmailGetsModeratorRole(t *testing.T) {
	svc := newService()
	res, err := svc.Register(context.Background(), auth.RegisterParams{Email: "mod@campus.test", DisplayName: "Mod", Password: "long enough"})
	require.NoError(t, err)
	assert.True(t, res.User.IsAdmin())
}

func TestUpdateProfile(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	res, err := svc.Register(ctx, auth.RegisterParams{Email: "a@campus.test", DisplayName: "A", Password: "long enough"})
	require.NoError(t, err)

	updated, err := svc.UpdateProfile(ctx, res.User.ID, "Ada", "https://cdn.test/ada.png")
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.DisplayName)

	_, err = svc.UpdateProfile(ctx, res.User.ID, " ", "")
	assert.ErrorIs(t, err, domainuser.ErrNameRequired)
}

func TestSessionsSlideWhileActive(t *testing.T) {
	sessions := memory.NewSessionStore()
	clock := time.Now()
	svc := newService()
	svc.Sessions = sessions
	svc.SessionTTL = time.Hour
	svc.Now = func() time.Time { return clock }
	ctx := context.Background()

	res, err := svc.Register(ctx, auth.RegisterParams{Email: "a@campus.test", DisplayName: "A", Password: "long enough"})
	require.NoError(t, err)

	clock = clock.Add(10 * time.Minute)
	resolved, err := svc.ResolveToken(ctx, res.Token)
	require.NoError(t, err)
	assert.WithinDuration(t, clock.Add(50*time.Minute), resolved.Session.ExpiresAt, time.Second, "not refreshed while more than half remains")

	clock = clock.Add(30 * time.Minute)
	resolved, err = svc.ResolveToken(ctx, res.Token)
	require.NoError(t, err)
	assert.WithinDuration(t, clock.Add(time.Hour), resolved.Session.ExpiresAt, time.Second)

	stored, err := sessions.Get(ctx, domainauth.Token(res.Token))
	require.NoError(t, err)
	assert.Equal(t, resolved.Session.ExpiresAt, stored.ExpiresAt)

	clock = clock.Add(2 * time.Hour)
	_, err = svc.ResolveToken(ctx, res.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}

func TestLoginPromotesNewlyListedModerator(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	res, err := svc.Register(ctx, auth.RegisterParams{Email: "later@campus.test", DisplayName: "L", Password: "long enough"})
	require.NoError(t, err)
	assert.False(t, res.User.IsAdmin())

	svc.AdminEmails = append(svc.AdminEmails, "LATER@campus.test")
	login, err := svc.Login(ctx, auth.LoginParams{Email: "later@campus.test", Password: "long enough"})
	require.NoError(t, err)
	assert.True(t, login.User.IsAdmin())

	resolved, err := svc.ResolveToken(ctx, login.Token)
	require.NoError(t, err)
	assert.True(t, resolved.User.IsAdmin())
}

func TestPasswordUpperBound(t *testing.T) {
	svc := newService()
	_, err := svc.Register(context.Background(), auth.RegisterParams{Email: "a@campus.test", DisplayName: "A", Password: strings.Repeat("p", 73)})
	assert.ErrorIs(t, err, auth.ErrPasswordTooLong)
}

func TestMissingDependencies(t *testing.T) {
	_, err := (&auth.Service{}).Login(context.Background(), auth.LoginParams{Email: "a", Password: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users, sessions, passwords, tokens")
}
