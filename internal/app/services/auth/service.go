package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	domainauth "campusmarket/internal/domain/auth"
	domainuser "campusmarket/internal/domain/user"
)

const (
	minPasswordRunes = 8
	// bcrypt ignores everything after 72 bytes
	maxPasswordBytes = 72
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrPasswordTooShort   = errors.New("auth: password must be at least 8 characters")
	ErrPasswordTooLong    = errors.New("auth: password must be at most 72 bytes")
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type TokenGenerator interface {
	NewToken() (string, error)
}

// Service owns student accounts and their bearer sessions.
type Service struct {
	Users      domainuser.Repository
	Sessions   domainauth.SessionStore
	Passwords  PasswordHasher
	Tokens     TokenGenerator
	SessionTTL time.Duration
	// AdminEmails are moderators. They get the admin role at registration and on every login,
	// so adding an address to the list promotes an existing account.
	AdminEmails []string
	Now         func() time.Time
	Logger      *slog.Logger
}

type RegisterParams struct {
	Email       string
	DisplayName string
	Password    string
	Campus      string
	AvatarURL   string
}

type LoginParams struct {
	Email    string
	Password string
}

type AuthResult struct {
	User  *domainuser.User
	Token string
}

func (s *Service) Register(ctx context.Context, params RegisterParams) (*AuthResult, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	email := normalizeEmail(params.Email)
	if email == "" {
		return nil, domainuser.ErrEmailRequired
	}
	if strings.TrimSpace(params.DisplayName) == "" {
		return nil, domainuser.ErrNameRequired
	}
	if err := checkPassword(params.Password); err != nil {
		return nil, err
	}
	hash, err := s.Passwords.Hash(params.Password)
	if err != nil {
		return nil, err
	}
	roles := []domainuser.Role{domainuser.RoleStudent}
	if s.isAdminEmail(email) {
		roles = append(roles, domainuser.RoleAdmin)
	}
	user, err := domainuser.NewUser(domainuser.CreateParams{
		ID:           domainuser.ID(uuid.NewString()),
		Email:        email,
		DisplayName:  params.DisplayName,
		AvatarURL:    params.AvatarURL,
		Campus:       params.Campus,
		PasswordHash: hash,
		Roles:        roles,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.Users.Save(ctx, user); err != nil {
		return nil, err
	}
	token, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log().Info("student registered", "user_id", user.ID, "campus", user.Campus, "admin", user.IsAdmin())
	return &AuthResult{User: user, Token: token}, nil
}

func (s *Service) Login(ctx context.Context, params LoginParams) (*AuthResult, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	email := normalizeEmail(params.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.Users.ByEmail(ctx, email)
	switch {
	case errors.Is(err, domainuser.ErrNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	}
	if err := s.Passwords.Compare(user.PasswordHash, params.Password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if s.isAdminEmail(email) && !user.IsAdmin() {
		if err := user.EnsureRole(domainuser.RoleAdmin, s.now()); err != nil {
			return nil, err
		}
		if err := s.Users.Save(ctx, user); err != nil {
			return nil, err
		}
		s.log().Info("moderator role granted", "user_id", user.ID)
	}
	token, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log().Info("student signed in", "user_id", user.ID)
	return &AuthResult{User: user, Token: token}, nil
}

// UpdateProfile changes the display fields shown next to the user's messages.
func (s *Service) UpdateProfile(ctx context.Context, userID domainuser.ID, displayName, avatarURL string) (*domainuser.User, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	user, err := s.Users.ByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := user.UpdateProfile(displayName, avatarURL, s.now()); err != nil {
		return nil, err
	}
	if err := s.Users.Save(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func checkPassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordRunes {
		return ErrPasswordTooShort
	}
	if len(password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) isAdminEmail(email string) bool {
	for _, candidate := range s.AdminEmails {
		if normalizeEmail(candidate) == email {
			return true
		}
	}
	return false
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (s *Service) ensureDependencies() error {
	var missing []string
	if s.Users == nil {
		missing = append(missing, "users")
	}
	if s.Sessions == nil {
		missing = append(missing, "sessions")
	}
	if s.Passwords == nil {
		missing = append(missing, "passwords")
	}
	if s.Tokens == nil {
		missing = append(missing, "tokens")
	}
	if len(missing) > 0 {
		return errors.New("auth: service missing " + strings.Join(missing, ", "))
	}
	return nil
}
