package policies

import (
	"context"
	"errors"

	domainuser "campusmarket/internal/domain/user"
)

var (
	ErrUnauthenticated = errors.New("policies: authentication required")
	ErrForbidden       = errors.New("policies: insufficient permissions")
)

// Principal is the caller resolved once per request.
type Principal struct {
	UserID string
	Roles  []domainuser.Role
}

func (p Principal) HasRole(role domainuser.Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (p Principal) IsAdmin() bool {
	return p.HasRole(domainuser.RoleAdmin)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}

// AdminOnly is implemented by commands and queries reserved for moderators.
type AdminOnly interface {
	AdminOnly()
}

// RoleAuthorizer lets everything through except AdminOnly messages from non-admins.
type RoleAuthorizer struct{}

func (RoleAuthorizer) Authorize(ctx context.Context, message any) error {
	if _, ok := message.(AdminOnly); !ok {
		return nil
	}
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
