// Package identity adapts an external identity provider to the small surface
// the tracker needs: who is calling, if anyone, and with which role.
package identity

import (
	"context"
	"errors"
	"net/http"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Role string

const (
	RoleUser       Role = "user"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func ParseRole(s string) Role {
	switch r := Role(s); r {
	case RoleUser, RoleModerator, RoleAdmin, RoleSuperAdmin:
		return r
	default:
		return RoleUser
	}
}

// Identity is the caller as seen by the tracker. The zero value is anonymous.
// The local scope is the browser's own key for records kept on this server
// without an account.
type Identity struct {
	UserID string
	role   Role
	scope  string
}

func New(userID string, role Role) Identity {
	return Identity{UserID: userID, role: role}
}

func Anonymous() Identity { return Identity{} }

func (i Identity) CurrentUserID() string { return i.UserID }

// WithLocalScope returns i carrying the caller's client key.
func (i Identity) WithLocalScope(scope string) Identity {
	i.scope = scope
	return i
}

func (i Identity) LocalScope() string { return i.scope }

func (i Identity) IsAuthenticated() bool { return i.UserID != "" }

func (i Identity) Role() Role {
	if i.role == "" {
		return RoleUser
	}
	return i.role
}

// Provider resolves the identity behind a request. A request without
// credentials is anonymous, not an error; bad credentials are.
type Provider interface {
	Identify(r *http.Request) (Identity, error)
}

// AnonymousProvider is used when no identity provider is configured.
type AnonymousProvider struct{}

func (AnonymousProvider) Identify(*http.Request) (Identity, error) { return Anonymous(), nil }

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(ctxKey{}).(Identity)
	return id
}
