package models

import "context"

type contextKey string

// IdentityContextKey используется для хранения Identity в контексте запроса.
const IdentityContextKey contextKey = "identity"

// Identity - проверенная личность вызывающего.
type Identity struct {
	UserID        string         `json:"uid"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	Claims        map[string]any `json:"claims,omitempty"`
}

// WithIdentity кладет Identity в контекст.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

// IdentityFromContext достает Identity из контекста.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(*Identity)
	return id, ok && id != nil && id.UserID != ""
}

// AdminClaim - custom claim, открывающий административные операции.
const AdminClaim = "admin"

// IsAdmin проверяет custom claim admin.
func (i *Identity) IsAdmin() bool {
	if i == nil {
		return false
	}
	admin, _ := i.Claims[AdminClaim].(bool)
	return admin
}
