package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// Permission names an administrative capability carried by an identity.
type Permission string

const (
	// PermManageOrders allows reading any order and changing order status.
	PermManageOrders Permission = "manage_orders"
	// PermManageProducts allows managing the catalog and coupons.
	PermManageProducts Permission = "manage_products"
)

// RoleAdmin is the role assigned to back-office users.
const RoleAdmin = "admin"

var (
	// ErrUnauthenticated is returned when a request carries no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the identity lacks a required permission.
	ErrForbidden = errors.New("forbidden")
)

// Identity is the verified caller produced by a token verifier.
type Identity struct {
	UserID      string
	Role        string
	Permissions []Permission
}

// Can reports whether the identity holds permission p.
func (i Identity) Can(p Permission) bool {
	return slices.Contains(i.Permissions, p)
}

// Require returns ErrForbidden unless the identity holds permission p.
func (i Identity) Require(p Permission) error {
	if !i.Can(p) {
		return errors.Wrapf(ErrForbidden, "missing permission %q", p)
	}
	return nil
}

// Verifier turns a bearer token into a verified Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
