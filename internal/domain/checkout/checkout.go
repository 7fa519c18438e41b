// Package checkout turns a submitted cart into a persisted order, optionally
// redeeming a coupon along the way.
package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// ErrEmptyCart is returned when a checkout has no lines.
var ErrEmptyCart = errors.New("items required")

// Line is one requested cart entry.
type Line struct {
	ProductID string
	Quantity  int
}

// Request is a single checkout attempt by an authenticated user.
type Request struct {
	UserID          string
	Lines           []Line
	ShippingAddress order.ShippingAddress
	ContactEmail    string
	// CouponCode is optional; blank means no coupon.
	CouponCode string
}

// Snapshot is the cart priced against the catalog at resolution time.
type Snapshot struct {
	Items    []order.OrderItem
	Lines    []coupon.Item
	Subtotal decimal.Decimal
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// ItemUnavailableError indicates a cart line cannot be bought right now.
type ItemUnavailableError struct {
	ProductID string
	Reason    string
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("product %s unavailable: %s", e.ProductID, e.Reason)
}

// State is a step of the checkout protocol.
type State int

const (
	StateResolving State = iota
	StateEvaluating
	StateReserving
	StateAssembling
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateEvaluating:
		return "evaluating"
	case StateReserving:
		return "reserving"
	case StateAssembling:
		return "assembling"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AbortedError wraps the failure that aborted a checkout with the state it
// happened in.
type AbortedError struct {
	State State
	Err   error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("checkout aborted while %s: %v", e.State, e.Err)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}
