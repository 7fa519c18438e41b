package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PersistenceError reports that the order store rejected a new order. The
// checkout that produced it is safe to retry.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist order: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// AssembleRequest holds everything the assembler needs to build an order.
// Coupon validity has already been established by the time it is built.
type AssembleRequest struct {
	UserID          string
	Items           []OrderItem
	ShippingAddress ShippingAddress
	ContactEmail    string
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	CouponCode      string
}

// Assembler builds new orders and persists them.
type Assembler struct {
	orders Repository
	now    func() time.Time
	newID  func() string
}

// NewAssembler creates an Assembler that writes to orders.
func NewAssembler(orders Repository) *Assembler {
	return &Assembler{
		orders: orders,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Assemble builds a pending order with TotalAmount = Subtotal - Discount and
// stores it. Storage failures are returned as *PersistenceError.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (*Order, error) {
	if req.Discount.IsNegative() || req.Discount.GreaterThan(req.Subtotal) {
		return nil, fmt.Errorf("discount %s out of range for subtotal %s", req.Discount, req.Subtotal)
	}

	now := a.now().UTC()
	o := &Order{
		ID:              a.newID(),
		UserID:          req.UserID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		ContactEmail:    req.ContactEmail,
		TotalAmount:     req.Subtotal.Sub(req.Discount),
		DiscountAmount:  req.Discount,
		CouponCode:      req.CouponCode,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := a.orders.Create(ctx, o); err != nil {
		return nil, &PersistenceError{Err: err}
	}
	return o, nil
}
