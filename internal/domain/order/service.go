package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

// Service implements order reads and post-checkout state changes. Orders are
// created only through checkout.
type Service struct {
	orders Repository
}

// NewService creates an order Service.
func NewService(orders Repository) *Service {
	return &Service{orders: orders}
}

// Get returns the order if the caller owns it or may manage orders. Other
// callers get ErrNotFound so order ids cannot be probed.
func (s *Service) Get(ctx context.Context, caller auth.Identity, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != caller.UserID && !caller.Can(auth.PermManageOrders) {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the orders of userID, newest first. An empty userID means the
// caller's own orders.
func (s *Service) List(ctx context.Context, caller auth.Identity, userID string) ([]Order, error) {
	if userID == "" || userID == caller.UserID {
		return s.orders.ListByUser(ctx, caller.UserID)
	}
	if err := caller.Require(auth.PermManageOrders); err != nil {
		return nil, err
	}
	return s.orders.ListByUser(ctx, userID)
}

// UpdateStatus moves an order to next if the transition is allowed.
func (s *Service) UpdateStatus(ctx context.Context, caller auth.Identity, id string, next Status) (*Order, error) {
	if err := caller.Require(auth.PermManageOrders); err != nil {
		return nil, err
	}

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == next {
		return o, nil
	}
	if !o.Status.CanTransition(next) {
		return nil, &TransitionError{OrderID: id, From: string(o.Status), To: string(next)}
	}

	if err := s.orders.UpdateStatus(ctx, id, o.Status, next); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, &TransitionError{OrderID: id, From: string(o.Status), To: string(next)}
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	o.Status = next
	return o, nil
}

// ApplyPayment records the gateway's payment outcome. A paid pending order
// moves to processing. Repeating the same terminal outcome is a no-op.
func (s *Service) ApplyPayment(ctx context.Context, id string, result PaymentStatus) (*Order, error) {
	if !result.Terminal() {
		return nil, &TransitionError{OrderID: id, From: string(PaymentPending), To: string(result)}
	}

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == result {
		return o, nil
	}
	if o.PaymentStatus.Terminal() {
		return nil, &TransitionError{OrderID: id, From: string(o.PaymentStatus), To: string(result)}
	}

	var statusFrom, statusNext Status
	if result == PaymentPaid && o.Status == StatusPending {
		statusFrom, statusNext = StatusPending, StatusProcessing
	}

	err = s.orders.UpdatePaymentStatus(ctx, id, o.PaymentStatus, result, statusFrom, statusNext)
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, &TransitionError{OrderID: id, From: string(o.PaymentStatus), To: string(result)}
		}
		return nil, fmt.Errorf("update payment status: %w", err)
	}

	o.PaymentStatus = result
	if statusNext != "" {
		o.Status = statusNext
	}
	return o, nil
}
