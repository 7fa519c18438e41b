package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrStaleStatus is returned by a conditional status update whose expected
	// current value no longer matches.
	ErrStaleStatus = errors.New("order status changed concurrently")
)

// Order is a placed customer order. Items and TotalAmount are write-once.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	ShippingAddress ShippingAddress
	ContactEmail    string
	TotalAmount     decimal.Decimal
	DiscountAmount  decimal.Decimal
	CouponCode      string
	Status          Status
	PaymentStatus   PaymentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Subtotal returns the undiscounted sum of the order lines.
func (o *Order) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// OrderItem is a catalog snapshot taken at checkout time. The JSON names are
// the stored document field names.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
}

// ShippingAddress is the delivery address stored with an order.
type ShippingAddress struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Street    string `json:"street"`
	City      string `json:"city"`
	ZipCode   string `json:"zipCode"`
	Phone     string `json:"phone"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// UpdateStatus sets status to next only if it is currently from.
	UpdateStatus(ctx context.Context, id string, from, next Status) error
	// UpdatePaymentStatus sets the payment status to next only if it is
	// currently from. When statusNext is non-empty the same write also moves
	// the order status to statusNext if it is still statusFrom.
	UpdatePaymentStatus(ctx context.Context, id string, from, next PaymentStatus, statusFrom, statusNext Status) error
}
