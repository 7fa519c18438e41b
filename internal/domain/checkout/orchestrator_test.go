package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// --- Mock implementations ---

// couponStore is an in-memory coupon table whose Reserve honours the usage
// limit with a compare-and-increment under one lock.
type couponStore struct {
	mu         sync.Mutex
	byCode     map[string]*coupon.Coupon
	reserveErr error
	releaseErr error
	reserves   int
	releases   int
}

func newCouponStore(coupons ...*coupon.Coupon) *couponStore {
	s := &couponStore{byCode: make(map[string]*coupon.Coupon)}
	for _, c := range coupons {
		s.byCode[c.Code] = c
	}
	return s
}

func (s *couponStore) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byCode[code]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *couponStore) FindByID(_ context.Context, _ string) (*coupon.Coupon, error) {
	return nil, coupon.ErrCouponNotFound
}

func (s *couponStore) List(_ context.Context) ([]coupon.Coupon, error)  { return nil, nil }
func (s *couponStore) Create(_ context.Context, _ *coupon.Coupon) error { return nil }
func (s *couponStore) Update(_ context.Context, _ *coupon.Coupon) error { return nil }

func (s *couponStore) byID(id string) *coupon.Coupon {
	for _, c := range s.byCode {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *couponStore) Reserve(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserves++
	if s.reserveErr != nil {
		return s.reserveErr
	}
	c := s.byID(id)
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return coupon.ErrCouponExhausted
	}
	c.UsedCount++
	return nil
}

func (s *couponStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	if s.releaseErr != nil {
		return s.releaseErr
	}
	if c := s.byID(id); c.UsedCount > 0 {
		c.UsedCount--
	}
	return nil
}

func (s *couponStore) used(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byCode[code].UsedCount
}

type orderStore struct {
	mu        sync.Mutex
	orders    []*order.Order
	createErr error
}

func (m *orderStore) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.orders = append(m.orders, o)
	return nil
}

func (m *orderStore) GetByID(_ context.Context, _ string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m *orderStore) ListByUser(_ context.Context, _ string) ([]order.Order, error) {
	return nil, nil
}

func (m *orderStore) UpdateStatus(_ context.Context, _ string, _, _ order.Status) error {
	return nil
}

func (m *orderStore) UpdatePaymentStatus(_ context.Context, _ string, _, _ order.PaymentStatus, _, _ order.Status) error {
	return nil
}

type mockRecorder struct {
	mu           sync.Mutex
	outcomes     []string
	reservations []string
	releaseErrs  []error
}

func (m *mockRecorder) CheckoutFinished(outcome string, _ bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockRecorder) ReservationFinished(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations = append(m.reservations, outcome)
}

func (m *mockRecorder) ReleaseFinished(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseErrs = append(m.releaseErrs, err)
}

type mockAuditor struct {
	couponID string
	cause    error
}

func (m *mockAuditor) RecordReleaseFailure(_ context.Context, couponID, _ string, cause error) error {
	m.couponID = couponID
	m.cause = cause
	return nil
}

// --- Helpers ---

type fixture struct {
	products *mockProductRepo
	coupons  *couponStore
	orders   *orderStore
	recorder *mockRecorder
	auditor  *mockAuditor
	orch     *Orchestrator
}

func newFixture(coupons ...*coupon.Coupon) *fixture {
	f := &fixture{
		products: newProductRepo(
			newTestProduct("A", "100"),
			newTestProduct("B", "15"),
			newTestProduct("C", "40"),
		),
		coupons:  newCouponStore(coupons...),
		orders:   &orderStore{},
		recorder: &mockRecorder{},
		auditor:  &mockAuditor{},
	}
	f.orch = NewOrchestrator(
		NewResolver(f.products),
		coupon.NewEvaluator(f.coupons),
		f.coupons,
		order.NewAssembler(f.orders),
		WithRecorder(f.recorder),
		WithReleaseAuditor(f.auditor),
	)
	return f
}

func newCoupon(code string, typ coupon.DiscountType, value string, limit *int) *coupon.Coupon {
	return &coupon.Coupon{
		ID:             "id-" + code,
		Code:           code,
		DiscountType:   typ,
		DiscountValue:  decimal.RequireFromString(value),
		ExpirationDate: time.Now().Add(24 * time.Hour),
		IsActive:       true,
		UsageLimit:     limit,
		ApplicableType: coupon.ApplicableAll,
	}
}

func limit(n int) *int { return &n }

func request(code string, lines ...Line) Request {
	return Request{
		UserID: "u1",
		Lines:  lines,
		ShippingAddress: order.ShippingAddress{
			FirstName: "Ada", LastName: "Lovelace", Street: "12 Analytical Way",
			City: "London", ZipCode: "N1", Phone: "+441234567",
		},
		ContactEmail: "ada@example.com",
		CouponCode:   code,
	}
}

func requireTotal(t *testing.T, want string, o *order.Order) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(o.TotalAmount),
		"expected total %s, got %s", want, o.TotalAmount)
}

// --- Tests ---

func TestCheckout_NoCoupon(t *testing.T) {
	f := newFixture()

	o, err := f.orch.Checkout(context.Background(), request("", Line{ProductID: "A", Quantity: 2}))

	require.NoError(t, err)
	requireTotal(t, "200", o)
	assert.True(t, o.DiscountAmount.IsZero())
	assert.Empty(t, o.CouponCode)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Equal(t, "u1", o.UserID)
	assert.Len(t, f.orders.orders, 1)
	assert.Equal(t, []string{OutcomeCommitted}, f.recorder.outcomes)
	assert.Empty(t, f.recorder.reservations)
}

func TestCheckout_PercentageCoupon(t *testing.T) {
	f := newFixture(newCoupon("TENOFF", coupon.DiscountPercentage, "10", limit(5)))

	o, err := f.orch.Checkout(context.Background(), request(" tenoff ", Line{ProductID: "A", Quantity: 2}))

	require.NoError(t, err)
	requireTotal(t, "180", o)
	assert.True(t, decimal.NewFromInt(20).Equal(o.DiscountAmount))
	assert.Equal(t, "TENOFF", o.CouponCode)
	assert.Equal(t, 1, f.coupons.used("TENOFF"))
	assert.Equal(t, []string{ReservationReserved}, f.recorder.reservations)
}

func TestCheckout_FixedCouponClamped(t *testing.T) {
	f := newFixture(newCoupon("TWENTY", coupon.DiscountFixed, "20", nil))

	o, err := f.orch.Checkout(context.Background(), request("TWENTY", Line{ProductID: "B", Quantity: 1}))

	require.NoError(t, err)
	requireTotal(t, "0", o)
	assert.True(t, decimal.NewFromInt(15).Equal(o.DiscountAmount))
}

func TestCheckout_CouponRejected(t *testing.T) {
	onlyC := newCoupon("ONLYC", coupon.DiscountPercentage, "50", nil)
	onlyC.ApplicableType = coupon.ApplicableProduct
	onlyC.ApplicableIDs = []string{"C"}

	expired := newCoupon("OLD", coupon.DiscountFixed, "5", nil)
	expired.ExpirationDate = time.Now().Add(-time.Hour)

	full := newCoupon("FULL", coupon.DiscountFixed, "5", limit(1))
	full.UsedCount = 1

	tests := []struct {
		name    string
		code    string
		wantErr error
		outcome string
	}{
		{name: "unknown", code: "NOPE", wantErr: coupon.ErrCouponNotFound, outcome: OutcomeCouponRejected},
		{name: "not applicable", code: "ONLYC", wantErr: coupon.ErrCouponNotApplicable, outcome: OutcomeCouponRejected},
		{name: "expired", code: "OLD", wantErr: coupon.ErrCouponExpired, outcome: OutcomeCouponRejected},
		{name: "exhausted", code: "FULL", wantErr: coupon.ErrCouponExhausted, outcome: OutcomeCouponExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(onlyC, expired, full)

			o, err := f.orch.Checkout(context.Background(), request(tt.code, Line{ProductID: "A", Quantity: 1}))

			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, o)
			var aErr *AbortedError
			require.ErrorAs(t, err, &aErr)
			assert.Equal(t, StateEvaluating, aErr.State)
			assert.Empty(t, f.orders.orders, "no order may be created for a rejected coupon")
			assert.Zero(t, f.coupons.reserves)
			assert.Equal(t, []string{tt.outcome}, f.recorder.outcomes)
		})
	}
}

func TestCheckout_ItemUnavailable(t *testing.T) {
	f := newFixture(newCoupon("TENOFF", coupon.DiscountPercentage, "10", nil))

	_, err := f.orch.Checkout(context.Background(), request("TENOFF",
		Line{ProductID: "A", Quantity: 1},
		Line{ProductID: "MISSING", Quantity: 1},
	))

	var iuErr *ItemUnavailableError
	require.ErrorAs(t, err, &iuErr)
	assert.Equal(t, "MISSING", iuErr.ProductID)
	assert.Empty(t, f.orders.orders)
	assert.Zero(t, f.coupons.reserves)
	assert.Equal(t, []string{OutcomeItemUnavailable}, f.recorder.outcomes)
}

func TestCheckout_LostReservationRace(t *testing.T) {
	f := newFixture(newCoupon("RACE", coupon.DiscountFixed, "5", limit(1)))
	f.coupons.reserveErr = coupon.ErrConcurrencyConflict

	_, err := f.orch.Checkout(context.Background(), request("RACE", Line{ProductID: "A", Quantity: 1}))

	require.ErrorIs(t, err, coupon.ErrCouponExhausted)
	var aErr *AbortedError
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, StateReserving, aErr.State)
	assert.Empty(t, f.orders.orders)
	assert.Equal(t, []string{ReservationExhausted}, f.recorder.reservations)
}

func TestCheckout_PersistenceFailureReleasesReservation(t *testing.T) {
	f := newFixture(newCoupon("TENOFF", coupon.DiscountPercentage, "10", limit(3)))
	f.orders.createErr = errors.New("connection refused")

	_, err := f.orch.Checkout(context.Background(), request("TENOFF", Line{ProductID: "A", Quantity: 1}))

	var pErr *order.PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, 1, f.coupons.reserves)
	assert.Equal(t, 1, f.coupons.releases)
	assert.Equal(t, 0, f.coupons.used("TENOFF"), "release must restore the usage count")
	assert.Empty(t, f.orders.orders)
	assert.Equal(t, []string{OutcomePersistence}, f.recorder.outcomes)
	assert.Equal(t, []error{nil}, f.recorder.releaseErrs)
	assert.Empty(t, f.auditor.couponID)
}

func TestCheckout_FailedReleaseIsAudited(t *testing.T) {
	f := newFixture(newCoupon("TENOFF", coupon.DiscountPercentage, "10", nil))
	f.orders.createErr = errors.New("disk full")
	f.coupons.releaseErr = errors.New("connection reset")

	_, err := f.orch.Checkout(context.Background(), request("TENOFF", Line{ProductID: "A", Quantity: 1}))

	var pErr *order.PersistenceError
	require.ErrorAs(t, err, &pErr, "the caller sees the persistence failure, not the release failure")
	assert.Equal(t, "id-TENOFF", f.auditor.couponID)
	assert.EqualError(t, f.auditor.cause, "connection reset")
}

func TestCheckout_PersistenceFailureWithoutCoupon(t *testing.T) {
	f := newFixture()
	f.orders.createErr = errors.New("connection refused")

	_, err := f.orch.Checkout(context.Background(), request("", Line{ProductID: "A", Quantity: 1}))

	var pErr *order.PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Zero(t, f.coupons.releases)
}

func TestCheckout_SingleUseCouponConcurrent(t *testing.T) {
	f := newFixture(newCoupon("ONCE", coupon.DiscountPercentage, "10", limit(1)))

	var (
		committed atomic.Int32
		exhausted atomic.Int32
	)
	g, ctx := errgroup.WithContext(context.Background())
	for range 2 {
		g.Go(func() error {
			_, err := f.orch.Checkout(ctx, request("ONCE", Line{ProductID: "A", Quantity: 2}))
			switch {
			case err == nil:
				committed.Add(1)
			case errors.Is(err, coupon.ErrCouponExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, committed.Load())
	assert.EqualValues(t, 1, exhausted.Load())
	assert.Equal(t, 1, f.coupons.used("ONCE"))
	require.Len(t, f.orders.orders, 1)
	requireTotal(t, "180", f.orders.orders[0])
}

func TestCheckout_ManyConcurrentReservations(t *testing.T) {
	const (
		attempts = 40
		capacity = 7
	)
	f := newFixture(newCoupon("FEW", coupon.DiscountFixed, "1", limit(capacity)))

	var committed atomic.Int32
	var g errgroup.Group
	for range attempts {
		g.Go(func() error {
			_, err := f.orch.Checkout(context.Background(), request("few", Line{ProductID: "C", Quantity: 1}))
			if err == nil {
				committed.Add(1)
				return nil
			}
			if errors.Is(err, coupon.ErrCouponExhausted) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, capacity, committed.Load())
	assert.Equal(t, capacity, f.coupons.used("FEW"))
	assert.Len(t, f.orders.orders, capacity)
}

func TestQuote(t *testing.T) {
	f := newFixture(newCoupon("TENOFF", coupon.DiscountPercentage, "10", limit(1)))

	snap, eval, err := f.orch.Quote(context.Background(), []Line{{ProductID: "A", Quantity: 2}}, "tenoff")

	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(200).Equal(snap.Subtotal))
	require.NotNil(t, eval)
	assert.True(t, decimal.NewFromInt(20).Equal(eval.Discount))
	assert.Zero(t, f.coupons.reserves, "quotes never reserve")
	assert.Empty(t, f.orders.orders)

	_, eval, err = f.orch.Quote(context.Background(), []Line{{ProductID: "A", Quantity: 1}}, "  ")
	require.NoError(t, err)
	assert.Nil(t, eval)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "reserving", StateReserving.String())
	assert.Equal(t, "state(42)", State(42).String())
}
