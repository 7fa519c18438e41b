package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// CatalogResolver prices cart lines.
type CatalogResolver interface {
	Resolve(ctx context.Context, lines []Line) (*Snapshot, error)
}

// CouponEvaluator computes a coupon discount without side effects.
type CouponEvaluator interface {
	Evaluate(ctx context.Context, code string, items []coupon.Item) (*coupon.Evaluation, error)
}

// OrderAssembler builds and persists orders.
type OrderAssembler interface {
	Assemble(ctx context.Context, req order.AssembleRequest) (*order.Order, error)
}

// ReleaseAuditor records compensating releases that could not be applied, so
// the counter can be repaired out of band.
type ReleaseAuditor interface {
	RecordReleaseFailure(ctx context.Context, couponID, code string, cause error) error
}

// Recorder receives checkout outcomes for metrics.
type Recorder interface {
	CheckoutFinished(outcome string, withCoupon bool, elapsed time.Duration)
	ReservationFinished(outcome string)
	ReleaseFinished(err error)
}

// Outcome labels reported to Recorder.
const (
	OutcomeCommitted       = "committed"
	OutcomeInvalidCart     = "invalid_cart"
	OutcomeItemUnavailable = "item_unavailable"
	OutcomeCouponRejected  = "coupon_rejected"
	OutcomeCouponExhausted = "coupon_exhausted"
	OutcomePersistence     = "persistence_error"
	OutcomeError           = "error"

	ReservationReserved  = "reserved"
	ReservationExhausted = "exhausted"
	ReservationError     = "error"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracerProvider sets the provider used for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer("checkout") }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithReleaseAuditor sets where failed compensations are recorded.
func WithReleaseAuditor(a ReleaseAuditor) Option {
	return func(o *Orchestrator) { o.auditor = a }
}

// Orchestrator runs a checkout: resolve, evaluate, reserve, assemble.
// Reservation and order persistence are separate writes; a failed write after
// a reservation is compensated with Ledger.Release.
type Orchestrator struct {
	resolver  CatalogResolver
	evaluator CouponEvaluator
	ledger    coupon.Ledger
	assembler OrderAssembler

	tracer   trace.Tracer
	recorder Recorder
	auditor  ReleaseAuditor
	now      func() time.Time
}

// NewOrchestrator wires the checkout stages together.
func NewOrchestrator(
	resolver CatalogResolver,
	evaluator CouponEvaluator,
	ledger coupon.Ledger,
	assembler OrderAssembler,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		resolver:  resolver,
		evaluator: evaluator,
		ledger:    ledger,
		assembler: assembler,
		tracer:    noop.NewTracerProvider().Tracer("checkout"),
		recorder:  nopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Quote resolves the cart and evaluates the coupon without reserving or
// persisting anything.
func (o *Orchestrator) Quote(ctx context.Context, lines []Line, code string) (*Snapshot, *coupon.Evaluation, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.Quote")
	defer span.End()

	snap, err := o.resolver.Resolve(ctx, lines)
	if err != nil {
		return nil, nil, &AbortedError{State: StateResolving, Err: err}
	}
	if strings.TrimSpace(code) == "" {
		return snap, nil, nil
	}
	eval, err := o.evaluator.Evaluate(ctx, code, snap.Lines)
	if err != nil {
		return nil, nil, &AbortedError{State: StateEvaluating, Err: err}
	}
	return snap, eval, nil
}

// Checkout places an order for req. Any stage failure aborts the whole
// checkout; a coupon that was named but cannot be used is never dropped in
// favour of full price.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (_ *order.Order, rerr error) {
	start := o.now()
	withCoupon := strings.TrimSpace(req.CouponCode) != ""

	ctx, span := o.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(
			attribute.Int("checkout.lines", len(req.Lines)),
			attribute.Bool("checkout.coupon", withCoupon),
		),
	)
	defer func() {
		outcome := outcomeOf(rerr)
		span.SetAttributes(attribute.String("checkout.outcome", outcome))
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		o.recorder.CheckoutFinished(outcome, withCoupon, o.now().Sub(start))
	}()

	lg := zctx.From(ctx).With(zap.String("user_id", req.UserID))

	snap, err := o.resolver.Resolve(ctx, req.Lines)
	if err != nil {
		return nil, &AbortedError{State: StateResolving, Err: err}
	}

	var eval *coupon.Evaluation
	if withCoupon {
		span.AddEvent(StateEvaluating.String())
		eval, err = o.evaluator.Evaluate(ctx, req.CouponCode, snap.Lines)
		if err != nil {
			return nil, &AbortedError{State: StateEvaluating, Err: err}
		}

		span.AddEvent(StateReserving.String())
		if err := o.reserve(ctx, eval.CouponID); err != nil {
			return nil, &AbortedError{State: StateReserving, Err: err}
		}
	}

	span.AddEvent(StateAssembling.String())
	areq := order.AssembleRequest{
		UserID:          req.UserID,
		Items:           snap.Items,
		ShippingAddress: req.ShippingAddress,
		ContactEmail:    req.ContactEmail,
		Subtotal:        snap.Subtotal,
		Discount:        decimal.Zero,
	}
	if eval != nil {
		areq.Discount = eval.Discount
		areq.CouponCode = eval.Code
	}

	placed, err := o.assembler.Assemble(ctx, areq)
	if err != nil {
		if eval != nil {
			o.release(ctx, lg, eval)
		}
		return nil, &AbortedError{State: StateAssembling, Err: err}
	}

	lg.Info("Checkout committed",
		zap.String("order_id", placed.ID),
		zap.String("total", placed.TotalAmount.String()),
		zap.String("coupon", placed.CouponCode),
	)
	return placed, nil
}

func (o *Orchestrator) reserve(ctx context.Context, couponID string) error {
	err := o.ledger.Reserve(ctx, couponID)
	switch {
	case err == nil:
		o.recorder.ReservationFinished(ReservationReserved)
		return nil
	case errors.Is(err, coupon.ErrCouponExhausted), errors.Is(err, coupon.ErrConcurrencyConflict):
		o.recorder.ReservationFinished(ReservationExhausted)
		if !errors.Is(err, coupon.ErrCouponExhausted) {
			err = fmt.Errorf("%w: %w", coupon.ErrCouponExhausted, err)
		}
		return err
	default:
		o.recorder.ReservationFinished(ReservationError)
		return errors.Wrap(err, "reserve coupon")
	}
}

// release undoes a reservation. It runs on a context detached from the
// request so a cancelled client does not leave the redemption claimed.
func (o *Orchestrator) release(ctx context.Context, lg *zap.Logger, eval *coupon.Evaluation) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := o.ledger.Release(rctx, eval.CouponID)
	o.recorder.ReleaseFinished(err)
	if err == nil {
		lg.Warn("Coupon reservation released after failed order write", zap.String("coupon", eval.Code))
		return
	}

	lg.Error("Coupon release failed", zap.String("coupon", eval.Code), zap.Error(err))
	if o.auditor != nil {
		if aerr := o.auditor.RecordReleaseFailure(rctx, eval.CouponID, eval.Code, err); aerr != nil {
			lg.Error("Record release failure", zap.Error(aerr))
		}
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeCommitted
	}

	var (
		iqErr *InvalidQuantityError
		iuErr *ItemUnavailableError
		pErr  *order.PersistenceError
	)
	switch {
	case errors.Is(err, ErrEmptyCart), errors.As(err, &iqErr):
		return OutcomeInvalidCart
	case errors.As(err, &iuErr):
		return OutcomeItemUnavailable
	case errors.Is(err, coupon.ErrCouponExhausted):
		return OutcomeCouponExhausted
	case errors.Is(err, coupon.ErrCouponNotFound),
		errors.Is(err, coupon.ErrCouponInactive),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponNotApplicable):
		return OutcomeCouponRejected
	case errors.As(err, &pErr):
		return OutcomePersistence
	default:
		return OutcomeError
	}
}

type nopRecorder struct{}

func (nopRecorder) CheckoutFinished(string, bool, time.Duration) {}
func (nopRecorder) ReservationFinished(string)                   {}
func (nopRecorder) ReleaseFinished(error)                        {}
