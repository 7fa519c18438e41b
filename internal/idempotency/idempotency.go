// Package idempotency deduplicates retried checkout submissions carrying the
// same Idempotency-Key.
package idempotency

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// ErrInProgress is returned when another request holding the same key has
// not finished yet.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

// Response is a stored outcome, replayed verbatim to retries.
type Response struct {
	Status int
	Body   []byte
}

// Store claims keys and remembers the response produced under them.
type Store interface {
	// Begin claims key. A nil Response means the caller owns the key until
	// the lease ends and must call Complete or Abort. A non-nil Response is
	// the earlier outcome.
	Begin(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, resp Response) error
	// Abort frees a claimed key so the request can be retried.
	Abort(ctx context.Context, key string) error
}

// CheckoutKey scopes a client key to the user, so two users cannot collide.
func CheckoutKey(userID, key string) string {
	return "idem:checkout:" + userID + ":" + key
}

const pendingMarker = "pending"

func encode(resp Response) string {
	return strconv.Itoa(resp.Status) + "\n" + string(resp.Body)
}

func decode(v string) (*Response, error) {
	if v == pendingMarker {
		return nil, ErrInProgress
	}
	status, body, ok := strings.Cut(v, "\n")
	if !ok {
		return nil, errors.Errorf("malformed stored response %q", v)
	}
	code, err := strconv.Atoi(status)
	if err != nil {
		return nil, errors.Wrap(err, "parse stored status")
	}
	return &Response{Status: code, Body: []byte(body)}, nil
}

const (
	// DefaultTTL bounds how long outcomes are remembered.
	DefaultTTL = 24 * time.Hour
	// DefaultLease bounds how long an unfinished claim blocks retries. A
	// request that dies without Complete or Abort frees its key after this.
	DefaultLease = 2 * time.Minute
)

type options struct {
	lease time.Duration
}

// Option configures a Store.
type Option func(*options)

// WithLease sets how long a pending claim is held. Non-positive values keep
// DefaultLease.
func WithLease(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lease = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{lease: DefaultLease}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
