package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
)

// RetryPolicy bounds how persistently the stores chase transient failures.
// A snapshot whose write still fails after MaxAttempts is dropped — the next
// emission for the window carries a superset of its state.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is used when config leaves the policy unset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 200 * time.Millisecond}
}

func (p RetryPolicy) normalized() RetryPolicy {
	n := p
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = 1
	}
	if n.Backoff <= 0 {
		n.Backoff = 200 * time.Millisecond
	}
	return n
}

// IsRetryable distinguishes transient I/O failures (worth another attempt)
// from fatal ones (constraint violations, encoding bugs) so callers and tests
// can assert on the error path instead of a swallowed log line.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		// 08: connection exceptions, 40: transaction rollbacks (serialization,
		// deadlock), 53: insufficient resources, 57P03: cannot connect now.
		return strings.HasPrefix(code, "08") ||
			strings.HasPrefix(code, "40") ||
			strings.HasPrefix(code, "53") ||
			code == "57P03"
	}
	return false
}

// withRetry runs op with bounded backoff on retryable failures. Context
// cancellation wins over further attempts.
func withRetry(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	policy = policy.normalized()
	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil || !IsRetryable(err) || attempt >= policy.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * policy.Backoff):
		}
	}
}
