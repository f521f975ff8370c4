package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/metrics"
)

// Transactor is the part of the Arbiter device controllers depend on.
type Transactor interface {
	Transact(ctx context.Context, addr byte, command string, settle, timeout time.Duration) Result
}

// Retrier issues a transaction and retries transport failures with
// exponential backoff. A "still processing" answer is retried once right
// away; a syntax error is never retried.
type Retrier struct {
	Tx       Transactor
	Retries  int           // retries after the first attempt
	Backoff  time.Duration // first backoff, doubled per retry
	Timeout  time.Duration // per attempt
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	sleepFor func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier over tx.
func NewRetrier(tx Transactor, retries int, backoff, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *Retrier {
	if log == nil {
		log = logger.Nop()
	}
	return &Retrier{Tx: tx, Retries: retries, Backoff: backoff, Timeout: timeout, Log: log, Metrics: m}
}

// Budget is the longest Do may take: every attempt plus the one pending
// re-ask at Timeout each, and every backoff.
func (r *Retrier) Budget() time.Duration {
	attempts := r.attempts()
	total := time.Duration(attempts+1) * r.Timeout
	backoff := r.Backoff
	for i := 1; i < attempts; i++ {
		total += backoff
		backoff *= 2
	}
	return total
}

func (r *Retrier) attempts() int {
	if r.Retries < 0 {
		return 1
	}
	return r.Retries + 1
}

// Do runs command against addr. The returned Result is the last attempt's.
// The whole call is bounded by Budget.
func (r *Retrier) Do(ctx context.Context, addr byte, command string, settle time.Duration) Result {
	if budget := r.Budget(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	attempts := r.attempts()
	pendingRetried := false
	backoff := r.Backoff

	var res Result
	for i := 0; i < attempts; i++ {
		if i > 0 {
			r.Metrics.IncBusRetry()
			if err := r.sleep(ctx, backoff); err != nil {
				return Result{Err: err}
			}
			backoff *= 2
		}

		res = r.Tx.Transact(ctx, addr, command, settle, r.Timeout)
		if res.OK {
			return res
		}

		// The settle delay already passed inside Transact; ask again once
		// without spending an attempt.
		if errors.Is(res.Err, ErrPending) && !pendingRetried {
			pendingRetried = true
			r.Metrics.IncBusRetry()
			res = r.Tx.Transact(ctx, addr, command, settle, r.Timeout)
			if res.OK {
				return res
			}
		}

		if errors.Is(res.Err, ErrSyntax) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	r.Log.Warnw("bus_retries_exhausted",
		"addr", fmt.Sprintf("0x%02x", addr),
		"cmd", command,
		"code", res.Code.String(),
		"err", res.Err,
	)
	return res
}

func (r *Retrier) sleep(ctx context.Context, d time.Duration) error {
	if r.sleepFor != nil {
		return r.sleepFor(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
