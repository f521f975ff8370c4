package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/metrics"
)

const (
	defaultPoolSize          = 4
	defaultResponseSize      = 32
	defaultReconnectInterval = 5 * time.Second
)

// Options tunes an Arbiter. Zero values fall back to the defaults above.
type Options struct {
	PoolSize          int
	ResponseSize      int
	ReconnectInterval time.Duration
}

// Arbiter owns the shared sensor/pump bus. Every transaction runs on a
// bounded worker pool and is bounded by the caller's timeout; the wire itself
// carries one transaction at a time.
type Arbiter struct {
	open    Opener
	opts    Options
	log     *logger.Logger
	metrics *metrics.Metrics

	wireMu sync.Mutex // one write→settle→read sequence on the wire

	connMu   sync.Mutex
	tr       Transport
	lastDial time.Time

	tasks     chan *task
	quit      chan struct{}
	closeOnce sync.Once
}

type task struct {
	ctx     context.Context
	addr    byte
	payload []byte
	settle  time.Duration
	result  chan Result // buffered; an abandoned task never blocks its worker
}

// NewArbiter starts the worker pool and makes a first attempt to open the
// bus. A failed open is logged and retried lazily on later transactions.
func NewArbiter(open Opener, opts Options, log *logger.Logger, m *metrics.Metrics) *Arbiter {
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.ResponseSize <= 0 {
		opts.ResponseSize = defaultResponseSize
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	a := &Arbiter{
		open:    open,
		opts:    opts,
		log:     log,
		metrics: m,
		tasks:   make(chan *task),
		quit:    make(chan struct{}),
	}
	for i := 0; i < opts.PoolSize; i++ {
		go a.worker()
	}

	a.connMu.Lock()
	if _, err := a.connectLocked(true); err != nil {
		a.log.Errorw("bus_open_failed", "err", err)
	}
	a.connMu.Unlock()
	return a
}

// Transact writes command to addr, waits settle, then reads the response
// frame. It returns within timeout regardless of what the device does; a
// timed-out transaction is abandoned and its late result discarded.
func (a *Arbiter) Transact(ctx context.Context, addr byte, command string, settle, timeout time.Duration) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := &task{
		ctx:     ctx,
		addr:    addr,
		payload: []byte(command),
		settle:  settle,
		result:  make(chan Result, 1),
	}

	var res Result
	select {
	case a.tasks <- t:
		select {
		case res = <-t.result:
		case <-ctx.Done():
			res = abandoned(ctx)
		}
	case <-ctx.Done():
		res = abandoned(ctx)
	case <-a.quit:
		res = Result{Err: ErrClosed}
	}

	if res.TimedOut() {
		a.log.Warnw("bus_transaction_timeout", "addr", fmt.Sprintf("0x%02x", addr), "cmd", command, "timeout", timeout)
	}
	a.metrics.ObserveBus(resultLabel(res), time.Since(start).Seconds())
	return res
}

// Connected reports whether a transport is currently open.
func (a *Arbiter) Connected() bool {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return a.tr != nil
}

// Close stops the workers and closes the transport. In-flight transactions
// finish on their own; their callers are already bounded by their timeouts.
func (a *Arbiter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.quit)
		a.connMu.Lock()
		defer a.connMu.Unlock()
		if a.tr != nil {
			err = a.tr.Close()
			a.tr = nil
		}
	})
	return err
}

func (a *Arbiter) worker() {
	for {
		select {
		case <-a.quit:
			return
		case t := <-a.tasks:
			t.result <- a.execute(t)
		}
	}
}

func (a *Arbiter) execute(t *task) Result {
	a.wireMu.Lock()
	defer a.wireMu.Unlock()

	// The caller may have given up while this task waited for the wire.
	if err := t.ctx.Err(); err != nil {
		return abandoned(t.ctx)
	}

	tr, err := a.transport()
	if err != nil {
		return Result{Err: err}
	}

	if err := tr.WriteBytes(t.addr, t.payload); err != nil {
		return Result{Err: fmt.Errorf("write to 0x%02x: %w", t.addr, err)}
	}

	if t.settle > 0 {
		timer := time.NewTimer(t.settle)
		select {
		case <-timer.C:
		case <-t.ctx.Done():
			timer.Stop()
			return abandoned(t.ctx)
		}
	}

	buf, err := tr.ReadBytes(t.addr, a.opts.ResponseSize)
	if err != nil {
		return Result{Err: fmt.Errorf("read from 0x%02x: %w", t.addr, err)}
	}
	return decodeFrame(buf)
}

func (a *Arbiter) transport() (Transport, error) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return a.connectLocked(false)
}

// connectLocked returns the open transport, dialing it when missing. Redials
// are rate limited by ReconnectInterval unless force is set.
func (a *Arbiter) connectLocked(force bool) (Transport, error) {
	if a.tr != nil {
		return a.tr, nil
	}
	if !force && time.Since(a.lastDial) < a.opts.ReconnectInterval {
		return nil, ErrDisconnected
	}
	a.lastDial = time.Now()
	tr, err := a.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if tr == nil {
		return nil, ErrDisconnected
	}
	a.tr = tr
	if !force {
		a.log.Infow("bus_reconnected")
	}
	return tr, nil
}

func abandoned(ctx context.Context) Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Err: ErrTimeout}
	}
	return Result{Err: ctx.Err()}
}

func resultLabel(r Result) string {
	switch {
	case r.OK:
		return metrics.ResultOK
	case r.TimedOut():
		return metrics.ResultTimeout
	case errors.Is(r.Err, ErrDisconnected):
		return metrics.ResultDisconnected
	case errors.Is(r.Err, ErrSyntax):
		return metrics.ResultSyntax
	case errors.Is(r.Err, ErrPending):
		return metrics.ResultPending
	case errors.Is(r.Err, ErrNoData):
		return metrics.ResultNoData
	case errors.Is(r.Err, ErrUnknownCode):
		return metrics.ResultUnknown
	default:
		return metrics.ResultError
	}
}
