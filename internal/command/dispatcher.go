package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutrient_mixer/internal/device"
	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/metrics"
)

// Outcomes recorded on the commands counter.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeMalformed = "malformed"
	OutcomeRejected  = "rejected"
)

var (
	ErrQueueFull = errors.New("command: queue full")
	ErrStopped   = errors.New("command: dispatcher stopped")
)

// Target is the hardware the dispatcher mutates.
type Target interface {
	SetRelay(id int, on bool) error
	StartDispense(ctx context.Context, pumpID int, ml float64) error
	StopDispense(ctx context.Context, pumpID int) (float64, error)
	CalibratePump(ctx context.Context, pumpID int, ml float64) error
	StartFlow(meterID, gallons, ppg int, owner string) error
	SetSensorMonitoring(on bool)
}

// Dispatcher runs every hardware mutation on one goroutine, in the order it
// was queued. Wire text and typed commands share the same queue.
type Dispatcher struct {
	target         Target
	queue          chan request
	enqueueTimeout time.Duration
	log            *logger.Logger
	metrics        *metrics.Metrics
	done           chan struct{}
}

type request struct {
	raw   string
	cmd   Command
	ctx   context.Context
	reply chan error // nil for fire-and-forget wire commands
}

func NewDispatcher(target Target, queueSize int, enqueueTimeout time.Duration, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = 100 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		target:         target,
		queue:          make(chan request, queueSize),
		enqueueTimeout: enqueueTimeout,
		log:            log,
		metrics:        m,
		done:           make(chan struct{}),
	}
}

// Enqueue queues one wire command. It waits at most the enqueue timeout for
// room and reports false when the queue stayed full. The text is parsed
// when it is dequeued.
func (d *Dispatcher) Enqueue(raw string) bool {
	req := request{raw: raw}
	select {
	case <-d.done:
		d.log.Warnw("command_rejected_stopped", "raw", raw)
		d.metrics.IncCommand(OutcomeRejected)
		return false
	default:
	}
	select {
	case d.queue <- req:
		return true
	default:
	}

	t := time.NewTimer(d.enqueueTimeout)
	defer t.Stop()
	select {
	case d.queue <- req:
		return true
	case <-t.C:
	case <-d.done:
	}
	d.log.Warnw("command_rejected_queue_full", "raw", raw)
	d.metrics.IncCommand(OutcomeRejected)
	return false
}

// Execute queues a typed command behind everything already queued and waits
// for its result.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) error {
	req := request{cmd: cmd, ctx: ctx, reply: make(chan error, 1)}
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	select {
	case d.queue <- req:
	case <-ctx.Done():
		return fmt.Errorf("queue %s: %w", cmd.Wire(), ctx.Err())
	case <-d.done:
		return ErrStopped
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("execute %s: %w", cmd.Wire(), ctx.Err())
	case <-d.done:
		return ErrStopped
	}
}

// Run executes queued commands until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.queue:
			d.process(ctx, req)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, req request) {
	cmd := req.cmd
	if cmd == nil {
		parsed, err := Parse(req.raw)
		if err != nil {
			d.log.Warnw("command_dropped_malformed", "raw", req.raw, "err", err)
			d.metrics.IncCommand(OutcomeMalformed)
			return
		}
		cmd = parsed
	}
	if req.ctx != nil {
		ctx = req.ctx
	}

	err := d.dispatch(ctx, cmd)
	if err != nil {
		d.log.Errorw("command_failed", "cmd", cmd.Wire(), "err", err)
		d.metrics.IncCommand(OutcomeFailed)
	} else {
		d.log.Debugw("command_applied", "cmd", cmd.Wire())
		d.metrics.IncCommand(OutcomeOK)
	}
	if req.reply != nil {
		req.reply <- err
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case Relay:
		return d.target.SetRelay(c.ID, c.On)
	case Dispense:
		return d.target.StartDispense(ctx, c.PumpID, c.ML)
	case StopPump:
		_, err := d.target.StopDispense(ctx, c.PumpID)
		return err
	case CalibratePump:
		return d.target.CalibratePump(ctx, c.PumpID, c.ML)
	case StartFlow:
		return d.target.StartFlow(c.MeterID, c.Gallons, c.PulsesPerGallon, c.Owner)
	case EcPh:
		d.target.SetSensorMonitoring(c.On)
		return nil
	}
	return fmt.Errorf("%w: unsupported command %T", ErrMalformed, cmd)
}

// RigTarget adapts a device.Rig to Target.
func RigTarget(r *device.Rig) Target {
	return rigTarget{r}
}

type rigTarget struct {
	rig *device.Rig
}

func (t rigTarget) SetRelay(id int, on bool) error {
	return t.rig.Relays.Set(id, on)
}

func (t rigTarget) StartDispense(ctx context.Context, pumpID int, ml float64) error {
	return t.rig.Pumps.StartDispense(ctx, pumpID, ml)
}

func (t rigTarget) StopDispense(ctx context.Context, pumpID int) (float64, error) {
	return t.rig.Pumps.StopDispense(ctx, pumpID)
}

func (t rigTarget) CalibratePump(ctx context.Context, pumpID int, ml float64) error {
	return t.rig.Pumps.Calibrate(ctx, pumpID, ml)
}

func (t rigTarget) StartFlow(meterID, gallons, ppg int, owner string) error {
	return t.rig.Flow.StartOwnedFlow(meterID, gallons, ppg, owner)
}

func (t rigTarget) SetSensorMonitoring(on bool) {
	if on {
		t.rig.Sensors.StartMonitoring()
		return
	}
	t.rig.Sensors.StopMonitoring()
}
