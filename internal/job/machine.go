package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/models"
)

// StepResult tells the driver what to do after a step ran.
type StepResult int

const (
	// Continue marks the step done; the next tick runs the following step.
	Continue StepResult = iota
	// Wait runs the same step again on the next tick.
	Wait
)

const (
	stepTimeout    = 30 * time.Second
	cleanupTimeout = 30 * time.Second
)

// StepError is the failure of one named step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type stepFunc func(ctx context.Context, m *Machine) (StepResult, error)

type step struct {
	name string
	fn   stepFunc
}

// resources is everything cleanup has to undo.
type resources struct {
	relays  []int // in the order they were opened
	meter   int
	pumps   []int
	sensors bool
}

// Machine drives one job through its step table, one step per Tick. Tick
// and Stop are serialized; Snapshot never waits on a running step.
type Machine struct {
	mu       sync.Mutex
	job      models.Job
	steps    []step
	next     int
	res      resources
	hw       Hardware
	log      *logger.Logger
	now      func() time.Time
	entered  time.Time // when the current step first ran
	fraction float64   // progress inside the current step, 0..1

	snapMu sync.RWMutex
	snap   models.Job
}

func newMachine(job models.Job, steps []step, hw Hardware, log *logger.Logger, now func() time.Time) *Machine {
	if log == nil {
		log = logger.Nop()
	}
	job.Status = models.JobRunning
	job.TotalSteps = len(steps)
	job.CompletedSteps = []string{}
	job.CurrentStep = steps[0].name
	m := &Machine{
		job:   job,
		steps: steps,
		hw:    hw,
		log:   &logger.Logger{SugaredLogger: log.Named("job").With("job_id", job.ID, "job_type", job.Type)},
		now:   now,
	}
	m.publish()
	return m
}

// Snapshot returns a copy of the job as of the last completed tick.
func (m *Machine) Snapshot() models.Job {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.Clone()
}

// Tick runs the current step once and reports whether the job is over.
func (m *Machine) Tick(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job.Status.Terminal() {
		return true
	}

	st := m.steps[m.next]
	if m.entered.IsZero() {
		m.entered = m.now()
		m.log.Debugw("job_step_started", "step", st.name)
	}

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	result, err := m.invoke(stepCtx, st)
	cancel()

	switch {
	case err != nil:
		m.fail(ctx, &StepError{Step: st.name, Err: err})
	case result == Continue:
		m.advance(st.name)
	default:
		m.updateProgress()
	}
	m.publish()
	return m.job.Status.Terminal()
}

// Stop aborts the job and undoes whatever it opened. It is a no-op on a job
// that already finished.
func (m *Machine) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job.Status.Terminal() {
		return
	}
	m.log.Infow("job_stopping", "step", m.job.CurrentStep)
	m.cleanup(ctx)
	m.finish(models.JobStopped)
	m.publish()
}

func (m *Machine) invoke(ctx context.Context, st step) (result StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("job_step_panic", "step", st.name, "panic", r, "stack", string(debug.Stack()))
			err = errors.New("unexpected error")
		}
	}()
	return st.fn(ctx, m)
}

func (m *Machine) advance(name string) {
	m.job.CompletedSteps = append(m.job.CompletedSteps, name)
	m.job.TimerRemaining = nil
	m.fraction = 0
	m.entered = time.Time{}
	m.next++
	if m.next >= len(m.steps) {
		m.job.ProgressPercent = 100
		m.finish(models.JobCompleted)
		m.log.Infow("job_completed")
		return
	}
	m.job.CurrentStep = m.steps[m.next].name
	m.updateProgress()
}

func (m *Machine) fail(ctx context.Context, err *StepError) {
	m.log.Errorw("job_step_failed", "step", err.Step, "err", err.Err)
	m.job.ErrorMessage = err.Error()
	m.cleanup(ctx)
	m.finish(models.JobFailed)
}

func (m *Machine) finish(status models.JobStatus) {
	end := m.now()
	m.job.Status = status
	m.job.EndTime = &end
	m.job.TimerRemaining = nil
}

func (m *Machine) updateProgress() {
	total := float64(len(m.steps))
	f := m.fraction
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	pct := 100 * (float64(len(m.job.CompletedSteps)) + f) / total
	if pct > 100 {
		pct = 100
	}
	if pct > m.job.ProgressPercent {
		m.job.ProgressPercent = pct
	}
}

// cleanup stops the meter, pumps and sensor polling this job started and
// closes every relay it opened, newest first. Each action is attempted even
// when another fails; successful ones are forgotten so a second call only
// retries what is left.
func (m *Machine) cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if m.res.meter != 0 {
		if err := m.hw.StopFlow(ctx, m.res.meter); err != nil {
			m.log.Errorw("job_cleanup_failed", "action", "stop_flow", "meter", m.res.meter, "err", err)
		} else {
			m.res.meter = 0
		}
	}

	var pumps []int
	for _, id := range m.res.pumps {
		if err := m.hw.StopDispense(ctx, id); err != nil {
			m.log.Errorw("job_cleanup_failed", "action", "stop_pump", "pump", id, "err", err)
			pumps = append(pumps, id)
		}
	}
	m.res.pumps = pumps

	if m.res.sensors {
		if err := m.hw.SetSensorMonitoring(ctx, false); err != nil {
			m.log.Errorw("job_cleanup_failed", "action", "stop_ecph", "err", err)
		} else {
			m.res.sensors = false
		}
	}

	var relays []int
	for i := len(m.res.relays) - 1; i >= 0; i-- {
		id := m.res.relays[i]
		if err := m.hw.SetRelay(ctx, id, false); err != nil {
			m.log.Errorw("job_cleanup_failed", "action", "close_relay", "relay", id, "err", err)
			relays = append([]int{id}, relays...)
		}
	}
	m.res.relays = relays
}

func (m *Machine) publish() {
	snap := m.job.Clone()
	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()
}

// elapsed is the time spent in the current step so far.
func (m *Machine) elapsed() time.Duration {
	return m.now().Sub(m.entered)
}

// ---- step building blocks shared by the tables ----

func noop(context.Context, *Machine) (StepResult, error) {
	return Continue, nil
}

func openRelay(id int) stepFunc {
	return func(ctx context.Context, m *Machine) (StepResult, error) {
		m.res.relays = append(m.res.relays, id)
		if err := m.hw.SetRelay(ctx, id, true); err != nil {
			return Continue, err
		}
		return Continue, nil
	}
}

func openRelays(ids []int) stepFunc {
	return func(ctx context.Context, m *Machine) (StepResult, error) {
		for _, id := range ids {
			if _, err := openRelay(id)(ctx, m); err != nil {
				return Continue, err
			}
		}
		return Continue, nil
	}
}

func closeRelays(ids ...int) stepFunc {
	return func(ctx context.Context, m *Machine) (StepResult, error) {
		for _, id := range ids {
			if err := m.hw.SetRelay(ctx, id, false); err != nil {
				return Continue, err
			}
			m.forgetRelay(id)
		}
		return Continue, nil
	}
}

func (m *Machine) forgetRelay(id int) {
	for i, r := range m.res.relays {
		if r == id {
			m.res.relays = append(m.res.relays[:i], m.res.relays[i+1:]...)
			return
		}
	}
}

func startFlow(meter, gallons int) stepFunc {
	return func(ctx context.Context, m *Machine) (StepResult, error) {
		m.res.meter = meter
		if err := m.hw.StartFlow(ctx, m.job.ID, meter, gallons); err != nil {
			return Continue, err
		}
		return Continue, nil
	}
}

// awaitFlow waits until meter reaches its target, interpolating progress by
// gallons. Running past maxDuration is a failure.
func awaitFlow(meter int, maxDuration time.Duration) stepFunc {
	return func(ctx context.Context, m *Machine) (StepResult, error) {
		active := m.hw.PollFlow(meter)
		st, ok := m.hw.FlowState(meter)
		if !ok {
			return Continue, fmt.Errorf("flow meter %d disappeared", meter)
		}
		gallons := st.CurrentGallons
		m.job.ActualGallons = &gallons
		if st.TargetGallons > 0 {
			m.fraction = float64(st.CurrentGallons) / float64(st.TargetGallons)
		}

		if active {
			if maxDuration > 0 && m.elapsed() > maxDuration {
				return Continue, fmt.Errorf("flow did not reach %d gallons within %s (at %d)", st.TargetGallons, maxDuration, st.CurrentGallons)
			}
			return Wait, nil
		}
		if st.Status != models.FlowCompleted {
			return Continue, fmt.Errorf("flow meter %d stopped before reaching target", meter)
		}
		return Continue, nil
	}
}

func completeFlow(meter int) stepFunc {
	return func(ctx context.Context, m *Machine) (StepResult, error) {
		if m.hw.NotifyFlowCompletion(meter) {
			m.log.Infow("job_flow_completed", "meter", meter)
		}
		if st, ok := m.hw.FlowState(meter); ok {
			gallons := st.CurrentGallons
			m.job.ActualGallons = &gallons
		}
		m.res.meter = 0
		return Continue, nil
	}
}

// hold waits for d, exposing the remaining time. onTick runs on every tick
// of the hold, including the last.
func hold(d time.Duration, onTick func(m *Machine)) stepFunc {
	return func(ctx context.Context, m *Machine) (StepResult, error) {
		if onTick != nil {
			onTick(m)
		}
		elapsed := m.elapsed()
		if elapsed >= d {
			return Continue, nil
		}
		remaining := (d - elapsed).Seconds()
		m.job.TimerRemaining = &remaining
		if d > 0 {
			m.fraction = float64(elapsed) / float64(d)
		}
		return Wait, nil
	}
}
