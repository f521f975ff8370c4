package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/metrics"
	"nutrient_mixer/internal/models"
)

var (
	ErrJobActive   = errors.New("job: a job of this type is already active")
	ErrNoActiveJob = errors.New("job: no active job of this type")
	ErrUnknownType = errors.New("job: unknown job type")
)

// Recorder receives job lifecycle events. Calls must not block.
type Recorder interface {
	JobStarted(job models.Job)
	JobProgress(jobID string, percent float64)
	JobCompleted(job models.Job)
}

type nopRecorder struct{}

func (nopRecorder) JobStarted(models.Job)       {}
func (nopRecorder) JobProgress(string, float64) {}
func (nopRecorder) JobCompleted(models.Job)     {}

// StartResult is the answer to a job submission.
type StartResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Job     *models.Job `json:"job,omitempty"`
	Err     error       `json:"-"`
}

// Manager owns one slot per job type and advances every active job once per
// tick.
type Manager struct {
	cfg      *config.Config
	hw       Hardware
	planner  DosingPlanner
	recorder Recorder
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	slots    map[models.JobType]*Machine
	reported map[string]int // last whole percent sent to the recorder
}

// Options carries the optional collaborators of a Manager.
type Options struct {
	Planner  DosingPlanner
	Recorder Recorder
	Log      *logger.Logger
	Metrics  *metrics.Metrics
}

func NewManager(cfg *config.Config, hw Hardware, opts Options) *Manager {
	if opts.Planner == nil {
		opts.Planner = NoDosing{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &Manager{
		cfg:      cfg,
		hw:       hw,
		planner:  opts.Planner,
		recorder: opts.Recorder,
		log:      opts.Log,
		metrics:  opts.Metrics,
		now:      time.Now,
		newID:    uuid.NewString,
		slots:    make(map[models.JobType]*Machine, len(models.JobTypes)),
		reported: make(map[string]int),
	}
}

// StartFill fills tankID with gallons through its fill valve.
func (m *Manager) StartFill(tankID, gallons int) StartResult {
	tank, err := validateFill(m.cfg, tankID, gallons)
	if err != nil {
		return rejected(err)
	}
	job := m.newJob(models.JobFill, tankID)
	job.TargetGallons = &gallons
	return m.submit(job, fillSteps(m.cfg, tank, gallons))
}

// StartMix circulates tankID, doses nutrients and samples EC/pH.
func (m *Manager) StartMix(tankID int) StartResult {
	tank, err := validateMix(m.cfg, tankID)
	if err != nil {
		return rejected(err)
	}
	return m.submit(m.newJob(models.JobMix, tankID), mixSteps(m.cfg, tank, m.planner))
}

// StartSend sends gallons from tankID to roomID.
func (m *Manager) StartSend(tankID, roomID, gallons int) StartResult {
	tank, room, err := validateSend(m.cfg, tankID, roomID, gallons)
	if err != nil {
		return rejected(err)
	}
	job := m.newJob(models.JobSend, tankID)
	job.RoomID = &roomID
	job.TargetGallons = &gallons
	return m.submit(job, sendSteps(m.cfg, tank, room, gallons))
}

func (m *Manager) newJob(t models.JobType, tankID int) models.Job {
	return models.Job{
		ID:        m.newID(),
		Type:      t,
		TankID:    tankID,
		StartTime: m.now(),
	}
}

func (m *Manager) submit(job models.Job, steps []step) StartResult {
	m.mu.Lock()
	if _, busy := m.slots[job.Type]; busy {
		m.mu.Unlock()
		return rejected(fmt.Errorf("%w: %s", ErrJobActive, job.Type))
	}
	machine := newMachine(job, steps, m.hw, m.log, m.now)
	m.slots[job.Type] = machine
	m.reported[job.ID] = 0
	m.mu.Unlock()

	snap := machine.Snapshot()
	m.log.Infow("job_started", "job_id", snap.ID, "job_type", snap.Type, "tank", snap.TankID)
	m.metrics.IncJobStarted(string(snap.Type))
	m.recorder.JobStarted(snap)
	return StartResult{Success: true, Message: fmt.Sprintf("%s job started", snap.Type), Job: &snap}
}

func rejected(err error) StartResult {
	return StartResult{Success: false, Message: err.Error(), Err: err}
}

// StopJob stops the active job of type t and runs its cleanup.
func (m *Manager) StopJob(ctx context.Context, t models.JobType) (models.Job, error) {
	if !t.Valid() {
		return models.Job{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	m.mu.Lock()
	machine, ok := m.slots[t]
	m.mu.Unlock()
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNoActiveJob, t)
	}

	machine.Stop(ctx)
	snap := machine.Snapshot()
	m.release(t, machine)
	return snap, nil
}

// StopAll stops every active job.
func (m *Manager) StopAll(ctx context.Context) {
	for _, t := range models.JobTypes {
		if _, err := m.StopJob(ctx, t); err != nil && !errors.Is(err, ErrNoActiveJob) {
			m.log.Errorw("job_stop_failed", "job_type", t, "err", err)
		}
	}
}

// GetStatus returns the active job of type t, or nil.
func (m *Manager) GetStatus(t models.JobType) *models.Job {
	m.mu.Lock()
	machine, ok := m.slots[t]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	snap := machine.Snapshot()
	return &snap
}

// Active returns every active job in job type order.
func (m *Manager) Active() []models.Job {
	out := []models.Job{}
	for _, t := range models.JobTypes {
		if j := m.GetStatus(t); j != nil {
			out = append(out, *j)
		}
	}
	return out
}

// Run advances the active jobs every tick until ctx is canceled.
func (m *Manager) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick(ctx)
		}
	}
}

// Tick advances every active job by one step.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	active := make(map[models.JobType]*Machine, len(m.slots))
	for t, machine := range m.slots {
		active[t] = machine
	}
	m.mu.Unlock()

	for _, t := range models.JobTypes {
		machine, ok := active[t]
		if !ok {
			continue
		}
		done := machine.Tick(ctx)
		snap := machine.Snapshot()
		if done {
			m.release(t, machine)
			continue
		}
		m.reportProgress(snap)
	}
}

func (m *Manager) reportProgress(job models.Job) {
	pct := int(job.ProgressPercent)
	m.mu.Lock()
	last, ok := m.reported[job.ID]
	if ok && pct != last {
		m.reported[job.ID] = pct
	}
	m.mu.Unlock()
	if ok && pct != last {
		m.recorder.JobProgress(job.ID, job.ProgressPercent)
	}
}

// release frees the slot if it still holds machine. Only the caller that
// frees it reports the outcome, so a job that is stopped while a tick
// finishes it is reported once.
func (m *Manager) release(t models.JobType, machine *Machine) {
	m.mu.Lock()
	if m.slots[t] != machine {
		m.mu.Unlock()
		return
	}
	delete(m.slots, t)
	snap := machine.Snapshot()
	delete(m.reported, snap.ID)
	m.mu.Unlock()

	m.log.Infow("job_finished", "job_id", snap.ID, "job_type", snap.Type, "status", snap.Status, "error", snap.ErrorMessage)
	m.metrics.IncJobFinished(string(snap.Type), string(snap.Status))
	m.recorder.JobCompleted(snap)
}
