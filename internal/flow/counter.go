package flow

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/metrics"
	"nutrient_mixer/internal/models"
)

const (
	DefaultDebounce        = 50 * time.Millisecond
	DefaultPulsesPerGallon = 220

	// rate = rateKeep*prev + (1-rateKeep)*instant
	rateKeep = 0.7
)

// Counter turns raw edge timestamps into gallons for every configured meter.
// OnEdge and Poll run on different goroutines; each meter has its own lock.
type Counter struct {
	debounce time.Duration
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	meters map[int]*meter // fixed after NewCounter
}

type meter struct {
	mu         sync.Mutex
	label      string
	defaultPPG int
	state      models.FlowMeterState
	lastPolled uint64
}

// NewCounter registers one meter per definition. A meter without its own
// calibration uses defaultPPG.
func NewCounter(defs []config.FlowMeterDef, debounce time.Duration, defaultPPG int, log *logger.Logger, m *metrics.Metrics) *Counter {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if defaultPPG <= 0 {
		defaultPPG = DefaultPulsesPerGallon
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Counter{
		debounce: debounce,
		log:      log,
		metrics:  m,
		now:      time.Now,
		meters:   make(map[int]*meter, len(defs)),
	}
	for _, d := range defs {
		ppg := d.PulsesPerGallon
		if ppg <= 0 {
			ppg = defaultPPG
		}
		c.meters[d.ID] = &meter{
			label:      strconv.Itoa(d.ID),
			defaultPPG: ppg,
			state: models.FlowMeterState{
				ID:              d.ID,
				PulsesPerGallon: ppg,
				Status:          models.FlowInactive,
			},
		}
	}
	return c
}

// OnEdge records one edge. Edges closer than the debounce window to the last
// accepted edge are dropped, and only an Active meter counts.
func (c *Counter) OnEdge(id int, ts time.Time) {
	m, ok := c.meters[id]
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &m.state
	if st.Status != models.FlowActive {
		return
	}
	if !st.LastPulseTime.IsZero() {
		dt := ts.Sub(st.LastPulseTime)
		if dt < c.debounce {
			c.metrics.IncDebounced(m.label)
			return
		}
		instant := 1 / dt.Seconds()
		st.PulseRate = rateKeep*st.PulseRate + (1-rateKeep)*instant
		st.FlowRateGPM = st.PulseRate * 60 / float64(st.PulsesPerGallon)
	}
	st.PulseCount++
	st.LastPulseTime = ts
	c.metrics.IncPulse(m.label)
}

// StartFlow resets the meter and begins counting toward gallons. A zero
// target stops monitoring instead. ppg <= 0 keeps the meter's calibration.
func (c *Counter) StartFlow(id, gallons, ppg int) bool {
	return c.StartOwnedFlow(id, gallons, ppg, "")
}

// StartOwnedFlow is StartFlow for a flow whose completion belongs to owner.
func (c *Counter) StartOwnedFlow(id, gallons, ppg int, owner string) bool {
	if gallons == 0 {
		return c.StopFlow(id)
	}
	m, ok := c.meters[id]
	if !ok || gallons < 0 {
		return false
	}

	m.mu.Lock()
	if ppg <= 0 {
		ppg = m.defaultPPG
	}
	m.state = models.FlowMeterState{
		ID:              id,
		PulsesPerGallon: ppg,
		TargetGallons:   gallons,
		Status:          models.FlowActive,
		StartedAt:       c.now(),
		Owner:           owner,
		CalibratedPPG:   m.state.CalibratedPPG,
	}
	m.lastPolled = 0
	m.mu.Unlock()

	c.log.Infow("flow_started", "meter", id, "target_gallons", gallons, "ppg", ppg, "owner", owner)
	return true
}

// StopFlow ends monitoring. Counters are kept for inspection until the next
// StartFlow.
func (c *Counter) StopFlow(id int) bool {
	m, ok := c.meters[id]
	if !ok {
		return false
	}
	m.mu.Lock()
	wasActive := m.state.Status == models.FlowActive
	if wasActive {
		m.state.Status = models.FlowInactive
	}
	m.state.PulseRate = 0
	m.state.FlowRateGPM = 0
	m.mu.Unlock()

	if wasActive {
		c.log.Infow("flow_stopped", "meter", id)
	}
	return true
}

// Poll refreshes the gallon count and reports whether the meter is still
// running. It returns false once the target is reached.
func (c *Counter) Poll(id int) bool {
	m, ok := c.meters[id]
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &m.state
	if st.Status != models.FlowActive {
		return false
	}
	if st.PulseCount != m.lastPolled {
		m.lastPolled = st.PulseCount
		st.CurrentGallons = int(st.PulseCount / uint64(st.PulsesPerGallon))
	}
	if st.CurrentGallons >= st.TargetGallons {
		st.Status = models.FlowCompleted
		st.PulseRate = 0
		st.FlowRateGPM = 0
		c.log.Infow("flow_completed", "meter", id, "gallons", st.CurrentGallons, "pulses", st.PulseCount)
		return false
	}
	return true
}

// MarkCompletionNotified claims delivery of the current completion. Only the
// first caller after a meter completes gets true.
func (c *Counter) MarkCompletionNotified(id int) bool {
	m, ok := c.meters[id]
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != models.FlowCompleted || m.state.CompletionNotified {
		return false
	}
	m.state.CompletionNotified = true
	return true
}

// State returns a copy of one meter's state.
func (c *Counter) State(id int) (models.FlowMeterState, bool) {
	m, ok := c.meters[id]
	if !ok {
		return models.FlowMeterState{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, true
}

// States returns every meter ordered by id.
func (c *Counter) States() []models.FlowMeterState {
	out := make([]models.FlowMeterState, 0, len(c.meters))
	for _, m := range c.meters {
		m.mu.Lock()
		out = append(out, m.state)
		m.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Active returns the ids of meters currently counting.
func (c *Counter) Active() []int {
	var ids []int
	for id, m := range c.meters {
		m.mu.Lock()
		if m.state.Status == models.FlowActive {
			ids = append(ids, id)
		}
		m.mu.Unlock()
	}
	sort.Ints(ids)
	return ids
}

// Has reports whether id is a configured meter.
func (c *Counter) Has(id int) bool {
	_, ok := c.meters[id]
	return ok
}

// SetPulsesPerGallon changes a meter's calibration. It applies from the next
// StartFlow that does not override it.
func (c *Counter) SetPulsesPerGallon(id, ppg int) bool {
	m, ok := c.meters[id]
	if !ok || ppg <= 0 {
		return false
	}
	m.mu.Lock()
	m.defaultPPG = ppg
	m.state.CalibratedPPG = ppg
	if m.state.Status != models.FlowActive {
		m.state.PulsesPerGallon = ppg
	}
	m.mu.Unlock()
	return true
}
