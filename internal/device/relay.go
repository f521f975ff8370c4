package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/models"
)

// AllRelays addresses every configured relay.
const AllRelays = 0

// RelayLine drives one relay. Polarity is handled when the line is claimed.
type RelayLine interface {
	Set(on bool) error
	Close() error
}

type RelayController struct {
	mu     sync.Mutex
	relays map[int]*relay
	ids    []int
	pub    StatePublisher
	log    *logger.Logger
}

type relay struct {
	line  RelayLine
	state models.RelayState
}

// NewRelayController pairs every definition with its claimed line. Relays
// start reported as off, matching the line's initial value.
func NewRelayController(defs []config.RelayDef, lines map[int]RelayLine, pub StatePublisher, log *logger.Logger) (*RelayController, error) {
	if log == nil {
		log = logger.Nop()
	}
	c := &RelayController{
		relays: make(map[int]*relay, len(defs)),
		pub:    publisherOrNop(pub),
		log:    log,
	}
	for _, d := range defs {
		line, ok := lines[d.ID]
		if !ok {
			return nil, fmt.Errorf("relay %d: no line", d.ID)
		}
		c.relays[d.ID] = &relay{
			line:  line,
			state: models.RelayState{ID: d.ID, Name: d.Name, Pin: d.Pin},
		}
		c.ids = append(c.ids, d.ID)
	}
	sort.Ints(c.ids)
	return c, nil
}

// Set switches one relay, or every relay when id is AllRelays. With
// AllRelays every line is attempted and the failures are joined.
func (c *RelayController) Set(id int, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == AllRelays {
		var errs []error
		for _, rid := range c.ids {
			if err := c.setLocked(c.relays[rid], on); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	r, ok := c.relays[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRelay, id)
	}
	return c.setLocked(r, on)
}

func (c *RelayController) setLocked(r *relay, on bool) error {
	if err := r.line.Set(on); err != nil {
		c.log.Errorw("relay_write_failed", "relay", r.state.ID, "on", on, "err", err)
		return fmt.Errorf("relay %d: %w", r.state.ID, err)
	}
	changed := r.state.IsOn != on
	r.state.IsOn = on
	if changed {
		c.log.Infow("relay_switched", "relay", r.state.ID, "on", on)
	}
	c.pub.PublishRelay(r.state)
	return nil
}

// Restore re-applies persisted relay states, e.g. after a restart.
// Unknown ids are skipped.
func (c *RelayController) Restore(states []models.RelayState) error {
	var errs []error
	for _, st := range states {
		if !c.Has(st.ID) {
			c.log.Warnw("relay_restore_skipped", "relay", st.ID)
			continue
		}
		if err := c.Set(st.ID, st.IsOn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *RelayController) Has(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.relays[id]
	return ok
}

func (c *RelayController) State(id int) (models.RelayState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.relays[id]
	if !ok {
		return models.RelayState{}, false
	}
	return r.state, true
}

func (c *RelayController) States() []models.RelayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.RelayState, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.relays[id].state)
	}
	return out
}

// Close releases every line.
func (c *RelayController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, id := range c.ids {
		if err := c.relays[id].line.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
