package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/models"
)

const (
	pumpSettle    = 300 * time.Millisecond
	pumpCalSettle = 900 * time.Millisecond

	// Device volume readings are rounded; this close to the target is done.
	dispenseTolerance = 0.1
)

// PumpController drives EZO-PMP dosing pumps on the shared bus.
type PumpController struct {
	bus   BusClient
	minML float64
	maxML float64
	pub   StatePublisher
	log   *logger.Logger

	mu    sync.Mutex
	pumps map[int]*models.PumpState
	ids   []int
}

func NewPumpController(cfg config.PumpConfig, client BusClient, pub StatePublisher, log *logger.Logger) *PumpController {
	if log == nil {
		log = logger.Nop()
	}
	c := &PumpController{
		bus:   client,
		minML: cfg.MinML,
		maxML: cfg.MaxML,
		pub:   publisherOrNop(pub),
		log:   log,
		pumps: make(map[int]*models.PumpState, len(cfg.Units)),
	}
	for _, u := range cfg.Units {
		c.pumps[u.ID] = &models.PumpState{ID: u.ID, Name: u.Name, Address: byte(u.Address)}
		c.ids = append(c.ids, u.ID)
	}
	sort.Ints(c.ids)
	return c
}

// StartDispense asks pump id to dispense volumeML. Out-of-range volumes are
// rejected without touching the bus.
func (c *PumpController) StartDispense(ctx context.Context, id int, volumeML float64) error {
	if volumeML < c.minML || volumeML > c.maxML {
		return fmt.Errorf("%w: %.2f ml not in [%.2f, %.2f]", ErrVolumeOutOfRange, volumeML, c.minML, c.maxML)
	}
	addr, err := c.address(id)
	if err != nil {
		return err
	}

	res := c.bus.Do(ctx, addr, fmt.Sprintf("D,%.2f", volumeML), pumpSettle)
	if !res.OK {
		return c.fail(id, "dispense", res.Err)
	}

	c.update(id, func(p *models.PumpState) {
		p.IsDispensing = true
		p.TargetVolume = volumeML
		p.CurrentVolume = 0
		p.LastError = ""
	})
	c.log.Infow("pump_dispense_started", "pump", id, "ml", volumeML)
	return nil
}

// StopDispense halts the pump and returns the volume it reports dispensed.
func (c *PumpController) StopDispense(ctx context.Context, id int) (float64, error) {
	addr, err := c.address(id)
	if err != nil {
		return 0, err
	}
	res := c.bus.Do(ctx, addr, "X", pumpSettle)
	if !res.OK {
		return 0, c.fail(id, "stop", res.Err)
	}

	var dispensed float64
	c.update(id, func(p *models.PumpState) {
		dispensed = p.CurrentVolume
		if v, err := parseVolume(res.Text); err == nil {
			dispensed = v
		}
		if p.IsDispensing {
			p.TotalVolumeLifetime += dispensed
		}
		p.IsDispensing = false
		p.CurrentVolume = dispensed
	})
	c.log.Infow("pump_dispense_stopped", "pump", id, "ml", dispensed)
	return dispensed, nil
}

// PollStatus refreshes the dispensed volume and reports whether the pump is
// still dispensing.
func (c *PumpController) PollStatus(ctx context.Context, id int) (bool, error) {
	addr, err := c.address(id)
	if err != nil {
		return false, err
	}
	if st, _ := c.State(id); !st.IsDispensing {
		return false, nil
	}

	res := c.bus.Do(ctx, addr, "D,?", pumpSettle)
	if !res.OK {
		return true, c.fail(id, "status", res.Err)
	}
	volume, err := parseVolume(res.Text)
	if err != nil {
		return true, c.fail(id, "status", err)
	}

	still := true
	c.update(id, func(p *models.PumpState) {
		p.CurrentVolume = volume
		if volume >= p.TargetVolume-dispenseTolerance {
			p.IsDispensing = false
			p.TotalVolumeLifetime += volume
			still = false
		}
	})
	if !still {
		c.log.Infow("pump_dispense_completed", "pump", id, "ml", volume)
	}
	return still, nil
}

// Calibrate tells the pump how much it actually dispensed on its last run.
func (c *PumpController) Calibrate(ctx context.Context, id int, actualML float64) error {
	if actualML <= 0 {
		return fmt.Errorf("%w: %.2f ml", ErrVolumeOutOfRange, actualML)
	}
	addr, err := c.address(id)
	if err != nil {
		return err
	}
	res := c.bus.Do(ctx, addr, fmt.Sprintf("Cal,%.2f", actualML), pumpCalSettle)
	if !res.OK {
		return c.fail(id, "calibrate", res.Err)
	}
	c.update(id, func(p *models.PumpState) {
		p.Calibrated = true
		p.LastError = ""
	})
	c.log.Infow("pump_calibrated", "pump", id, "ml", actualML)
	return nil
}

// StopAll sends a stop to every pump, dispensing or not. Each pump is
// attempted even when an earlier one fails.
func (c *PumpController) StopAll(ctx context.Context) error {
	var errs []error
	for _, st := range c.States() {
		if _, err := c.StopDispense(ctx, st.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore copies persisted lifetime totals and calibration flags.
func (c *PumpController) Restore(states []models.PumpState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range states {
		p, ok := c.pumps[st.ID]
		if !ok {
			continue
		}
		p.TotalVolumeLifetime = st.TotalVolumeLifetime
		p.Calibrated = st.Calibrated
	}
}

func (c *PumpController) Has(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pumps[id]
	return ok
}

func (c *PumpController) State(id int) (models.PumpState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pumps[id]
	if !ok {
		return models.PumpState{}, false
	}
	return *p, true
}

func (c *PumpController) States() []models.PumpState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PumpState, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, *c.pumps[id])
	}
	return out
}

func (c *PumpController) address(id int) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pumps[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownPump, id)
	}
	return p.Address, nil
}

func (c *PumpController) update(id int, fn func(p *models.PumpState)) {
	c.mu.Lock()
	p := c.pumps[id]
	fn(p)
	snapshot := *p
	c.mu.Unlock()
	c.pub.PublishPump(snapshot)
}

func (c *PumpController) fail(id int, op string, err error) error {
	c.mu.Lock()
	if p, ok := c.pumps[id]; ok {
		p.LastError = fmt.Sprint(err)
	}
	c.mu.Unlock()
	c.log.Errorw("pump_command_failed", "pump", id, "op", op, "err", err)
	return fmt.Errorf("pump %d %s: %w", id, op, err)
}

// parseVolume reads the first number in a pump response such as
// "?D,12.50,1" or "*DONE,12.50".
func parseVolume(text string) (float64, error) {
	for _, field := range strings.Split(text, ",") {
		field = strings.TrimLeft(strings.TrimSpace(field), "?*D")
		if field == "" {
			continue
		}
		if v, err := strconv.ParseFloat(field, 64); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrBadResponse, text)
}
