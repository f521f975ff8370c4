package device

import (
	"context"
	"fmt"
	"time"

	"nutrient_mixer/internal/flow"
	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/models"
)

// FlowController fronts the pulse counter and publishes meter state changes.
type FlowController struct {
	counter *flow.Counter
	pub     StatePublisher
	log     *logger.Logger
}

func NewFlowController(counter *flow.Counter, pub StatePublisher, log *logger.Logger) *FlowController {
	if log == nil {
		log = logger.Nop()
	}
	return &FlowController{counter: counter, pub: publisherOrNop(pub), log: log}
}

// StartFlow begins monitoring meter id until gallons have passed. Zero
// gallons stops monitoring.
func (c *FlowController) StartFlow(id, gallons, ppg int) error {
	return c.StartOwnedFlow(id, gallons, ppg, "")
}

// StartOwnedFlow starts a flow on behalf of a job. Monitor leaves its
// completion to the owner.
func (c *FlowController) StartOwnedFlow(id, gallons, ppg int, owner string) error {
	if !c.counter.Has(id) {
		return fmt.Errorf("%w: %d", ErrUnknownMeter, id)
	}
	if gallons < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidGallons, gallons)
	}
	c.counter.StartOwnedFlow(id, gallons, ppg, owner)
	c.publish(id)
	return nil
}

func (c *FlowController) StopFlow(id int) error {
	if !c.counter.StopFlow(id) {
		return fmt.Errorf("%w: %d", ErrUnknownMeter, id)
	}
	c.publish(id)
	return nil
}

// Poll refreshes meter id and reports whether it is still counting.
func (c *FlowController) Poll(id int) bool {
	return c.counter.Poll(id)
}

// NotifyCompletion delivers a completed meter's event once. It reports
// whether this call was the one that delivered it.
func (c *FlowController) NotifyCompletion(id int) bool {
	if !c.counter.MarkCompletionNotified(id) {
		return false
	}
	c.publish(id)
	return true
}

func (c *FlowController) State(id int) (models.FlowMeterState, bool) {
	return c.counter.State(id)
}

func (c *FlowController) States() []models.FlowMeterState {
	return c.counter.States()
}

// StopAll stops every meter that is counting.
func (c *FlowController) StopAll() {
	for _, id := range c.counter.Active() {
		_ = c.StopFlow(id)
	}
}

// Calibrate stores a new pulses-per-gallon value for meter id.
func (c *FlowController) Calibrate(id, ppg int) error {
	if !c.counter.SetPulsesPerGallon(id, ppg) {
		return fmt.Errorf("%w: meter %d ppg %d", ErrInvalidGallons, id, ppg)
	}
	c.log.Infow("flow_calibrated", "meter", id, "ppg", ppg)
	c.publish(id)
	return nil
}

// Restore re-applies persisted meter calibrations. Per-flow overrides are
// not calibrations and are ignored.
func (c *FlowController) Restore(states []models.FlowMeterState) {
	for _, st := range states {
		if st.CalibratedPPG > 0 {
			c.counter.SetPulsesPerGallon(st.ID, st.CalibratedPPG)
		}
	}
}

// Monitor polls counting meters every interval until ctx is done. Meters
// started from a wire command have nobody else watching them, so their
// completion is delivered here. Job-owned meters are skipped.
func (c *FlowController) Monitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, id := range c.counter.Active() {
				if st, _ := c.counter.State(id); st.Owner != "" {
					continue
				}
				if c.counter.Poll(id) {
					continue
				}
				if c.NotifyCompletion(id) {
					st, _ := c.counter.State(id)
					c.log.Infow("flow_target_reached", "meter", id, "gallons", st.CurrentGallons)
				}
			}
		}
	}
}

func (c *FlowController) publish(id int) {
	if st, ok := c.counter.State(id); ok {
		c.pub.PublishFlow(st)
	}
}
