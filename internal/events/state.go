package events

import (
	"context"
	"time"

	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/models"
)

type DeviceKind string

const (
	DeviceRelay DeviceKind = "relay"
	DevicePump  DeviceKind = "pump"
	DeviceFlow  DeviceKind = "flow"
)

// DeviceEvent is the new state of one device; exactly one of Relay, Pump
// and Flow is set, matching Kind.
type DeviceEvent struct {
	Kind  DeviceKind             `json:"kind"`
	ID    int                    `json:"id"`
	Relay *models.RelayState     `json:"relay,omitempty"`
	Pump  *models.PumpState      `json:"pump,omitempty"`
	Flow  *models.FlowMeterState `json:"flow,omitempty"`
	At    time.Time              `json:"at"`
}

type StateSink interface {
	HandleDevice(ctx context.Context, e DeviceEvent) error
}

// StateWriter is the device.StatePublisher of the rig: it queues every
// state change and hands it to the sinks on its own goroutine.
type StateWriter struct {
	q     queue[DeviceEvent]
	sinks []StateSink
	log   *logger.Logger
	now   func() time.Time
}

func NewStateWriter(size int, timeout time.Duration, log *logger.Logger, sinks ...StateSink) *StateWriter {
	if log == nil {
		log = logger.Nop()
	}
	return &StateWriter{
		q:     newQueue[DeviceEvent]("devices", size, timeout, log),
		sinks: sinks,
		log:   log,
		now:   time.Now,
	}
}

func (w *StateWriter) PublishRelay(s models.RelayState) {
	w.q.push(DeviceEvent{Kind: DeviceRelay, ID: s.ID, Relay: &s, At: w.now()})
}

func (w *StateWriter) PublishPump(s models.PumpState) {
	w.q.push(DeviceEvent{Kind: DevicePump, ID: s.ID, Pump: &s, At: w.now()})
}

func (w *StateWriter) PublishFlow(s models.FlowMeterState) {
	w.q.push(DeviceEvent{Kind: DeviceFlow, ID: s.ID, Flow: &s, At: w.now()})
}

func (w *StateWriter) Run(ctx context.Context) {
	w.q.run(ctx, func(ctx context.Context, e DeviceEvent) {
		for _, s := range w.sinks {
			if err := s.HandleDevice(ctx, e); err != nil {
				w.log.Errorw("device_event_delivery_failed", "kind", e.Kind, "id", e.ID, "err", err)
			}
		}
	})
}
