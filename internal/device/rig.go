package device

import (
	"context"
	"errors"
	"fmt"

	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/models"
)

// Rig groups the controllers of one physical rig.
type Rig struct {
	Relays  *RelayController
	Pumps   *PumpController
	Flow    *FlowController
	Sensors *SensorController

	// BusConnected reports the shared bus link state; nil means unknown.
	BusConnected func() bool

	Log *logger.Logger
}

// Snapshot collects the current state of every device.
func (r *Rig) Snapshot() models.RigSnapshot {
	s := models.RigSnapshot{
		Relays:           r.Relays.States(),
		Pumps:            r.Pumps.States(),
		FlowMeters:       r.Flow.States(),
		SensorMonitoring: r.Sensors.Monitoring(),
		LastReading:      r.Sensors.LastReading(),
	}
	if r.BusConnected != nil {
		s.BusConnected = r.BusConnected()
	}
	return s
}

// EmergencyStop turns every relay off, stops every pump and every flow meter,
// and stops sensor polling. A failing device does not keep the others from
// being stopped; failures are logged and returned joined.
func (r *Rig) EmergencyStop(ctx context.Context) error {
	log := r.Log
	if log == nil {
		log = logger.Nop()
	}
	log.Warnw("emergency_stop")

	var errs []error
	if err := r.Relays.Set(AllRelays, false); err != nil {
		log.Errorw("emergency_stop_relays_failed", "err", err)
		errs = append(errs, err)
	}
	if err := r.Pumps.StopAll(ctx); err != nil {
		log.Errorw("emergency_stop_pumps_failed", "err", err)
		errs = append(errs, err)
	}
	r.Flow.StopAll()
	r.Sensors.StopMonitoring()
	return errors.Join(errs...)
}

// CalibrateSensor runs one calibration point on the "ph" or "ec" probe.
func (r *Rig) CalibrateSensor(ctx context.Context, probe, point string, value float64) error {
	switch probe {
	case "ph":
		return r.Sensors.CalibratePH(ctx, point, value)
	case "ec":
		return r.Sensors.CalibrateEC(ctx, point, value)
	}
	return fmt.Errorf("%w: %q", ErrUnknownProbe, probe)
}

// CalibrateFlowMeter stores a measured pulses-per-gallon value.
func (r *Rig) CalibrateFlowMeter(id, ppg int) error {
	return r.Flow.Calibrate(id, ppg)
}
