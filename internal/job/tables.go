package job

import (
	"context"
	"errors"
	"fmt"

	"nutrient_mixer/internal/config"
)

// ErrValidation wraps every request that is rejected before touching hardware.
var ErrValidation = errors.New("job: invalid request")

func validateGallons(cfg *config.Config, gallons int) error {
	if gallons < cfg.Flow.MinGallons || gallons > cfg.Flow.MaxGallons {
		return fmt.Errorf("%w: gallons %d not in [%d, %d]", ErrValidation, gallons, cfg.Flow.MinGallons, cfg.Flow.MaxGallons)
	}
	return nil
}

func lookupTank(cfg *config.Config, tankID int) (config.TankDef, error) {
	tank, ok := cfg.Tank(tankID)
	if !ok {
		return config.TankDef{}, fmt.Errorf("%w: unknown tank %d", ErrValidation, tankID)
	}
	return tank, nil
}

func validateFill(cfg *config.Config, tankID, gallons int) (config.TankDef, error) {
	tank, err := lookupTank(cfg, tankID)
	if err != nil {
		return tank, err
	}
	if tank.FillRelay == 0 || tank.FillFlowMeter == 0 {
		return tank, fmt.Errorf("%w: tank %d has no fill relay or fill flow meter", ErrValidation, tankID)
	}
	return tank, validateGallons(cfg, gallons)
}

func validateMix(cfg *config.Config, tankID int) (config.TankDef, error) {
	tank, err := lookupTank(cfg, tankID)
	if err != nil {
		return tank, err
	}
	if len(tank.MixRelays) == 0 {
		return tank, fmt.Errorf("%w: tank %d has no mixing relays", ErrValidation, tankID)
	}
	return tank, nil
}

func validateSend(cfg *config.Config, tankID, roomID, gallons int) (config.TankDef, config.RoomDef, error) {
	tank, err := lookupTank(cfg, tankID)
	if err != nil {
		return tank, config.RoomDef{}, err
	}
	if tank.SendRelay == 0 || tank.SendFlowMeter == 0 {
		return tank, config.RoomDef{}, fmt.Errorf("%w: tank %d has no send relay or send flow meter", ErrValidation, tankID)
	}
	room, ok := cfg.Room(roomID)
	if !ok || room.Relay == 0 {
		return tank, room, fmt.Errorf("%w: unknown room %d", ErrValidation, roomID)
	}
	return tank, room, validateGallons(cfg, gallons)
}

// revalidate turns a request check into the first step of a table.
func revalidate(check func() error) stepFunc {
	return func(context.Context, *Machine) (StepResult, error) {
		if err := check(); err != nil {
			return Continue, err
		}
		return Continue, nil
	}
}

func fillSteps(cfg *config.Config, tank config.TankDef, gallons int) []step {
	return []step{
		{"validate", revalidate(func() error { _, err := validateFill(cfg, tank.ID, gallons); return err })},
		{"relay_on", openRelay(tank.FillRelay)},
		{"flow_start", startFlow(tank.FillFlowMeter, gallons)},
		{"filling", awaitFlow(tank.FillFlowMeter, cfg.Flow.MaxDuration)},
		{"flow_complete", completeFlow(tank.FillFlowMeter)},
		{"relay_off", closeRelays(tank.FillRelay)},
		{"complete", noop},
	}
}

func sendSteps(cfg *config.Config, tank config.TankDef, room config.RoomDef, gallons int) []step {
	return []step{
		{"validate", revalidate(func() error { _, _, err := validateSend(cfg, tank.ID, room.ID, gallons); return err })},
		{"tank_relay_on", openRelay(tank.SendRelay)},
		{"room_relay_on", openRelay(room.Relay)},
		{"flow_start", startFlow(tank.SendFlowMeter, gallons)},
		{"sending", awaitFlow(tank.SendFlowMeter, cfg.Flow.MaxDuration)},
		{"flow_complete", completeFlow(tank.SendFlowMeter)},
		// Room valve first so the line is never left pressurised.
		{"room_relay_off", closeRelays(room.Relay)},
		{"tank_relay_off", closeRelays(tank.SendRelay)},
		{"complete", noop},
	}
}

func mixSteps(cfg *config.Config, tank config.TankDef, planner DosingPlanner) []step {
	var doses int
	return []step{
		{"validate", revalidate(func() error { _, err := validateMix(cfg, tank.ID); return err })},
		{"mixing_relays_on", openRelays(tank.MixRelays)},
		{"initial_delay", hold(cfg.Jobs.MixInitialDelay, nil)},
		{"start_ecph", func(ctx context.Context, m *Machine) (StepResult, error) {
			m.res.sensors = true
			return Continue, m.hw.SetSensorMonitoring(ctx, true)
		}},
		{"dispense_nutrients", func(ctx context.Context, m *Machine) (StepResult, error) {
			plan, err := planner.Plan(tank, m.hw.LatestReading())
			if err != nil {
				return Continue, fmt.Errorf("dosing plan: %w", err)
			}
			doses = len(plan)
			for _, d := range plan {
				m.res.pumps = append(m.res.pumps, d.PumpID)
				if err := m.hw.StartDispense(ctx, d.PumpID, d.VolumeML); err != nil {
					return Continue, err
				}
				m.log.Infow("job_dose_started", "pump", d.PumpID, "ml", d.VolumeML)
			}
			return Continue, nil
		}},
		{"wait_for_dispense", func(ctx context.Context, m *Machine) (StepResult, error) {
			var still []int
			for _, id := range m.res.pumps {
				dispensing, err := m.hw.PollPump(ctx, id)
				if err != nil {
					return Continue, err
				}
				if dispensing {
					still = append(still, id)
				}
			}
			m.res.pumps = still
			if doses > 0 {
				m.fraction = float64(doses-len(still)) / float64(doses)
			}
			if len(still) > 0 {
				return Wait, nil
			}
			return Continue, nil
		}},
		{"final_mixing", hold(cfg.Jobs.MixFinalDuration, func(m *Machine) {
			if r := m.hw.LatestReading(); r != nil {
				m.job.LastReading = r
			}
		})},
		{"read_sensors", func(ctx context.Context, m *Machine) (StepResult, error) {
			r := m.hw.ReadSensors(ctx)
			m.job.LastReading = &r
			if r.PH == nil && r.EC == nil {
				m.log.Warnw("job_sensor_read_empty")
			}
			return Continue, nil
		}},
		{"stop_ecph", func(ctx context.Context, m *Machine) (StepResult, error) {
			if err := m.hw.SetSensorMonitoring(ctx, false); err != nil {
				return Continue, err
			}
			m.res.sensors = false
			return Continue, nil
		}},
		{"mixing_relays_off", closeRelays(tank.MixRelays...)},
		{"complete", noop},
	}
}
