package job

import (
	"context"

	"nutrient_mixer/internal/command"
	"nutrient_mixer/internal/device"
	"nutrient_mixer/internal/models"
)

// Hardware is what the step tables need from the rig. Mutations go through
// the command dispatcher so they are ordered with wire commands; reads go
// straight to the controllers.
type Hardware interface {
	SetRelay(ctx context.Context, id int, on bool) error
	StartFlow(ctx context.Context, jobID string, meterID, gallons int) error
	StopFlow(ctx context.Context, meterID int) error
	StartDispense(ctx context.Context, pumpID int, ml float64) error
	StopDispense(ctx context.Context, pumpID int) error
	SetSensorMonitoring(ctx context.Context, on bool) error

	PollFlow(meterID int) bool
	FlowState(meterID int) (models.FlowMeterState, bool)
	NotifyFlowCompletion(meterID int) bool
	PollPump(ctx context.Context, pumpID int) (bool, error)
	ReadSensors(ctx context.Context) models.Reading
	LatestReading() *models.Reading
}

// Executor queues typed commands. *command.Dispatcher implements it.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) error
}

// RigHardware is the production Hardware.
type RigHardware struct {
	Commands Executor
	Rig      *device.Rig
}

func (h RigHardware) SetRelay(ctx context.Context, id int, on bool) error {
	return h.Commands.Execute(ctx, command.Relay{ID: id, On: on})
}

func (h RigHardware) StartFlow(ctx context.Context, jobID string, meterID, gallons int) error {
	return h.Commands.Execute(ctx, command.StartFlow{MeterID: meterID, Gallons: gallons, Owner: jobID})
}

func (h RigHardware) StopFlow(ctx context.Context, meterID int) error {
	return h.Commands.Execute(ctx, command.StartFlow{MeterID: meterID, Gallons: 0})
}

func (h RigHardware) StartDispense(ctx context.Context, pumpID int, ml float64) error {
	return h.Commands.Execute(ctx, command.Dispense{PumpID: pumpID, ML: ml})
}

func (h RigHardware) StopDispense(ctx context.Context, pumpID int) error {
	return h.Commands.Execute(ctx, command.StopPump{PumpID: pumpID})
}

func (h RigHardware) SetSensorMonitoring(ctx context.Context, on bool) error {
	return h.Commands.Execute(ctx, command.EcPh{On: on})
}

func (h RigHardware) PollFlow(meterID int) bool {
	return h.Rig.Flow.Poll(meterID)
}

func (h RigHardware) FlowState(meterID int) (models.FlowMeterState, bool) {
	return h.Rig.Flow.State(meterID)
}

func (h RigHardware) NotifyFlowCompletion(meterID int) bool {
	return h.Rig.Flow.NotifyCompletion(meterID)
}

func (h RigHardware) PollPump(ctx context.Context, pumpID int) (bool, error) {
	return h.Rig.Pumps.PollStatus(ctx, pumpID)
}

func (h RigHardware) ReadSensors(ctx context.Context) models.Reading {
	return h.Rig.Sensors.Read(ctx)
}

func (h RigHardware) LatestReading() *models.Reading {
	return h.Rig.Sensors.LastReading()
}
