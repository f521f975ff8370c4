package device

import (
	"context"
	"errors"
	"time"

	"nutrient_mixer/internal/bus"
	"nutrient_mixer/internal/models"
)

var (
	ErrUnknownRelay     = errors.New("device: unknown relay")
	ErrUnknownPump      = errors.New("device: unknown pump")
	ErrUnknownMeter     = errors.New("device: unknown flow meter")
	ErrVolumeOutOfRange = errors.New("device: volume out of range")
	ErrInvalidGallons   = errors.New("device: invalid gallons")
	ErrInvalidPoint     = errors.New("device: invalid calibration point")
	ErrUnknownProbe     = errors.New("device: unknown sensor probe")
	ErrBadResponse      = errors.New("device: unparsable response")
)

// BusClient issues one retried bus transaction. *bus.Retrier implements it.
type BusClient interface {
	Do(ctx context.Context, addr byte, command string, settle time.Duration) bus.Result
}

// StatePublisher receives device state after every successful mutation.
// Implementations must not block the caller.
type StatePublisher interface {
	PublishRelay(models.RelayState)
	PublishFlow(models.FlowMeterState)
	PublishPump(models.PumpState)
}

type nopPublisher struct{}

func (nopPublisher) PublishRelay(models.RelayState)    {}
func (nopPublisher) PublishFlow(models.FlowMeterState) {}
func (nopPublisher) PublishPump(models.PumpState)      {}

func publisherOrNop(p StatePublisher) StatePublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
