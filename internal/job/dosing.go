package job

import (
	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/models"
)

// Dose is one pump run requested by a DosingPlanner.
type Dose struct {
	PumpID   int     `json:"pump_id"`
	VolumeML float64 `json:"volume_ml"`
}

// DosingPlanner decides which nutrients a mix job dispenses into a tank,
// given the latest EC/pH reading (nil when none is available yet).
type DosingPlanner interface {
	Plan(tank config.TankDef, reading *models.Reading) ([]Dose, error)
}

// NoDosing dispenses nothing; a mix job then only circulates and samples.
type NoDosing struct{}

func (NoDosing) Plan(config.TankDef, *models.Reading) ([]Dose, error) {
	return nil, nil
}

// FixedDosing always dispenses the same doses.
type FixedDosing []Dose

func (f FixedDosing) Plan(config.TankDef, *models.Reading) ([]Dose, error) {
	return append([]Dose(nil), f...), nil
}
