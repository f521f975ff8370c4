package models

import "time"

type FlowStatus string

const (
	FlowInactive  FlowStatus = "inactive"
	FlowActive    FlowStatus = "active"
	FlowCompleted FlowStatus = "completed"
)

// FlowMeterState is the per-meter view of one flow operation.
type FlowMeterState struct {
	ID                 int        `json:"id"`
	PulseCount         uint64     `json:"pulse_count"`
	LastPulseTime      time.Time  `json:"last_pulse_time"`
	PulseRate          float64    `json:"pulse_rate"`    // pulses/s, smoothed
	FlowRateGPM        float64    `json:"flow_rate_gpm"` // gallons/min
	PulsesPerGallon    int        `json:"pulses_per_gallon"`
	TargetGallons      int        `json:"target_gallons"`
	CurrentGallons     int        `json:"current_gallons"`
	Status             FlowStatus `json:"status"`
	CompletionNotified bool       `json:"completion_notified"`
	StartedAt          time.Time  `json:"started_at"`
	// Owner is the id of the job that started the current flow; empty for
	// wire commands.
	Owner string `json:"owner,omitempty"`
	// CalibratedPPG is the stored meter calibration. PulsesPerGallon may
	// instead hold a one-off override from StartFlow.
	CalibratedPPG int `json:"calibrated_ppg,omitempty"`
}

// PumpState mirrors one dosing pump on the bus.
type PumpState struct {
	ID                  int     `json:"id"`
	Name                string  `json:"name"`
	Address             byte    `json:"address"`
	IsDispensing        bool    `json:"is_dispensing"`
	TargetVolume        float64 `json:"target_volume_ml"`
	CurrentVolume       float64 `json:"current_volume_ml"`
	TotalVolumeLifetime float64 `json:"total_volume_lifetime_ml"`
	Calibrated          bool    `json:"calibrated"`
	LastError           string  `json:"last_error,omitempty"`
}

// RelayState always reflects the last successful write to the line.
type RelayState struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
	Pin  int    `json:"pin"`
	IsOn bool   `json:"is_on"`
}

// Reading is one EC/pH sample. EC is stored in mS/cm.
type Reading struct {
	PH      *float64  `json:"ph,omitempty"`
	EC      *float64  `json:"ec_ms_cm,omitempty"`
	TakenAt time.Time `json:"taken_at"`
}

// RigSnapshot is the combined hardware view served to the API layer.
type RigSnapshot struct {
	Relays           []RelayState     `json:"relays"`
	Pumps            []PumpState      `json:"pumps"`
	FlowMeters       []FlowMeterState `json:"flow_meters"`
	SensorMonitoring bool             `json:"sensor_monitoring"`
	LastReading      *Reading         `json:"last_reading,omitempty"`
	BusConnected     bool             `json:"bus_connected"`
}
