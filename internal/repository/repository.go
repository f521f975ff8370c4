package repository

import (
	"context"
	"database/sql"
	"time"

	"nutrient_mixer/internal/models"
)

type Authorization interface {
	Create(ctx context.Context, username, hash string) (int, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// JobRepo stores job history. Save upserts by job id.
type JobRepo interface {
	Save(ctx context.Context, r models.JobRecord) error
	UpdateProgress(ctx context.Context, id string, percent float64) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.JobRecord, error)
}

// DeviceStateRepo keeps the last known state of every relay, pump and meter.
type DeviceStateRepo interface {
	SaveRelay(ctx context.Context, s models.RelayState) error
	SavePump(ctx context.Context, s models.PumpState) error
	SaveFlow(ctx context.Context, s models.FlowMeterState) error
	LoadRelays(ctx context.Context) ([]models.RelayState, error)
	LoadPumps(ctx context.Context) ([]models.PumpState, error)
	LoadFlowMeters(ctx context.Context) ([]models.FlowMeterState, error)
}

type Repository struct {
	Jobs    JobRepo
	Devices DeviceStateRepo
	Auth    Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Jobs:    NewJobSQLite(db),
		Devices: NewDeviceStateSQLite(db),
		Auth:    NewUserRepository(db),
	}
}
