package service

import (
	"context"

	"nutrient_mixer/internal/command"
	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/device"
	"nutrient_mixer/internal/job"
	"nutrient_mixer/internal/models"
	"nutrient_mixer/internal/repository"
)

type Authorization interface {
	SignUp(ctx context.Context, username, password string) (int, error)
	GenerateToken(ctx context.Context, username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Jobs submits, inspects and stops fill, mix and send jobs. *job.Manager
// implements it.
type Jobs interface {
	StartFill(tankID, gallons int) job.StartResult
	StartMix(tankID int) job.StartResult
	StartSend(tankID, roomID, gallons int) job.StartResult
	StopJob(ctx context.Context, t models.JobType) (models.Job, error)
	GetStatus(t models.JobType) *models.Job
	Active() []models.Job
}

// Commands accepts raw wire commands such as "Start;Relay;3;ON;end".
type Commands interface {
	Submit(line string) (command.Command, error)
}

// Monitoring exposes the rig state and the emergency stop.
type Monitoring interface {
	Snapshot() models.RigSnapshot
	EmergencyStop(ctx context.Context) error
}

// Calibration runs probe calibration points and stores meter calibrations.
// *device.Rig implements it.
type Calibration interface {
	CalibrateSensor(ctx context.Context, probe, point string, value float64) error
	CalibrateFlowMeter(id, ppg int) error
}

// History lists persisted job records.
type History interface {
	List(ctx context.Context, f HistoryFilter) ([]models.JobRecord, error)
}

// Service aggregates everything the API layer needs.
type Service struct {
	Jobs
	Commands
	Monitoring
	Calibration
	History
	Authorization
}

// Deps are the running engine pieces the services sit on.
type Deps struct {
	Jobs       *job.Manager
	Dispatcher *command.Dispatcher
	Rig        *device.Rig
	Repos      *repository.Repository
	Auth       config.AuthConfig
}

func NewService(d Deps) *Service {
	return &Service{
		Jobs:          d.Jobs,
		Commands:      NewCommandService(d.Dispatcher),
		Monitoring:    NewRigService(d.Rig, d.Jobs),
		Calibration:   d.Rig,
		History:       NewHistoryService(d.Repos.Jobs),
		Authorization: NewAuthService(d.Repos.Auth, d.Auth),
	}
}
