package service

import (
	"context"

	"nutrient_mixer/internal/models"
)

// Rig is the hardware side of monitoring. *device.Rig implements it.
type Rig interface {
	Snapshot() models.RigSnapshot
	EmergencyStop(ctx context.Context) error
}

// JobStopper stops every active job. *job.Manager implements it.
type JobStopper interface {
	StopAll(ctx context.Context)
}

type RigService struct {
	rig  Rig
	jobs JobStopper
}

func NewRigService(rig Rig, jobs JobStopper) *RigService {
	return &RigService{rig: rig, jobs: jobs}
}

func (s *RigService) Snapshot() models.RigSnapshot {
	return s.rig.Snapshot()
}

// EmergencyStop stops the jobs first so their cleanup cannot reopen anything,
// then forces every device off.
func (s *RigService) EmergencyStop(ctx context.Context) error {
	if s.jobs != nil {
		s.jobs.StopAll(ctx)
	}
	return s.rig.EmergencyStop(ctx)
}
