package events

import (
	"context"
	"fmt"

	"nutrient_mixer/internal/models"
	"nutrient_mixer/internal/repository"
)

// History writes job events to the job table.
type History struct {
	Jobs repository.JobRepo
}

func (h History) HandleJob(ctx context.Context, e JobEvent) error {
	switch e.Kind {
	case JobProgressEvent:
		return h.Jobs.UpdateProgress(ctx, e.Job.ID, e.Percent)
	case JobStartedEvent, JobCompletedEvent:
		return h.Jobs.Save(ctx, Record(e.Job))
	}
	return fmt.Errorf("unknown job event %q", e.Kind)
}

// Record is the history row of a job snapshot.
func Record(j models.Job) models.JobRecord {
	params := map[string]any{}
	if j.TargetGallons != nil {
		params["gallons"] = *j.TargetGallons
	}
	if j.RoomID != nil {
		params["room_id"] = *j.RoomID
	}
	if len(params) == 0 {
		params = nil
	}
	rec := models.JobRecord{
		ID:         j.ID,
		Type:       j.Type,
		TankID:     j.TankID,
		Params:     params,
		Status:     j.Status,
		Progress:   j.ProgressPercent,
		Error:      j.ErrorMessage,
		StartedAt:  j.StartTime,
		FinishedAt: j.EndTime,
	}
	if j.ActualGallons != nil {
		g := *j.ActualGallons
		rec.ActualGallons = &g
	}
	return rec
}

// DeviceStore writes device events to the device_state table.
type DeviceStore struct {
	Repo repository.DeviceStateRepo
}

func (d DeviceStore) HandleDevice(ctx context.Context, e DeviceEvent) error {
	switch {
	case e.Relay != nil:
		return d.Repo.SaveRelay(ctx, *e.Relay)
	case e.Pump != nil:
		return d.Repo.SavePump(ctx, *e.Pump)
	case e.Flow != nil:
		return d.Repo.SaveFlow(ctx, *e.Flow)
	}
	return fmt.Errorf("empty %s event for device %d", e.Kind, e.ID)
}
