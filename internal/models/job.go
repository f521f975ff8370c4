package models

import "time"

// JobType identifies one of the three job slots.
type JobType string

const (
	JobFill JobType = "fill"
	JobMix  JobType = "mix"
	JobSend JobType = "send"
)

// JobTypes lists every job slot in a stable order.
var JobTypes = []JobType{JobFill, JobMix, JobSend}

// Valid reports whether t names a known job slot.
func (t JobType) Valid() bool {
	switch t {
	case JobFill, JobMix, JobSend:
		return true
	}
	return false
}

type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobStopped   JobStatus = "stopped"
)

// Active reports whether the status occupies the job slot.
func (s JobStatus) Active() bool {
	return s == JobRunning || s == JobPaused
}

// Terminal reports whether the job has finished for good.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobStopped
}

// Job is the externally visible snapshot of a multi-step operation.
type Job struct {
	ID              string     `json:"id"`
	Type            JobType    `json:"job_type"`
	Status          JobStatus  `json:"status"`
	TankID          int        `json:"tank_id"`
	RoomID          *int       `json:"room_id,omitempty"`
	TargetGallons   *int       `json:"target_gallons,omitempty"`
	ActualGallons   *int       `json:"actual_gallons,omitempty"`
	CurrentStep     string     `json:"current_step"`
	CompletedSteps  []string   `json:"completed_steps"`
	TotalSteps      int        `json:"total_steps"`
	ProgressPercent float64    `json:"progress_percent"`
	TimerRemaining  *float64   `json:"timer_remaining_s,omitempty"` // seconds
	LastReading     *Reading   `json:"last_reading,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
}

// Clone returns a deep copy safe to hand to readers outside the job driver.
func (j Job) Clone() Job {
	out := j
	out.CompletedSteps = append([]string(nil), j.CompletedSteps...)
	if j.RoomID != nil {
		v := *j.RoomID
		out.RoomID = &v
	}
	if j.TargetGallons != nil {
		v := *j.TargetGallons
		out.TargetGallons = &v
	}
	if j.ActualGallons != nil {
		v := *j.ActualGallons
		out.ActualGallons = &v
	}
	if j.TimerRemaining != nil {
		v := *j.TimerRemaining
		out.TimerRemaining = &v
	}
	if j.LastReading != nil {
		v := *j.LastReading
		out.LastReading = &v
	}
	if j.EndTime != nil {
		v := *j.EndTime
		out.EndTime = &v
	}
	return out
}

// JobRecord is one persisted row of job history.
type JobRecord struct {
	ID            string         `json:"id"`
	Type          JobType        `json:"job_type"`
	TankID        int            `json:"tank_id"`
	Params        map[string]any `json:"params,omitempty"`
	Status        JobStatus      `json:"status"`
	Progress      float64        `json:"progress_percent"`
	ActualGallons *int           `json:"actual_gallons,omitempty"`
	Error         string         `json:"error,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}
