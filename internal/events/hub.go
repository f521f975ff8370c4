package events

import (
	"context"
	"time"

	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/models"
)

const (
	DefaultQueueSize   = 256
	DefaultSinkTimeout = 2 * time.Second
)

type JobEventKind string

const (
	JobStartedEvent   JobEventKind = "started"
	JobProgressEvent  JobEventKind = "progress"
	JobCompletedEvent JobEventKind = "completed"
)

// JobEvent is one lifecycle change of a job. Progress events carry only the
// job id, type and percent.
type JobEvent struct {
	Kind    JobEventKind `json:"event"`
	Job     models.Job   `json:"job"`
	Percent float64      `json:"progress_percent"`
	At      time.Time    `json:"at"`
}

// JobSink consumes job events off the hub goroutine.
type JobSink interface {
	HandleJob(ctx context.Context, e JobEvent) error
}

// queue is a bounded, drop-when-full buffer drained by a single goroutine.
type queue[E any] struct {
	name    string
	ch      chan E
	timeout time.Duration
	log     *logger.Logger
}

func newQueue[E any](name string, size int, timeout time.Duration, log *logger.Logger) queue[E] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return queue[E]{name: name, ch: make(chan E, size), timeout: timeout, log: log}
}

func (q *queue[E]) push(e E) bool {
	select {
	case q.ch <- e:
		return true
	default:
		q.log.Warnw("event_dropped", "queue", q.name)
		return false
	}
}

// run delivers events until ctx is canceled, then flushes what is already
// queued with a fresh deadline per event.
func (q *queue[E]) run(ctx context.Context, deliver func(ctx context.Context, e E)) {
	for {
		select {
		case e := <-q.ch:
			q.deliverOne(ctx, e, deliver)
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case e := <-q.ch:
					q.deliverOne(flush, e, deliver)
				default:
					return
				}
			}
		}
	}
}

func (q *queue[E]) deliverOne(ctx context.Context, e E, deliver func(ctx context.Context, e E)) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	deliver(ctx, e)
}

// Hub fans job events out to its sinks. Its recorder methods never block.
type Hub struct {
	q     queue[JobEvent]
	sinks []JobSink
	log   *logger.Logger
	now   func() time.Time
}

func NewHub(size int, timeout time.Duration, log *logger.Logger, sinks ...JobSink) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		q:     newQueue[JobEvent]("jobs", size, timeout, log),
		sinks: sinks,
		log:   log,
		now:   time.Now,
	}
}

func (h *Hub) JobStarted(job models.Job) {
	h.q.push(JobEvent{Kind: JobStartedEvent, Job: job, Percent: job.ProgressPercent, At: h.now()})
}

func (h *Hub) JobProgress(jobID string, percent float64) {
	h.q.push(JobEvent{Kind: JobProgressEvent, Job: models.Job{ID: jobID}, Percent: percent, At: h.now()})
}

func (h *Hub) JobCompleted(job models.Job) {
	h.q.push(JobEvent{Kind: JobCompletedEvent, Job: job, Percent: job.ProgressPercent, At: h.now()})
}

// Run delivers queued events until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	// progress events only carry the id; fill in the type from the start event
	types := make(map[string]models.JobType)
	h.q.run(ctx, func(ctx context.Context, e JobEvent) {
		switch e.Kind {
		case JobStartedEvent:
			types[e.Job.ID] = e.Job.Type
		case JobProgressEvent:
			e.Job.Type = types[e.Job.ID]
		case JobCompletedEvent:
			delete(types, e.Job.ID)
		}
		for _, s := range h.sinks {
			if err := s.HandleJob(ctx, e); err != nil {
				h.log.Errorw("job_event_delivery_failed", "event", e.Kind, "job_id", e.Job.ID, "err", err)
			}
		}
	})
}
