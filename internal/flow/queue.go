package flow

import (
	"context"
	"time"

	"nutrient_mixer/internal/logger"
)

// Edge is one raw pulse reported by the GPIO layer.
type Edge struct {
	Meter int
	At    time.Time
}

// EdgeQueue decouples the GPIO event goroutine from the counter. Push never
// blocks; an overflowing queue drops the edge and says so in the log.
type EdgeQueue struct {
	edges   chan Edge
	counter *Counter
	log     *logger.Logger
}

func NewEdgeQueue(counter *Counter, size int, log *logger.Logger) *EdgeQueue {
	if size <= 0 {
		size = 1024
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EdgeQueue{edges: make(chan Edge, size), counter: counter, log: log}
}

// Push enqueues an edge. It is safe to call from the edge callback.
func (q *EdgeQueue) Push(meter int, at time.Time) bool {
	select {
	case q.edges <- Edge{Meter: meter, At: at}:
		return true
	default:
		q.log.Warnw("flow_edge_dropped", "meter", meter)
		return false
	}
}

// Handler returns a callback bound to one meter, in the shape the GPIO edge
// input expects.
func (q *EdgeQueue) Handler(meter int) func(time.Time) {
	return func(at time.Time) { q.Push(meter, at) }
}

// Run applies queued edges to the counter until ctx is canceled.
func (q *EdgeQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-q.edges:
			q.counter.OnEdge(e.Meter, e.At)
		}
	}
}
