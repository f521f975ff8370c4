package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// recordingTarget logs every applied command in order. An optional gate
// blocks the first call until released.
type recordingTarget struct {
	mu      sync.Mutex
	applied []string
	failOn  map[string]bool
	gate    chan struct{}
}

func (r *recordingTarget) record(s string) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, s)
	if r.failOn[s] {
		return errors.New("device error")
	}
	return nil
}

func (r *recordingTarget) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

func (r *recordingTarget) SetRelay(id int, on bool) error {
	return r.record(fmt.Sprintf("relay %d %v", id, on))
}

func (r *recordingTarget) StartDispense(ctx context.Context, pumpID int, ml float64) error {
	return r.record(fmt.Sprintf("dispense %d %v", pumpID, ml))
}

func (r *recordingTarget) StopDispense(ctx context.Context, pumpID int) (float64, error) {
	return 0, r.record(fmt.Sprintf("stop %d", pumpID))
}

func (r *recordingTarget) CalibratePump(ctx context.Context, pumpID int, ml float64) error {
	return r.record(fmt.Sprintf("cal %d %v", pumpID, ml))
}

func (r *recordingTarget) StartFlow(meterID, gallons, ppg int, _ string) error {
	return r.record(fmt.Sprintf("flow %d %d %d", meterID, gallons, ppg))
}

func (r *recordingTarget) SetSensorMonitoring(on bool) {
	_ = r.record(fmt.Sprintf("ecph %v", on))
}

func waitApplied(t *testing.T, r *recordingTarget, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("only %d of %d commands applied: %v", len(r.snapshot()), n, r.snapshot())
	return nil
}

func TestDispatcher_FIFOAndMalformedDropped(t *testing.T) {
	target := &recordingTarget{failOn: map[string]bool{"dispense 1 5": true}}
	m := metrics.New()
	d := NewDispatcher(target, 16, 0, nil, m)

	lines := []string{
		"Start;Relay;1;ON;end",
		"Start;Relay;1;ON",       // malformed: dropped
		"Start;Dispense;1;5;end", // fails at the device
		"Start;Pump;1;X;end",     // still runs
		"Start;StartFlow;2;10;end",
		"Start;EcPh;OFF;end",
		"Start;Relay;0;OFF;end",
	}
	for _, l := range lines {
		if !d.Enqueue(l) {
			t.Fatalf("enqueue %q rejected", l)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	got := waitApplied(t, target, 6)
	want := []string{
		"relay 1 true",
		"dispense 1 5",
		"stop 1",
		"flow 2 10 0",
		"ecph false",
		"relay 0 false",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("applied %v, want %v", got, want)
	}

	// The counters are updated after the target call returns.
	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(m.Commands.WithLabelValues(OutcomeOK)) < 5 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := testutil.ToFloat64(m.Commands.WithLabelValues(OutcomeMalformed)); got != 1 {
		t.Fatalf("malformed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Commands.WithLabelValues(OutcomeFailed)); got != 1 {
		t.Fatalf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Commands.WithLabelValues(OutcomeOK)); got != 5 {
		t.Fatalf("ok = %v, want 5", got)
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(&recordingTarget{}, 2, 10*time.Millisecond, nil, m)

	if !d.Enqueue("Start;Relay;1;ON;end") || !d.Enqueue("Start;Relay;2;ON;end") {
		t.Fatalf("enqueue into empty queue failed")
	}
	start := time.Now()
	if d.Enqueue("Start;Relay;3;ON;end") {
		t.Fatalf("enqueue into full queue succeeded")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("enqueue blocked for %v", time.Since(start))
	}
	if got := testutil.ToFloat64(m.Commands.WithLabelValues(OutcomeRejected)); got != 1 {
		t.Fatalf("rejected = %v, want 1", got)
	}
}

func TestDispatcher_ExecuteSharesQueue(t *testing.T) {
	target := &recordingTarget{failOn: map[string]bool{"cal 3 2.5": true}}
	d := NewDispatcher(target, 16, 0, nil, nil)

	d.Enqueue("Start;Relay;1;ON;end")
	d.Enqueue("Start;Relay;2;ON;end")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	if err := d.Execute(ctx, Relay{ID: 3, On: true}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := target.snapshot()
	if len(got) != 3 || got[2] != "relay 3 true" {
		t.Fatalf("typed command ran out of order: %v", got)
	}

	if err := d.Execute(ctx, CalibratePump{PumpID: 3, ML: 2.5}); err == nil {
		t.Fatalf("expected device error from Execute")
	}
}

func TestDispatcher_NoInterleaving(t *testing.T) {
	target := &recordingTarget{}
	d := NewDispatcher(target, 64, time.Second, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var wg sync.WaitGroup
	for p := 1; p <= 3; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := d.Execute(ctx, Dispense{PumpID: p, ML: float64(i)}); err != nil {
					t.Errorf("Execute: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	last := map[string]int{}
	for _, s := range target.snapshot() {
		var pump, ml int
		if _, err := fmt.Sscanf(s, "dispense %d %d", &pump, &ml); err != nil {
			t.Fatalf("unexpected entry %q", s)
		}
		key := fmt.Sprint(pump)
		if prev, ok := last[key]; ok && ml != prev+1 {
			t.Fatalf("pump %d commands reordered: %d after %d", pump, ml, prev)
		}
		last[key] = ml
	}
}

func TestDispatcher_ExecuteHonoursContext(t *testing.T) {
	target := &recordingTarget{gate: make(chan struct{})}
	d := NewDispatcher(target, 4, 0, nil, nil)
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go d.Run(runCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Execute(ctx, Relay{ID: 1, On: true})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	close(target.gate)
}

func TestDispatcher_RejectsAfterStop(t *testing.T) {
	d := NewDispatcher(&recordingTarget{}, 1, 0, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { d.Run(ctx); close(stopped) }()
	cancel()
	<-stopped

	if d.Enqueue("Start;Relay;1;ON;end") {
		t.Fatalf("stopped dispatcher accepted a wire command")
	}
	if n := len(d.queue); n != 0 {
		t.Fatalf("%d commands stranded in the queue", n)
	}
	if err := d.Execute(context.Background(), Relay{ID: 1}); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
}

type chunkReader struct {
	chunks []string
	closed chan struct{}
	once   sync.Once
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		<-r.closed
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

type collectingSink struct {
	mu   sync.Mutex
	seen []string
}

func (s *collectingSink) Enqueue(raw string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, raw)
	return true
}

func (s *collectingSink) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func TestSerialSource_SplitsLines(t *testing.T) {
	reader := &chunkReader{
		chunks: []string{"Start;Relay;1;O", "N;end\r\n\r\nStart;EcPh;", "ON;end\n"},
		closed: make(chan struct{}),
	}
	sink := &collectingSink{}
	s := &SerialSource{
		name:       "test",
		open:       func() (io.ReadCloser, error) { return reader, nil },
		sink:       sink,
		log:        logger.Nop(),
		retryDelay: time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.lines()) < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	got := sink.lines()
	want := []string{"Start;Relay;1;ON;end", "Start;EcPh;ON;end"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %v, want %v", got, want)
	}
}
