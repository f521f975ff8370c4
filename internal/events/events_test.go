package events

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nutrient_mixer/internal/models"
)

type recordingJobSink struct {
	mu     sync.Mutex
	events []JobEvent
	err    error
}

func (s *recordingJobSink) HandleJob(_ context.Context, e JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingJobSink) Events() []JobEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]JobEvent(nil), s.events...)
}

// runUntilCanceled runs fn and waits for it to return after cancel.
func runUntilCanceled(t *testing.T, fn func(ctx context.Context)) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fn(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("runner did not stop")
		}
	}
}

func TestHub_DeliversInOrderToEverySink(t *testing.T) {
	a := &recordingJobSink{}
	b := &recordingJobSink{err: errors.New("broker down")}
	h := NewHub(16, time.Second, nil, a, b)

	job := models.Job{ID: "j1", Type: models.JobFill, Status: models.JobRunning}
	h.JobStarted(job)
	h.JobProgress("j1", 42)
	job.Status = models.JobCompleted
	job.ProgressPercent = 100
	h.JobCompleted(job)

	stop := runUntilCanceled(t, h.Run)
	stop()

	for _, sink := range []*recordingJobSink{a, b} {
		got := sink.Events()
		if len(got) != 3 {
			t.Fatalf("events = %d, want 3", len(got))
		}
		kinds := []JobEventKind{got[0].Kind, got[1].Kind, got[2].Kind}
		if !reflect.DeepEqual(kinds, []JobEventKind{JobStartedEvent, JobProgressEvent, JobCompletedEvent}) {
			t.Fatalf("kinds = %v", kinds)
		}
		if got[1].Job.Type != models.JobFill || got[1].Percent != 42 {
			t.Fatalf("progress event = %+v", got[1])
		}
		if got[2].Job.Status != models.JobCompleted {
			t.Fatalf("completed event = %+v", got[2])
		}
	}
}

func TestHub_DropsWhenFull(t *testing.T) {
	sink := &recordingJobSink{}
	h := NewHub(1, time.Second, nil, sink)

	h.JobProgress("j1", 1)
	h.JobProgress("j1", 2) // dropped, nothing is draining yet

	stop := runUntilCanceled(t, h.Run)
	stop()
	if got := sink.Events(); len(got) != 1 || got[0].Percent != 1 {
		t.Fatalf("events = %+v, want only the first", got)
	}
}

type blockingJobSink struct{}

func (blockingJobSink) HandleJob(ctx context.Context, _ JobEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHub_SlowSinkIsBoundedByTimeout(t *testing.T) {
	after := &recordingJobSink{}
	h := NewHub(4, 20*time.Millisecond, nil, blockingJobSink{}, after)
	h.JobStarted(models.Job{ID: "j1", Type: models.JobMix})

	stop := runUntilCanceled(t, h.Run)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for len(after.Events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never reached the second sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type recordingStateSink struct {
	mu     sync.Mutex
	events []DeviceEvent
}

func (s *recordingStateSink) HandleDevice(_ context.Context, e DeviceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func TestStateWriter_Publishes(t *testing.T) {
	sink := &recordingStateSink{}
	w := NewStateWriter(8, time.Second, nil, sink)

	w.PublishRelay(models.RelayState{ID: 2, IsOn: true})
	w.PublishPump(models.PumpState{ID: 1, IsDispensing: true})
	w.PublishFlow(models.FlowMeterState{ID: 3, Status: models.FlowActive})

	stop := runUntilCanceled(t, w.Run)
	stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 3 {
		t.Fatalf("events = %d, want 3", len(sink.events))
	}
	if e := sink.events[0]; e.Kind != DeviceRelay || e.ID != 2 || e.Relay == nil || !e.Relay.IsOn {
		t.Fatalf("relay event = %+v", e)
	}
	if e := sink.events[1]; e.Kind != DevicePump || e.Pump == nil || e.Relay != nil {
		t.Fatalf("pump event = %+v", e)
	}
	if e := sink.events[2]; e.Kind != DeviceFlow || e.ID != 3 || e.Flow == nil {
		t.Fatalf("flow event = %+v", e)
	}
}

type fakeJobRepo struct {
	saved    []models.JobRecord
	progress map[string]float64
}

func (r *fakeJobRepo) Save(_ context.Context, rec models.JobRecord) error {
	r.saved = append(r.saved, rec)
	return nil
}

func (r *fakeJobRepo) UpdateProgress(_ context.Context, id string, pct float64) error {
	if r.progress == nil {
		r.progress = map[string]float64{}
	}
	r.progress[id] = pct
	return nil
}

func (r *fakeJobRepo) List(context.Context, time.Time, time.Time, string) ([]models.JobRecord, error) {
	return r.saved, nil
}

func TestHistory_HandleJob(t *testing.T) {
	repo := &fakeJobRepo{}
	h := History{Jobs: repo}
	room, gallons, actual := 1, 20, 19
	end := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	job := models.Job{
		ID: "j1", Type: models.JobSend, TankID: 1, RoomID: &room, TargetGallons: &gallons,
		Status: models.JobFailed, ProgressPercent: 60, ActualGallons: &actual,
		ErrorMessage: "step sending: flow meter 2 stopped before reaching target", EndTime: &end,
	}
	ctx := context.Background()
	if err := h.HandleJob(ctx, JobEvent{Kind: JobProgressEvent, Job: models.Job{ID: "j1"}, Percent: 55}); err != nil {
		t.Fatal(err)
	}
	if err := h.HandleJob(ctx, JobEvent{Kind: JobCompletedEvent, Job: job}); err != nil {
		t.Fatal(err)
	}
	if err := h.HandleJob(ctx, JobEvent{Kind: "exploded"}); err == nil {
		t.Fatal("unknown kind accepted")
	}

	if repo.progress["j1"] != 55 {
		t.Fatalf("progress = %v", repo.progress)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved = %d", len(repo.saved))
	}
	rec := repo.saved[0]
	wantParams := map[string]any{"gallons": 20, "room_id": 1}
	if !reflect.DeepEqual(rec.Params, wantParams) {
		t.Fatalf("params = %v, want %v", rec.Params, wantParams)
	}
	if rec.Status != models.JobFailed || rec.Error == "" || *rec.ActualGallons != 19 || !rec.FinishedAt.Equal(end) {
		t.Fatalf("record = %+v", rec)
	}
	if Record(models.Job{ID: "m", Type: models.JobMix}).Params != nil {
		t.Fatal("mix job should have no params")
	}
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	msgs  []published
	token mqtt.Token
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return doneToken(nil)
}

func TestMQTTSink_Topics(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, "rig1")
	ctx := context.Background()

	if err := s.HandleJob(ctx, JobEvent{Kind: JobCompletedEvent, Job: models.Job{ID: "j1", Type: models.JobMix, Status: models.JobCompleted}}); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleDevice(ctx, DeviceEvent{Kind: DeviceRelay, ID: 4, Relay: &models.RelayState{ID: 4, IsOn: true}}); err != nil {
		t.Fatal(err)
	}

	if len(pub.msgs) != 2 {
		t.Fatalf("published = %d", len(pub.msgs))
	}
	if m := pub.msgs[0]; m.topic != "rig1/jobs/mix/completed" || m.retained {
		t.Fatalf("job message = %+v", m)
	}
	if m := pub.msgs[1]; m.topic != "rig1/devices/relay/4" || !m.retained {
		t.Fatalf("device message = %+v", m)
	}
	var decoded JobEvent
	if err := json.Unmarshal(pub.msgs[0].payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.Job.ID != "j1" || decoded.Job.Status != models.JobCompleted {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestMQTTSink_Errors(t *testing.T) {
	pub := &fakePublisher{token: doneToken(errors.New("not connected"))}
	s := NewMQTTSink(pub, "")
	if err := s.HandleJob(context.Background(), JobEvent{Kind: JobStartedEvent}); err == nil {
		t.Fatal("publish error swallowed")
	}
	if pub.msgs[0].topic != "mixer/jobs/unknown/started" {
		t.Fatalf("topic = %s", pub.msgs[0].topic)
	}

	pub = &fakePublisher{token: &fakeToken{done: make(chan struct{})}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := NewMQTTSink(pub, "mixer").HandleDevice(ctx, DeviceEvent{Kind: DevicePump, ID: 1}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
