package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"nutrient_mixer/internal/command"
	"nutrient_mixer/internal/models"
)

type fakeQueue struct {
	lines []string
	full  bool
}

func (q *fakeQueue) Enqueue(raw string) bool {
	if q.full {
		return false
	}
	q.lines = append(q.lines, raw)
	return true
}

func TestCommandService_Submit(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		full    bool
		want    command.Command
		wantErr error
		queued  int
	}{
		{"relay", "Start;Relay;3;ON;end", false, command.Relay{ID: 3, On: true}, nil, 1},
		{"malformed is not queued", "Start;Relay;3;on;end", false, nil, command.ErrMalformed, 0},
		{"missing sentinel", "Relay;3;ON", false, nil, command.ErrMalformed, 0},
		{"queue full", "Start;EcPh;ON;end", true, nil, command.ErrQueueFull, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{full: tt.full}
			got, err := NewCommandService(q).Submit(tt.line)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("command = %#v, want %#v", got, tt.want)
			}
			if len(q.lines) != tt.queued {
				t.Fatalf("queued = %v", q.lines)
			}
		})
	}
}

type fakeJobRepo struct {
	from, to time.Time
	typ      string
	calls    int
	records  []models.JobRecord
}

func (f *fakeJobRepo) Save(context.Context, models.JobRecord) error          { return nil }
func (f *fakeJobRepo) UpdateProgress(context.Context, string, float64) error { return nil }
func (f *fakeJobRepo) List(_ context.Context, from, to time.Time, typ string) ([]models.JobRecord, error) {
	f.calls++
	f.from, f.to, f.typ = from, to, typ
	return f.records, nil
}

func TestHistoryService_List(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, cet)
	to := from.Add(24 * time.Hour)

	tests := []struct {
		name     string
		filter   HistoryFilter
		wantErr  error
		wantType string
	}{
		{"open filter", HistoryFilter{}, nil, ""},
		{"range and type normalized", HistoryFilter{From: from, To: to, Type: " FILL "}, nil, "fill"},
		{"inverted range", HistoryFilter{From: to, To: from}, ErrInvalidTimeRange, ""},
		{"unknown type", HistoryFilter{Type: "drain"}, ErrInvalidJobType, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeJobRepo{records: []models.JobRecord{{ID: "j1"}}}
			got, err := NewHistoryService(repo).List(context.Background(), tt.filter)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if repo.calls != 0 {
					t.Fatal("repository queried with an invalid filter")
				}
				return
			}
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 1 || repo.typ != tt.wantType {
				t.Fatalf("got %v, type %q", got, repo.typ)
			}
			if !tt.filter.From.IsZero() && (repo.from.Location() != time.UTC || !repo.from.Equal(from)) {
				t.Fatalf("from not normalized to UTC: %v", repo.from)
			}
		})
	}
}

type fakeRig struct {
	calls *[]string
	err   error
}

func (r fakeRig) Snapshot() models.RigSnapshot {
	return models.RigSnapshot{BusConnected: true, Relays: []models.RelayState{{ID: 1}}}
}

func (r fakeRig) EmergencyStop(context.Context) error {
	*r.calls = append(*r.calls, "rig")
	return r.err
}

type fakeStopper struct{ calls *[]string }

func (s fakeStopper) StopAll(context.Context) { *s.calls = append(*s.calls, "jobs") }

func TestRigService_EmergencyStopStopsJobsFirst(t *testing.T) {
	var calls []string
	boom := errors.New("pump 2 did not answer")
	svc := NewRigService(fakeRig{calls: &calls, err: boom}, fakeStopper{calls: &calls})

	if err := svc.EmergencyStop(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want rig error", err)
	}
	if !reflect.DeepEqual(calls, []string{"jobs", "rig"}) {
		t.Fatalf("order = %v", calls)
	}
	if snap := svc.Snapshot(); !snap.BusConnected || len(snap.Relays) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
