package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"nutrient_mixer/internal/models"
	"nutrient_mixer/internal/service"
)

func TestHistoryHandler_ListAndValidation(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	hist := &mockHistory{resp: []models.JobRecord{
		{ID: "j1", Type: models.JobFill, TankID: 1, Status: models.JobCompleted, Progress: 100, StartedAt: now},
	}}
	r := newTestRouter(&service.Service{Authorization: &mockAuth{parseID: 1}, History: hist})

	if w := doAuthed(r, http.MethodGet, "/api/v1/history?from=notatime", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid 'from', got %d", w.Code)
	}
	if w := doAuthed(r, http.MethodGet, "/api/v1/history?to=31-03-2026", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid 'to', got %d", w.Code)
	}

	w := doAuthed(r, http.MethodGet, "/api/v1/history?from=2026-03-01T09:00:00Z&to=2026-03-01&type=FILL", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}
	if !hist.last.From.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("from = %v", hist.last.From)
	}
	wantTo := time.Date(2026, 3, 1, 23, 59, 59, 999999999, time.UTC)
	if !hist.last.To.Equal(wantTo) {
		t.Fatalf("date-only 'to' = %v, want end of day", hist.last.To)
	}
	if hist.last.Type != "FILL" {
		t.Fatalf("type passed as %q", hist.last.Type)
	}
	var resp struct {
		Count int                `json:"count"`
		Jobs  []models.JobRecord `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.Jobs[0].ID != "j1" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestHistoryHandler_ServiceErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"inverted range", service.ErrInvalidTimeRange, http.StatusBadRequest},
		{"unknown type", service.ErrInvalidJobType, http.StatusBadRequest},
		{"storage", errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hist := &mockHistory{err: tc.err}
			r := newTestRouter(&service.Service{Authorization: &mockAuth{parseID: 1}, History: hist})
			if w := doAuthed(r, http.MethodGet, "/api/v1/history", ""); w.Code != tc.want {
				t.Fatalf("status=%d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestParseQueryTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-03-01T10:00:00+02:00", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), true},
		{"2026-03-01 10:00:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), true},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
	}
	for _, tc := range cases {
		got, err := parseQueryTime(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("%q: err = %v", tc.in, err)
		}
		if tc.ok && !got.Equal(tc.want) {
			t.Fatalf("%q: got %v, want %v", tc.in, got, tc.want)
		}
	}
}
