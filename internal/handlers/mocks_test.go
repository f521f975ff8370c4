package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"nutrient_mixer/internal/command"
	"nutrient_mixer/internal/job"
	"nutrient_mixer/internal/models"
	"nutrient_mixer/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(_ context.Context, username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(_ context.Context, username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockJobs struct {
	mu      sync.Mutex
	result  job.StartResult
	status  map[models.JobType]*models.Job
	stopErr error

	calls []string
}

func (m *mockJobs) StartFill(tankID, gallons int) job.StartResult {
	m.calls = append(m.calls, "fill")
	return m.result
}
func (m *mockJobs) StartMix(tankID int) job.StartResult {
	m.calls = append(m.calls, "mix")
	return m.result
}
func (m *mockJobs) StartSend(tankID, roomID, gallons int) job.StartResult {
	m.calls = append(m.calls, "send")
	return m.result
}
func (m *mockJobs) StopJob(_ context.Context, t models.JobType) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop "+string(t))
	if m.stopErr != nil {
		return models.Job{}, m.stopErr
	}
	j := m.status[t]
	if j == nil {
		return models.Job{}, job.ErrNoActiveJob
	}
	out := *j
	out.Status = models.JobStopped
	return out, nil
}
func (m *mockJobs) GetStatus(t models.JobType) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[t]
}
func (m *mockJobs) clear(t models.JobType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.status, t)
}
func (m *mockJobs) Active() []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Job
	for _, t := range models.JobTypes {
		if j := m.status[t]; j != nil {
			out = append(out, *j)
		}
	}
	return out
}

type mockCommands struct {
	err  error
	last string
}

func (m *mockCommands) Submit(line string) (command.Command, error) {
	m.last = line
	if m.err != nil {
		return nil, m.err
	}
	return command.Parse(line)
}

type mockMonitoring struct {
	snap    models.RigSnapshot
	stopErr error
	stops   int
}

func (m *mockMonitoring) Snapshot() models.RigSnapshot { return m.snap }
func (m *mockMonitoring) EmergencyStop(context.Context) error {
	m.stops++
	return m.stopErr
}

type mockCalibration struct {
	err   error
	calls []string
}

func (m *mockCalibration) CalibrateSensor(_ context.Context, probe, point string, value float64) error {
	m.calls = append(m.calls, fmt.Sprintf("%s %s %g", probe, point, value))
	return m.err
}
func (m *mockCalibration) CalibrateFlowMeter(id, ppg int) error {
	m.calls = append(m.calls, fmt.Sprintf("meter %d %d", id, ppg))
	return m.err
}

type mockHistory struct {
	resp []models.JobRecord
	err  error
	last service.HistoryFilter
}

func (m *mockHistory) List(_ context.Context, f service.HistoryFilter) ([]models.JobRecord, error) {
	m.last = f
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// doAuthed sends an authenticated request with an optional JSON body.
func doAuthed(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
