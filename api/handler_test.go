package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SunilSharmaNP/ssm/config"
	"github.com/SunilSharmaNP/ssm/pipeline"
	"github.com/SunilSharmaNP/ssm/progress"
	"github.com/SunilSharmaNP/ssm/store"
)

type mockJobs struct {
	submitErr error
	lastReq   pipeline.Request
	jobs      map[string]pipeline.Job
	cancelled []string
}

func (m *mockJobs) Submit(req pipeline.Request, _ progress.Handle) (pipeline.Job, error) {
	if m.submitErr != nil {
		return pipeline.Job{}, m.submitErr
	}
	m.lastReq = req
	return pipeline.Job{ID: "job123", Status: pipeline.StatusQueued}, nil
}

func (m *mockJobs) Job(id string) (pipeline.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	return j, nil
}

func (m *mockJobs) Jobs() []pipeline.Job {
	out := make([]pipeline.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

func (m *mockJobs) CancelJob(id string) error {
	if _, ok := m.jobs[id]; !ok {
		return pipeline.ErrNotFound
	}
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *mockJobs) RequestCancel(string) pipeline.CancelSummary {
	return pipeline.CancelSummary{QueueCleared: 1, ProcessesTerminated: 1, FilesCleaned: 3}
}

func setupTestRouter(jobs *mockJobs, cfg *config.Config) (*gin.Engine, store.Store) {
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = &config.Config{AuthEnable: false}
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	settings := store.NewMemoryStore()
	return SetupRouter(jobs, settings, cfg, logrus.NewEntry(l)), settings
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleCreateJob(t *testing.T) {
	jobs := &mockJobs{}
	router, _ := setupTestRouter(jobs, nil)

	body := `{"userId": "u1", "inputs": [
		{"origin": "url", "ref": "https://example.com/a.mp4"},
		{"origin": "url", "ref": "https://example.com/b.mp4"}
	], "postEncode": true, "outputName": "movie.mkv"}`
	w := doJSON(router, "POST", "/api/v1/jobs", body)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job123", resp["jobId"])

	assert.Equal(t, "u1", jobs.lastReq.UserID)
	assert.Len(t, jobs.lastReq.Inputs, 2)
	assert.Equal(t, pipeline.SourceURL, jobs.lastReq.Inputs[0].Origin)
	assert.True(t, jobs.lastReq.PostEncode)
	assert.Equal(t, "movie.mkv", jobs.lastReq.OutputName)
}

func TestHandleCreateJobErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"no inputs", pipeline.ErrNoInputs, http.StatusBadRequest},
		{"bad mode", pipeline.ErrBadMode, http.StatusBadRequest},
		{"busy session", pipeline.ErrAlreadyRunning, http.StatusConflict},
		{"over cap", pipeline.ErrTooManyJobs, http.StatusTooManyRequests},
	}
	body := `{"userId": "u1", "inputs": [{"origin": "url", "ref": "https://example.com/a.mp4"}]}`

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, _ := setupTestRouter(&mockJobs{submitErr: tc.err}, nil)
			w := doJSON(router, "POST", "/api/v1/jobs", body)
			assert.Equal(t, tc.code, w.Code)
		})
	}

	t.Run("bad input origin", func(t *testing.T) {
		router, _ := setupTestRouter(&mockJobs{}, nil)
		w := doJSON(router, "POST", "/api/v1/jobs",
			`{"userId": "u1", "inputs": [{"origin": "ftp", "ref": "x"}]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing body fields", func(t *testing.T) {
		router, _ := setupTestRouter(&mockJobs{}, nil)
		w := doJSON(router, "POST", "/api/v1/jobs", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleGetJob(t *testing.T) {
	jobs := &mockJobs{jobs: map[string]pipeline.Job{
		"job123": {ID: "job123", Status: pipeline.StatusMerging},
	}}
	router, _ := setupTestRouter(jobs, nil)

	w := doJSON(router, "GET", "/api/v1/jobs/job123", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var job pipeline.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, pipeline.StatusMerging, job.Status)

	w = doJSON(router, "GET", "/api/v1/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCancelJob(t *testing.T) {
	jobs := &mockJobs{jobs: map[string]pipeline.Job{
		"job123": {ID: "job123", Status: pipeline.StatusMerging},
	}}
	router, _ := setupTestRouter(jobs, nil)

	w := doJSON(router, "POST", "/api/v1/jobs/job123/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"job123"}, jobs.cancelled)

	w = doJSON(router, "POST", "/api/v1/jobs/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCancelUser(t *testing.T) {
	router, _ := setupTestRouter(&mockJobs{}, nil)

	w := doJSON(router, "POST", "/api/v1/users/u1/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var sum pipeline.CancelSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.ProcessesTerminated)
	assert.Equal(t, 3, sum.FilesCleaned)
}

func TestHandleSettings(t *testing.T) {
	router, settings := setupTestRouter(&mockJobs{}, nil)

	w := doJSON(router, "GET", "/api/v1/users/u1/settings", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var s store.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, store.Preset720pH264, s.Preset)

	w = doJSON(router, "PATCH", "/api/v1/users/u1/settings",
		`{"preset": "1080p_hevc"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	stored, err := settings.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, store.Preset1080pHEVC, stored.Preset)

	w = doJSON(router, "PATCH", "/api/v1/users/u1/settings",
		`{"preset": "8k_av1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "PATCH", "/api/v1/users/u1/settings",
		`{"preset": "custom", "extra_flags": "-vf scale=640:480 | rm -rf /"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{AuthEnable: true, AuthKey: "sekret"}
	router, _ := setupTestRouter(&mockJobs{}, cfg)

	w := doJSON(router, "GET", "/api/v1/jobs", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing API key")

	req, _ := http.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Token sekret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "malformed Authorization header")

	req, _ = http.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "not recognized")

	req, _ = http.NewRequest("GET", "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open.
	req, _ = http.NewRequest("GET", "/health", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
