package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
	"github.com/ternarybob/orderflow/internal/services/export"
)

type fakeController struct {
	startErr error
	stopErr  error
	status   export.Status
	startCtx context.Context
}

func (f *fakeController) Start(ctx context.Context) error {
	f.startCtx = ctx
	if f.startErr == nil {
		f.status = export.Status{State: export.StateRunning, RunID: "run_1"}
	}
	return f.startErr
}

func (f *fakeController) RequestStop() error { return f.stopErr }

func (f *fakeController) Status() export.Status { return f.status }

type memoryRuns struct {
	runs map[string]*models.ExportRun
}

func (m *memoryRuns) SaveRun(ctx context.Context, run *models.ExportRun) error {
	m.runs[run.ID] = run
	return nil
}

func (m *memoryRuns) GetRun(ctx context.Context, id string) (*models.ExportRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, interfaces.ErrRunNotFound
	}
	return run, nil
}

func (m *memoryRuns) ListRuns(ctx context.Context, limit int) ([]*models.ExportRun, error) {
	runs := make([]*models.ExportRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *memoryRuns) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	return nil
}

func (m *memoryRuns) LoadCheckpoint(ctx context.Context, runID string) (*models.Checkpoint, error) {
	return nil, interfaces.ErrRunNotFound
}

func (m *memoryRuns) DeleteCheckpoint(ctx context.Context, runID string) error { return nil }

type appCtxKey struct{}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestExportHandler_Start(t *testing.T) {
	appCtx := context.WithValue(context.Background(), appCtxKey{}, "app")

	tests := []struct {
		name       string
		method     string
		startErr   error
		wantStatus int
	}{
		{name: "started", method: http.MethodPost, wantStatus: http.StatusOK},
		{name: "already running", method: http.MethodPost, startErr: export.ErrAlreadyRunning, wantStatus: http.StatusConflict},
		{name: "failure", method: http.MethodPost, startErr: errors.New("browser gone"), wantStatus: http.StatusInternalServerError},
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller := &fakeController{startErr: tt.startErr}
			handler := NewExportHandler(appCtx, controller, nil, nil, arbor.NewLogger())

			rec := httptest.NewRecorder()
			handler.StartHandler(rec, httptest.NewRequest(tt.method, "/api/export/start", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.wantStatus == http.StatusOK {
				body := decodeBody(t, rec)
				assert.Equal(t, "started", body["status"])
				assert.Equal(t, "run_1", body["run_id"])
				snapshot, ok := body["export"].(map[string]interface{})
				require.True(t, ok, "start answers with the session snapshot")
				assert.Equal(t, string(export.StateRunning), snapshot["state"])
				require.NotNil(t, controller.startCtx)
				assert.Equal(t, "app", controller.startCtx.Value(appCtxKey{}), "runs are bound to the app context, not the request")
			} else {
				body := decodeBody(t, rec)
				assert.Equal(t, "error", body["status"])
				assert.NotEmpty(t, body["error"])
			}
			if tt.wantStatus == http.StatusMethodNotAllowed {
				assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
			}
		})
	}
}

func TestExportHandler_Stop(t *testing.T) {
	tests := []struct {
		name       string
		stopErr    error
		wantStatus int
	}{
		{name: "stopping", wantStatus: http.StatusOK},
		{name: "not running", stopErr: export.ErrNotRunning, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller := &fakeController{stopErr: tt.stopErr, status: export.Status{State: export.StateStopping, RunID: "run_2"}}
			handler := NewExportHandler(context.Background(), controller, nil, nil, arbor.NewLogger())

			rec := httptest.NewRecorder()
			handler.StopHandler(rec, httptest.NewRequest(http.MethodPost, "/api/export/stop", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decodeBody(t, rec)
			if tt.stopErr != nil {
				assert.Equal(t, "error", body["status"])
				assert.Equal(t, tt.stopErr.Error(), body["error"])
				return
			}
			assert.Equal(t, "stopping", body["status"])
			assert.Equal(t, "run_2", body["run_id"])
			snapshot, ok := body["export"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, string(export.StateStopping), snapshot["state"])
		})
	}
}

func TestExportHandler_Status(t *testing.T) {
	controller := &fakeController{status: export.Status{State: export.StateRunning, RunID: "run_9", Page: 3, Records: 40}}
	handler := NewExportHandler(context.Background(), controller, nil, nil, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/export/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	status, ok := body["export"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "run_9", status["run_id"])
	assert.NotContains(t, body, "schedule")
}

func TestExportHandler_Runs(t *testing.T) {
	finished := time.Now()
	runs := &memoryRuns{runs: map[string]*models.ExportRun{
		"run_1": {ID: "run_1", Outcome: models.OutcomeCompleted, Records: 10, FinishedAt: &finished},
	}}
	handler := NewExportHandler(context.Background(), &fakeController{}, runs, nil, arbor.NewLogger())

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ListRunsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/export/runs?limit=5", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, decodeBody(t, rec)["count"])
	})

	t.Run("get", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.GetRunHandler(rec, httptest.NewRequest(http.MethodGet, "/api/export/runs/run_1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "completed", decodeBody(t, rec)["outcome"])
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.GetRunHandler(rec, httptest.NewRequest(http.MethodGet, "/api/export/runs/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("history disabled", func(t *testing.T) {
		disabled := NewExportHandler(context.Background(), &fakeController{}, nil, nil, arbor.NewLogger())
		rec := httptest.NewRecorder()
		disabled.ListRunsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/export/runs", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
