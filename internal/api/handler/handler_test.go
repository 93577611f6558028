package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteprobe/siteprobe-be/internal/api/domain"
	"github.com/siteprobe/siteprobe-be/internal/api/model"
	"github.com/siteprobe/siteprobe-be/internal/api/storage"
	"github.com/siteprobe/siteprobe-be/internal/liveview"
	"github.com/siteprobe/siteprobe-be/internal/queue"
	"github.com/siteprobe/siteprobe-be/internal/status"
)

type fakeProducer struct {
	enqueueErr error
	health     queue.QueueHealth
	handles    []*queue.JobHandle
}

func (f *fakeProducer) Enqueue(_ context.Context, payload *queue.JobPayload) (*queue.JobHandle, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	handle := &queue.JobHandle{ID: "job-1", Name: queue.JobNameURLScan, Payload: payload}
	f.handles = append(f.handles, handle)
	return handle, nil
}

func (f *fakeProducer) Health(context.Context) *queue.QueueHealth {
	return &f.health
}

type fakeBridge struct {
	scans map[string]*model.Scan
}

func (f *fakeBridge) GetStatus(_ context.Context, scanID string) (*model.Scan, error) {
	scan, ok := f.scans[scanID]
	if !ok {
		return nil, domain.ErrScanNotFound
	}
	return scan, nil
}

func (f *fakeBridge) Health(context.Context) *status.Health {
	return &status.Health{Database: "ok", Queue: &queue.QueueHealth{Reachable: true}}
}

type fakeLiveView struct {
	view *liveview.LiveView
	err  error
}

func (f *fakeLiveView) LiveViewURL(context.Context, string) (*liveview.LiveView, error) {
	return f.view, f.err
}

type fakeScanStore struct {
	createErr error
	created   []*model.Scan
	scans     []model.Scan
}

func (f *fakeScanStore) CreateScan(_ context.Context, scan *model.Scan) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, scan)
	return nil
}

func (f *fakeScanStore) ListScans(context.Context, storage.ScanFilter) ([]model.Scan, error) {
	return f.scans, nil
}

func newTestRouter(deps *Dependencies) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewScanHandler(deps)
	r := gin.New()
	r.POST("/api/v1/scans", h.CreateScan)
	r.GET("/api/v1/scans", h.ListScans)
	r.GET("/api/v1/scans/:scan_id", h.GetScan)
	r.GET("/api/v1/scans/:scan_id/live-view", h.GetLiveView)
	r.GET("/api/v1/queue/health", h.QueueHealth)
	r.POST("/api/v1/queue/test", h.QueueTest)
	return r
}

func defaultDeps() (*Dependencies, *fakeProducer, *fakeScanStore) {
	producer := &fakeProducer{}
	store := &fakeScanStore{}
	deps := &Dependencies{
		Logger:   slog.Default(),
		Producer: producer,
		Bridge:   &fakeBridge{scans: map[string]*model.Scan{}},
		LiveView: &fakeLiveView{err: liveview.ErrNotConfigured},
		Storage:  store,
	}
	return deps, producer, store
}

func TestCreateScan(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		deps, producer, store := defaultDeps()
		r := newTestRouter(deps)

		body := `{"scanId":"test-123","url":"https://example.com","isPublicScan":true}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "test-123", resp["scanId"])
		assert.Equal(t, domain.ScanStatusPending, resp["status"])

		require.Len(t, store.created, 1)
		assert.Equal(t, "test-123", store.created[0].ScanID)
		assert.Equal(t, "example.com", store.created[0].Domain)

		require.Len(t, producer.handles, 1)
		assert.Equal(t, "test-123", producer.handles[0].Payload.ScanID)
	})

	t.Run("assigns scan id when omitted", func(t *testing.T) {
		deps, producer, _ := defaultDeps()
		r := newTestRouter(deps)

		body := `{"url":"https://example.com"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, producer.handles, 1)
		assert.NotEmpty(t, producer.handles[0].Payload.ScanID)
	})

	t.Run("missing url is rejected", func(t *testing.T) {
		deps, producer, _ := defaultDeps()
		r := newTestRouter(deps)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, producer.handles)
	})

	t.Run("queue unavailable surfaces as try-again", func(t *testing.T) {
		deps, producer, _ := defaultDeps()
		producer.enqueueErr = queue.ErrQueueUnavailable
		r := newTestRouter(deps)

		body := `{"scanId":"test-123","url":"https://example.com"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "try again")
	})
}

func TestGetScan(t *testing.T) {
	deps, _, _ := defaultDeps()
	deps.Bridge = &fakeBridge{scans: map[string]*model.Scan{
		"scan-1": {
			ScanID:    "scan-1",
			URL:       "https://example.com",
			Domain:    "example.com",
			Status:    domain.ScanStatusCompleted,
			Critical:  1,
			Total:     1,
			CreatedAt: time.Now().UTC(),
		},
	}}
	r := newTestRouter(deps)

	t.Run("known scan", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scans/scan-1", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "scan-1", resp["scanId"])
		assert.Equal(t, domain.ScanStatusCompleted, resp["status"])

		counts := resp["counts"].(map[string]any)
		assert.Equal(t, float64(1), counts["critical"])
		assert.Equal(t, float64(1), counts["total"])
	})

	t.Run("unknown scan yields 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scans/unknown", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetLiveView(t *testing.T) {
	t.Run("unknown scan yields 404", func(t *testing.T) {
		deps, _, _ := defaultDeps()
		deps.LiveView = &fakeLiveView{err: domain.ErrScanNotFound}
		r := newTestRouter(deps)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scans/unknown/live-view", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing worker host yields 503", func(t *testing.T) {
		deps, _, _ := defaultDeps()
		deps.LiveView = &fakeLiveView{err: liveview.ErrNotConfigured}
		r := newTestRouter(deps)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scans/scan-1/live-view", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "not configured")
	})

	t.Run("configured worker host yields stream url", func(t *testing.T) {
		deps, _, _ := defaultDeps()
		deps.LiveView = &fakeLiveView{view: &liveview.LiveView{
			URL:    "https://worker.example:6080/vnc.html",
			Status: domain.ScanStatusRunning,
		}}
		r := newTestRouter(deps)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scans/scan-1/live-view", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "https://worker.example:6080/vnc.html", resp["url"])
		assert.Equal(t, domain.ScanStatusRunning, resp["status"])
	})
}

func TestQueueDiagnostics(t *testing.T) {
	t.Run("health reports broker state", func(t *testing.T) {
		deps, _, _ := defaultDeps()
		r := newTestRouter(deps)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/queue/health", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"reachable":true`)
	})

	t.Run("test endpoint echoes broker-assigned handle", func(t *testing.T) {
		deps, _, _ := defaultDeps()
		r := newTestRouter(deps)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/queue/test", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var handle queue.JobHandle
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &handle))
		assert.NotEmpty(t, handle.ID)
		assert.Equal(t, queue.JobNameURLScan, handle.Name)
		require.NotNil(t, handle.Payload)
		assert.Equal(t, "https://example.com", handle.Payload.URL)
		assert.Equal(t, "example.com", handle.Payload.Domain)
	})

	t.Run("test endpoint reports unavailable queue", func(t *testing.T) {
		deps, producer, _ := defaultDeps()
		producer.enqueueErr = queue.ErrQueueUnavailable
		r := newTestRouter(deps)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/queue/test", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
