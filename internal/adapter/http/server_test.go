package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/http"
	"github.com/couchcryptid/air-quality-etl/internal/alert"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/hotspot"
	"github.com/couchcryptid/air-quality-etl/internal/interpolate"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
	"github.com/couchcryptid/air-quality-etl/internal/store"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type fakePipeline struct {
	ingested  []domain.RawSample
	outcome   string
	ingestErr error
	batch     pipeline.BatchResult
	batchErr  error
}

func (f *fakePipeline) Ingest(_ context.Context, raw domain.RawSample, source string) (pipeline.IngestResult, error) {
	if f.ingestErr != nil {
		return pipeline.IngestResult{}, f.ingestErr
	}
	f.ingested = append(f.ingested, raw)
	return pipeline.IngestResult{SampleID: "sample-1", Outcome: f.outcome}, nil
}

func (f *fakePipeline) ProcessBatch(context.Context) (pipeline.BatchResult, error) {
	return f.batch, f.batchErr
}

type fakeStore struct {
	readings    []domain.CalibratedReading
	hotspots    []domain.Hotspot
	alerts      []domain.Alert
	err         error
	since       time.Time
	deviceID    string
	limit       int
	activeOnly  bool
	alertFilter store.AlertFilter
}

func (f *fakeStore) FetchReadings(_ context.Context, since time.Time, deviceID string) ([]domain.CalibratedReading, error) {
	f.since, f.deviceID = since, deviceID
	return f.readings, f.err
}

func (f *fakeStore) ListReadings(_ context.Context, since time.Time, deviceID string, limit int) ([]domain.CalibratedReading, error) {
	f.since, f.deviceID, f.limit = since, deviceID, limit
	return f.readings, f.err
}

func (f *fakeStore) ListHotspots(_ context.Context, activeOnly bool) ([]domain.Hotspot, error) {
	f.activeOnly = activeOnly
	return f.hotspots, f.err
}

func (f *fakeStore) ListAlerts(_ context.Context, filter store.AlertFilter) ([]domain.Alert, error) {
	f.alertFilter = filter
	return f.alerts, f.err
}

type fakeDetector struct {
	lookback time.Duration
}

func (f *fakeDetector) Detect(_ context.Context, lookback time.Duration) (hotspot.Summary, error) {
	f.lookback = lookback
	return hotspot.Summary{Created: 1, Active: 1}, nil
}

type fakeAlerts struct {
	closeErr error
	closed   []string
}

func (f *fakeAlerts) EvaluateAlerts(context.Context) ([]domain.Alert, error) {
	return []domain.Alert{{ID: "a-1", AlertType: domain.AlertAQI}}, nil
}

func (f *fakeAlerts) Acknowledge(_ context.Context, id string) error {
	f.closed = append(f.closed, "ack:"+id)
	return f.closeErr
}

func (f *fakeAlerts) Resolve(_ context.Context, id string) error {
	f.closed = append(f.closed, "resolve:"+id)
	return f.closeErr
}

type fixture struct {
	srv      *httpadapter.Server
	pipeline *fakePipeline
	store    *fakeStore
	detector *fakeDetector
	alerts   *fakeAlerts
}

func newFixture(readyErr error) *fixture {
	f := &fixture{
		pipeline: &fakePipeline{outcome: pipeline.OutcomeProcessed},
		store:    &fakeStore{},
		detector: &fakeDetector{},
		alerts:   &fakeAlerts{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(testNow)
	maps := interpolate.NewBuilder(interpolate.DefaultOptions(), clock, logger)
	api := httpadapter.NewAPI(httpadapter.APIConfig{ReadingWindow: time.Hour, HotspotLookback: 24 * time.Hour, ZonePrecision: 3},
		f.pipeline, f.store, f.detector, f.alerts, maps, clock, logger)
	f.srv = httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, api, logger)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func sampleReading(lat, lon float64, aqi int) domain.CalibratedReading {
	return domain.CalibratedReading{DeviceID: "esp32-01", Latitude: lat, Longitude: lon, AQI: aqi, RecordedAt: testNow}
}

func TestHealthzReturns200(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := newFixture(fmt.Errorf("not ready yet")).do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIngest(t *testing.T) {
	f := newFixture(nil)
	rec := f.do(http.MethodPost, "/api/ingest", `{"device_id":"esp32-01","dust":40,"mq135":900,"mq7":180,"temperature":28,"humidity":60}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "processed", body["outcome"])
	assert.Equal(t, "sample-1", body["sample_id"])
	require.Len(t, f.pipeline.ingested, 1)
	assert.Equal(t, "esp32-01", f.pipeline.ingested[0].DeviceID)
}

func TestIngest_Deferred(t *testing.T) {
	f := newFixture(nil)
	f.pipeline.outcome = pipeline.OutcomeDeferred
	rec := f.do(http.MethodPost, "/api/ingest", `{"device_id":"esp32-01","dust":40}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestIngest_BadPayload(t *testing.T) {
	f := newFixture(nil)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/ingest", `{"dust":40}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/ingest", `nope`).Code)
	assert.Empty(t, f.pipeline.ingested)
}

func TestIngest_StoreFailure(t *testing.T) {
	f := newFixture(nil)
	f.pipeline.ingestErr = errors.New("connection refused")
	rec := f.do(http.MethodPost, "/api/ingest", `{"device_id":"esp32-01","dust":40}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProcess(t *testing.T) {
	f := newFixture(nil)
	f.pipeline.batch = pipeline.BatchResult{Processed: 7, Dropped: 1}

	rec := f.do(http.MethodPost, "/api/process", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 7, decode(t, rec)["processed"], 0)

	f.pipeline.batchErr = errors.New("timeout")
	rec = f.do(http.MethodPost, "/api/process", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.InDelta(t, 7, body["processed"], 0)
	assert.NotEmpty(t, body["error"])
}

func TestReadings(t *testing.T) {
	f := newFixture(nil)
	f.store.readings = []domain.CalibratedReading{sampleReading(12.97, 77.59, 80)}

	rec := f.do(http.MethodGet, "/api/readings?device_id=esp32-01&hours=2&limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, decode(t, rec)["count"], 0)
	assert.Equal(t, "esp32-01", f.store.deviceID)
	assert.Equal(t, 10, f.store.limit)
	assert.Equal(t, testNow.Add(-2*time.Hour), f.store.since)
}

func TestReadings_EmptyListIsArray(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/api/readings", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"readings":[]`)
}

func TestReadings_BadParams(t *testing.T) {
	f := newFixture(nil)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/readings?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/readings?hours=-1", "").Code)
	for _, h := range []string{"NaN", "Inf", "-Inf", "+Inf"} {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/readings?hours="+h, "").Code, "hours=%s", h)
	}
}

func TestReadings_HoursClampedToThirtyDays(t *testing.T) {
	for _, h := range []string{"721", "1e300"} {
		f := newFixture(nil)
		rec := f.do(http.MethodGet, "/api/readings?hours="+h, "")
		assert.Equal(t, http.StatusOK, rec.Code, "hours=%s", h)
		assert.Equal(t, testNow.Add(-30*24*time.Hour), f.store.since, "hours=%s", h)
	}
}

func TestZones(t *testing.T) {
	f := newFixture(nil)
	f.store.readings = []domain.CalibratedReading{
		sampleReading(12.9716, 77.5946, 160),
		sampleReading(12.9901, 77.6101, 40),
	}

	rec := f.do(http.MethodGet, "/api/zones?precision=3&score=aqi", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "aqi", body["score_type"])
	zones, ok := body["zones"].([]any)
	require.True(t, ok)
	assert.Len(t, zones, 2)
	assert.Equal(t, testNow.Add(-time.Hour), f.store.since)
}

func TestZones_BadParams(t *testing.T) {
	f := newFixture(nil)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/zones?precision=9", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/zones?score=loudness", "").Code)
}

func TestHeatmap_InsufficientData(t *testing.T) {
	f := newFixture(nil)
	f.store.readings = []domain.CalibratedReading{sampleReading(12.97, 77.59, 80)}

	rec := f.do(http.MethodGet, "/api/zones/heatmap", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "FeatureCollection", body["type"])
	meta, ok := body["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "insufficient data", meta["error"])
}

func TestPoints(t *testing.T) {
	f := newFixture(nil)
	f.store.readings = []domain.CalibratedReading{
		sampleReading(12.9716, 77.5946, 160),
		sampleReading(12.9901, 77.6101, 40),
	}

	rec := f.do(http.MethodGet, "/api/zones/points?field=aqi_value", "")
	require.Equal(t, http.StatusOK, rec.Code)
	features, ok := decode(t, rec)["features"].([]any)
	require.True(t, ok)
	assert.Len(t, features, 2)
}

func TestLayers_UnknownField(t *testing.T) {
	f := newFixture(nil)
	for _, path := range []string{"/api/zones/heatmap", "/api/zones/contours", "/api/zones/points"} {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, path+"?field=noise_db", "").Code, path)
	}
}

func TestHotspots(t *testing.T) {
	f := newFixture(nil)
	f.store.hotspots = []domain.Hotspot{{ID: "h-1", PeakAQI: 210, IsActive: true}}

	rec := f.do(http.MethodGet, "/api/hotspots", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.store.activeOnly)

	f.do(http.MethodGet, "/api/hotspots?active=false", "")
	assert.False(t, f.store.activeOnly)
}

func TestDetect(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/hotspots/detect", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 24*time.Hour, f.detector.lookback)
	assert.InDelta(t, 1, decode(t, rec)["created"], 0)

	f.do(http.MethodPost, "/api/hotspots/detect?hours=6", "")
	assert.Equal(t, 6*time.Hour, f.detector.lookback)
}

func TestAlerts(t *testing.T) {
	f := newFixture(nil)
	f.store.alerts = []domain.Alert{{ID: "a-1"}}

	rec := f.do(http.MethodGet, "/api/alerts?type=pm25&limit=20", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.AlertFilter{ActiveOnly: true, AlertType: "pm25", Limit: 20}, f.store.alertFilter)

	f.do(http.MethodGet, "/api/alerts?active=false", "")
	assert.False(t, f.store.alertFilter.ActiveOnly)
}

func TestAlerts_StoreFailure(t *testing.T) {
	f := newFixture(nil)
	f.store.err = errors.New("timeout")
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/alerts", "").Code)
}

func TestEvaluate(t *testing.T) {
	rec := newFixture(nil).do(http.MethodPost, "/api/alerts/evaluate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, decode(t, rec)["count"], 0)
}

func TestAcknowledgeAndResolve(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/alerts/a-1/ack", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acknowledged", decode(t, rec)["status"])

	rec = f.do(http.MethodPut, "/api/alerts/a-1/resolve", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ack:a-1", "resolve:a-1"}, f.alerts.closed)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodPost, "/api/alerts/a-1/resolve", "").Code)
}

func TestAcknowledge_NotFound(t *testing.T) {
	f := newFixture(nil)
	f.alerts.closeErr = alert.ErrNotFound
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/alerts/missing/ack", "").Code)

	f.alerts.closeErr = errors.New("timeout")
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPut, "/api/alerts/a-1/resolve", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/alerts", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()

	f.srv.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
