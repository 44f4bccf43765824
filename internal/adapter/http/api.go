package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/alert"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/hotspot"
	"github.com/couchcryptid/air-quality-etl/internal/interpolate"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
	"github.com/couchcryptid/air-quality-etl/internal/store"
	"github.com/couchcryptid/air-quality-etl/internal/zone"
)

const (
	sourceHTTP      = "http"
	maxPayloadBytes = 64 << 10
	maxWindow       = 30 * 24 * time.Hour
	defaultLimit    = 500
	maxLimit        = 5000
)

// Pipeline is the processing entry point.
type Pipeline interface {
	Ingest(ctx context.Context, raw domain.RawSample, source string) (pipeline.IngestResult, error)
	ProcessBatch(ctx context.Context) (pipeline.BatchResult, error)
}

// Store is the read side the API serves from.
type Store interface {
	FetchReadings(ctx context.Context, since time.Time, deviceID string) ([]domain.CalibratedReading, error)
	ListReadings(ctx context.Context, since time.Time, deviceID string, limit int) ([]domain.CalibratedReading, error)
	ListHotspots(ctx context.Context, activeOnly bool) ([]domain.Hotspot, error)
	ListAlerts(ctx context.Context, f store.AlertFilter) ([]domain.Alert, error)
}

// Detector runs hotspot detection on demand.
type Detector interface {
	Detect(ctx context.Context, lookback time.Duration) (hotspot.Summary, error)
}

// Alerts evaluates and closes alerts on demand.
type Alerts interface {
	EvaluateAlerts(ctx context.Context) ([]domain.Alert, error)
	Acknowledge(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string) error
}

// APIConfig holds request defaults.
type APIConfig struct {
	ReadingWindow   time.Duration // default window of readings and map layers
	HotspotLookback time.Duration
	ZonePrecision   int
}

// API serves the /api routes.
type API struct {
	cfg      APIConfig
	pipeline Pipeline
	store    Store
	detector Detector
	alerts   Alerts
	maps     *interpolate.Builder
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewAPI wires the handlers to their collaborators.
func NewAPI(cfg APIConfig, p Pipeline, s Store, d Detector, a Alerts, maps *interpolate.Builder, clock clockwork.Clock, logger *slog.Logger) *API {
	if cfg.ReadingWindow <= 0 {
		cfg.ReadingWindow = time.Hour
	}
	if cfg.HotspotLookback <= 0 {
		cfg.HotspotLookback = 24 * time.Hour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &API{cfg: cfg, pipeline: p, store: s, detector: d, alerts: a, maps: maps, clock: clock, logger: logger}
}

// RegisterRoutes mounts the handlers on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/ingest", a.handleIngest)
	r.Post("/process", a.handleProcess)
	r.Get("/readings", a.handleReadings)

	r.Get("/zones", a.handleZones)
	r.Get("/zones/heatmap", a.handleLayer(a.maps.Heatmap))
	r.Get("/zones/contours", a.handleLayer(a.maps.Contours))
	r.Get("/zones/points", a.handleLayer(a.maps.Points))

	r.Get("/hotspots", a.handleHotspots)
	r.Post("/hotspots/detect", a.handleDetect)

	r.Get("/alerts", a.handleAlerts)
	r.Post("/alerts/evaluate", a.handleEvaluate)
	r.Post("/alerts/{id}/ack", a.handleAcknowledge)
	r.Put("/alerts/{id}/resolve", a.handleResolve)
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	raw, err := domain.DecodeTelemetry(body, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.pipeline.Ingest(r.Context(), raw, sourceHTTP)
	if err != nil {
		a.logger.Error("ingest failed", "device_id", raw.DeviceID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "could not store sample")
		return
	}
	status := http.StatusOK
	if res.Outcome == pipeline.OutcomeDeferred {
		status = http.StatusAccepted
	}
	sharedobs.WriteJSON(w, status, res)
}

func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	res, err := a.pipeline.ProcessBatch(r.Context())
	if err != nil {
		a.logger.Error("on-demand sweep failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"processed": res.Processed,
			"dropped":   res.Dropped,
			"error":     "sweep interrupted by a store failure",
		})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, res)
}

func (a *API) handleReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := a.since(q.Get("hours"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	readings, err := a.store.ListReadings(r.Context(), since, strings.TrimSpace(q.Get("device_id")), limit)
	if err != nil {
		a.storeFailure(w, "list readings", err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"count": len(readings), "readings": nonNil(readings)})
}

func (a *API) handleZones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	precision := a.cfg.ZonePrecision
	if v := q.Get("precision"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < zone.MinPrecision || p > zone.MaxPrecision {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("precision must be between %d and %d", zone.MinPrecision, zone.MaxPrecision))
			return
		}
		precision = p
	}
	scoreType, err := zone.ParseScoreType(q.Get("score"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	readings, ok := a.windowReadings(w, r)
	if !ok {
		return
	}
	zones := zone.Cluster(readings, precision, scoreType)
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
		"precision":     precision,
		"score_type":    scoreType,
		"reading_count": len(readings),
		"zones":         zones,
	})
}

type layerFunc func([]domain.CalibratedReading, string) (interpolate.FeatureCollection, error)

// handleLayer serves one GeoJSON layer. The field defaults to the AQI.
func (a *API) handleLayer(build layerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		field := r.URL.Query().Get("field")
		if field == "" {
			field = domain.FieldAQI
		}
		if !domain.ValidField(field) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown field %q", field))
			return
		}
		readings, ok := a.windowReadings(w, r)
		if !ok {
			return
		}
		fc, err := build(readings, field)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, fc)
	}
}

func (a *API) handleHotspots(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != "false"
	hotspots, err := a.store.ListHotspots(r.Context(), activeOnly)
	if err != nil {
		a.storeFailure(w, "list hotspots", err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"count": len(hotspots), "hotspots": nonNil(hotspots)})
}

func (a *API) handleDetect(w http.ResponseWriter, r *http.Request) {
	lookback := a.cfg.HotspotLookback
	if v := r.URL.Query().Get("hours"); v != "" {
		d, err := parseHours(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		lookback = d
	}
	summary, err := a.detector.Detect(r.Context(), lookback)
	if err != nil {
		a.logger.Error("on-demand hotspot detection failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"summary": summary, "error": "hotspot detection failed"})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, summary)
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := store.AlertFilter{
		ActiveOnly: q.Get("active") != "false",
		AlertType:  q.Get("type"),
		Limit:      limit,
	}
	alerts, err := a.store.ListAlerts(r.Context(), f)
	if err != nil {
		a.storeFailure(w, "list alerts", err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"count": len(alerts), "alerts": nonNil(alerts)})
}

func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	fired, err := a.alerts.EvaluateAlerts(r.Context())
	if err != nil {
		a.logger.Error("on-demand alert evaluation failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"fired": nonNil(fired), "error": "alert evaluation incomplete",
		})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"count": len(fired), "fired": nonNil(fired)})
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	a.closeAlert(w, r, "acknowledged", a.alerts.Acknowledge)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	a.closeAlert(w, r, "resolved", a.alerts.Resolve)
}

func (a *API) closeAlert(w http.ResponseWriter, r *http.Request, status string, op func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	err := op(r.Context(), id)
	switch {
	case errors.Is(err, alert.ErrNotFound):
		writeError(w, http.StatusNotFound, "alert not found or already closed")
	case err != nil:
		a.storeFailure(w, status+" alert", err)
	default:
		sharedobs.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": status})
	}
}

// windowReadings loads readings of the ?hours window, writing the error
// response itself when it fails.
func (a *API) windowReadings(w http.ResponseWriter, r *http.Request) ([]domain.CalibratedReading, bool) {
	since, err := a.since(r.URL.Query().Get("hours"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	readings, err := a.store.FetchReadings(r.Context(), since, strings.TrimSpace(r.URL.Query().Get("device_id")))
	if err != nil {
		a.storeFailure(w, "fetch readings", err)
		return nil, false
	}
	return readings, true
}

func (a *API) since(hours string) (time.Time, error) {
	window := a.cfg.ReadingWindow
	if hours != "" {
		d, err := parseHours(hours)
		if err != nil {
			return time.Time{}, err
		}
		window = d
	}
	return a.clock.Now().UTC().Add(-window), nil
}

func (a *API) storeFailure(w http.ResponseWriter, op string, err error) {
	a.logger.Error("store request failed", "op", op, "error", err)
	writeError(w, http.StatusServiceUnavailable, "storage unavailable")
}

func parseHours(v string) (time.Duration, error) {
	h, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 {
		return 0, errors.New("hours must be a positive number")
	}
	// Clamp before converting; large floats overflow time.Duration.
	h = math.Min(h, maxWindow.Hours())
	return time.Duration(h * float64(time.Hour)), nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}

// nonNil keeps empty lists encoding as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
