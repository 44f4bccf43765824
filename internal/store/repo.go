// Package store persists devices, raw samples, calibrated readings, hotspots
// and alerts with gorm. Production runs on PostgreSQL; tests use in-memory
// SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

const (
	// MaxFetch caps the rows a single reading query returns.
	MaxFetch       = 50_000
	insertBatch    = 500
	defaultTimeout = 10 * time.Second
)

// Repo is the gorm-backed store.
type Repo struct {
	db      *gorm.DB
	timeout time.Duration
}

// GormConfig returns the gorm configuration shared by all drivers: driver
// errors translated to gorm sentinels, warnings logged through slog.
func GormConfig(l *slog.Logger) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: logger.New(
			slog.NewLogLogger(l.Handler(), slog.LevelWarn),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	}
}

// OpenPostgres connects to PostgreSQL.
func OpenPostgres(dsn string, l *slog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), GormConfig(l))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// New migrates the schema and returns a Repo whose calls are each capped at
// timeout. A non-positive timeout uses 10s.
func New(db *gorm.DB, timeout time.Duration) (*Repo, error) {
	if err := db.AutoMigrate(&deviceRow{}, &rawSampleRow{}, &readingRow{}, &hotspotRow{}, &alertRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Repo{db: db, timeout: timeout}, nil
}

func (r *Repo) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return r.db.WithContext(ctx), cancel
}

// Ping checks the database connection.
func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- devices ---

// GetOrCreateDevice returns the device, registering it with neutral
// calibration on first sight.
func (r *Repo) GetOrCreateDevice(ctx context.Context, deviceID string) (domain.Device, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	row := deviceFromDomain(domain.NewDevice(deviceID))
	row.Name = "ESP32-" + shortID(deviceID)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return domain.Device{}, fmt.Errorf("register device %s: %w", deviceID, err)
	}
	var got deviceRow
	if err := db.First(&got, "device_id = ?", deviceID).Error; err != nil {
		return domain.Device{}, fmt.Errorf("get device %s: %w", deviceID, err)
	}
	return got.toDomain(), nil
}

// SaveDevice inserts or replaces a device's calibration and static location.
func (r *Repo) SaveDevice(ctx context.Context, d domain.Device) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	row := deviceFromDomain(d)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "dust_factor", "mq135_factor", "mq7_factor", "static_latitude", "static_longitude"}),
	}).Create(&row).Error
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- raw samples ---

// InsertRawSample stores a sample as unprocessed, assigning an id if empty.
func (r *Repo) InsertRawSample(ctx context.Context, s *domain.RawSample) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	db, cancel := r.conn(ctx)
	defer cancel()
	row := rawSampleFromDomain(*s)
	row.Processed = false
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert raw sample: %w", err)
	}
	return nil
}

// FetchUnprocessedSamples returns up to limit unprocessed samples, oldest first.
func (r *Repo) FetchUnprocessedSamples(ctx context.Context, limit int) ([]domain.RawSample, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var rows []rawSampleRow
	err := db.Where("processed = ?", false).
		Order("recorded_at ASC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed samples: %w", err)
	}
	out := make([]domain.RawSample, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// MarkProcessed flags samples as consumed.
func (r *Repo) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	db, cancel := r.conn(ctx)
	defer cancel()
	err := db.Model(&rawSampleRow{}).Where("id IN ?", ids).Update("processed", true).Error
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// --- readings ---

// InsertReading stores one reading. A second reading for the same raw sample
// returns domain.ErrDuplicateReading.
func (r *Repo) InsertReading(ctx context.Context, reading domain.CalibratedReading) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	row := readingFromDomain(reading)
	if err := db.Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return domain.ErrDuplicateReading
		}
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// BatchInsertReadings stores readings, skipping any whose raw sample already
// has one, and returns how many rows were written.
func (r *Repo) BatchInsertReadings(ctx context.Context, readings []domain.CalibratedReading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	db, cancel := r.conn(ctx)
	defer cancel()

	rows := make([]readingRow, len(readings))
	for i, reading := range readings {
		rows[i] = readingFromDomain(reading)
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, insertBatch)
	if res.Error != nil {
		return 0, fmt.Errorf("batch insert readings: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// FetchReadings returns readings recorded at or after since, oldest first,
// optionally for one device. At most MaxFetch rows are returned.
func (r *Repo) FetchReadings(ctx context.Context, since time.Time, deviceID string) ([]domain.CalibratedReading, error) {
	return r.listReadings(ctx, since, deviceID, MaxFetch, false)
}

// ListReadings returns the newest readings first, for the API.
func (r *Repo) ListReadings(ctx context.Context, since time.Time, deviceID string, limit int) ([]domain.CalibratedReading, error) {
	if limit <= 0 || limit > MaxFetch {
		limit = MaxFetch
	}
	return r.listReadings(ctx, since, deviceID, limit, true)
}

func (r *Repo) listReadings(ctx context.Context, since time.Time, deviceID string, limit int, desc bool) ([]domain.CalibratedReading, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	exprs := []clause.Expression{
		clause.Gte{Column: clause.Column{Name: "recorded_at"}, Value: since.UTC()},
	}
	if deviceID != "" {
		exprs = append(exprs, clause.Eq{Column: clause.Column{Name: "device_id"}, Value: deviceID})
	}
	order := clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "recorded_at"}, Desc: desc},
		{Column: clause.Column{Name: "id"}, Desc: desc},
	}}

	var rows []readingRow
	if err := db.Clauses(clause.Where{Exprs: exprs}, order).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch readings: %w", err)
	}
	out := make([]domain.CalibratedReading, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// --- hotspots ---

// FetchActiveHotspots returns every active hotspot.
func (r *Repo) FetchActiveHotspots(ctx context.Context) ([]domain.Hotspot, error) {
	return r.ListHotspots(ctx, true)
}

// ListHotspots returns hotspots ordered by peak AQI, highest first.
func (r *Repo) ListHotspots(ctx context.Context, activeOnly bool) ([]domain.Hotspot, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	q := db.Order("peak_aqi DESC").Order("id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rows []hotspotRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list hotspots: %w", err)
	}
	out := make([]domain.Hotspot, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// UpsertHotspot inserts the hotspot or overwrites the record with its id.
func (r *Repo) UpsertHotspot(ctx context.Context, h domain.Hotspot) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	row := hotspotFromDomain(h)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// ResolveHotspot marks a hotspot resolved at the given time.
func (r *Repo) ResolveHotspot(ctx context.Context, id string, at time.Time) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	return db.Model(&hotspotRow{}).Where("id = ?", id).Updates(map[string]any{
		"is_active":       false,
		"resolved_at":     at.UTC(),
		"last_updated_at": at.UTC(),
	}).Error
}

// --- alerts ---

// FetchActiveAlert returns the active, unacknowledged alert with the dedup
// key, or nil.
func (r *Repo) FetchActiveAlert(ctx context.Context, dedupKey string) (*domain.Alert, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var row alertRow
	err := db.Where("dedup_key = ? AND is_active = ? AND acknowledged = ?", dedupKey, true, false).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	a := row.toDomain()
	return &a, nil
}

// InsertAlert stores a new alert.
func (r *Repo) InsertAlert(ctx context.Context, a domain.Alert) error {
	db, cancel := r.conn(ctx)
	defer cancel()
	row := alertFromDomain(a)
	return db.Create(&row).Error
}

// AcknowledgeAlert flags an active, unacknowledged alert. It reports false
// when no such alert exists.
func (r *Repo) AcknowledgeAlert(ctx context.Context, id string) (bool, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	res := db.Model(&alertRow{}).
		Where("id = ? AND is_active = ? AND acknowledged = ?", id, true, false).
		Update("acknowledged", true)
	return res.RowsAffected > 0, res.Error
}

// ResolveAlert deactivates an active alert. It reports false when no such
// alert exists.
func (r *Repo) ResolveAlert(ctx context.Context, id string, at time.Time) (bool, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	res := db.Model(&alertRow{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{"is_active": false, "resolved_at": at.UTC()})
	return res.RowsAffected > 0, res.Error
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	ActiveOnly bool
	AlertType  string
	Limit      int
}

// ListAlerts returns alerts newest first.
func (r *Repo) ListAlerts(ctx context.Context, f AlertFilter) ([]domain.Alert, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	q := db.Order("created_at DESC").Order("id ASC")
	if f.ActiveOnly {
		q = q.Where("is_active = ? AND acknowledged = ?", true, false)
	}
	if f.AlertType != "" {
		q = q.Where("alert_type = ?", f.AlertType)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []alertRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	out := make([]domain.Alert, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// isDuplicate recognises unique violations. TranslateError maps them to
// gorm.ErrDuplicatedKey; the string match covers drivers that do not translate.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
