package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatabaseDSN  string
	StoreTimeout time.Duration

	SweepInterval  time.Duration
	SweepBatchSize int

	// Coordinate used for readings from devices without a GPS fix.
	DefaultLatitude  float64
	DefaultLongitude float64

	HotspotSchedule string
	HotspotLookback time.Duration
	AlertWindow     time.Duration
	ZonePrecision   int

	MQTTBrokerURL string
	MQTTTopic     string

	KafkaBrokers    []string
	KafkaAlertTopic string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	storeTimeout, err := parseDuration("STORE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	sweepInterval, err := parseDuration("SWEEP_INTERVAL", "25s")
	if err != nil {
		return nil, err
	}
	hotspotLookback, err := parseDuration("HOTSPOT_LOOKBACK", "24h")
	if err != nil {
		return nil, err
	}
	alertWindow, err := parseDuration("ALERT_WINDOW", "1h")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	sweepBatchSize, err := parseIntInRange("SWEEP_BATCH_SIZE", 1000, 1, 5000)
	if err != nil {
		return nil, err
	}
	zonePrecision, err := parseIntInRange("ZONE_PRECISION", 3, 1, 5)
	if err != nil {
		return nil, err
	}

	lat, err := parseFloatInRange("DEFAULT_LATITUDE", 12.9716, -90, 90)
	if err != nil {
		return nil, err
	}
	lon, err := parseFloatInRange("DEFAULT_LONGITUDE", 77.5946, -180, 180)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatabaseDSN:  os.Getenv("DATABASE_DSN"),
		StoreTimeout: storeTimeout,

		SweepInterval:  sweepInterval,
		SweepBatchSize: sweepBatchSize,

		DefaultLatitude:  lat,
		DefaultLongitude: lon,

		HotspotSchedule: sharedcfg.EnvOrDefault("HOTSPOT_SCHEDULE", "@every 5m"),
		HotspotLookback: hotspotLookback,
		AlertWindow:     alertWindow,
		ZonePrecision:   zonePrecision,

		MQTTBrokerURL: os.Getenv("MQTT_BROKER_URL"),
		MQTTTopic:     sharedcfg.EnvOrDefault("MQTT_TOPIC", "airq/devices/+/telemetry"),

		KafkaBrokers:    sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaAlertTopic: sharedcfg.EnvOrDefault("KAFKA_ALERT_TOPIC", "air-quality-alerts"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	if cfg.DatabaseDSN == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaAlertTopic == "" {
		return nil, errors.New("KAFKA_ALERT_TOPIC is required when KAFKA_BROKERS is set")
	}
	if cfg.MQTTBrokerURL != "" && cfg.MQTTTopic == "" {
		return nil, errors.New("MQTT_TOPIC is required when MQTT_BROKER_URL is set")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// MQTTEnabled reports whether device telemetry should be consumed over MQTT.
func (c *Config) MQTTEnabled() bool { return c.MQTTBrokerURL != "" }

// KafkaEnabled reports whether alert and hotspot events are published.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseIntInRange(key string, fallback, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parseFloatInRange(key string, fallback, lo, hi float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < lo || f > hi {
		return 0, fmt.Errorf("invalid %s: must be a number between %g and %g", key, lo, hi)
	}
	return f, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
