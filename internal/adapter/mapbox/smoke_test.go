//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// Hits the real Mapbox API and requires MAPBOX_TOKEN.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func TestSmoke_ReverseGeocode(t *testing.T) {
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	c := NewClient(token, 10*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())

	// Cubbon Park, Bengaluru.
	result, err := c.ReverseGeocode(context.Background(), 12.9763, 77.5929)
	require.NoError(t, err)

	assert.NotEmpty(t, result.PlaceName)
	assert.Contains(t, result.FormattedAddress, "Bengaluru")
	assert.Greater(t, result.Confidence, 0.0)
}
