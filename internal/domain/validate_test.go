package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("accepts a plausible sample", func(t *testing.T) {
		s := testSample("raw-1")
		s.Pressure = Float(1008)
		s.GasResistance = Float(52000)
		assert.NoError(t, Validate(s))
	})

	t.Run("optional channels may be missing", func(t *testing.T) {
		s := RawSample{ID: "raw-1", Particulate: Float(10)}
		assert.NoError(t, Validate(s))
	})

	t.Run("missing particulate rejects", func(t *testing.T) {
		s := testSample("raw-1")
		s.Particulate = nil
		err := Validate(s)

		var rej *RejectionError
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, "raw-1", rej.SampleID)
		assert.Equal(t, []string{"raw_dust is missing"}, rej.Reasons)
	})

	t.Run("lists every violation in order", func(t *testing.T) {
		s := testSample("raw-1")
		s.Particulate = Float(0)
		s.Humidity = Float(2)
		s.Pressure = Float(1200)

		err := Validate(s)
		var rej *RejectionError
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, []string{
			"raw_dust=0 out of bounds [1, 500]",
			"humidity_pct=2 out of bounds [5, 100]",
			"pressure_hpa=1200 out of bounds [800, 1100]",
		}, rej.Reasons)
		assert.Contains(t, err.Error(), "sample raw-1 rejected")
	})

	t.Run("bounds are inclusive", func(t *testing.T) {
		s := RawSample{ID: "raw-1", Particulate: Float(500), GasADC1: Float(4095), Temperature: Float(-10)}
		assert.NoError(t, Validate(s))
	})
}
