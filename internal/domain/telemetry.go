package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeTelemetry parses a device transmission. The device id in the payload
// wins over fallbackDeviceID, which callers derive from the transport (for
// example the MQTT topic). A missing recorded_at is stamped with Now.
func DecodeTelemetry(data []byte, fallbackDeviceID string) (RawSample, error) {
	var s RawSample
	if err := json.Unmarshal(data, &s); err != nil {
		return RawSample{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	s.DeviceID = strings.TrimSpace(s.DeviceID)
	if s.DeviceID == "" {
		s.DeviceID = strings.TrimSpace(fallbackDeviceID)
	}
	if s.DeviceID == "" {
		return RawSample{}, fmt.Errorf("%w: device_id is required", ErrInvalidPayload)
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = Now()
	}
	s.RecordedAt = s.RecordedAt.UTC()
	// Ids and the processed flag are assigned server-side.
	s.ID = ""
	s.Processed = false
	return s, nil
}
