package domain

import (
	"errors"
	"strings"
)

// ErrDuplicateReading is returned by stores when a calibrated reading for the
// same raw sample already exists. Callers treat it as success.
var ErrDuplicateReading = errors.New("calibrated reading already exists")

// RejectionError reports a raw sample that failed validation. The sample is
// consumed and never retried.
type RejectionError struct {
	SampleID string
	Reasons  []string
}

func (e *RejectionError) Error() string {
	return "sample " + e.SampleID + " rejected: " + strings.Join(e.Reasons, "; ")
}

// IsRejection reports whether err is a validation rejection.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// ErrInvalidPayload wraps telemetry that could not be decoded into a RawSample.
var ErrInvalidPayload = errors.New("invalid telemetry payload")
