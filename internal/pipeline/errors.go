package pipeline

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned when no speech-to-text backend is configured
var ErrModelUnavailable = errors.New("speech recognition model unavailable")

// Error is a failed pipeline stage
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
