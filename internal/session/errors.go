package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/mhdmirzan/pose-estimation/internal/media"
)

// ErrTimeout is reported when the cycle deadline elapses before the transport answers.
var ErrTimeout = errors.New("processing deadline exceeded")

// ValidationError is returned synchronously by a submit call whose input was
// rejected before any state change or network call.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid submission: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func validation(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

func timeoutMessage(kind media.Kind) string {
	if kind == media.Video {
		return "Processing timed out. Please try a shorter video."
	}
	return "Processing timed out. Please try again."
}

func failureMessage(kind media.Kind) string {
	if kind == media.Video {
		return "Error processing video. Please try again."
	}
	return "Error processing image. Please try again."
}

// isTimeout treats transport-level timeouts the same as the cycle deadline.
func isTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
