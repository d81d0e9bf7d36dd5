package location

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrProviderDisabled = errors.New("location provider disabled")
)

// RawLocation is a fix as delivered by the platform provider.
type RawLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Source produces location fixes. Each call to Stream opens a new subscription.
type Source interface {
	Stream(ctx context.Context, interval time.Duration, minDistanceM float64) (*Subscription, error)
}

// Subscription delivers fixes in order on C. Recoverable provider errors are
// reported on Errors without closing C. Cancel is idempotent.
type Subscription struct {
	C      <-chan RawLocation
	Errors <-chan error
	cancel func()
}

func NewSubscription(c <-chan RawLocation, errs <-chan error, cancel func()) *Subscription {
	return &Subscription{C: c, Errors: errs, cancel: cancel}
}

func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}
