package location

import (
	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/shared/geo"
)

type FilterConfig struct {
	MaxSpeedMps       float64 // implied speed above this is treated as a GPS jump
	MaxAccuracyMeters float64 // fixes with a larger accuracy radius are dropped
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxSpeedMps:       12.5,
		MaxAccuracyMeters: 30,
	}
}

// Filter drops low-quality and implausible fixes for a single run.
// It is not safe for concurrent use.
type Filter struct {
	cfg  FilterConfig
	last *RawLocation
}

func NewFilter(cfg FilterConfig) *Filter {
	def := DefaultFilterConfig()
	if cfg.MaxSpeedMps <= 0 {
		cfg.MaxSpeedMps = def.MaxSpeedMps
	}
	if cfg.MaxAccuracyMeters <= 0 {
		cfg.MaxAccuracyMeters = def.MaxAccuracyMeters
	}
	return &Filter{cfg: cfg}
}

func (f *Filter) Reset() {
	f.last = nil
}

// Accept returns the path point for raw and true when the fix passes the filter.
func (f *Filter) Accept(raw RawLocation) (activity.PathPoint, bool) {
	if !geo.ValidCoordinate(raw.Latitude, raw.Longitude) || raw.Timestamp.IsZero() {
		return activity.PathPoint{}, false
	}
	if raw.Accuracy < 0 || raw.Accuracy > f.cfg.MaxAccuracyMeters {
		return activity.PathPoint{}, false
	}

	if f.last != nil {
		dt := raw.Timestamp.Sub(f.last.Timestamp).Seconds()
		if dt <= 0 {
			return activity.PathPoint{}, false
		}
		d := geo.DistanceMeters(f.last.Latitude, f.last.Longitude, raw.Latitude, raw.Longitude)
		if d/dt > f.cfg.MaxSpeedMps {
			return activity.PathPoint{}, false
		}
	}

	accepted := raw
	f.last = &accepted
	return activity.PathPoint{
		Latitude:  raw.Latitude,
		Longitude: raw.Longitude,
		Timestamp: raw.Timestamp,
	}, true
}
