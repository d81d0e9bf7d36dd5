// Package checkpoint decides which control points of a course a path visited.
//
// Control points must be visited strictly in order: a sample only ever counts
// towards the next unvisited control point, so passing control point 3 before
// control point 2 records nothing for 3.
package checkpoint

import (
	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/course"
	"backend-orienteering/internal/shared/geo"
)

// Target is a control point position the engine checks samples against.
type Target struct {
	Name      string
	Latitude  float64
	Longitude float64
}

func FromControlPoints(points []course.ControlPoint) []Target {
	out := make([]Target, 0, len(points))
	for _, p := range points {
		out = append(out, Target{Name: p.Name, Latitude: p.Latitude, Longitude: p.Longitude})
	}
	return out
}

// ComputeVisited replays path against targets from the first target. The path
// is sorted by timestamp first since callers do not all guarantee order.
// Malformed targets or a negative radius yield an empty result.
func ComputeVisited(path []activity.PathPoint, targets []Target, radiusMeters int) []activity.VisitedControlPoint {
	if len(path) == 0 || len(targets) == 0 {
		return []activity.VisitedControlPoint{}
	}
	progress := NewProgress(targets, radiusMeters)
	if progress.invalid {
		return []activity.VisitedControlPoint{}
	}
	for _, sample := range activity.SortedPath(path) {
		if progress.Done() {
			break
		}
		progress.Advance(sample)
	}
	return progress.Visited()
}

// IsCompleted reports whether every control point of a non-empty course was visited.
func IsCompleted(visited, total int) bool {
	return total > 0 && visited >= total
}

// Progress is the incremental form of ComputeVisited used during a live run.
// It is not safe for concurrent use.
type Progress struct {
	targets []Target
	radius  float64
	next    int
	visited []activity.VisitedControlPoint
	invalid bool
}

func NewProgress(targets []Target, radiusMeters int) *Progress {
	p := &Progress{
		targets: targets,
		radius:  float64(radiusMeters),
		visited: []activity.VisitedControlPoint{},
	}
	if radiusMeters < 0 {
		p.invalid = true
	}
	for _, t := range targets {
		if !geo.ValidCoordinate(t.Latitude, t.Longitude) {
			p.invalid = true
		}
	}
	return p
}

// Advance checks one sample against the next unvisited target. It returns the
// new visit and true when the sample reached it.
func (p *Progress) Advance(sample activity.PathPoint) (activity.VisitedControlPoint, bool) {
	if p.invalid || p.Done() || !geo.ValidCoordinate(sample.Latitude, sample.Longitude) {
		return activity.VisitedControlPoint{}, false
	}

	target := p.targets[p.next]
	if geo.DistanceMeters(sample.Latitude, sample.Longitude, target.Latitude, target.Longitude) > p.radius {
		return activity.VisitedControlPoint{}, false
	}

	visit := activity.VisitedControlPoint{
		ControlPointName: target.Name,
		Order:            p.next + 1,
		VisitedAt:        sample.Timestamp,
		Latitude:         target.Latitude,
		Longitude:        target.Longitude,
	}
	p.visited = append(p.visited, visit)
	p.next++
	return visit, true
}

// SetRadius changes the visit radius for samples still to come. Negative
// values are ignored.
func (p *Progress) SetRadius(radiusMeters int) {
	if radiusMeters >= 0 {
		p.radius = float64(radiusMeters)
	}
}

// NextIndex is the zero-based index of the next target to visit.
func (p *Progress) NextIndex() int { return p.next }

func (p *Progress) Total() int { return len(p.targets) }

// Done reports whether no target is left, which includes an empty course.
func (p *Progress) Done() bool { return p.next >= len(p.targets) }

func (p *Progress) Completed() bool { return IsCompleted(len(p.visited), len(p.targets)) }

// Visited returns a copy of the visits recorded so far.
func (p *Progress) Visited() []activity.VisitedControlPoint {
	out := make([]activity.VisitedControlPoint, len(p.visited))
	copy(out, p.visited)
	return out
}
