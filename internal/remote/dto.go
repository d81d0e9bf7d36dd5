package remote

import (
	"time"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/course"

	"github.com/samber/lo"
)

type ControlPointDTO struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type MapDTO struct {
	ID            int64             `json:"id,omitempty"`
	UserID        int64             `json:"userId"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Location      string            `json:"location"`
	ControlPoints []ControlPointDTO `json:"controlPoints"`
	CreatedAt     time.Time         `json:"createdAt"`
}

type PathPointDTO struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type VisitedControlPointDTO struct {
	ControlPointName string    `json:"controlPointName"`
	Order            int       `json:"order"`
	VisitedAt        time.Time `json:"visitedAt"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
}

type ActivityDTO struct {
	ID                   int64                    `json:"id,omitempty"`
	UserID               int64                    `json:"userId"`
	MapID                int64                    `json:"mapId"`
	Title                string                   `json:"title"`
	StartTime            time.Time                `json:"startTime"`
	Duration             string                   `json:"duration"`
	Distance             float64                  `json:"distance"`
	PathData             []PathPointDTO           `json:"pathData"`
	CreatedAt            time.Time                `json:"createdAt"`
	Status               string                   `json:"status,omitempty"`
	VisitedControlPoints []VisitedControlPointDTO `json:"visitedControlPoints,omitempty"`
	TotalControlPoints   int                      `json:"totalControlPoints,omitempty"`
}

// MapToDTO drops the local id; the server assigns its own.
func MapToDTO(m course.Map) MapDTO {
	return MapDTO{
		UserID:      m.UserID,
		Name:        m.Name,
		Description: m.Description,
		Location:    m.Location,
		ControlPoints: lo.Map(m.ControlPoints, func(p course.ControlPoint, _ int) ControlPointDTO {
			return ControlPointDTO(p)
		}),
		CreatedAt: m.CreatedAt,
	}
}

// MapFromDTO returns the server copy of a map, marked as synced.
func MapFromDTO(d MapDTO) course.Map {
	return course.Map{
		ID:          d.ID,
		UserID:      d.UserID,
		Name:        d.Name,
		Description: d.Description,
		Location:    d.Location,
		ControlPoints: lo.Map(d.ControlPoints, func(p ControlPointDTO, _ int) course.ControlPoint {
			return course.ControlPoint(p)
		}),
		CreatedAt:        d.CreatedAt,
		SyncedWithServer: true,
	}
}

func ActivityToDTO(a activity.Activity) ActivityDTO {
	return ActivityDTO{
		UserID:    a.UserID,
		MapID:     a.MapID,
		Title:     a.Title,
		StartTime: a.StartTime,
		Duration:  a.Duration,
		Distance:  a.Distance,
		PathData: lo.Map(a.PathData, func(p activity.PathPoint, _ int) PathPointDTO {
			return PathPointDTO(p)
		}),
		CreatedAt: a.CreatedAt,
		Status:    string(a.Status),
		VisitedControlPoints: lo.Map(a.VisitedControlPoints, func(v activity.VisitedControlPoint, _ int) VisitedControlPointDTO {
			return VisitedControlPointDTO(v)
		}),
		TotalControlPoints: a.TotalControlPoints,
	}
}

// ActivityFromDTO returns the server copy of an activity, marked as synced.
// Run-completion fields are kept as sent; callers decide whether to trust them.
func ActivityFromDTO(d ActivityDTO) activity.Activity {
	return activity.Activity{
		ID:        d.ID,
		UserID:    d.UserID,
		MapID:     d.MapID,
		Title:     d.Title,
		StartTime: d.StartTime,
		Duration:  d.Duration,
		Distance:  d.Distance,
		PathData: lo.Map(d.PathData, func(p PathPointDTO, _ int) activity.PathPoint {
			return activity.PathPoint(p)
		}),
		CreatedAt: d.CreatedAt,
		Status:    activity.Status(d.Status),
		VisitedControlPoints: lo.Map(d.VisitedControlPoints, func(v VisitedControlPointDTO, _ int) activity.VisitedControlPoint {
			return activity.VisitedControlPoint(v)
		}),
		TotalControlPoints: d.TotalControlPoints,
		SyncedWithServer:   true,
	}
}
