package activity

import (
	"fmt"
	"sort"
	"time"
)

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusAbandoned  Status = "ABANDONED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

type PathPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type VisitedControlPoint struct {
	ControlPointName string    `json:"control_point_name"`
	Order            int       `json:"order"`
	VisitedAt        time.Time `json:"visited_at"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
}

// Activity is a recorded run. ID < 0 means it only exists locally; MapID may
// also be negative when the map has not been synced yet.
type Activity struct {
	ID                   int64                 `json:"id"`
	UserID               int64                 `json:"user_id"`
	MapID                int64                 `json:"map_id"`
	Title                string                `json:"title"`
	StartTime            time.Time             `json:"start_time"`
	Duration             string                `json:"duration"`
	Distance             float64               `json:"distance"`
	PathData             []PathPoint           `json:"path_data"`
	CreatedAt            time.Time             `json:"created_at"`
	Status               Status                `json:"status"`
	VisitedControlPoints []VisitedControlPoint `json:"visited_control_points"`
	TotalControlPoints   int                   `json:"total_control_points"`
	SyncedWithServer     bool                  `json:"synced_with_server"`
}

func (a Activity) RecordID() int64 { return a.ID }

func (a Activity) Synced() bool { return a.SyncedWithServer }

func (a Activity) Local() bool { return a.ID < 0 }

// StatusFor returns COMPLETED only when every control point of a non-empty
// course was visited.
func StatusFor(visited, total int) Status {
	if total > 0 && visited >= total {
		return StatusCompleted
	}
	return StatusAbandoned
}

// FormatDuration renders d as H:MM:SS, or MM:SS when under an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// SortedPath returns a copy of path ordered by timestamp.
func SortedPath(path []PathPoint) []PathPoint {
	out := make([]PathPoint, len(path))
	copy(out, path)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
