package course

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ControlPoint is a saved control point. Its position in Map.ControlPoints is
// the visiting order.
type ControlPoint struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Checkpoint is the editor-time form of a control point, before the map is saved.
type Checkpoint struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Map is an orienteering map. ID < 0 means the map only exists locally.
type Map struct {
	ID               int64          `json:"id"`
	UserID           int64          `json:"user_id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Location         string         `json:"location"`
	ControlPoints    []ControlPoint `json:"control_points"`
	CreatedAt        time.Time      `json:"created_at"`
	SyncedWithServer bool           `json:"synced_with_server"`
}

func (m Map) RecordID() int64 { return m.ID }

func (m Map) Synced() bool { return m.SyncedWithServer }

func (m Map) Local() bool { return m.ID < 0 }

func NewCheckpoint(name string, lat, lng float64) Checkpoint {
	return Checkpoint{ID: uuid.NewString(), Name: name, Latitude: lat, Longitude: lng}
}

// AssignIDs gives every checkpoint without an id a fresh one and fails on
// duplicates.
func AssignIDs(checkpoints []Checkpoint) ([]Checkpoint, error) {
	out := make([]Checkpoint, 0, len(checkpoints))
	seen := make(map[string]struct{}, len(checkpoints))
	for _, cp := range checkpoints {
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if _, dup := seen[cp.ID]; dup {
			return nil, fmt.Errorf("duplicate checkpoint id %q", cp.ID)
		}
		seen[cp.ID] = struct{}{}
		out = append(out, cp)
	}
	return out, nil
}

// ToControlPoints converts editor checkpoints into control points, keeping list order.
// Control point ids are assigned by the server, so they start at zero.
func ToControlPoints(checkpoints []Checkpoint) []ControlPoint {
	out := make([]ControlPoint, 0, len(checkpoints))
	for _, cp := range checkpoints {
		out = append(out, ControlPoint{
			Name:      cp.Name,
			Latitude:  cp.Latitude,
			Longitude: cp.Longitude,
		})
	}
	return out
}

// ToCheckpoints is the inverse of ToControlPoints, used when a saved map is edited again.
func ToCheckpoints(points []ControlPoint) []Checkpoint {
	out := make([]Checkpoint, 0, len(points))
	for _, p := range points {
		out = append(out, NewCheckpoint(p.Name, p.Latitude, p.Longitude))
	}
	return out
}
