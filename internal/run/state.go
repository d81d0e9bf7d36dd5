package run

import (
	"errors"
	"time"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/checkpoint"
)

var (
	ErrNoCheckpoints = errors.New("run needs at least one checkpoint")
	ErrNotIdle       = errors.New("run already started")
	ErrNotActive     = errors.New("no active run")
)

type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseActive   Phase = "ACTIVE"
	PhaseFinished Phase = "FINISHED"
)

// RunState is a snapshot of a run. Errors from the location stream land in
// Error and never stop the run.
type RunState struct {
	Phase               Phase                          `json:"phase"`
	IsActive            bool                           `json:"is_active"`
	MapID               int64                          `json:"map_id"`
	MapName             string                         `json:"map_name"`
	StartTime           time.Time                      `json:"start_time"`
	EndTime             time.Time                      `json:"end_time,omitempty"`
	Elapsed             time.Duration                  `json:"elapsed"`
	Checkpoints         []checkpoint.Target            `json:"checkpoints"`
	VisitedIndices      []int                          `json:"visited_indices"`
	NextCheckpointIndex int                            `json:"next_checkpoint_index"`
	Visited             []activity.VisitedControlPoint `json:"visited"`
	PathData            []activity.PathPoint           `json:"path_data"`
	Distance            float64                        `json:"distance"`
	CurrentLocation     *activity.PathPoint            `json:"current_location,omitempty"`
	AutoFinished        bool                           `json:"auto_finished"`
	Error               string                         `json:"error,omitempty"`
}

func (s RunState) clone() RunState {
	out := s
	out.Checkpoints = append([]checkpoint.Target(nil), s.Checkpoints...)
	out.VisitedIndices = append([]int{}, s.VisitedIndices...)
	out.Visited = append([]activity.VisitedControlPoint{}, s.Visited...)
	out.PathData = append([]activity.PathPoint{}, s.PathData...)
	if s.CurrentLocation != nil {
		loc := *s.CurrentLocation
		out.CurrentLocation = &loc
	}
	return out
}

// Result is the frozen outcome of a finished run.
type Result struct {
	State          RunState        `json:"state"`
	DurationString string          `json:"duration"`
	IsCompleted    bool            `json:"is_completed"`
	Status         activity.Status `json:"status"`
}

func newResult(state RunState) Result {
	total := len(state.Checkpoints)
	return Result{
		State:          state,
		DurationString: activity.FormatDuration(state.Elapsed),
		IsCompleted:    checkpoint.IsCompleted(len(state.Visited), total),
		Status:         activity.StatusFor(len(state.Visited), total),
	}
}

// Activity converts the result into a local activity record. The id is left
// for the store to allocate.
func (r Result) Activity(userID int64, title string) activity.Activity {
	if title == "" {
		title = r.State.MapName
	}
	createdAt := r.State.EndTime
	if createdAt.IsZero() {
		createdAt = r.State.StartTime.Add(r.State.Elapsed)
	}
	return activity.Activity{
		UserID:               userID,
		MapID:                r.State.MapID,
		Title:                title,
		StartTime:            r.State.StartTime,
		Duration:             r.DurationString,
		Distance:             r.State.Distance,
		PathData:             append([]activity.PathPoint{}, r.State.PathData...),
		CreatedAt:            createdAt,
		Status:               r.Status,
		VisitedControlPoints: append([]activity.VisitedControlPoint{}, r.State.Visited...),
		TotalControlPoints:   len(r.State.Checkpoints),
	}
}
