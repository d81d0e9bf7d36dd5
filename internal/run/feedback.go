package run

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/log"
	"backend-orienteering/internal/stream"

	"go.uber.org/zap"
)

// FeedbackSink receives fire-and-forget run events. Implementations must not block.
type FeedbackSink interface {
	OnCheckpointVisited(visit activity.VisitedControlPoint)
	OnRunFinished(completed bool)
}

// NotificationSink receives periodic progress. Errors are ignored by the tracker.
type NotificationSink interface {
	UpdateProgress(p Progress) error
}

type Progress struct {
	UserID    int64         `json:"user_id"`
	MapID     int64         `json:"map_id"`
	Elapsed   time.Duration `json:"elapsed"`
	Duration  string        `json:"duration"`
	Visited   int           `json:"visited"`
	Total     int           `json:"total"`
	DistanceM float64       `json:"distance_m"`
	Finished  bool          `json:"finished"`
}

type LogFeedback struct {
	Logger *zap.Logger
}

func (f LogFeedback) OnCheckpointVisited(v activity.VisitedControlPoint) {
	log.OrNop(f.Logger).Info("checkpoint visited",
		zap.String("control_point", v.ControlPointName),
		zap.Int("order", v.Order),
		zap.Time("visited_at", v.VisitedAt))
}

func (f LogFeedback) OnRunFinished(completed bool) {
	log.OrNop(f.Logger).Info("run finished", zap.Bool("completed", completed))
}

type nopFeedback struct{}

func (nopFeedback) OnCheckpointVisited(activity.VisitedControlPoint) {}
func (nopFeedback) OnRunFinished(bool)                               {}

type nopNotifier struct{}

func (nopNotifier) UpdateProgress(Progress) error { return nil }

// HubNotifier publishes progress as JSON to the user's websocket stream.
type HubNotifier struct {
	Hub     *stream.Hub
	Timeout time.Duration
}

func (n HubNotifier) UpdateProgress(p Progress) error {
	if n.Hub == nil {
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return n.Hub.Broadcast(ctx, strconv.FormatInt(p.UserID, 10), payload)
}
