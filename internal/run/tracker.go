package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/checkpoint"
	"backend-orienteering/internal/location"
	"backend-orienteering/internal/log"
	"backend-orienteering/internal/settings"
	"backend-orienteering/internal/shared/geo"

	"go.uber.org/zap"
)

type Config struct {
	Source       location.Source
	Radius       settings.RadiusProvider
	Filter       location.FilterConfig
	Interval     time.Duration
	MinDistanceM float64
	TickEvery    time.Duration
	UserID       int64
	Feedback     FeedbackSink
	Notifier     NotificationSink
	Logger       *zap.Logger
	Now          func() time.Time
}

// radiusWatcher is implemented by settings sources that publish changes.
type radiusWatcher interface {
	Watch(ctx context.Context) <-chan int
}

// Tracker runs a single orienteering run: Idle, then Active, then Finished.
// All state changes happen under mu; the loop goroutine is the only consumer
// of the location subscription.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	phase    Phase
	state    RunState
	filter   *location.Filter
	progress *checkpoint.Progress
	sub      *location.Subscription
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Radius == nil {
		cfg.Radius = settings.Static(settings.AccuracyHigh.RadiusMeters())
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Feedback == nil {
		cfg.Feedback = nopFeedback{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:    cfg,
		logger: log.OrNop(cfg.Logger),
		phase:  PhaseIdle,
		filter: location.NewFilter(cfg.Filter),
		done:   make(chan struct{}),
	}
}

// Start begins consuming the location stream. It only succeeds once per
// tracker and never with an empty course.
func (t *Tracker) Start(ctx context.Context, targets []checkpoint.Target, mapID int64, mapName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != PhaseIdle {
		return ErrNotIdle
	}
	if len(targets) == 0 {
		t.state.Error = ErrNoCheckpoints.Error()
		return ErrNoCheckpoints
	}
	if t.cfg.Source == nil {
		return fmt.Errorf("start run: %w", location.ErrProviderDisabled)
	}

	radius := t.cfg.Radius.VisitRadius(ctx)
	runCtx, cancel := context.WithCancel(context.Background())
	sub, err := t.cfg.Source.Stream(runCtx, t.cfg.Interval, t.cfg.MinDistanceM)
	if err != nil {
		cancel()
		t.state.Error = err.Error()
		return fmt.Errorf("start run: %w", err)
	}

	t.filter.Reset()
	t.progress = checkpoint.NewProgress(targets, radius)
	t.sub = sub
	t.cancel = cancel
	t.phase = PhaseActive
	t.state = RunState{
		Phase:          PhaseActive,
		IsActive:       true,
		MapID:          mapID,
		MapName:        mapName,
		StartTime:      t.cfg.Now(),
		Checkpoints:    append([]checkpoint.Target(nil), targets...),
		VisitedIndices: []int{},
		Visited:        []activity.VisitedControlPoint{},
		PathData:       []activity.PathPoint{},
	}

	t.logger.Info("run started",
		zap.Int64("user_id", t.cfg.UserID),
		zap.Int64("map_id", mapID),
		zap.Int("checkpoints", len(targets)),
		zap.Int("radius_m", radius))

	var radii <-chan int
	if w, ok := t.cfg.Radius.(radiusWatcher); ok {
		radii = w.Watch(runCtx)
	}

	go t.loop(runCtx, sub, radii)
	return nil
}

// Stop finishes an active run and waits for the loop to exit. Stopping a run
// that already finished on its own returns the same result.
func (t *Tracker) Stop() (Result, error) {
	t.mu.Lock()
	stopped := false
	switch t.phase {
	case PhaseIdle:
		t.mu.Unlock()
		return Result{}, ErrNotActive
	case PhaseActive:
		t.finishLocked(false)
		stopped = true
	}
	completed := t.progress.Completed()
	t.mu.Unlock()

	<-t.done
	if stopped {
		t.cfg.Feedback.OnRunFinished(completed)
	}
	return t.Result()
}

// Result returns the outcome once the run has finished.
func (t *Tracker) Result() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != PhaseFinished {
		return Result{}, ErrNotActive
	}
	return newResult(t.state.clone()), nil
}

func (t *Tracker) State() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state.clone()
	s.Phase = t.phase
	if t.phase == PhaseActive {
		s.Elapsed = t.cfg.Now().Sub(s.StartTime)
	}
	return s
}

func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Done is closed when the run loop has exited after finishing.
func (t *Tracker) Done() <-chan struct{} { return t.done }

func (t *Tracker) loop(ctx context.Context, sub *location.Subscription, radii <-chan int) {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.TickEvery)
	defer ticker.Stop()

	samples, errs := sub.C, sub.Errors
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			t.handleSample(raw)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.handleStreamError(err)
		case r, ok := <-radii:
			if !ok {
				radii = nil
				continue
			}
			t.setRadius(r)
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Tracker) handleSample(raw location.RawLocation) {
	t.mu.Lock()
	if t.phase != PhaseActive {
		t.mu.Unlock()
		return
	}

	point, ok := t.filter.Accept(raw)
	if !ok {
		t.mu.Unlock()
		return
	}

	if n := len(t.state.PathData); n > 0 {
		last := t.state.PathData[n-1]
		t.state.Distance += geo.DistanceMeters(last.Latitude, last.Longitude, point.Latitude, point.Longitude)
	}
	t.state.PathData = append(t.state.PathData, point)
	current := point
	t.state.CurrentLocation = &current
	t.state.Error = ""

	visit, visited := t.progress.Advance(point)
	if visited {
		t.state.VisitedIndices = append(t.state.VisitedIndices, visit.Order-1)
		t.state.Visited = append(t.state.Visited, visit)
		t.state.NextCheckpointIndex = t.progress.NextIndex()
	}
	finished := visited && t.progress.Completed()
	if finished {
		t.state.AutoFinished = true
		t.finishLocked(true)
	}
	progress := t.progressLocked()
	t.mu.Unlock()

	if visited {
		t.cfg.Feedback.OnCheckpointVisited(visit)
	}
	if finished {
		t.cfg.Feedback.OnRunFinished(true)
		t.notify(progress)
	}
}

func (t *Tracker) setRadius(r int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != PhaseActive {
		return
	}
	t.progress.SetRadius(r)
}

func (t *Tracker) handleStreamError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != PhaseActive {
		return
	}
	t.state.Error = err.Error()
	t.logger.Warn("location stream error", zap.Int64("user_id", t.cfg.UserID), zap.Error(err))
}

func (t *Tracker) tick() {
	t.mu.Lock()
	if t.phase != PhaseActive {
		t.mu.Unlock()
		return
	}
	progress := t.progressLocked()
	t.mu.Unlock()
	t.notify(progress)
}

func (t *Tracker) notify(p Progress) {
	if err := t.cfg.Notifier.UpdateProgress(p); err != nil {
		t.logger.Debug("progress notification failed", zap.Error(err))
	}
}

func (t *Tracker) progressLocked() Progress {
	elapsed := t.state.Elapsed
	if t.phase == PhaseActive {
		elapsed = t.cfg.Now().Sub(t.state.StartTime)
	}
	return Progress{
		UserID:    t.cfg.UserID,
		MapID:     t.state.MapID,
		Elapsed:   elapsed,
		Duration:  activity.FormatDuration(elapsed),
		Visited:   len(t.state.Visited),
		Total:     len(t.state.Checkpoints),
		DistanceM: t.state.Distance,
		Finished:  t.phase == PhaseFinished,
	}
}

// finishLocked freezes the state and cancels the subscription and ticker.
// Samples already in flight are dropped by the phase check.
func (t *Tracker) finishLocked(auto bool) {
	end := t.cfg.Now()
	t.phase = PhaseFinished
	t.state.Phase = PhaseFinished
	t.state.IsActive = false
	t.state.EndTime = end
	t.state.Elapsed = end.Sub(t.state.StartTime)
	t.cancel()
	t.sub.Cancel()

	t.logger.Info("run finished",
		zap.Int64("user_id", t.cfg.UserID),
		zap.Bool("auto", auto),
		zap.Int("visited", len(t.state.Visited)),
		zap.Int("total", len(t.state.Checkpoints)),
		zap.Float64("distance_m", t.state.Distance))
}
