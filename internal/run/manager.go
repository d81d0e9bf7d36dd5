package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/checkpoint"
	"backend-orienteering/internal/course"
	"backend-orienteering/internal/location"
	"backend-orienteering/internal/log"
	"backend-orienteering/internal/settings"

	"go.uber.org/zap"
)

type MapReader interface {
	Get(ctx context.Context, id int64) (course.Map, error)
}

type ActivityWriter interface {
	Create(ctx context.Context, a activity.Activity) (activity.Activity, error)
}

type ManagerConfig struct {
	Sources      *location.Registry
	Maps         MapReader
	Activities   ActivityWriter
	Radius       func(userID int64) settings.RadiusProvider
	Notifier     NotificationSink
	Filter       location.FilterConfig
	Interval     time.Duration
	MinDistanceM float64
	TickEvery    time.Duration
	Logger       *zap.Logger
}

// Manager keeps at most one run per user and persists every finished run as
// a local activity, whether it was stopped or finished by itself.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger

	mu   sync.Mutex
	runs map[int64]*entry
}

type entry struct {
	tracker *Tracker
	once    sync.Once
	saved   activity.Activity
	result  Result
	err     error
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Sources == nil {
		cfg.Sources = location.NewRegistry(16)
	}
	return &Manager{
		cfg:    cfg,
		logger: log.OrNop(cfg.Logger),
		runs:   map[int64]*entry{},
	}
}

// Start begins a run on one of the user's maps.
func (m *Manager) Start(ctx context.Context, userID, mapID int64) (RunState, error) {
	mp, err := m.cfg.Maps.Get(ctx, mapID)
	if err != nil {
		return RunState{}, err
	}
	if mp.UserID != userID {
		return RunState{}, course.ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.runs[userID]; ok && e.tracker.Phase() == PhaseActive {
		return RunState{}, ErrNotIdle
	}

	var radius settings.RadiusProvider
	if m.cfg.Radius != nil {
		radius = m.cfg.Radius(userID)
	}
	t := NewTracker(Config{
		Source:       m.cfg.Sources.For(userID),
		Radius:       radius,
		Filter:       m.cfg.Filter,
		Interval:     m.cfg.Interval,
		MinDistanceM: m.cfg.MinDistanceM,
		TickEvery:    m.cfg.TickEvery,
		UserID:       userID,
		Feedback:     LogFeedback{Logger: m.logger},
		Notifier:     m.cfg.Notifier,
		Logger:       m.logger,
	})
	if err := t.Start(ctx, checkpoint.FromControlPoints(mp.ControlPoints), mp.ID, mp.Name); err != nil {
		return RunState{}, err
	}

	e := &entry{tracker: t}
	m.runs[userID] = e
	go func() {
		<-t.Done()
		if t.State().AutoFinished {
			m.persist(context.Background(), userID, e)
		}
	}()
	return t.State(), nil
}

// Push feeds a raw fix to the user's running tracker and reports whether a
// subscriber took it.
func (m *Manager) Push(userID int64, raw location.RawLocation) bool {
	return m.cfg.Sources.For(userID).Push(raw) > 0
}

func (m *Manager) Current(userID int64) (RunState, bool) {
	m.mu.Lock()
	e, ok := m.runs[userID]
	m.mu.Unlock()
	if !ok {
		return RunState{}, false
	}
	return e.tracker.State(), true
}

// Stop finishes the user's run and returns the persisted activity.
func (m *Manager) Stop(ctx context.Context, userID int64) (activity.Activity, Result, error) {
	m.mu.Lock()
	e, ok := m.runs[userID]
	m.mu.Unlock()
	if !ok {
		return activity.Activity{}, Result{}, ErrNotActive
	}

	if _, err := e.tracker.Stop(); err != nil {
		return activity.Activity{}, Result{}, err
	}
	m.persist(ctx, userID, e)

	m.mu.Lock()
	if m.runs[userID] == e {
		delete(m.runs, userID)
	}
	m.mu.Unlock()
	return e.saved, e.result, e.err
}

func (m *Manager) persist(ctx context.Context, userID int64, e *entry) {
	e.once.Do(func() {
		res, err := e.tracker.Result()
		if err != nil {
			e.err = err
			return
		}
		e.result = res
		saved, err := m.cfg.Activities.Create(ctx, res.Activity(userID, res.State.MapName))
		if err != nil {
			e.err = fmt.Errorf("save activity: %w", err)
			m.logger.Error("saving run failed", zap.Int64("user_id", userID), zap.Error(err))
			return
		}
		e.saved = saved
		m.logger.Info("run saved",
			zap.Int64("user_id", userID),
			zap.Int64("activity_id", saved.ID),
			zap.String("status", string(saved.Status)))
	})
}
