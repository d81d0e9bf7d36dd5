package sync

import (
	"context"
	"errors"
	"fmt"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/checkpoint"
	"backend-orienteering/internal/course"
	"backend-orienteering/internal/log"
	"backend-orienteering/internal/settings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
)

const (
	EntityMaps       = "maps"
	EntityActivities = "activities"
)

type MapStore interface {
	Local[course.Map]
}

type Config struct {
	Maps             MapStore
	Activities       ActivityStore
	RemoteMaps       Remote[course.Map]
	RemoteActivities Remote[activity.Activity]
	// Radius supplies the visit radius used when run data is recomputed.
	Radius func(userID int64) settings.RadiusProvider
	Logger *zap.Logger
}

// Service wires map and activity sync together.
type Service struct {
	cfg        Config
	logger     *zap.Logger
	maps       *Coordinator[course.Map]
	activities *Coordinator[activity.Activity]
	resolver   *DependencyResolver
}

type Result struct {
	Maps       Report `json:"maps"`
	Activities Report `json:"activities"`
}

func NewService(cfg Config) *Service {
	logger := log.OrNop(cfg.Logger)
	if cfg.Radius == nil {
		cfg.Radius = func(int64) settings.RadiusProvider {
			return settings.Static(settings.AccuracyHigh.RadiusMeters())
		}
	}
	s := &Service{cfg: cfg, logger: logger}

	s.resolver = NewDependencyResolver(cfg.Maps, cfg.Activities, logger)
	s.maps = NewMapSync(cfg.Maps, cfg.RemoteMaps, s.resolver, logger)
	s.resolver.Bind(s.maps)
	s.activities = NewActivitySync(cfg.Activities, cfg.RemoteActivities, s.resolver, s.mergeActivity, logger)
	return s
}

func markMapSynced(m course.Map) course.Map {
	m.SyncedWithServer = true
	return m
}

func markActivitySynced(a activity.Activity) activity.Activity {
	a.SyncedWithServer = true
	return a
}

// NewMapSync builds the map coordinator. Replaced map ids are propagated to
// local activities through the resolver.
func NewMapSync(local Local[course.Map], remote Remote[course.Map], resolver *DependencyResolver, logger *zap.Logger) *Coordinator[course.Map] {
	opts := []Option[course.Map]{WithLogger[course.Map](logger)}
	if resolver != nil {
		opts = append(opts, WithReplaced[course.Map](resolver.MapReplaced))
	}
	return NewCoordinator[course.Map](EntityMaps, local, remote, markMapSynced, course.ErrNotFound, opts...)
}

// NewActivitySync builds the activity coordinator. Activities resolve their
// map before upload; merge decides how downloaded run data is kept.
func NewActivitySync(local Local[activity.Activity], remote Remote[activity.Activity], resolver *DependencyResolver, merge MergeFunc[activity.Activity], logger *zap.Logger) *Coordinator[activity.Activity] {
	opts := []Option[activity.Activity]{WithLogger[activity.Activity](logger)}
	if resolver != nil {
		opts = append(opts, WithPrepare[activity.Activity](resolver.PrepareActivity))
	}
	if merge != nil {
		opts = append(opts, WithMerge[activity.Activity](merge))
	}
	return NewCoordinator[activity.Activity](EntityActivities, local, remote, markActivitySynced, activity.ErrNotFound, opts...)
}

func (s *Service) SyncMaps(ctx context.Context, userID int64) (Report, error) {
	return s.maps.Sync(ctx, userID)
}

func (s *Service) SyncActivities(ctx context.Context, userID int64) (Report, error) {
	return s.activities.Sync(ctx, userID)
}

// SyncAll syncs maps strictly before activities. A failed map pass does not
// skip activities: their uploads resolve maps on their own.
func (s *Service) SyncAll(ctx context.Context, userID int64) (Result, error) {
	var res Result
	var errs []error

	maps, err := s.maps.Sync(ctx, userID)
	res.Maps = maps
	if err != nil {
		errs = append(errs, err)
	}

	acts, err := s.activities.Sync(ctx, userID)
	res.Activities = acts
	if err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

// DeleteMap removes a map on the server when it was synced, then locally.
func (s *Service) DeleteMap(ctx context.Context, userID, id int64) error {
	if id > 0 {
		if err := s.cfg.RemoteMaps.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete remote map %d: %w", id, err)
		}
	}
	if err := s.cfg.Maps.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete local map %d: %w", id, err)
	}
	s.logger.Info("map deleted", zap.Int64("user_id", userID), zap.Int64("map_id", id))
	return nil
}

func (s *Service) DeleteActivity(ctx context.Context, userID, id int64) error {
	if id > 0 {
		if err := s.cfg.RemoteActivities.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete remote activity %d: %w", id, err)
		}
	}
	if err := s.cfg.Activities.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete local activity %d: %w", id, err)
	}
	s.logger.Info("activity deleted", zap.Int64("user_id", userID), zap.Int64("activity_id", id))
	return nil
}

// Recompute re-derives the run data of every activity of the user from its
// path and returns how many records changed. Activities whose map is not
// stored locally keep what they have.
func (s *Service) Recompute(ctx context.Context, userID int64) (int, error) {
	acts, err := s.cfg.Activities.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list activities: %w", err)
	}

	changed := 0
	var errs []error
	for _, a := range acts {
		updated, err := s.recompute(ctx, a)
		if errors.Is(err, course.ErrNotFound) {
			s.logger.Debug("recompute skipped, map missing",
				zap.Int64("activity_id", a.ID),
				zap.Int64("map_id", a.MapID))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("recompute activity %d: %w", a.ID, err))
			continue
		}
		if sameRunData(updated, a) {
			continue
		}
		if err := s.cfg.Activities.Update(ctx, updated); err != nil {
			errs = append(errs, fmt.Errorf("update activity %d: %w", a.ID, err))
			continue
		}
		changed++
	}
	return changed, errors.Join(errs...)
}

func sameRunData(a, b activity.Activity) bool {
	return a.Status == b.Status &&
		a.TotalControlPoints == b.TotalControlPoints &&
		cmp.Equal(a.VisitedControlPoints, b.VisitedControlPoints, cmpopts.EquateEmpty())
}

// mergeActivity keeps locally derived run data for known activities. A
// first-time download gets it recomputed from its path, or is abandoned when
// its map is not stored locally. Other map lookup errors fail the record so
// the next pass retries it.
func (s *Service) mergeActivity(ctx context.Context, server, local activity.Activity, found bool) (activity.Activity, error) {
	if found {
		server.Status = local.Status
		server.VisitedControlPoints = local.VisitedControlPoints
		server.TotalControlPoints = local.TotalControlPoints
		return server, nil
	}
	merged, err := s.recompute(ctx, server)
	if errors.Is(err, course.ErrNotFound) {
		server.Status = activity.StatusAbandoned
		server.VisitedControlPoints = []activity.VisitedControlPoint{}
		return server, nil
	}
	if err != nil {
		return server, fmt.Errorf("load map %d: %w", server.MapID, err)
	}
	return merged, nil
}

// recompute derives status and visits from the path against the stored map.
func (s *Service) recompute(ctx context.Context, a activity.Activity) (activity.Activity, error) {
	m, err := s.cfg.Maps.Get(ctx, a.MapID)
	if err != nil {
		return a, err
	}

	radius := s.cfg.Radius(a.UserID).VisitRadius(ctx)
	visited := checkpoint.ComputeVisited(a.PathData, checkpoint.FromControlPoints(m.ControlPoints), radius)
	a.VisitedControlPoints = visited
	a.TotalControlPoints = len(m.ControlPoints)
	a.Status = activity.StatusFor(len(visited), a.TotalControlPoints)
	return a, nil
}
