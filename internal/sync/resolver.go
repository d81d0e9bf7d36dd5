package sync

import (
	"context"
	"errors"
	"fmt"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/course"
	"backend-orienteering/internal/log"

	"go.uber.org/zap"
)

// ErrMapMissing means an activity points at a local map that no longer exists,
// so the activity cannot be uploaded.
var ErrMapMissing = errors.New("activity references a map that is missing locally")

type MapReader interface {
	Get(ctx context.Context, id int64) (course.Map, error)
}

type ActivityStore interface {
	Local[activity.Activity]
	Update(ctx context.Context, a activity.Activity) error
	RemapMapID(ctx context.Context, oldMapID, newMapID int64) (int64, error)
}

// DependencyResolver keeps activity map references valid across uploads.
// Before an activity whose map only exists locally is uploaded, the map is
// uploaded first and the activity is pointed at the server id.
type DependencyResolver struct {
	maps       MapReader
	activities ActivityStore
	mapSync    *Coordinator[course.Map]
	logger     *zap.Logger
}

func NewDependencyResolver(maps MapReader, activities ActivityStore, logger *zap.Logger) *DependencyResolver {
	return &DependencyResolver{maps: maps, activities: activities, logger: log.OrNop(logger)}
}

// Bind sets the map coordinator used to upload referenced maps.
func (r *DependencyResolver) Bind(mapSync *Coordinator[course.Map]) {
	r.mapSync = mapSync
}

// PrepareActivity is the pre-upload hook for activities.
func (r *DependencyResolver) PrepareActivity(ctx context.Context, a activity.Activity) (activity.Activity, error) {
	if a.MapID >= 0 {
		return a, nil
	}

	m, err := r.maps.Get(ctx, a.MapID)
	if errors.Is(err, course.ErrNotFound) {
		// the map may have been uploaded since the activity was read
		if fresh, ferr := r.activities.Get(ctx, a.ID); ferr == nil && fresh.MapID > 0 {
			return fresh, nil
		}
		return a, fmt.Errorf("%w: activity %d, map %d", ErrMapMissing, a.ID, a.MapID)
	}
	if err != nil {
		return a, fmt.Errorf("load map %d: %w", a.MapID, err)
	}
	if r.mapSync == nil {
		return a, fmt.Errorf("map %d not synced and no map sync configured", a.MapID)
	}

	uploaded, err := r.mapSync.UploadOne(ctx, m)
	if err != nil {
		return a, fmt.Errorf("upload map %d first: %w", m.ID, err)
	}

	r.logger.Info("resolved activity map",
		zap.Int64("activity_id", a.ID),
		zap.Int64("local_map_id", a.MapID),
		zap.Int64("server_map_id", uploaded.ID))

	a.MapID = uploaded.ID
	if err := r.activities.Update(ctx, a); err != nil {
		return a, fmt.Errorf("rewrite map id of activity %d: %w", a.ID, err)
	}
	return a, nil
}

// MapReplaced is the post-upload hook for maps. It points every local
// activity at the server id of their map.
func (r *DependencyResolver) MapReplaced(ctx context.Context, oldID, newID int64) error {
	n, err := r.activities.RemapMapID(ctx, oldID, newID)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("activities remapped",
			zap.Int64("old_map_id", oldID),
			zap.Int64("new_map_id", newID),
			zap.Int64("count", n))
	}
	return nil
}
