// Package sync reconciles locally recorded maps and activities with the
// server. Records with a negative id exist only locally; uploading one
// replaces it with the server copy under its new positive id.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	stdsync "sync"

	"backend-orienteering/internal/log"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Record is a syncable entity. RecordID < 0 means it was never uploaded.
type Record interface {
	RecordID() int64
	Synced() bool
}

type Local[T Record] interface {
	Get(ctx context.Context, id int64) (T, error)
	ListByUser(ctx context.Context, userID int64) ([]T, error)
	ListUnsynced(ctx context.Context, userID int64) ([]T, error)
	Upsert(ctx context.Context, rec T) error
	Delete(ctx context.Context, id int64) error
}

type Remote[T Record] interface {
	Create(ctx context.Context, rec T) (T, error)
	ListByUser(ctx context.Context, userID int64) ([]T, error)
	Delete(ctx context.Context, id int64) error
}

// Report summarises one sync pass of a single entity type.
type Report struct {
	Entity     string          `json:"entity"`
	Uploaded   int             `json:"uploaded"`
	Failed     int             `json:"failed"`
	Downloaded int             `json:"downloaded"`
	Removed    int             `json:"removed"`
	Replaced   map[int64]int64 `json:"replaced_ids,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
	UploadErr  error           `json:"-"`
}

// PrepareFunc may rewrite a record before upload, e.g. to resolve references.
type PrepareFunc[T Record] func(ctx context.Context, rec T) (T, error)

type ReplacedFunc func(ctx context.Context, oldID, newID int64) error

type MergeFunc[T Record] func(ctx context.Context, server, local T, found bool) (T, error)

type MarkSyncedFunc[T Record] func(rec T) T

type Option[T Record] func(*Coordinator[T])

// WithPrepare runs fn on a record right before it is uploaded.
func WithPrepare[T Record](fn PrepareFunc[T]) Option[T] {
	return func(c *Coordinator[T]) { c.prepare = fn }
}

// WithReplaced is told about every local id replaced by a server id.
func WithReplaced[T Record](fn ReplacedFunc) Option[T] {
	return func(c *Coordinator[T]) { c.replaced = fn }
}

// WithMerge decides what gets stored for each downloaded record and for the
// server echo of an upload, which is merged with the local record it replaces.
func WithMerge[T Record](fn MergeFunc[T]) Option[T] {
	return func(c *Coordinator[T]) { c.merge = fn }
}

func WithLogger[T Record](logger *zap.Logger) Option[T] {
	return func(c *Coordinator[T]) { c.logger = log.OrNop(logger) }
}

// Coordinator runs the two-phase sync for one entity type: upload every
// unsynced record, then download the server set and merge it locally.
// Sync for the same user never runs twice at once; a second caller waits
// for and shares the result of the pass in flight.
type Coordinator[T Record] struct {
	name       string
	local      Local[T]
	remote     Remote[T]
	markSynced MarkSyncedFunc[T]
	notFound   error
	logger     *zap.Logger

	prepare  PrepareFunc[T]
	replaced ReplacedFunc
	merge    MergeFunc[T]

	flights  singleflight.Group
	uploadMu stdsync.Mutex
}

func NewCoordinator[T Record](name string, local Local[T], remote Remote[T], markSynced MarkSyncedFunc[T], notFound error, opts ...Option[T]) *Coordinator[T] {
	c := &Coordinator[T]{
		name:       name,
		local:      local,
		remote:     remote,
		markSynced: markSynced,
		notFound:   notFound,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator[T]) Name() string { return c.name }

// Sync uploads then downloads. Upload failures are collected in the report
// and do not stop the download; only a failed download is returned as error.
func (c *Coordinator[T]) Sync(ctx context.Context, userID int64) (Report, error) {
	v, err, shared := c.flights.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		return c.sync(ctx, userID)
	})
	if shared {
		c.logger.Debug("joined sync in flight", zap.String("entity", c.name), zap.Int64("user_id", userID))
	}
	report, _ := v.(Report)
	return report, err
}

func (c *Coordinator[T]) sync(ctx context.Context, userID int64) (Report, error) {
	report := Report{Entity: c.name, Replaced: map[int64]int64{}}

	if err := c.uploadAll(ctx, userID, &report); err != nil {
		report.UploadErr = err
		report.Errors = append(report.Errors, err.Error())
		c.logger.Warn("upload phase incomplete",
			zap.String("entity", c.name),
			zap.Int64("user_id", userID),
			zap.Int("failed", report.Failed),
			zap.Error(err))
	}

	if err := c.download(ctx, userID, &report); err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, err
	}

	c.logger.Info("sync finished",
		zap.String("entity", c.name),
		zap.Int64("user_id", userID),
		zap.Int("uploaded", report.Uploaded),
		zap.Int("failed", report.Failed),
		zap.Int("downloaded", report.Downloaded),
		zap.Int("removed", report.Removed))
	return report, nil
}

func (c *Coordinator[T]) uploadAll(ctx context.Context, userID int64, report *Report) error {
	pending, err := c.local.ListUnsynced(ctx, userID)
	if err != nil {
		return fmt.Errorf("list unsynced %s: %w", c.name, err)
	}

	var errs []error
	for _, rec := range pending {
		oldID := rec.RecordID()
		uploaded, err := c.UploadOne(ctx, rec)
		// a server id means the server holds the record even if a later
		// local step failed
		if newID := uploaded.RecordID(); newID > 0 && newID != oldID {
			report.Uploaded++
			report.Replaced[oldID] = newID
		} else if err != nil {
			report.Failed++
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("upload %s %d: %w", c.name, oldID, err))
		}
	}
	return errors.Join(errs...)
}

// UploadOne uploads a single local record and swaps the local copy for the
// server copy. Uploads are serialized and the record is re-read first, so a
// record already replaced by a concurrent caller fails with not found instead
// of being sent twice. Records with a non-negative id are returned unchanged.
// When only the reference rewrite fails, the stored server copy is returned
// along with the error.
func (c *Coordinator[T]) UploadOne(ctx context.Context, rec T) (T, error) {
	c.uploadMu.Lock()
	defer c.uploadMu.Unlock()

	var zero T
	oldID := rec.RecordID()
	if oldID >= 0 {
		return rec, nil
	}

	current, err := c.local.Get(ctx, oldID)
	if err != nil {
		if c.notFound != nil && errors.Is(err, c.notFound) {
			return zero, fmt.Errorf("%s %d no longer exists locally: %w", c.name, oldID, err)
		}
		return zero, fmt.Errorf("reload %s %d: %w", c.name, oldID, err)
	}

	if c.prepare != nil {
		current, err = c.prepare(ctx, current)
		if err != nil {
			return zero, err
		}
	}

	created, err := c.remote.Create(ctx, current)
	if err != nil {
		return zero, err
	}
	if c.merge != nil {
		// the server already has the record, so a failed merge keeps its copy
		if merged, err := c.merge(ctx, created, current, true); err != nil {
			c.logger.Warn("merge of uploaded record failed",
				zap.String("entity", c.name),
				zap.Int64("local_id", oldID),
				zap.Error(err))
		} else {
			created = merged
		}
	}
	created = c.markSynced(created)
	newID := created.RecordID()

	if err := c.local.Delete(ctx, oldID); err != nil {
		return zero, fmt.Errorf("drop local %s %d: %w", c.name, oldID, err)
	}
	if err := c.local.Upsert(ctx, created); err != nil {
		return zero, fmt.Errorf("store %s %d: %w", c.name, newID, err)
	}

	c.logger.Info("record uploaded",
		zap.String("entity", c.name),
		zap.Int64("local_id", oldID),
		zap.Int64("server_id", newID))

	if c.replaced != nil {
		if err := c.replaced(ctx, oldID, newID); err != nil {
			return created, fmt.Errorf("rewrite references %d -> %d: %w", oldID, newID, err)
		}
	}
	return created, nil
}

func (c *Coordinator[T]) download(ctx context.Context, userID int64, report *Report) error {
	server, err := c.remote.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("download %s: %w", c.name, err)
	}
	locals, err := c.local.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list local %s: %w", c.name, err)
	}

	onServer := lo.SliceToMap(server, func(rec T) (int64, struct{}) { return rec.RecordID(), struct{}{} })
	localByID := lo.KeyBy(locals, func(rec T) int64 { return rec.RecordID() })

	var errs []error
	for _, rec := range locals {
		id := rec.RecordID()
		if id <= 0 || !rec.Synced() {
			continue
		}
		if _, ok := onServer[id]; ok {
			continue
		}
		if err := c.local.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("remove %s %d: %w", c.name, id, err))
			continue
		}
		report.Removed++
	}

	for _, rec := range server {
		rec = c.markSynced(rec)
		if c.merge != nil {
			existing, found := localByID[rec.RecordID()]
			merged, err := c.merge(ctx, rec, existing, found)
			if err != nil {
				errs = append(errs, fmt.Errorf("merge %s %d: %w", c.name, rec.RecordID(), err))
				continue
			}
			rec = c.markSynced(merged)
		}
		if err := c.local.Upsert(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("store %s %d: %w", c.name, rec.RecordID(), err))
			continue
		}
		report.Downloaded++
	}
	return errors.Join(errs...)
}
