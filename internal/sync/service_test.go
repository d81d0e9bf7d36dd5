package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"
	"time"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/course"
	"backend-orienteering/internal/settings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/go-cmp/cmp"
)

var at = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func forestMap(id int64) course.Map {
	return course.Map{
		ID:     id,
		UserID: 7,
		Name:   "Forest",
		ControlPoints: []course.ControlPoint{
			{ID: 1, Name: "1", Latitude: 52.0, Longitude: 21.0},
			{ID: 2, Name: "2", Latitude: 52.001, Longitude: 21.001},
		},
		CreatedAt: at,
	}
}

func runThrough(id, mapID int64) activity.Activity {
	return activity.Activity{
		ID:        id,
		UserID:    7,
		MapID:     mapID,
		Title:     "Morning",
		StartTime: at,
		Duration:  "02:00",
		PathData: []activity.PathPoint{
			{Latitude: 52.001, Longitude: 21.001, Timestamp: at.Add(60 * time.Second)},
			{Latitude: 52.0, Longitude: 21.0, Timestamp: at},
		},
		CreatedAt: at,
		Status:    activity.StatusInProgress,
	}
}

type fixture struct {
	maps       *memStore[course.Map]
	activities *memActivities
	rMaps      *memRemote[course.Map]
	rActs      *memRemote[activity.Activity]
	svc        *Service
}

func newFixture() *fixture {
	f := &fixture{
		maps:       newMemMaps(),
		activities: newMemActivities(),
		rMaps:      newMapRemote(42),
		rActs:      newActivityRemote(100),
	}
	f.svc = NewService(Config{
		Maps:             f.maps,
		Activities:       f.activities,
		RemoteMaps:       f.rMaps,
		RemoteActivities: f.rActs,
		Radius:           func(int64) settings.RadiusProvider { return settings.Static(10) },
	})
	return f
}

func TestMapSyncReplacesLocalID(t *testing.T) {
	f := newFixture()
	_ = f.maps.Upsert(context.Background(), forestMap(-1))

	report, err := f.svc.SyncMaps(context.Background(), 7)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Uploaded != 1 || report.Failed != 0 || report.Replaced[-1] != 42 {
		t.Fatalf("unexpected report %+v", report)
	}
	if diff := cmp.Diff([]int64{42}, f.maps.ids()); diff != "" {
		t.Fatalf("local ids mismatch (-want +got):\n%s", diff)
	}
	got, _ := f.maps.Get(context.Background(), 42)
	if !got.SyncedWithServer || got.Name != "Forest" || len(got.ControlPoints) != 2 {
		t.Fatalf("unexpected stored map %+v", got)
	}
}

func TestSyncTwiceIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(-1))
	_ = f.activities.Upsert(ctx, runThrough(-1, -1))

	if _, err := f.svc.SyncAll(ctx, 7); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	maps, acts := f.maps.ids(), f.activities.ids()

	res, err := f.svc.SyncAll(ctx, 7)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Maps.Uploaded != 0 || res.Activities.Uploaded != 0 {
		t.Fatalf("second pass uploaded again: %+v", res)
	}
	if f.rMaps.createdCount() != 1 || f.rActs.createdCount() != 1 {
		t.Fatalf("expected one create each, got %d maps %d activities", f.rMaps.createdCount(), f.rActs.createdCount())
	}
	if diff := cmp.Diff(maps, f.maps.ids()); diff != "" {
		t.Fatalf("map ids changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(acts, f.activities.ids()); diff != "" {
		t.Fatalf("activity ids changed (-want +got):\n%s", diff)
	}
}

func TestActivityUploadResolvesUnsyncedMap(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(-5))
	_ = f.activities.Upsert(ctx, runThrough(-1, -5))

	// activities alone: the map must be uploaded on demand
	report, err := f.svc.SyncActivities(ctx, 7)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Uploaded != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if f.rMaps.createdCount() != 1 {
		t.Fatalf("expected map uploaded first")
	}

	if diff := cmp.Diff([]int64{42}, f.maps.ids()); diff != "" {
		t.Fatalf("map ids mismatch (-want +got):\n%s", diff)
	}
	stored, err := f.activities.Get(ctx, 100)
	if err != nil {
		t.Fatalf("activity not stored under server id: %v", err)
	}
	if stored.MapID != 42 || !stored.SyncedWithServer {
		t.Fatalf("unexpected stored activity %+v", stored)
	}
	if f.rActs.created[0].MapID != 42 {
		t.Fatalf("activity uploaded with map id %d", f.rActs.created[0].MapID)
	}
}

func TestSyncAllRewritesMapReference(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(-1000))
	_ = f.activities.Upsert(ctx, runThrough(-1, -1000))
	_ = f.activities.Upsert(ctx, runThrough(-2, -1000))

	res, err := f.svc.SyncAll(ctx, 7)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if res.Maps.Replaced[-1000] != 42 || res.Activities.Uploaded != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	acts, _ := f.activities.ListByUser(ctx, 7)
	if len(acts) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(acts))
	}
	for _, a := range acts {
		if a.ID < 0 || a.MapID != 42 {
			t.Fatalf("unexpected activity %+v", a)
		}
	}
	for _, a := range f.rActs.created {
		if a.MapID != 42 {
			t.Fatalf("uploaded activity with map id %d", a.MapID)
		}
	}
}

func TestActivityWithMissingMapFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.activities.Upsert(ctx, runThrough(-1, -9))
	_ = f.maps.Upsert(ctx, forestMap(-2))
	_ = f.activities.Upsert(ctx, runThrough(-2, -2))

	report, err := f.svc.SyncActivities(ctx, 7)
	if err != nil {
		t.Fatalf("upload failures must not fail the pass: %v", err)
	}
	if report.Failed != 1 || report.Uploaded != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !errors.Is(report.UploadErr, ErrMapMissing) {
		t.Fatalf("expected ErrMapMissing, got %v", report.UploadErr)
	}
	if _, err := f.activities.Get(ctx, -1); err != nil {
		t.Fatalf("failed activity must stay local: %v", err)
	}
}

func TestUploadFailureContinues(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bad := forestMap(-1)
	bad.Name = "bad"
	_ = f.maps.Upsert(ctx, bad)
	_ = f.maps.Upsert(ctx, forestMap(-2))
	f.rMaps.failCreate = func(m course.Map) error {
		if m.Name == "bad" {
			return errBoom
		}
		return nil
	}

	report, err := f.svc.SyncMaps(ctx, 7)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Uploaded != 1 || report.Failed != 1 || !errors.Is(report.UploadErr, errBoom) {
		t.Fatalf("unexpected report %+v", report)
	}
	if diff := cmp.Diff([]int64{-1, 42}, f.maps.ids()); diff != "" {
		t.Fatalf("local ids mismatch (-want +got):\n%s", diff)
	}
}

func TestDownloadRemovesServerDeletions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	gone := forestMap(50)
	gone.SyncedWithServer = true
	kept := forestMap(51)
	kept.SyncedWithServer = true
	_ = f.maps.Upsert(ctx, gone)
	_ = f.maps.Upsert(ctx, kept)
	f.rMaps.recs[51] = forestMap(51)
	f.rMaps.recs[52] = forestMap(52)

	report, err := f.svc.SyncMaps(ctx, 7)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Removed != 1 || report.Downloaded != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if diff := cmp.Diff([]int64{51, 52}, f.maps.ids()); diff != "" {
		t.Fatalf("local ids mismatch (-want +got):\n%s", diff)
	}
	m, _ := f.maps.Get(ctx, 52)
	if !m.SyncedWithServer {
		t.Fatalf("downloaded map must be marked synced")
	}
}

func TestDownloadFailureIsReturned(t *testing.T) {
	f := newFixture()
	_ = f.maps.Upsert(context.Background(), forestMap(-1))
	f.rMaps.failList = errBoom

	report, err := f.svc.SyncMaps(context.Background(), 7)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected download error, got %v", err)
	}
	if report.Uploaded != 1 {
		t.Fatalf("upload phase should still have run: %+v", report)
	}
}

func TestMergeKeepsLocalRunData(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(42))

	local := runThrough(100, 42)
	local.SyncedWithServer = true
	local.Status = activity.StatusCompleted
	local.TotalControlPoints = 2
	local.VisitedControlPoints = []activity.VisitedControlPoint{
		{ControlPointName: "1", Order: 1, VisitedAt: at},
		{ControlPointName: "2", Order: 2, VisitedAt: at.Add(time.Minute)},
	}
	_ = f.activities.Upsert(ctx, local)

	server := runThrough(100, 42)
	server.Title = "Renamed"
	server.Status = ""
	f.rActs.recs[100] = server

	if _, err := f.svc.SyncActivities(ctx, 7); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got, _ := f.activities.Get(ctx, 100)
	if got.Title != "Renamed" {
		t.Fatalf("server fields should win, got title %q", got.Title)
	}
	if got.Status != activity.StatusCompleted || len(got.VisitedControlPoints) != 2 || got.TotalControlPoints != 2 {
		t.Fatalf("local run data lost: %+v", got)
	}
}

func TestFirstDownloadRecomputesRunData(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(42))
	f.rActs.recs[200] = runThrough(200, 42)
	f.rActs.recs[201] = runThrough(201, 999)

	if _, err := f.svc.SyncActivities(ctx, 7); err != nil {
		t.Fatalf("sync: %v", err)
	}

	done, _ := f.activities.Get(ctx, 200)
	if done.Status != activity.StatusCompleted || len(done.VisitedControlPoints) != 2 || done.TotalControlPoints != 2 {
		t.Fatalf("expected recomputed completion, got %+v", done)
	}
	if done.VisitedControlPoints[0].Order != 1 || done.VisitedControlPoints[1].Order != 2 {
		t.Fatalf("unexpected visit order %+v", done.VisitedControlPoints)
	}

	orphan, _ := f.activities.Get(ctx, 201)
	if orphan.Status != activity.StatusAbandoned || len(orphan.VisitedControlPoints) != 0 {
		t.Fatalf("expected abandoned without map, got %+v", orphan)
	}
}

func TestRecompute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(42))
	stale := runThrough(-1, 42)
	stale.Status = activity.StatusAbandoned
	_ = f.activities.Upsert(ctx, stale)

	n, err := f.svc.Recompute(ctx, 7)
	if err != nil || n != 1 {
		t.Fatalf("expected one change, got %d %v", n, err)
	}
	got, _ := f.activities.Get(ctx, -1)
	if got.Status != activity.StatusCompleted {
		t.Fatalf("expected completed after recompute, got %s", got.Status)
	}

	n, err = f.svc.Recompute(ctx, 7)
	if err != nil || n != 0 {
		t.Fatalf("expected no changes on second pass, got %d %v", n, err)
	}
}

func completedRun(id, mapID int64) activity.Activity {
	a := runThrough(id, mapID)
	a.Status = activity.StatusCompleted
	a.TotalControlPoints = 2
	a.VisitedControlPoints = []activity.VisitedControlPoint{
		{ControlPointName: "1", Order: 1, VisitedAt: at, Latitude: 52.0, Longitude: 21.0},
		{ControlPointName: "2", Order: 2, VisitedAt: at.Add(time.Minute), Latitude: 52.001, Longitude: 21.001},
	}
	return a
}

func TestUploadKeepsLocalRunData(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(42))
	_ = f.activities.Upsert(ctx, completedRun(-1, 42))
	f.rActs.setID = func(a activity.Activity, id int64) activity.Activity {
		a.ID = id
		a.Status = ""
		a.VisitedControlPoints = nil
		a.TotalControlPoints = 0
		return a
	}

	if _, err := f.svc.SyncActivities(ctx, 7); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got, err := f.activities.Get(ctx, 100)
	if err != nil {
		t.Fatalf("uploaded activity missing: %v", err)
	}
	if got.Status != activity.StatusCompleted || len(got.VisitedControlPoints) != 2 || got.TotalControlPoints != 2 {
		t.Fatalf("local run data lost on upload: %+v", got)
	}
	if !got.SyncedWithServer {
		t.Fatalf("expected uploaded copy marked synced")
	}
}

func TestRecomputeKeepsActivitiesWithoutMap(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.activities.Upsert(ctx, completedRun(100, 999))

	n, err := f.svc.Recompute(ctx, 7)
	if err != nil || n != 0 {
		t.Fatalf("expected no changes, got %d %v", n, err)
	}
	got, _ := f.activities.Get(ctx, 100)
	if got.Status != activity.StatusCompleted || len(got.VisitedControlPoints) != 2 {
		t.Fatalf("run data overwritten without a map: %+v", got)
	}
}

func TestRecomputeDetectsChangedVisits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(42))
	stale := completedRun(100, 42)
	stale.VisitedControlPoints[1].VisitedAt = at.Add(5 * time.Minute)
	_ = f.activities.Upsert(ctx, stale)

	n, err := f.svc.Recompute(ctx, 7)
	if err != nil || n != 1 {
		t.Fatalf("expected one change, got %d %v", n, err)
	}
	got, _ := f.activities.Get(ctx, 100)
	if !got.VisitedControlPoints[1].VisitedAt.Equal(at.Add(time.Minute)) {
		t.Fatalf("visit time not recomputed: %+v", got.VisitedControlPoints[1])
	}
}

func TestMapUploadCountsWhenRemapFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(-1))
	f.activities.failRemap = errBoom

	report, err := f.svc.SyncMaps(ctx, 7)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Uploaded != 1 || report.Failed != 0 || report.Replaced[-1] != 42 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !errors.Is(report.UploadErr, errBoom) || len(report.Errors) != 1 {
		t.Fatalf("expected the remap error reported, got %v %v", report.UploadErr, report.Errors)
	}
}

func TestFirstDownloadRetriesOnMapLookupError(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(42))
	f.rActs.recs[200] = runThrough(200, 42)
	f.maps.failGet = errBoom

	report, err := f.svc.SyncActivities(ctx, 7)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if report.Downloaded != 0 {
		t.Fatalf("expected nothing stored, got %+v", report)
	}
	if _, err := f.activities.Get(ctx, 200); !errors.Is(err, activity.ErrNotFound) {
		t.Fatalf("activity should not be stored yet, got %v", err)
	}

	f.maps.failGet = nil
	if _, err := f.svc.SyncActivities(ctx, 7); err != nil {
		t.Fatalf("retry sync: %v", err)
	}
	got, _ := f.activities.Get(ctx, 200)
	if got.Status != activity.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s", got.Status)
	}
}

func TestDeleteMap(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(-1))
	_ = f.maps.Upsert(ctx, forestMap(42))
	f.rMaps.recs[42] = forestMap(42)

	if err := f.svc.DeleteMap(ctx, 7, -1); err != nil {
		t.Fatalf("delete local map: %v", err)
	}
	if len(f.rMaps.deleted) != 0 {
		t.Fatalf("local map must not be deleted remotely")
	}

	f.rMaps.failDelete = errBoom
	if err := f.svc.DeleteMap(ctx, 7, 42); !errors.Is(err, errBoom) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if _, err := f.maps.Get(ctx, 42); err != nil {
		t.Fatalf("map must stay when remote delete fails")
	}

	f.rMaps.failDelete = nil
	if err := f.svc.DeleteMap(ctx, 7, 42); err != nil {
		t.Fatalf("delete synced map: %v", err)
	}
	if len(f.maps.ids()) != 0 || len(f.rMaps.deleted) != 1 {
		t.Fatalf("unexpected state after delete: local %v remote %v", f.maps.ids(), f.rMaps.deleted)
	}
}

func TestDeleteActivity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.activities.Upsert(ctx, runThrough(100, 42))

	if err := f.svc.DeleteActivity(ctx, 7, 100); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(f.activities.ids()) != 0 || len(f.rActs.deleted) != 1 {
		t.Fatalf("expected activity deleted on both sides")
	}
}

func TestConcurrentSyncSharesPass(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_ = f.maps.Upsert(ctx, forestMap(-1))
	f.rMaps.gate = make(chan struct{})
	f.rMaps.started = make(chan struct{}, 4)

	var wg stdsync.WaitGroup
	reports := make([]Report, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], errs[0] = f.svc.SyncMaps(ctx, 7)
	}()
	<-f.rMaps.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], errs[1] = f.svc.SyncMaps(ctx, 7)
	}()
	time.Sleep(30 * time.Millisecond)
	close(f.rMaps.gate)
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("sync %d: %v", i, errs[i])
		}
		if reports[i].Uploaded != 1 {
			t.Fatalf("sync %d report %+v", i, reports[i])
		}
	}
	if f.rMaps.createdCount() != 1 {
		t.Fatalf("expected a single upload, got %d", f.rMaps.createdCount())
	}
	if diff := cmp.Diff([]int64{42}, f.maps.ids()); diff != "" {
		t.Fatalf("local ids mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadOneSerializes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	m := forestMap(-1)
	_ = f.maps.Upsert(ctx, m)

	first, err := f.svc.maps.UploadOne(ctx, m)
	if err != nil || first.ID != 42 {
		t.Fatalf("first upload: %+v %v", first, err)
	}
	if _, err := f.svc.maps.UploadOne(ctx, m); !errors.Is(err, course.ErrNotFound) {
		t.Fatalf("expected stale record to be rejected, got %v", err)
	}
	if f.rMaps.createdCount() != 1 {
		t.Fatalf("record uploaded twice")
	}
	again, err := f.svc.maps.UploadOne(ctx, first)
	if err != nil || again.ID != 42 {
		t.Fatalf("synced record should be returned as is: %+v %v", again, err)
	}
}

func TestSyncHandlers(t *testing.T) {
	f := newFixture()
	_ = f.maps.Upsert(context.Background(), forestMap(-1))

	app := fiber.New()
	RegisterRoutes(app.Group("/sync"), f.svc, func(c *fiber.Ctx) error {
		c.Locals("user_id", int64(7))
		return c.Next()
	})

	for _, path := range []string{"/sync", "/sync/maps", "/sync/activities", "/sync/recompute"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, path, nil))
		if err != nil || resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %v %d", path, err, resp.StatusCode)
		}
	}

	f.rMaps.failList = errBoom
	resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/sync/maps", nil))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 on download failure, got %d", resp.StatusCode)
	}
}
