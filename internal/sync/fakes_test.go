package sync

import (
	"context"
	"errors"
	"sort"
	stdsync "sync"

	"backend-orienteering/internal/activity"
	"backend-orienteering/internal/course"
)

type memStore[T Record] struct {
	mu       stdsync.Mutex
	recs     map[int64]T
	userOf   func(T) int64
	notFound error
	failGet  error
}

func newMemStore[T Record](userOf func(T) int64, notFound error, recs ...T) *memStore[T] {
	s := &memStore[T]{recs: map[int64]T{}, userOf: userOf, notFound: notFound}
	for _, r := range recs {
		s.recs[r.RecordID()] = r
	}
	return s
}

func (s *memStore[T]) Get(_ context.Context, id int64) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		var zero T
		return zero, s.failGet
	}
	r, ok := s.recs[id]
	if !ok {
		var zero T
		return zero, s.notFound
	}
	return r, nil
}

func (s *memStore[T]) ListByUser(_ context.Context, userID int64) ([]T, error) {
	return s.filter(func(r T) bool { return s.userOf(r) == userID }), nil
}

func (s *memStore[T]) ListUnsynced(_ context.Context, userID int64) ([]T, error) {
	return s.filter(func(r T) bool { return s.userOf(r) == userID && r.RecordID() < 0 }), nil
}

func (s *memStore[T]) Upsert(_ context.Context, r T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[r.RecordID()] = r
	return nil
}

func (s *memStore[T]) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *memStore[T]) filter(keep func(T) bool) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []T{}
	for _, r := range s.recs {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID() < out[j].RecordID() })
	return out
}

func (s *memStore[T]) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.recs))
	for id := range s.recs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type memActivities struct {
	*memStore[activity.Activity]
	failRemap error
}

func newMemActivities(recs ...activity.Activity) *memActivities {
	return &memActivities{memStore: newMemStore(func(a activity.Activity) int64 { return a.UserID }, activity.ErrNotFound, recs...)}
}

func (s *memActivities) Update(_ context.Context, a activity.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[a.ID]; !ok {
		return activity.ErrNotFound
	}
	s.recs[a.ID] = a
	return nil
}

func (s *memActivities) RemapMapID(_ context.Context, oldID, newID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRemap != nil {
		return 0, s.failRemap
	}
	var n int64
	for id, a := range s.recs {
		if a.MapID == oldID {
			a.MapID = newID
			s.recs[id] = a
			n++
		}
	}
	return n, nil
}

func newMemMaps(recs ...course.Map) *memStore[course.Map] {
	return newMemStore(func(m course.Map) int64 { return m.UserID }, course.ErrNotFound, recs...)
}

type memRemote[T Record] struct {
	mu      stdsync.Mutex
	recs    map[int64]T
	nextID  int64
	setID   func(T, int64) T
	userOf  func(T) int64
	created []T
	deleted []int64

	failCreate func(T) error
	failList   error
	failDelete error
	// gate, when set, blocks Create until closed; started receives once per call.
	gate    chan struct{}
	started chan struct{}
}

func (r *memRemote[T]) Create(_ context.Context, rec T) (T, error) {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		if err := r.failCreate(rec); err != nil {
			var zero T
			return zero, err
		}
	}
	r.created = append(r.created, rec)
	out := r.setID(rec, r.nextID)
	r.nextID++
	r.recs[out.RecordID()] = out
	return out, nil
}

func (r *memRemote[T]) ListByUser(_ context.Context, userID int64) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failList != nil {
		return nil, r.failList
	}
	out := []T{}
	for _, rec := range r.recs {
		if r.userOf(rec) == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID() < out[j].RecordID() })
	return out, nil
}

func (r *memRemote[T]) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDelete != nil {
		return r.failDelete
	}
	r.deleted = append(r.deleted, id)
	delete(r.recs, id)
	return nil
}

func (r *memRemote[T]) createdCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created)
}

func newMapRemote(firstID int64, recs ...course.Map) *memRemote[course.Map] {
	r := &memRemote[course.Map]{
		recs:   map[int64]course.Map{},
		nextID: firstID,
		setID: func(m course.Map, id int64) course.Map {
			m.ID = id
			return m
		},
		userOf: func(m course.Map) int64 { return m.UserID },
	}
	for _, m := range recs {
		r.recs[m.ID] = m
	}
	return r
}

func newActivityRemote(firstID int64, recs ...activity.Activity) *memRemote[activity.Activity] {
	r := &memRemote[activity.Activity]{
		recs:   map[int64]activity.Activity{},
		nextID: firstID,
		setID: func(a activity.Activity, id int64) activity.Activity {
			a.ID = id
			return a
		},
		userOf: func(a activity.Activity) int64 { return a.UserID },
	}
	for _, a := range recs {
		r.recs[a.ID] = a
	}
	return r
}

var errBoom = errors.New("boom")
