package activity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"backend-orienteering/internal/db"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("activity not found")

const activityColumns = `id, user_id, map_id, title, start_time, duration, distance, path_data, created_at, status, visited_control_points, total_control_points, synced_with_server`

// Store is the local activities table.
type Store struct {
	db db.Querier
}

func NewStore(db db.Querier) *Store {
	return &Store{db: db}
}

// Create inserts an activity that only exists locally, under a fresh negative id.
func (s *Store) Create(ctx context.Context, input Activity) (Activity, error) {
	path, visited, err := encodeJSON(input)
	if err != nil {
		return Activity{}, err
	}
	if input.CreatedAt.IsZero() {
		input.CreatedAt = time.Now()
	}
	if input.Status == "" {
		input.Status = StatusInProgress
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO activities (id, user_id, map_id, title, start_time, duration, distance, path_data, created_at, status, visited_control_points, total_control_points, synced_with_server)
		VALUES ((SELECT LEAST(COALESCE(MIN(id), 0), 0) - 1 FROM activities), $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, FALSE)
		RETURNING id
	`, input.UserID, input.MapID, input.Title, input.StartTime, input.Duration, input.Distance, path,
		input.CreatedAt, string(input.Status), visited, input.TotalControlPoints)
	if err := row.Scan(&input.ID); err != nil {
		return Activity{}, err
	}
	input.SyncedWithServer = false
	return input, nil
}

func (s *Store) Get(ctx context.Context, id int64) (Activity, error) {
	row := s.db.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=$1`, id)
	a, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	return a, err
}

func (s *Store) ListByUser(ctx context.Context, userID int64) ([]Activity, error) {
	return s.list(ctx, `SELECT `+activityColumns+` FROM activities WHERE user_id=$1 ORDER BY start_time DESC`, userID)
}

func (s *Store) ListUnsynced(ctx context.Context, userID int64) ([]Activity, error) {
	return s.list(ctx, `SELECT `+activityColumns+` FROM activities WHERE user_id=$1 AND id < 0 ORDER BY id DESC`, userID)
}

func (s *Store) Upsert(ctx context.Context, a Activity) error {
	path, visited, err := encodeJSON(a)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO activities (id, user_id, map_id, title, start_time, duration, distance, path_data, created_at, status, visited_control_points, total_control_points, synced_with_server)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE
		SET user_id=EXCLUDED.user_id, map_id=EXCLUDED.map_id, title=EXCLUDED.title,
		    start_time=EXCLUDED.start_time, duration=EXCLUDED.duration, distance=EXCLUDED.distance,
		    path_data=EXCLUDED.path_data, created_at=EXCLUDED.created_at, status=EXCLUDED.status,
		    visited_control_points=EXCLUDED.visited_control_points,
		    total_control_points=EXCLUDED.total_control_points,
		    synced_with_server=EXCLUDED.synced_with_server
	`, a.ID, a.UserID, a.MapID, a.Title, a.StartTime, a.Duration, a.Distance, path,
		a.CreatedAt, string(a.Status), visited, a.TotalControlPoints, a.SyncedWithServer)
	return err
}

func (s *Store) Update(ctx context.Context, a Activity) error {
	path, visited, err := encodeJSON(a)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE activities
		SET map_id=$2, title=$3, duration=$4, distance=$5, path_data=$6, status=$7,
		    visited_control_points=$8, total_control_points=$9, synced_with_server=$10
		WHERE id=$1
	`, a.ID, a.MapID, a.Title, a.Duration, a.Distance, path, string(a.Status), visited, a.TotalControlPoints, a.SyncedWithServer)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RemapMapID points every activity referencing oldMapID at newMapID.
func (s *Store) RemapMapID(ctx context.Context, oldMapID, newMapID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE activities SET map_id=$2 WHERE map_id=$1`, oldMapID, newMapID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM activities WHERE id=$1`, id)
	return err
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Activity, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanActivity(row pgx.Row) (Activity, error) {
	var a Activity
	var status string
	var path, visited []byte
	if err := row.Scan(&a.ID, &a.UserID, &a.MapID, &a.Title, &a.StartTime, &a.Duration, &a.Distance, &path,
		&a.CreatedAt, &status, &visited, &a.TotalControlPoints, &a.SyncedWithServer); err != nil {
		return Activity{}, err
	}
	a.Status = Status(status)
	if !a.Status.Valid() {
		a.Status = StatusAbandoned
	}
	a.PathData = DecodePath(path)
	a.VisitedControlPoints = DecodeVisited(visited)
	return a, nil
}

// DecodePath parses stored path data; malformed data yields an empty path.
func DecodePath(raw []byte) []PathPoint {
	var path []PathPoint
	if len(raw) == 0 || json.Unmarshal(raw, &path) != nil || path == nil {
		return []PathPoint{}
	}
	return path
}

// DecodeVisited parses stored visit data; malformed data yields an empty list.
func DecodeVisited(raw []byte) []VisitedControlPoint {
	var visited []VisitedControlPoint
	if len(raw) == 0 || json.Unmarshal(raw, &visited) != nil || visited == nil {
		return []VisitedControlPoint{}
	}
	return visited
}

func encodeJSON(a Activity) ([]byte, []byte, error) {
	path := a.PathData
	if path == nil {
		path = []PathPoint{}
	}
	visited := a.VisitedControlPoints
	if visited == nil {
		visited = []VisitedControlPoint{}
	}
	p, err := json.Marshal(path)
	if err != nil {
		return nil, nil, err
	}
	v, err := json.Marshal(visited)
	if err != nil {
		return nil, nil, err
	}
	return p, v, nil
}
