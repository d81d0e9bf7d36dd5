package course

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"backend-orienteering/internal/db"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("map not found")

const mapColumns = `id, user_id, name, description, location, control_points, created_at, synced_with_server`

// Store is the local maps table.
type Store struct {
	db db.Querier
}

func NewStore(db db.Querier) *Store {
	return &Store{db: db}
}

// Create inserts a map that only exists locally. The id is allocated below
// every id already in the table, so it is always negative.
func (s *Store) Create(ctx context.Context, input Map) (Map, error) {
	points, err := json.Marshal(nonNilPoints(input.ControlPoints))
	if err != nil {
		return Map{}, err
	}
	if input.CreatedAt.IsZero() {
		input.CreatedAt = time.Now()
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO maps (id, user_id, name, description, location, control_points, created_at, synced_with_server)
		VALUES ((SELECT LEAST(COALESCE(MIN(id), 0), 0) - 1 FROM maps), $1, $2, $3, $4, $5, $6, FALSE)
		RETURNING id
	`, input.UserID, input.Name, input.Description, input.Location, points, input.CreatedAt)
	if err := row.Scan(&input.ID); err != nil {
		return Map{}, err
	}
	input.SyncedWithServer = false
	return input, nil
}

func (s *Store) Get(ctx context.Context, id int64) (Map, error) {
	row := s.db.QueryRow(ctx, `SELECT `+mapColumns+` FROM maps WHERE id=$1`, id)
	m, err := scanMap(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Map{}, ErrNotFound
	}
	return m, err
}

func (s *Store) ListByUser(ctx context.Context, userID int64) ([]Map, error) {
	return s.list(ctx, `SELECT `+mapColumns+` FROM maps WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (s *Store) ListUnsynced(ctx context.Context, userID int64) ([]Map, error) {
	return s.list(ctx, `SELECT `+mapColumns+` FROM maps WHERE user_id=$1 AND id < 0 ORDER BY id DESC`, userID)
}

// Upsert writes m under its own id, replacing any existing row.
func (s *Store) Upsert(ctx context.Context, m Map) error {
	points, err := json.Marshal(nonNilPoints(m.ControlPoints))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO maps (id, user_id, name, description, location, control_points, created_at, synced_with_server)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE
		SET user_id=EXCLUDED.user_id, name=EXCLUDED.name, description=EXCLUDED.description,
		    location=EXCLUDED.location, control_points=EXCLUDED.control_points,
		    created_at=EXCLUDED.created_at, synced_with_server=EXCLUDED.synced_with_server
	`, m.ID, m.UserID, m.Name, m.Description, m.Location, points, m.CreatedAt, m.SyncedWithServer)
	return err
}

func (s *Store) Update(ctx context.Context, m Map) error {
	points, err := json.Marshal(nonNilPoints(m.ControlPoints))
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE maps
		SET name=$2, description=$3, location=$4, control_points=$5, synced_with_server=$6
		WHERE id=$1
	`, m.ID, m.Name, m.Description, m.Location, points, m.SyncedWithServer)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM maps WHERE id=$1`, id)
	return err
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Map, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var maps []Map
	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	return maps, rows.Err()
}

func scanMap(row pgx.Row) (Map, error) {
	var m Map
	var points []byte
	if err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.Description, &m.Location, &points, &m.CreatedAt, &m.SyncedWithServer); err != nil {
		return Map{}, err
	}
	m.ControlPoints = DecodeControlPoints(points)
	return m, nil
}

// DecodeControlPoints parses stored control points. Malformed data yields an
// empty list instead of an error.
func DecodeControlPoints(raw []byte) []ControlPoint {
	if len(raw) == 0 {
		return []ControlPoint{}
	}
	var points []ControlPoint
	if err := json.Unmarshal(raw, &points); err != nil {
		return []ControlPoint{}
	}
	return nonNilPoints(points)
}

func nonNilPoints(points []ControlPoint) []ControlPoint {
	if points == nil {
		return []ControlPoint{}
	}
	return points
}
