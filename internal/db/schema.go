package db

import (
	"context"
	"fmt"
)

// CreateSchema creates the local map and activity tables.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(ctx context.Context, q Querier) error {
	if _, err := q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS maps (
    id BIGINT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    control_points JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    synced_with_server BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_maps_user_id ON maps(user_id);

CREATE TABLE IF NOT EXISTS activities (
    id BIGINT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    map_id BIGINT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    start_time TIMESTAMPTZ NOT NULL,
    duration TEXT NOT NULL DEFAULT '00:00',
    distance DOUBLE PRECISION NOT NULL DEFAULT 0,
    path_data JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    status TEXT NOT NULL DEFAULT 'IN_PROGRESS' CHECK (status IN ('IN_PROGRESS', 'COMPLETED', 'ABANDONED')),
    visited_control_points JSONB NOT NULL DEFAULT '[]',
    total_control_points INT NOT NULL DEFAULT 0,
    synced_with_server BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_activities_user_id ON activities(user_id);
CREATE INDEX IF NOT EXISTS idx_activities_map_id ON activities(map_id);
`
