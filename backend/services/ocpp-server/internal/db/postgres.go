package db

import (
	"context"
	"database/sql"

	libdb "ocppgate/backend/libs/db"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ocpp_messages (
		id BIGSERIAL PRIMARY KEY,
		station_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ocpp_messages_station_idx ON ocpp_messages (station_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS charging_stations (
		id TEXT PRIMARY KEY,
		vendor TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		serial_number TEXT NOT NULL DEFAULT '',
		firmware_version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		last_heartbeat TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS station_credentials (
		station_id TEXT PRIMARY KEY,
		secret_hash TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// NewPostgres opens the shared pool and applies the service schema.
func NewPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := libdb.NewPostgresDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := libdb.Migrate(ctx, conn, schema...); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
