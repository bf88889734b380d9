package repository

import (
	"context"
	"database/sql"
)

// OCPPLogRepository stores raw OCPP frames.
type OCPPLogRepository struct {
	db *sql.DB
}

// NewOCPPLogRepository ctor.
func NewOCPPLogRepository(db *sql.DB) *OCPPLogRepository {
	return &OCPPLogRepository{db: db}
}

// Save stores one frame. Response frames carry an empty action.
func (r *OCPPLogRepository) Save(ctx context.Context, stationID, direction, action string, payload []byte) error {
	const query = `
		INSERT INTO ocpp_messages (station_id, direction, action, payload)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, stationID, direction, action, payload)
	return err
}
