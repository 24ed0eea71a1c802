// internal/activity/activity.go
package activity

import (
	"context"
	"database/sql"
	"encoding/json"
)

// Log records audit entries. The dispatcher writes one entry per dispatch
// pass, never one per message.
type Log interface {
	Record(ctx context.Context, summary, entityType, entityID string, before, after any) error
}

// PostgresLog writes entries to the activity_logs table shared with the rest
// of the admin application.
type PostgresLog struct {
	DB *sql.DB
}

func (l *PostgresLog) Record(ctx context.Context, summary, entityType, entityID string, before, after any) error {
	beforeJSON, err := marshalNullable(before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalNullable(after)
	if err != nil {
		return err
	}

	_, err = l.DB.ExecContext(ctx,
		`INSERT INTO activity_logs (summary, entity_type, entity_id, before_state, after_state, created_at)
         VALUES ($1, $2, $3, $4, $5, NOW())`,
		summary, entityType, entityID, beforeJSON, afterJSON,
	)
	return err
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// NopLog discards entries; used in tests.
type NopLog struct{}

func (NopLog) Record(ctx context.Context, summary, entityType, entityID string, before, after any) error {
	return nil
}

var _ Log = (*PostgresLog)(nil)
var _ Log = (NopLog{})
