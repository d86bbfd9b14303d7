package errorlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"session-bridge/internal/apperror"
)

const writeTimeout = 2 * time.Second

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder stores rendered API errors in the errors table.
type Recorder struct {
	db execer
}

func NewRecorder(db execer) *Recorder {
	return &Recorder{db: db}
}

// Record inserts one row per error. The request context only bounds the
// write; a cancelled client does not drop the record.
func (r *Recorder) Record(ctx context.Context, rec apperror.Record) error {
	var data any
	if rec.Data != nil {
		raw, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("errorlog: marshal data: %w", err)
		}
		data = raw
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO errors (id, type, code, message, dev_message, data, ip, path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), string(rec.Kind), rec.Code, rec.Message, rec.DevMessage, data, rec.IP, rec.Path)
	if err != nil {
		return fmt.Errorf("errorlog: insert: %w", err)
	}
	return nil
}
