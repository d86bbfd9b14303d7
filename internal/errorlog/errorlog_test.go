package errorlog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"session-bridge/internal/apperror"
)

type fakeExec struct {
	query  string
	args   []any
	err    error
	ctxErr error
}

func (f *fakeExec) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.ctxErr = ctx.Err()
	f.query = query
	f.args = args
	return nil, f.err
}

func TestRecordInsertsRow(t *testing.T) {
	db := &fakeExec{}
	r := NewRecorder(db)

	err := r.Record(context.Background(), apperror.Record{
		Kind:       apperror.KindValidation,
		Code:       apperror.CodeInvalidRequest,
		Message:    "bad",
		DevMessage: "field email is required",
		Data:       map[string]string{"field": "email"},
		IP:         "10.0.0.1",
		Path:       "/auth/login",
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(db.query, "INSERT INTO errors") {
		t.Fatalf("unexpected query %q", db.query)
	}
	if len(db.args) != 8 {
		t.Fatalf("expected 8 args, got %d", len(db.args))
	}
	if db.args[1] != "ValidationError" || db.args[2] != apperror.CodeInvalidRequest || db.args[7] != "/auth/login" {
		t.Fatalf("unexpected args %#v", db.args)
	}
	if raw, ok := db.args[5].([]byte); !ok || string(raw) != `{"field":"email"}` {
		t.Fatalf("expected json data, got %#v", db.args[5])
	}
}

func TestRecordWithoutDataStoresNull(t *testing.T) {
	db := &fakeExec{}
	if err := NewRecorder(db).Record(context.Background(), apperror.Record{Kind: apperror.KindInternal}); err != nil {
		t.Fatal(err)
	}
	if db.args[5] != nil {
		t.Fatalf("expected nil data, got %#v", db.args[5])
	}
}

func TestRecordSurvivesCancelledRequest(t *testing.T) {
	db := &fakeExec{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewRecorder(db).Record(ctx, apperror.Record{Kind: apperror.KindInternal}); err != nil {
		t.Fatal(err)
	}
	if db.query == "" || db.ctxErr != nil {
		t.Fatalf("expected insert to run with a live context, got %v", db.ctxErr)
	}
}

func TestRecordWrapsInsertError(t *testing.T) {
	boom := errors.New("connection refused")
	err := NewRecorder(&fakeExec{err: boom}).Record(context.Background(), apperror.Record{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
