package sessions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// setupMockDB creates a postgres-dialect store over sqlmock.
func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db, DialectPostgres)
	fixed := time.Unix(1700000000, 0)
	store.now = func() time.Time { return fixed }
	return mock, store
}

func TestDialectRebind(t *testing.T) {
	query := `UPDATE sessions SET summary = ?, updated_at = ? WHERE id = ?`
	if got := DialectSQLite.Rebind(query); got != query {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	want := `UPDATE sessions SET summary = $1, updated_at = $2 WHERE id = $3`
	if got := DialectPostgres.Rebind(query); got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
}

func TestSQLStorePostgresGetOrCreate(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Unix(1700000000, 0).UnixNano()

	mock.ExpectExec(`INSERT INTO sessions .* VALUES \(\$1, \$2, \$3, \$4, \$5, '', \$6, \$7\)\s+ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("agent:main:slack:C1", "main", "slack", "C1", "open", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id = \$1`).
		WithArgs("agent:main:slack:C1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "channel", "chat_id", "status", "summary", "created_at", "updated_at"}).
			AddRow("agent:main:slack:C1", "main", "slack", "C1", "open", "", now, now))

	session, err := store.GetOrCreate(context.Background(), "agent:main:slack:C1", "main", models.ChannelSlack, "C1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if session.Channel != models.ChannelSlack || !session.CreatedAt.Equal(time.Unix(0, now)) {
		t.Fatalf("unexpected session %+v", session)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStorePostgresAppendIsTransactional(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Unix(1700000000, 0).UnixNano()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sessions SET updated_at = \$1 WHERE id = \$2`).
		WithArgs(now, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) FROM session_turns WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO session_turns`).
		WithArgs("s1", int64(5), "user", "hi", "", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO session_turns`).
		WithArgs("s1", int64(6), "assistant", "hello", "", "", now).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Append(context.Background(), "s1",
		models.Turn{Role: models.RoleUser, Content: "hi"},
		models.Turn{Role: models.RoleAssistant, Content: "hello"},
	)
	if err == nil {
		t.Fatal("expected append error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStorePostgresAppendUnknownSession(t *testing.T) {
	mock, store := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sessions SET updated_at`).
		WithArgs(sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Append(context.Background(), "missing", models.Turn{Role: models.RoleUser, Content: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Append error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStorePostgresGetNotFound(t *testing.T) {
	mock, store := setupMockDB(t)

	mock.ExpectQuery(`SELECT .* FROM sessions WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestSQLStorePostgresTruncate(t *testing.T) {
	mock, store := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sessions SET summary = '', updated_at = \$1 WHERE id = \$2`).
		WithArgs(sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM session_turns WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := store.Truncate(context.Background(), "s1"); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
