package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// Dialect captures the differences between the supported SQL backends.
type Dialect struct {
	Name   string
	Driver string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
}

var (
	DialectSQLite   = Dialect{Name: "sqlite", Driver: "sqlite"}
	DialectPostgres = Dialect{Name: "postgres", Driver: "postgres", Numbered: true}
)

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		status TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT NOT NULL DEFAULT '',
		tool_results TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions (agent_id, updated_at)`,
}

const sessionColumns = `id, agent_id, channel, chat_id, status, summary, created_at, updated_at`

// SQLStore implements Store on database/sql. SQLite is served by
// modernc.org/sqlite and Postgres by lib/pq.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLStore opens the database, applies the schema and returns the store.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s session store requires a dsn", dialect.Name)
	}
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect.Driver == DialectSQLite.Driver {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an already open database. The schema is not applied.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Migrate creates the tables when they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply session schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) GetOrCreate(ctx context.Context, id, agentID string, channel models.ChannelType, chatID string) (*models.Session, error) {
	if id == "" {
		return nil, errMissingID
	}
	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, '', ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		id, agentID, string(channel), chatID, string(models.SessionOpen), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (s *SQLStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1 = 1`
	var args []any
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if opts.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(opts.Channel))
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	paged := opts.Limit > 0
	if paged {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, max(opts.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []*models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if !paged {
		out = paginate(out, ListOptions{Offset: opts.Offset})
	}
	return out, nil
}

func (s *SQLStore) Load(ctx context.Context, id string) ([]models.Turn, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT role, content, tool_calls, tool_results, created_at
		FROM session_turns WHERE session_id = ? ORDER BY seq ASC`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	turns := []models.Turn{}
	for rows.Next() {
		var (
			role, content  string
			calls, results string
			createdAt      int64
		)
		if err := rows.Scan(&role, &content, &calls, &results, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn := models.Turn{Role: models.Role(role), Content: content, CreatedAt: time.Unix(0, createdAt)}
		if calls != "" {
			if err := json.Unmarshal([]byte(calls), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		if results != "" {
			if err := json.Unmarshal([]byte(results), &turn.ToolResults); err != nil {
				return nil, fmt.Errorf("failed to decode tool results: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return turns, nil
}

// Append stores the batch in one transaction. The session row update runs
// first so concurrent appenders to the same session serialize on it.
func (s *SQLStore) Append(ctx context.Context, id string, turns ...models.Turn) (err error) {
	if len(turns) == 0 {
		return ctx.Err()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	res, err := tx.ExecContext(ctx, s.dialect.Rebind(`UPDATE sessions SET updated_at = ? WHERE id = ?`), now.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
		return ErrNotFound
	}

	var last int64
	if err = tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COALESCE(MAX(seq), 0) FROM session_turns WHERE session_id = ?`), id).Scan(&last); err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}

	insert := s.dialect.Rebind(`
		INSERT INTO session_turns (session_id, seq, role, content, tool_calls, tool_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for i, turn := range stampTurns(turns, now) {
		var calls, results string
		if calls, results, err = encodeToolFields(turn); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, insert,
			id, last+int64(i)+1, string(turn.Role), turn.Content, calls, results, turn.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to append turn: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}
	return nil
}

func (s *SQLStore) Truncate(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin truncate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.dialect.Rebind(`UPDATE sessions SET summary = '', updated_at = ? WHERE id = ?`), s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
		return ErrNotFound
	}
	if _, err = tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM session_turns WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit truncate: %w", err)
	}
	return nil
}

func (s *SQLStore) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`UPDATE sessions SET summary = ?, updated_at = ? WHERE id = ?`), summary, s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to set summary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session              models.Session
		channel, status      string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&session.ID, &session.AgentID, &channel, &session.ChatID, &status, &session.Summary, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	session.Channel = models.ChannelType(channel)
	session.Status = models.SessionStatus(status)
	session.CreatedAt = time.Unix(0, createdAt)
	session.UpdatedAt = time.Unix(0, updatedAt)
	return &session, nil
}

func encodeToolFields(turn models.Turn) (string, string, error) {
	var calls, results string
	if len(turn.ToolCalls) > 0 {
		data, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode tool calls: %w", err)
		}
		calls = string(data)
	}
	if len(turn.ToolResults) > 0 {
		data, err := json.Marshal(turn.ToolResults)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode tool results: %w", err)
		}
		results = string(data)
	}
	return calls, results, nil
}
