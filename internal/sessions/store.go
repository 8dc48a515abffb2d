package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// ErrNotFound is returned when a session id is unknown to the store.
var ErrNotFound = errors.New("session not found")

var errMissingID = errors.New("session id is required")

// Store persists sessions and their append-only turn history.
//
// Implementations allow concurrent reads and serialize writes per session.
// Append is atomic: either every turn in the batch is stored or none is.
type Store interface {
	// GetOrCreate returns the session with the given id, creating it when absent.
	GetOrCreate(ctx context.Context, id, agentID string, channel models.ChannelType, chatID string) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error)

	Load(ctx context.Context, id string) ([]models.Turn, error)
	Append(ctx context.Context, id string, turns ...models.Turn) error
	// Truncate clears the history and summary of a session.
	Truncate(ctx context.Context, id string) error
	SetSummary(ctx context.Context, id, summary string) error

	Close() error
}

// ListOptions controls paging for List.
type ListOptions struct {
	Channel models.ChannelType
	Limit   int
	Offset  int
}

// SessionKey builds the stable session id for an agent conversation.
// A non-empty sender scopes the session to one member of a group chat.
func SessionKey(agentID string, channel models.ChannelType, chatID, senderID string) string {
	key := fmt.Sprintf("agent:%s:%s:%s", agentID, channel, chatID)
	if senderID != "" {
		key += ":" + senderID
	}
	return key
}

// Config selects and configures a Store backend.
type Config struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// Open builds the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		return OpenSQLStore(ctx, DialectSQLite, cfg.Path)
	case "postgres":
		return OpenSQLStore(ctx, DialectPostgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func newSession(id, agentID string, channel models.ChannelType, chatID string, now time.Time) *models.Session {
	return &models.Session{
		ID:        id,
		AgentID:   agentID,
		Channel:   channel,
		ChatID:    chatID,
		Status:    models.SessionOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	return &clone
}

func cloneTurns(turns []models.Turn) []models.Turn {
	if len(turns) == 0 {
		return []models.Turn{}
	}
	out := make([]models.Turn, len(turns))
	for i, turn := range turns {
		out[i] = turn.Clone()
	}
	return out
}

// stampTurns fills CreatedAt on turns that lack it.
func stampTurns(turns []models.Turn, now time.Time) []models.Turn {
	out := cloneTurns(turns)
	for i := range out {
		if out[i].CreatedAt.IsZero() {
			out[i].CreatedAt = now
		}
	}
	return out
}

func paginate(list []*models.Session, opts ListOptions) []*models.Session {
	if opts.Offset > 0 {
		if opts.Offset >= len(list) {
			return []*models.Session{}
		}
		list = list[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(list) {
		list = list[:opts.Limit]
	}
	return list
}
