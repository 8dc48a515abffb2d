package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	turns    map[string][]models.Turn
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		turns:    map[string][]models.Turn{},
		now:      time.Now,
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, id, agentID string, channel models.ChannelType, chatID string) (*models.Session, error) {
	if id == "" {
		return nil, errMissingID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[id]; ok {
		return cloneSession(session), nil
	}
	session := newSession(id, agentID, channel, chatID, m.now())
	m.sessions[id] = session
	return cloneSession(session), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	out := make([]*models.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if agentID != "" && session.AgentID != agentID {
			continue
		}
		if opts.Channel != "" && session.Channel != opts.Channel {
			continue
		}
		out = append(out, cloneSession(session))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return paginate(out, opts), nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) ([]models.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[id]; !ok {
		return nil, ErrNotFound
	}
	return cloneTurns(m.turns[id]), nil
}

func (m *MemoryStore) Append(ctx context.Context, id string, turns ...models.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	m.turns[id] = append(m.turns[id], stampTurns(turns, now)...)
	session.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Truncate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.turns, id)
	session.Summary = ""
	session.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) SetSummary(ctx context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.Summary = summary
	session.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
