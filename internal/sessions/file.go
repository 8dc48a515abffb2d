package sessions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/clawcore/internal/fsutil"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// FileStore keeps one JSON document per session under a directory.
// Writes go through a temp file and rename, so a crash never leaves a
// half-written session behind.
type FileStore struct {
	dir   string
	locks sync.Map // session id -> *sync.Mutex
	now   func() time.Time
}

type sessionFile struct {
	Session *models.Session `json:"session"`
	Turns   []models.Turn   `json:"turns"`
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file session store requires a path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, base64.RawURLEncoding.EncodeToString([]byte(id))+".json")
}

func (f *FileStore) lock(id string) func() {
	v, _ := f.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (f *FileStore) read(id string) (*sessionFile, error) {
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var doc sessionFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if doc.Session == nil {
		return nil, fmt.Errorf("decode session %s: missing session header", id)
	}
	return &doc, nil
}

func (f *FileStore) write(doc *sessionFile) error {
	// Compact encoding keeps tool call inputs byte-identical on reload.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", doc.Session.ID, err)
	}
	if err := fsutil.WriteFileAtomic(f.path(doc.Session.ID), data, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", doc.Session.ID, err)
	}
	return nil
}

func (f *FileStore) GetOrCreate(ctx context.Context, id, agentID string, channel models.ChannelType, chatID string) (*models.Session, error) {
	if id == "" {
		return nil, errMissingID
	}
	defer f.lock(id)()

	doc, err := f.read(id)
	if err == nil {
		return doc.Session, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	doc = &sessionFile{Session: newSession(id, agentID, channel, chatID, f.now()), Turns: []models.Turn{}}
	if err := f.write(doc); err != nil {
		return nil, err
	}
	return cloneSession(doc.Session), nil
}

func (f *FileStore) Get(ctx context.Context, id string) (*models.Session, error) {
	doc, err := f.read(id)
	if err != nil {
		return nil, err
	}
	return doc.Session, nil
}

func (f *FileStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*models.Session, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		doc, err := f.read(string(raw))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		session := doc.Session
		if agentID != "" && session.AgentID != agentID {
			continue
		}
		if opts.Channel != "" && session.Channel != opts.Channel {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return paginate(out, opts), nil
}

func (f *FileStore) Load(ctx context.Context, id string) ([]models.Turn, error) {
	doc, err := f.read(id)
	if err != nil {
		return nil, err
	}
	if doc.Turns == nil {
		return []models.Turn{}, nil
	}
	return doc.Turns, nil
}

func (f *FileStore) Append(ctx context.Context, id string, turns ...models.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	defer f.lock(id)()

	doc, err := f.read(id)
	if err != nil {
		return err
	}
	now := f.now()
	doc.Turns = append(doc.Turns, stampTurns(turns, now)...)
	doc.Session.UpdatedAt = now
	return f.write(doc)
}

func (f *FileStore) Truncate(ctx context.Context, id string) error {
	defer f.lock(id)()

	doc, err := f.read(id)
	if err != nil {
		return err
	}
	doc.Turns = []models.Turn{}
	doc.Session.Summary = ""
	doc.Session.UpdatedAt = f.now()
	return f.write(doc)
}

func (f *FileStore) SetSummary(ctx context.Context, id, summary string) error {
	defer f.lock(id)()

	doc, err := f.read(id)
	if err != nil {
		return err
	}
	doc.Session.Summary = summary
	doc.Session.UpdatedAt = f.now()
	return f.write(doc)
}

func (f *FileStore) Close() error { return nil }
