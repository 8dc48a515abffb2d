// Package memory persists agent memory as markdown files in the workspace.
//
// Layout, per agent workspace:
//
//	memory/MEMORY.md           long-term memory
//	memory/YYYYMM/YYYYMMDD.md  daily notes
//
// Writers are serialized per agent namespace. Reads take the same lock in
// shared mode, so a reader never observes a partially written file.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/clawcore/internal/fsutil"
)

const (
	memoryDir      = "memory"
	longTermFile   = "MEMORY.md"
	monthDirLayout = "200601"
	dayFileLayout  = "20060102"
)

// DailyNote is the content of one daily notes file.
type DailyNote struct {
	Date    time.Time
	Content string
}

// Store reads and writes agent memory files.
type Store struct {
	workspaces map[string]string
	baseDir    string
	now        func() time.Time
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// Option customizes a Store.
type Option func(*Store)

// WithBaseDir sets where agents without a configured workspace keep memory.
// Their files live under <dir>/<agent>.
func WithBaseDir(dir string) Option {
	return func(s *Store) { s.baseDir = dir }
}

// WithClock overrides the clock used for today's notes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a store. workspaces maps agent id to workspace directory.
func NewStore(workspaces map[string]string, opts ...Option) *Store {
	s := &Store{
		workspaces: make(map[string]string, len(workspaces)),
		now:        time.Now,
		locks:      make(map[string]*sync.RWMutex),
	}
	for id, dir := range workspaces {
		s.workspaces[normalizeAgent(id)] = dir
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "memory")
	}
	return s
}

// ReadLongTerm returns the agent's long-term memory, or "" if none exists.
func (s *Store) ReadLongTerm(ctx context.Context, agentID string) (string, error) {
	dir, lock, err := s.namespace(agentID)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lock.RLock()
	defer lock.RUnlock()
	return readOptional(filepath.Join(dir, longTermFile))
}

// WriteLongTerm replaces the agent's long-term memory.
func (s *Store) WriteLongTerm(ctx context.Context, agentID, content string) error {
	dir, lock, err := s.namespace(agentID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, longTermFile), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write long-term memory: %w", err)
	}
	s.logger.Debug("long-term memory replaced", "agent_id", agentID, "bytes", len(content))
	return nil
}

// AppendLongTerm appends text to the agent's long-term memory on its own line.
func (s *Store) AppendLongTerm(ctx context.Context, agentID, text string) error {
	dir, lock, err := s.namespace(agentID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()
	return appendLine(filepath.Join(dir, longTermFile), text)
}

// ReadDaily returns the notes for the given day, or "" if none exist.
func (s *Store) ReadDaily(ctx context.Context, agentID string, date time.Time) (string, error) {
	dir, lock, err := s.namespace(agentID)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lock.RLock()
	defer lock.RUnlock()
	return readOptional(dailyPath(dir, date))
}

// AppendDaily appends text to today's notes.
func (s *Store) AppendDaily(ctx context.Context, agentID, text string) error {
	dir, lock, err := s.namespace(agentID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()
	return appendLine(dailyPath(dir, s.now()), text)
}

// RecentDaily returns the non-empty notes of the last days days, newest first.
func (s *Store) RecentDaily(ctx context.Context, agentID string, days int) ([]DailyNote, error) {
	if days <= 0 {
		return nil, nil
	}
	dir, lock, err := s.namespace(agentID)
	if err != nil {
		return nil, err
	}
	lock.RLock()
	defer lock.RUnlock()

	today := s.now()
	var notes []DailyNote
	for i := 0; i < days; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		date := today.AddDate(0, 0, -i)
		content, err := readOptional(dailyPath(dir, date))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		notes = append(notes, DailyNote{
			Date:    time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()),
			Content: content,
		})
	}
	return notes, nil
}

// Dir returns the memory directory of an agent.
func (s *Store) Dir(agentID string) (string, error) {
	dir, _, err := s.namespace(agentID)
	return dir, err
}

func (s *Store) namespace(agentID string) (string, *sync.RWMutex, error) {
	id := normalizeAgent(agentID)
	if id == "" {
		return "", nil, errors.New("agent id is required")
	}
	workspace, ok := s.workspaces[id]
	if !ok {
		if s.baseDir == "" {
			return "", nil, fmt.Errorf("no workspace configured for agent %q", agentID)
		}
		workspace = filepath.Join(s.baseDir, id)
	}

	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.RWMutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()
	return filepath.Join(workspace, memoryDir), lock, nil
}

func dailyPath(dir string, date time.Time) string {
	return filepath.Join(dir, date.Format(monthDirLayout), date.Format(dayFileLayout)+".md")
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return string(data), nil
}

func appendLine(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	existing, err := readOptional(path)
	if err != nil {
		return err
	}
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		text = "\n" + text
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func normalizeAgent(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
