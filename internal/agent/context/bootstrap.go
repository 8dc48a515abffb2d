package context

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// BootstrapFiles are the workspace documents injected into every system
// prompt, in order.
var BootstrapFiles = []string{"IDENTITY.md", "SOUL.md", "AGENT.md", "USER.md"}

// Document is a named piece of workspace text.
type Document struct {
	Name    string
	Content string
}

// Bootstrap holds the documents loaded from one workspace.
type Bootstrap struct {
	Files  []Document
	Skills []Document
}

// LoadBootstrap reads the bootstrap documents and skills of a workspace.
// Missing files are skipped.
func LoadBootstrap(workspace string) (*Bootstrap, error) {
	out := &Bootstrap{}
	if workspace == "" {
		return out, nil
	}
	for _, name := range BootstrapFiles {
		content, err := readOptional(filepath.Join(workspace, name))
		if err != nil {
			return nil, err
		}
		if content != "" {
			out.Files = append(out.Files, Document{Name: name, Content: content})
		}
	}

	entries, err := os.ReadDir(filepath.Join(workspace, "skills"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		content, err := readOptional(filepath.Join(workspace, "skills", name, "SKILL.md"))
		if err != nil {
			return nil, err
		}
		if content != "" {
			out.Skills = append(out.Skills, Document{Name: name, Content: content})
		}
	}
	return out, nil
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// BootstrapCache memoizes LoadBootstrap per workspace. When watching is
// started, filesystem events under a workspace drop its entry.
type BootstrapCache struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Bootstrap
	loads   int

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchPaths  map[string]string // watched dir -> workspace
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewBootstrapCache creates an empty cache.
func NewBootstrapCache(logger *slog.Logger) *BootstrapCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &BootstrapCache{
		logger:     logger.With("component", "bootstrap_cache"),
		entries:    map[string]*Bootstrap{},
		watchPaths: map[string]string{},
	}
}

// Get returns the cached documents for workspace, loading them on a miss.
func (c *BootstrapCache) Get(workspace string) (*Bootstrap, error) {
	key := filepath.Clean(workspace)
	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	loaded, err := LoadBootstrap(workspace)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[key] = loaded
	c.loads++
	c.mu.Unlock()
	c.watch(key)
	return loaded, nil
}

// Invalidate drops the cached documents of a workspace.
func (c *BootstrapCache) Invalidate(workspace string) {
	c.mu.Lock()
	delete(c.entries, filepath.Clean(workspace))
	c.mu.Unlock()
}

// Loads reports how many times documents were read from disk.
func (c *BootstrapCache) Loads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loads
}

// StartWatching enables invalidation on filesystem changes.
func (c *BootstrapCache) StartWatching(ctx context.Context) error {
	c.watchMu.Lock()
	if c.watcher != nil {
		c.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.watchMu.Unlock()
		return err
	}
	c.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	c.watchCancel = cancel
	c.watchMu.Unlock()

	c.mu.RLock()
	workspaces := make([]string, 0, len(c.entries))
	for ws := range c.entries {
		workspaces = append(workspaces, ws)
	}
	c.mu.RUnlock()
	for _, ws := range workspaces {
		c.watch(ws)
	}

	c.watchWg.Add(1)
	go c.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher.
func (c *BootstrapCache) Close() error {
	c.watchMu.Lock()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	watcher := c.watcher
	c.watcher = nil
	c.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	c.watchWg.Wait()
	return nil
}

func (c *BootstrapCache) watch(workspace string) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher == nil {
		return
	}
	dirs := []string{workspace, filepath.Join(workspace, "skills")}
	if entries, err := os.ReadDir(filepath.Join(workspace, "skills")); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				dirs = append(dirs, filepath.Join(workspace, "skills", entry.Name()))
			}
		}
	}
	for _, dir := range dirs {
		if _, ok := c.watchPaths[dir]; ok {
			continue
		}
		if err := c.watcher.Add(dir); err != nil {
			c.logger.Debug("failed to watch bootstrap path", "path", dir, "error", err)
			continue
		}
		c.watchPaths[dir] = workspace
	}
}

func (c *BootstrapCache) workspaceFor(path string) (string, bool) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	dir := filepath.Dir(path)
	if ws, ok := c.watchPaths[dir]; ok {
		return ws, true
	}
	ws, ok := c.watchPaths[path]
	return ws, ok
}

func (c *BootstrapCache) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer c.watchWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ws, ok := c.workspaceFor(event.Name)
			if !ok {
				continue
			}
			c.Invalidate(ws)
			c.logger.Debug("bootstrap documents changed", "workspace", ws, "path", event.Name)
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					c.watch(ws)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("bootstrap watch error", "error", err)
		}
	}
}
