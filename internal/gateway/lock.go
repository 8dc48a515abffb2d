package gateway

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const (
	// DefaultLockTimeout is the maximum time to wait for the lock.
	DefaultLockTimeout = 5 * time.Second
	// DefaultLockPollInterval is how often a held lock is re-checked.
	DefaultLockPollInterval = 100 * time.Millisecond
	// DefaultLockStaleTimeout is the age after which an unreadable lock file is ignored.
	DefaultLockStaleTimeout = 30 * time.Second
)

// ErrAlreadyRunning is returned when another serve process holds the lock.
var ErrAlreadyRunning = errors.New("gateway already running")

// LockOptions configures instance lock acquisition.
type LockOptions struct {
	// StateDir holds the lock file. Defaults to the OS temp dir.
	StateDir string
	// ConfigPath names the lock so separate configs can run side by side.
	ConfigPath   string
	Timeout      time.Duration
	PollInterval time.Duration
	StaleTimeout time.Duration
}

// InstanceLock is a held single-instance lock. Two gateways on one config
// would both fire cron jobs and both poll the same bot tokens.
type InstanceLock struct {
	Path     string
	file     *os.File
	released bool
}

type lockPayload struct {
	PID        int    `json:"pid"`
	CreatedAt  string `json:"created_at"`
	ConfigPath string `json:"config_path"`
}

// AcquireLock takes the instance lock for opts.ConfigPath, waiting up to
// opts.Timeout for a live holder to exit. Locks left by dead processes are
// reclaimed.
func AcquireLock(opts LockOptions) (*InstanceLock, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLockTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultLockPollInterval
	}
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = DefaultLockStaleTimeout
	}

	path := lockPath(opts.StateDir, opts.ConfigPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	deadline := time.Now().Add(opts.Timeout)
	var holder *lockPayload
	for {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			payload, _ := json.Marshal(lockPayload{
				PID:        os.Getpid(),
				CreatedAt:  time.Now().UTC().Format(time.RFC3339),
				ConfigPath: opts.ConfigPath,
			})
			if _, err := file.Write(payload); err != nil {
				_ = file.Close()
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", err)
			}
			return &InstanceLock{Path: path, file: file}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}

		holder = readLockPayload(path)
		if holder != nil && !processAlive(holder.PID) {
			_ = os.Remove(path)
			continue
		}
		if holder == nil && lockStale(path, opts.StaleTimeout) {
			_ = os.Remove(path)
			continue
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(opts.PollInterval)
	}

	if holder != nil {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, holder.PID)
	}
	return nil, ErrAlreadyRunning
}

// Release removes the lock file. It is safe to call more than once.
func (l *InstanceLock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if l.file != nil {
		_ = l.file.Close()
	}
	return os.Remove(l.Path)
}

func lockPath(stateDir, configPath string) string {
	if stateDir == "" {
		stateDir = os.TempDir()
	}
	sum := sha1.Sum([]byte(configPath))
	return filepath.Join(stateDir, "gateway."+hex.EncodeToString(sum[:])[:8]+".lock")
}

func readLockPayload(path string) *lockPayload {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var payload lockPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.PID <= 0 {
		return nil
	}
	return &payload
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

func lockStale(path string, staleAfter time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > staleAfter
}
