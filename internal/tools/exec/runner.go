package exec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const shellPath = "/bin/sh"

// Result summarizes a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// run executes command with /bin/sh -c in dir. When ctx ends the whole
// process group is killed.
func run(ctx context.Context, command, dir string, maxOutput int) (Result, error) {
	cmd := exec.CommandContext(ctx, shellPath, "-c", command)
	cmd.Dir = dir
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 2 * time.Second

	stdout := newLimitedBuffer(maxOutput)
	stderr := newLimitedBuffer(maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
		Duration: time.Since(start),
	}
	if ctx.Err() != nil {
		result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return result, ctx.Err()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return result, fmt.Errorf("run command: %w", err)
	}
	return result, nil
}

// Format renders a result the way the model sees it: stdout, a [stderr]
// section, then an [exit code: N] trailer. Output is capped at limit chars.
func (r Result) Format(limit int) string {
	var parts []string
	if r.Stdout != "" {
		parts = append(parts, strings.TrimRight(r.Stdout, "\n"))
	}
	if r.Stderr != "" {
		parts = append(parts, "[stderr]\n"+strings.TrimRight(r.Stderr, "\n"))
	}
	output := strings.Join(parts, "\n")
	switch {
	case output == "":
		output = "(no output)"
	case limit > 0 && len(output) > limit:
		output = truncateUTF8(output, limit) + "\n... (output truncated)"
	}
	return fmt.Sprintf("%s\n[exit code: %d]", output, r.ExitCode)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
