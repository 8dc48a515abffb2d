package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/clawcore/internal/agent"
)

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string

	// AllowOutside permits absolute paths and paths that leave Root.
	AllowOutside bool
}

// Resolve returns an absolute, cleaned path. Paths that escape the
// workspace root are rejected with a DeniedError unless AllowOutside is set.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", agent.NewValidationError("files.resolve", "path is required", nil)
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if r.AllowOutside {
		return targetAbs, nil
	}
	if !within(rootAbs, targetAbs) {
		return "", agent.NewDeniedError("files.resolve", fmt.Sprintf("path %q escapes the workspace", path))
	}
	// Symlinks inside the workspace must not point outside it either. The
	// target may not exist yet, so resolve its deepest existing ancestor.
	resolved, err := evalExisting(targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	realRoot, err := evalExisting(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if !within(realRoot, resolved) {
		return "", agent.NewDeniedError("files.resolve", fmt.Sprintf("path %q resolves outside the workspace", path))
	}
	return targetAbs, nil
}

// maxLinkHops bounds dangling-link resolution in evalExisting.
const maxLinkHops = 40

// evalExisting evaluates symlinks on the longest existing prefix of path and
// re-joins the missing tail. A dangling link is followed to its target so a
// write through it is checked against where it would land.
func evalExisting(path string) (string, error) {
	var tail []string
	current := path
	for hops := 0; ; {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			if hops++; hops > maxLinkHops {
				return "", fmt.Errorf("too many links resolving %s", path)
			}
			dest, err := os.Readlink(current)
			if err != nil {
				return "", err
			}
			if !filepath.IsAbs(dest) {
				dest = filepath.Join(filepath.Dir(current), dest)
			}
			current = filepath.Clean(dest)
			continue
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
