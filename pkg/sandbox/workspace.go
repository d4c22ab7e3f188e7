package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace confines filesystem access to one directory tree. All
// tool paths resolve through it before any file is touched.
type Workspace struct {
	root string
}

// NewWorkspace roots a workspace at dir, creating it if needed. The
// stored root has symlinks resolved so containment checks compare
// real paths.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Workspace{root: resolved}, nil
}

// Root returns the resolved workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve maps path into the workspace and returns its real absolute
// location. Relative paths are taken from the root. Symlinks in every
// existing ancestor are resolved first, so a link pointing outside
// the tree cannot smuggle access past the check. Fails with
// ErrPathEscape when the resolved target leaves the root.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, p)
	}
	p = filepath.Clean(p)

	resolved, err := resolveThroughAncestors(p)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !w.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return resolved, nil
}

func (w *Workspace) contains(p string) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

// maxLinkHops bounds symlink substitution so link cycles fail
// instead of looping.
const maxLinkHops = 40

// resolveThroughAncestors resolves symlinks in the deepest existing
// ancestor of p, then rejoins the not-yet-existing tail. Lets tools
// target files they are about to create. A dangling symlink on the
// way is substituted by its target and resolution restarts, so a
// link to a nonexistent file outside the tree still ends up at the
// real target path for the containment check.
func resolveThroughAncestors(p string) (string, error) {
	tail := ""
	cur := p
	hops := 0
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, tail), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		if fi, lerr := os.Lstat(cur); lerr == nil && fi.Mode()&os.ModeSymlink != 0 {
			hops++
			if hops > maxLinkHops {
				return "", fmt.Errorf("too many symlinks resolving %s", p)
			}
			target, rerr := os.Readlink(cur)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			cur = filepath.Clean(target)
			continue
		}
		tail = filepath.Join(filepath.Base(cur), tail)
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		cur = parent
	}
}
