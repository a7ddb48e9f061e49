// Package permission classifies filesystem operations requested by
// agents as allowed reads, allowed writes, or denials. Every
// filesystem-affecting tool call is checked here before it executes.
package permission

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Permission is the access level granted on a managed path.
type Permission string

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
)

// ManagedPath grants access to a directory subtree.
type ManagedPath struct {
	Path string     `json:"path" yaml:"path"`
	Perm Permission `json:"permission" yaml:"permission"`
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Manager checks tool calls against an ordered list of managed paths.
// The innermost (longest) managed path containing a resolved target
// decides; unmanaged targets are denied.
type Manager struct {
	paths  []ManagedPath
	logger *slog.Logger
}

// NewManager creates a manager over the given managed paths. Paths are
// canonicalized once at construction; entries that cannot be resolved
// are kept with their cleaned absolute form so later checks still
// match by prefix.
func NewManager(paths []ManagedPath, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	resolved := make([]ManagedPath, 0, len(paths))
	for _, mp := range paths {
		p, err := canonicalize(mp.Path)
		if err != nil {
			logger.Warn("managed path did not resolve, using cleaned form",
				"path", mp.Path, "error", err)
			if abs, absErr := filepath.Abs(mp.Path); absErr == nil {
				p = filepath.Clean(abs)
			} else {
				continue
			}
		}
		resolved = append(resolved, ManagedPath{Path: p, Perm: mp.Perm})
	}
	// Longest path first so the innermost grant wins.
	sort.SliceStable(resolved, func(i, j int) bool {
		return len(resolved[i].Path) > len(resolved[j].Path)
	})
	return &Manager{paths: resolved, logger: logger}
}

// Check evaluates a tool call before execution. It extracts every
// path-like argument, resolves it, and requires each target to fall
// under a managed path whose permission covers the tool's capability.
func (m *Manager) Check(toolName string, args map[string]any) Decision {
	capability := Classify(toolName)

	targets := pathArguments(args)
	if len(targets) == 0 {
		// No path arguments: nothing filesystem-affecting to police.
		return Decision{Allowed: true, Reason: "no path arguments"}
	}

	for _, target := range targets {
		resolved, err := canonicalize(target)
		if err != nil {
			return Decision{Allowed: false, Reason: fmt.Sprintf("cannot resolve path %q: %v", target, err)}
		}
		entry, ok := m.match(resolved)
		if !ok {
			return Decision{Allowed: false, Reason: fmt.Sprintf("path %q is outside all managed paths", target)}
		}
		if capability == PermWrite && entry.Perm != PermWrite {
			return Decision{Allowed: false, Reason: fmt.Sprintf("tool %q requires write access but %q is read-only", toolName, target)}
		}
	}

	return Decision{Allowed: true, Reason: "within managed paths"}
}

// Allowed reports whether a single already-known path may be accessed
// with the given permission. Used by tools that compute paths
// internally rather than receiving them as arguments.
func (m *Manager) Allowed(path string, perm Permission) Decision {
	resolved, err := canonicalize(path)
	if err != nil {
		return Decision{Allowed: false, Reason: fmt.Sprintf("cannot resolve path %q: %v", path, err)}
	}
	entry, ok := m.match(resolved)
	if !ok {
		return Decision{Allowed: false, Reason: fmt.Sprintf("path %q is outside all managed paths", path)}
	}
	if perm == PermWrite && entry.Perm != PermWrite {
		return Decision{Allowed: false, Reason: fmt.Sprintf("path %q is read-only", path)}
	}
	return Decision{Allowed: true, Reason: "within managed paths"}
}

// match finds the innermost managed path containing resolved.
func (m *Manager) match(resolved string) (ManagedPath, bool) {
	for _, mp := range m.paths {
		if containsPath(mp.Path, resolved) {
			return mp, true
		}
	}
	return ManagedPath{}, false
}

// containsPath reports whether child is root or inside root.
func containsPath(root, child string) bool {
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

// canonicalize resolves a path to absolute form with symlinks
// evaluated. For paths that do not exist yet (write targets), the
// deepest existing ancestor is resolved and the remainder re-joined,
// so a symlinked parent cannot be used to escape a managed subtree.
func canonicalize(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	existing := abs
	var tail []string
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", fmt.Errorf("no existing ancestor for %q", abs)
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}
}

// pathArgKeys are argument names treated as filesystem paths.
var pathArgKeys = map[string]bool{
	"path":        true,
	"file_path":   true,
	"dir":         true,
	"directory":   true,
	"target":      true,
	"source":      true,
	"destination": true,
	"cwd":         true,
	"workdir":     true,
}

// RebaseRelative returns a copy of args with relative path-like
// arguments joined onto base. Absolute paths pass through unchanged.
// Tools receive workspace-relative paths from models; rebasing before
// the permission check keeps both operating on the same target.
func RebaseRelative(args map[string]any, base string) map[string]any {
	if base == "" || len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		if pathArgKeys[key] || strings.HasSuffix(key, "_path") {
			if s, ok := value.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" && !filepath.IsAbs(s) {
					out[key] = filepath.Join(base, s)
					continue
				}
			}
		}
		out[key] = value
	}
	return out
}

// pathArguments extracts path-like string arguments from a tool call.
// Keys ending in "_path" are always considered path-like.
func pathArguments(args map[string]any) []string {
	var out []string
	for key, value := range args {
		if !pathArgKeys[key] && !strings.HasSuffix(key, "_path") {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
