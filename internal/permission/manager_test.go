package permission

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// newTestManager builds a manager with a writable workspace and a
// read-only context directory, both real temp dirs.
func newTestManager(t *testing.T) (*Manager, string, string) {
	t.Helper()
	workspace := t.TempDir()
	contextDir := t.TempDir()
	m := NewManager([]ManagedPath{
		{Path: workspace, Perm: PermWrite},
		{Path: contextDir, Perm: PermRead},
	}, nil)
	return m, workspace, contextDir
}

func TestCheckWriteInsideWorkspace(t *testing.T) {
	m, workspace, _ := newTestManager(t)

	d := m.Check("write_file", map[string]any{
		"path":    filepath.Join(workspace, "notes.txt"),
		"content": "hello",
	})
	if !d.Allowed {
		t.Fatalf("write inside workspace denied: %s", d.Reason)
	}
}

func TestCheckWriteToContextPathDenied(t *testing.T) {
	m, _, contextDir := newTestManager(t)

	d := m.Check("write_file", map[string]any{
		"path": filepath.Join(contextDir, "other.txt"),
	})
	if d.Allowed {
		t.Fatal("write to read-only context path was allowed")
	}
	if d.Reason == "" {
		t.Error("denial has no reason")
	}
}

func TestCheckReadFromContextPath(t *testing.T) {
	m, _, contextDir := newTestManager(t)

	d := m.Check("read_file", map[string]any{
		"path": filepath.Join(contextDir, "other.txt"),
	})
	if !d.Allowed {
		t.Fatalf("read from context path denied: %s", d.Reason)
	}
}

func TestCheckUnmanagedPathDenied(t *testing.T) {
	m, _, _ := newTestManager(t)

	outside := t.TempDir()
	for _, tool := range []string{"read_file", "write_file"} {
		d := m.Check(tool, map[string]any{"path": filepath.Join(outside, "x")})
		if d.Allowed {
			t.Errorf("%s on unmanaged path was allowed", tool)
		}
	}
}

func TestCheckDotDotEscapeDenied(t *testing.T) {
	m, workspace, _ := newTestManager(t)

	d := m.Check("write_file", map[string]any{
		"path": filepath.Join(workspace, "..", "escape.txt"),
	})
	if d.Allowed {
		t.Fatal("dot-dot escape from workspace was allowed")
	}
}

func TestCheckSymlinkEscapeDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not applicable on windows")
	}
	m, workspace, contextDir := newTestManager(t)

	// A symlink inside the workspace pointing at the read-only dir
	// must not grant write through the workspace grant.
	link := filepath.Join(workspace, "sneaky")
	if err := os.Symlink(contextDir, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	d := m.Check("write_file", map[string]any{
		"path": filepath.Join(link, "through-link.txt"),
	})
	if d.Allowed {
		t.Fatal("write through symlink into read-only dir was allowed")
	}
}

func TestCheckInnermostGrantWins(t *testing.T) {
	outer := t.TempDir()
	inner := filepath.Join(outer, "frozen")
	if err := os.MkdirAll(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	m := NewManager([]ManagedPath{
		{Path: outer, Perm: PermWrite},
		{Path: inner, Perm: PermRead},
	}, nil)

	if d := m.Check("write_file", map[string]any{"path": filepath.Join(inner, "f")}); d.Allowed {
		t.Error("inner read-only grant was shadowed by outer write grant")
	}
	if d := m.Check("write_file", map[string]any{"path": filepath.Join(outer, "f")}); !d.Allowed {
		t.Errorf("outer write denied: %s", d.Reason)
	}
}

func TestCheckNoPathArguments(t *testing.T) {
	m, _, _ := newTestManager(t)

	d := m.Check("web_search", map[string]any{"query": "go generics"})
	if !d.Allowed {
		t.Errorf("tool without path arguments denied: %s", d.Reason)
	}
}

func TestCheckMultiplePathArguments(t *testing.T) {
	m, workspace, contextDir := newTestManager(t)

	// move with one leg outside the writable grant must be denied.
	d := m.Check("move_file", map[string]any{
		"source":      filepath.Join(workspace, "a.txt"),
		"destination": filepath.Join(contextDir, "a.txt"),
	})
	if d.Allowed {
		t.Fatal("move into read-only dir was allowed")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		tool string
		want Permission
	}{
		{"read_file", PermRead},
		{"list_dir", PermRead},
		{"stat", PermRead},
		{"write_file", PermWrite},
		{"delete_file", PermWrite},
		{"execute_command", PermWrite},
		{"never_heard_of_it", PermWrite}, // unknown errs toward write
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			if got := Classify(tt.tool); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.tool, got, tt.want)
			}
		})
	}
}

func TestPathArguments(t *testing.T) {
	args := map[string]any{
		"path":        "/a",
		"source":      "/b",
		"output_path": "/c",
		"query":       "not a path",
		"count":       3,
	}
	got := pathArguments(args)
	if len(got) != 3 {
		t.Fatalf("expected 3 path args, got %v", got)
	}
}
