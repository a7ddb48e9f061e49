package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxReadBytes caps file reads handed back to the model.
const maxReadBytes = 256 * 1024

var readFileSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "File to read, absolute or workspace-relative"}
	},
	"required": ["path"]
}`)

var writeFileSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "File to write, absolute or workspace-relative"},
		"content": {"type": "string", "description": "Full file content"}
	},
	"required": ["path", "content"]
}`)

var listDirSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string", "description": "Directory to list, absolute or workspace-relative"}
	},
	"required": ["path"]
}`)

// FilesystemHandlers returns the built-in file tools. All paths have
// already been rebased onto the workspace and permission-checked by
// the registry before these run.
func FilesystemHandlers() []Handler {
	return []Handler{
		&FuncHandler{
			ToolName: "read_file",
			Desc:     "Read the contents of a file",
			Params:   readFileSchema,
			Fn:       readFile,
		},
		&FuncHandler{
			ToolName: "write_file",
			Desc:     "Write content to a file, creating parent directories as needed",
			Params:   writeFileSchema,
			Fn:       writeFile,
		},
		&FuncHandler{
			ToolName: "list_dir",
			Desc:     "List the entries of a directory",
			Params:   listDirSchema,
			Fn:       listDir,
		},
	}
}

func readFile(_ context.Context, args map[string]any, _ AgentContext) Output {
	path, _ := args["path"].(string)
	info, err := os.Stat(path)
	if err != nil {
		return Errorf("read %q: %v", path, err)
	}
	if info.Size() > maxReadBytes {
		return Errorf("file %q is %d bytes, over the %d byte read limit", path, info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %q: %v", path, err)
	}
	return Output{Content: string(data)}
}

func writeFile(_ context.Context, args map[string]any, _ AgentContext) Output {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Errorf("write %q: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Errorf("write %q: %v", path, err)
	}
	return Output{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
}

func listDir(_ context.Context, args map[string]any, _ AgentContext) Output {
	path, _ := args["path"].(string)
	entries, err := os.ReadDir(path)
	if err != nil {
		return Errorf("list %q: %v", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return Output{Content: strings.Join(names, "\n")}
}
