package permission

// toolCapabilities is the fixed classification of tool names. Tools
// absent from this table are classified write: when unsure, err toward
// the stronger capability.
var toolCapabilities = map[string]Permission{
	// Read-only tools.
	"read_file":   PermRead,
	"read":        PermRead,
	"cat":         PermRead,
	"list_dir":    PermRead,
	"list_files":  PermRead,
	"ls":          PermRead,
	"stat":        PermRead,
	"file_info":   PermRead,
	"glob":        PermRead,
	"grep":        PermRead,
	"search":      PermRead,
	"search_text": PermRead,

	// Write-capable tools.
	"write_file":  PermWrite,
	"write":       PermWrite,
	"edit_file":   PermWrite,
	"edit":        PermWrite,
	"patch":       PermWrite,
	"append_file": PermWrite,
	"create_file": PermWrite,
	"delete_file": PermWrite,
	"delete":      PermWrite,
	"remove":      PermWrite,
	"move_file":   PermWrite,
	"move":        PermWrite,
	"rename":      PermWrite,
	"copy_file":   PermWrite,
	"copy":        PermWrite,
	"mkdir":       PermWrite,

	// Shell execution can touch anything; treat as write.
	"execute_command": PermWrite,
	"run_command":     PermWrite,
	"shell":           PermWrite,
	"bash":            PermWrite,
}

// Classify returns the capability a tool requires. Unknown tools are
// treated as write-capable.
func Classify(toolName string) Permission {
	if perm, ok := toolCapabilities[toolName]; ok {
		return perm
	}
	return PermWrite
}

// IsFilesystemTool reports whether the tool name appears in the fixed
// capability table. Tools outside the table still classify as write
// but carry no path arguments to check unless they pass some.
func IsFilesystemTool(toolName string) bool {
	_, ok := toolCapabilities[toolName]
	return ok
}
