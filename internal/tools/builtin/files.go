package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/internal/tools"
)

// maxReadBytes bounds a single read_file result before executor truncation.
const maxReadBytes = 512 * 1024

func (b *builtins) readFileTool() *tools.Tool {
	return &tools.Tool{
		Definition: providers.ToolDefinition{
			Name:        "read_file",
			Description: "Read the contents of a file in the workspace.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path, relative to the workspace root"}
				},
				"required": ["path"]
			}`),
		},
		Permission:   tools.PermissionSafe,
		Category:     "filesystem",
		Enabled:      true,
		ParallelSafe: true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			path, err := b.resolvePath(stringArg(args, "path"))
			if err != nil {
				return nil, err
			}

			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("file not found: %s", stringArg(args, "path"))
			}
			if info.IsDir() {
				return nil, fmt.Errorf("path is a directory, use list_directory: %s", stringArg(args, "path"))
			}
			if info.Size() > maxReadBytes {
				return nil, fmt.Errorf("file too large to read (%d bytes, limit %d)", info.Size(), maxReadBytes)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			if !utf8.Valid(data) {
				return nil, fmt.Errorf("cannot decode file as text: %s", stringArg(args, "path"))
			}

			if b.cfg.Context != nil {
				b.cfg.Context.RecordRead(path, data)
			}
			return string(data), nil
		},
	}
}

func (b *builtins) writeFileTool() *tools.Tool {
	return &tools.Tool{
		Definition: providers.ToolDefinition{
			Name:        "write_file",
			Description: "Write content to a file in the workspace, creating it and any parent directories if needed.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path, relative to the workspace root"},
					"content": {"type": "string", "description": "Full content to write"}
				},
				"required": ["path", "content"]
			}`),
		},
		Permission: tools.PermissionCautious,
		Category:   "filesystem",
		Enabled:    true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			path, err := b.resolvePath(stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			content := stringArg(args, "content")

			op := tools.OpWrite
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				op = tools.OpCreate
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, err
			}

			if b.cfg.Context != nil {
				b.cfg.Context.RecordModification(path, op, []byte(content))
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), stringArg(args, "path")), nil
		},
	}
}

func (b *builtins) editFileTool() *tools.Tool {
	return &tools.Tool{
		Definition: providers.ToolDefinition{
			Name:        "edit_file",
			Description: "Replace an exact string in a file. The old string must appear exactly once.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path, relative to the workspace root"},
					"old_string": {"type": "string", "description": "Exact text to replace; must be unique in the file"},
					"new_string": {"type": "string", "description": "Replacement text"}
				},
				"required": ["path", "old_string", "new_string"]
			}`),
		},
		Permission: tools.PermissionCautious,
		Category:   "filesystem",
		Enabled:    true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			path, err := b.resolvePath(stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			oldStr := stringArg(args, "old_string")
			newStr := stringArg(args, "new_string")
			if oldStr == "" {
				return nil, fmt.Errorf("invalid arguments: old_string must not be empty")
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("file not found: %s", stringArg(args, "path"))
			}
			content := string(data)

			switch count := strings.Count(content, oldStr); count {
			case 0:
				return nil, fmt.Errorf("old_string not found in %s", stringArg(args, "path"))
			case 1:
				// unique, proceed
			default:
				return nil, fmt.Errorf("old_string appears %d times in %s; include more surrounding context to make it unique", count, stringArg(args, "path"))
			}

			updated := strings.Replace(content, oldStr, newStr, 1)
			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				return nil, err
			}

			if b.cfg.Context != nil {
				b.cfg.Context.RecordModification(path, tools.OpEdit, []byte(updated))
			}
			return fmt.Sprintf("Edited %s", stringArg(args, "path")), nil
		},
	}
}

func (b *builtins) listDirectoryTool() *tools.Tool {
	return &tools.Tool{
		Definition: providers.ToolDefinition{
			Name:        "list_directory",
			Description: "List the entries of a directory in the workspace.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Directory path, relative to the workspace root; defaults to the root"}
				},
				"required": []
			}`),
		},
		Permission:   tools.PermissionSafe,
		Category:     "filesystem",
		Enabled:      true,
		ParallelSafe: true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			path, err := b.resolvePath(stringArg(args, "path"))
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("directory not found: %s", stringArg(args, "path"))
			}

			lines := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				lines = append(lines, name)
			}
			sort.Strings(lines)

			if len(lines) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

// searchSkipDirs are never descended into during search_files.
var searchSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

func (b *builtins) searchFilesTool() *tools.Tool {
	return &tools.Tool{
		Definition: providers.ToolDefinition{
			Name:        "search_files",
			Description: "Search workspace files for a substring, returning matching lines with file and line number.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern": {"type": "string", "description": "Substring to search for (case-sensitive)"},
					"path": {"type": "string", "description": "Directory to search under; defaults to the workspace root"},
					"max_results": {"type": "integer", "description": "Maximum matching lines to return; defaults to 100"}
				},
				"required": ["pattern"]
			}`),
		},
		Permission:   tools.PermissionSafe,
		Category:     "filesystem",
		Enabled:      true,
		ParallelSafe: true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			pattern := stringArg(args, "pattern")
			if pattern == "" {
				return nil, fmt.Errorf("invalid arguments: pattern must not be empty")
			}
			root, err := b.resolvePath(stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			maxResults := intArg(args, "max_results", 100)

			var matches []string
			walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if searchSkipDirs[d.Name()] {
						return filepath.SkipDir
					}
					return nil
				}
				if len(matches) >= maxResults {
					return filepath.SkipAll
				}
				if err := ctx.Err(); err != nil {
					return err
				}

				info, err := d.Info()
				if err != nil || info.Size() > maxReadBytes {
					return nil
				}
				data, err := os.ReadFile(path)
				if err != nil || !utf8.Valid(data) {
					return nil
				}

				rel, relErr := filepath.Rel(b.cfg.Workspace, path)
				if relErr != nil {
					rel = path
				}
				for i, line := range strings.Split(string(data), "\n") {
					if strings.Contains(line, pattern) {
						matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
						if len(matches) >= maxResults {
							break
						}
					}
				}
				return nil
			})
			if walkErr != nil && walkErr != filepath.SkipAll {
				return nil, walkErr
			}

			if len(matches) == 0 {
				return fmt.Sprintf("No matches for %q", pattern), nil
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}
