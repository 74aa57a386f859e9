// Package builtin provides the built-in workspace tools: file reads and
// writes, directory listing, content search, and shell execution. All paths
// resolve inside a configured workspace root; blocked paths and blocked
// command prefixes are refused before anything touches the disk.
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/internal/tools"
)

// Config configures the built-in tool set.
type Config struct {
	// Workspace is the root directory all file paths resolve against.
	Workspace string

	// BlockedPaths are path fragments that file tools refuse to touch
	// (".git/", ".env", ...). Matched against the workspace-relative path.
	BlockedPaths []string

	// BlockedCommands are command prefixes run_command refuses.
	BlockedCommands []string

	// Context records reads and modifications. Optional.
	Context *tools.ToolContext

	Logger *observability.Logger
}

// defaultBlockedCommands refuse obviously destructive or privilege-changing
// shell invocations even when the config lists none.
var defaultBlockedCommands = []string{
	"rm -rf /",
	"sudo",
	"shutdown",
	"reboot",
	"mkfs",
	"dd if=",
}

// Register adds all built-in tools to the registry.
func Register(registry *tools.Registry, cfg Config) error {
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	abs, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	cfg.Workspace = abs
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if len(cfg.BlockedCommands) == 0 {
		cfg.BlockedCommands = defaultBlockedCommands
	}

	b := &builtins{cfg: cfg}
	for _, tool := range []*tools.Tool{
		b.readFileTool(),
		b.writeFileTool(),
		b.editFileTool(),
		b.listDirectoryTool(),
		b.searchFilesTool(),
		b.runCommandTool(),
	} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

type builtins struct {
	cfg Config
}

// resolvePath turns a model-supplied path into an absolute path inside the
// workspace. Escapes and blocked fragments are permission denials.
func (b *builtins) resolvePath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(b.cfg.Workspace, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(b.cfg.Workspace, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("permission denied: path escapes the workspace: %s", path)
	}

	for _, blocked := range b.cfg.BlockedPaths {
		if blocked == "" {
			continue
		}
		if strings.Contains(rel, blocked) {
			return "", fmt.Errorf("permission denied: path is blocked: %s", path)
		}
	}
	return resolved, nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
