package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/internal/tools"
)

func (b *builtins) runCommandTool() *tools.Tool {
	return &tools.Tool{
		Definition: providers.ToolDefinition{
			Name:        "run_command",
			Description: "Run a shell command in the workspace and return its combined output.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "Shell command line to execute"},
					"working_dir": {"type": "string", "description": "Working directory relative to the workspace root; defaults to the root"}
				},
				"required": ["command"]
			}`),
		},
		Permission: tools.PermissionDangerous,
		Category:   "shell",
		Enabled:    true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			command := strings.TrimSpace(stringArg(args, "command"))
			if command == "" {
				return nil, fmt.Errorf("invalid arguments: command must not be empty")
			}

			if err := b.checkCommand(command); err != nil {
				return nil, err
			}

			dir, err := b.resolvePath(stringArg(args, "working_dir"))
			if err != nil {
				return nil, err
			}

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = dir
			output, err := cmd.CombinedOutput()

			text := string(output)
			if err != nil {
				if ctx.Err() == context.DeadlineExceeded {
					return nil, fmt.Errorf("command timed out")
				}
				if text == "" {
					return nil, fmt.Errorf("command failed: %v", err)
				}
				return nil, fmt.Errorf("command failed: %v\n%s", err, text)
			}
			if text == "" {
				return "(no output)", nil
			}
			return text, nil
		},
	}
}

// checkCommand refuses blocked command prefixes anywhere in the command line,
// including after shell separators.
func (b *builtins) checkCommand(command string) error {
	segments := strings.FieldsFunc(command, func(r rune) bool {
		return r == ';' || r == '&' || r == '|' || r == '\n'
	})
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		for _, blocked := range b.cfg.BlockedCommands {
			if blocked == "" {
				continue
			}
			if strings.HasPrefix(segment, blocked) {
				return fmt.Errorf("permission denied: command is blocked: %s", blocked)
			}
		}
	}
	return nil
}
