package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quorumchat/quorum/internal/tools"
	"github.com/quorumchat/quorum/pkg/models"
)

func newWorkspace(t *testing.T) (string, *tools.Executor, *tools.ToolContext) {
	t.Helper()
	ws := t.TempDir()

	tc := tools.NewToolContext(false, nil)
	t.Cleanup(func() { tc.Close() })

	reg := tools.NewRegistry()
	err := Register(reg, Config{
		Workspace:    ws,
		BlockedPaths: []string{".env"},
		Context:      tc,
	})
	if err != nil {
		t.Fatalf("register builtins: %v", err)
	}

	exec := tools.NewExecutor(tools.ExecutorConfig{
		Registry:    reg,
		Permissions: tools.NewPermissionManager(tools.PermissionConfig{AutoApprove: true}),
	})
	return ws, exec, tc
}

func run(t *testing.T, exec *tools.Executor, name string, args map[string]any) tools.ExecutionResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return exec.Execute(context.Background(), models.ToolCall{
		ID:        "call_test",
		Name:      name,
		Arguments: raw,
	})
}

// TestReadWriteEditRoundTrip tests the file tools against a real workspace.
func TestReadWriteEditRoundTrip(t *testing.T) {
	ws, exec, tc := newWorkspace(t)

	result := run(t, exec, "write_file", map[string]any{
		"path":    "src/main.go",
		"content": "package main\n\nfunc main() {}\n",
	})
	if !result.Success {
		t.Fatalf("write failed: %s", result.Error)
	}

	result = run(t, exec, "read_file", map[string]any{"path": "src/main.go"})
	if !result.Success {
		t.Fatalf("read failed: %s", result.Error)
	}
	if !strings.Contains(result.Output, "func main()") {
		t.Errorf("read output: %q", result.Output)
	}

	result = run(t, exec, "edit_file", map[string]any{
		"path":       "src/main.go",
		"old_string": "func main() {}",
		"new_string": "func main() { println(1) }",
	})
	if !result.Success {
		t.Fatalf("edit failed: %s", result.Error)
	}

	data, err := os.ReadFile(filepath.Join(ws, "src/main.go"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "println(1)") {
		t.Errorf("edit not applied: %s", data)
	}

	if !tc.WasModified(filepath.Join(ws, "src/main.go")) {
		t.Error("modifications not recorded in the tool context")
	}
}

// TestEditRequiresUniqueMatch tests the uniqueness constraint.
func TestEditRequiresUniqueMatch(t *testing.T) {
	ws, exec, _ := newWorkspace(t)
	path := filepath.Join(ws, "dup.txt")
	if err := os.WriteFile(path, []byte("x\nx\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	result := run(t, exec, "edit_file", map[string]any{
		"path":       "dup.txt",
		"old_string": "x",
		"new_string": "y",
	})
	if result.Success {
		t.Fatal("ambiguous edit should fail")
	}
	if !strings.Contains(result.Error, "2 times") {
		t.Errorf("error should report the occurrence count: %s", result.Error)
	}

	result = run(t, exec, "edit_file", map[string]any{
		"path":       "dup.txt",
		"old_string": "zzz",
		"new_string": "y",
	})
	if result.Success || !strings.Contains(result.Error, "not found") {
		t.Errorf("missing old_string should fail with not found: %s", result.Error)
	}
}

// TestListDirectory tests listing with the directory marker.
func TestListDirectory(t *testing.T) {
	ws, exec, _ := newWorkspace(t)
	if err := os.MkdirAll(filepath.Join(ws, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := run(t, exec, "list_directory", map[string]any{})
	if !result.Success {
		t.Fatalf("list failed: %s", result.Error)
	}
	if !strings.Contains(result.Output, "go.mod") || !strings.Contains(result.Output, "pkg/") {
		t.Errorf("listing: %q", result.Output)
	}
}

// TestSearchFiles tests substring search with file:line output.
func TestSearchFiles(t *testing.T) {
	ws, exec, _ := newWorkspace(t)
	if err := os.WriteFile(filepath.Join(ws, "a.go"), []byte("package a\nvar Needle = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "b.go"), []byte("package b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := run(t, exec, "search_files", map[string]any{"pattern": "Needle"})
	if !result.Success {
		t.Fatalf("search failed: %s", result.Error)
	}
	if !strings.Contains(result.Output, "a.go:2") {
		t.Errorf("search output: %q", result.Output)
	}
	if strings.Contains(result.Output, "b.go") {
		t.Errorf("search matched the wrong file: %q", result.Output)
	}

	result = run(t, exec, "search_files", map[string]any{"pattern": "Absent"})
	if !result.Success || !strings.Contains(result.Output, "No matches") {
		t.Errorf("no-match search: %q / %s", result.Output, result.Error)
	}
}

// TestPathEscapeBlocked tests workspace escape and blocked-path denial.
func TestPathEscapeBlocked(t *testing.T) {
	_, exec, _ := newWorkspace(t)

	result := run(t, exec, "read_file", map[string]any{"path": "../../etc/passwd"})
	if result.Success {
		t.Fatal("workspace escape should be denied")
	}
	if !strings.Contains(result.Error, "permission denied") {
		t.Errorf("escape should read as a permission denial: %s", result.Error)
	}

	result = run(t, exec, "write_file", map[string]any{"path": ".env", "content": "SECRET=1"})
	if result.Success || !strings.Contains(result.Error, "blocked") {
		t.Errorf("blocked path should be denied: %s", result.Error)
	}
}

// TestRunCommand tests shell execution and blocked command prefixes.
func TestRunCommand(t *testing.T) {
	_, exec, _ := newWorkspace(t)

	result := run(t, exec, "run_command", map[string]any{"command": "echo hello"})
	if !result.Success {
		t.Fatalf("echo failed: %s", result.Error)
	}
	if !strings.Contains(result.Output, "hello") {
		t.Errorf("output: %q", result.Output)
	}

	result = run(t, exec, "run_command", map[string]any{"command": "sudo whoami"})
	if result.Success {
		t.Fatal("blocked command should be denied")
	}
	if !strings.Contains(result.Error, "blocked") {
		t.Errorf("denial text: %s", result.Error)
	}

	// Blocked prefixes hide behind separators too.
	result = run(t, exec, "run_command", map[string]any{"command": "echo ok; sudo whoami"})
	if result.Success {
		t.Error("blocked command after a separator should be denied")
	}

	result = run(t, exec, "run_command", map[string]any{"command": "false"})
	if result.Success {
		t.Error("failing command should produce an error result")
	}
}

// TestReadFileErrors tests the not-found and directory cases.
func TestReadFileErrors(t *testing.T) {
	_, exec, _ := newWorkspace(t)

	result := run(t, exec, "read_file", map[string]any{"path": "missing.txt"})
	if result.Success || !strings.Contains(result.Error, "not found") {
		t.Errorf("missing file: %s", result.Error)
	}

	result = run(t, exec, "read_file", map[string]any{"path": "."})
	if result.Success || !strings.Contains(result.Error, "list_directory") {
		t.Errorf("directory read should point at list_directory: %s", result.Error)
	}
}
