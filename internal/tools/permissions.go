package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PermissionManager decides whether a tool call may run. Decisions layer a
// blocklist, a global auto-approve switch, a level threshold, per-tool
// overrides, session grants, and finally a confirmation callback. With no
// callback configured, anything that reaches the confirmation step is denied.
type PermissionManager struct {
	mu sync.Mutex

	autoApprove      bool
	autoApproveLevel PermissionLevel
	overrides        map[string]PermissionLevel
	blocklist        map[string]bool
	sessionGrants    map[string]bool
	confirm          ConfirmFunc
}

// PermissionConfig seeds a PermissionManager.
type PermissionConfig struct {
	AutoApprove      bool
	AutoApproveLevel PermissionLevel
	Overrides        map[string]PermissionLevel
	Blocklist        []string
	Confirm          ConfirmFunc
}

// NewPermissionManager creates a manager from the given configuration.
func NewPermissionManager(cfg PermissionConfig) *PermissionManager {
	pm := &PermissionManager{
		autoApprove:      cfg.AutoApprove,
		autoApproveLevel: cfg.AutoApproveLevel,
		overrides:        make(map[string]PermissionLevel),
		blocklist:        make(map[string]bool),
		sessionGrants:    make(map[string]bool),
		confirm:          cfg.Confirm,
	}
	for name, level := range cfg.Overrides {
		pm.overrides[name] = level
	}
	for _, name := range cfg.Blocklist {
		pm.blocklist[name] = true
	}
	return pm
}

// Check decides whether the tool may run with the given arguments. A denial
// is returned as a permission ToolError; a grant returns nil.
func (pm *PermissionManager) Check(ctx context.Context, tool string, args map[string]any, declared PermissionLevel) error {
	pm.mu.Lock()

	if pm.blocklist[tool] {
		pm.mu.Unlock()
		return NewToolError(ErrPermission, tool, nil).
			WithMessage(fmt.Sprintf("permission denied: tool %q is blocked", tool))
	}

	if pm.autoApprove {
		pm.mu.Unlock()
		return nil
	}

	effective := declared
	if override, ok := pm.overrides[tool]; ok {
		effective = override
	}
	if effective == PermissionBlocked {
		pm.mu.Unlock()
		return NewToolError(ErrPermission, tool, nil).
			WithMessage(fmt.Sprintf("permission denied: tool %q is blocked", tool))
	}
	if effective <= pm.autoApproveLevel {
		pm.mu.Unlock()
		return nil
	}

	if pm.sessionGrants[tool] {
		pm.mu.Unlock()
		return nil
	}

	confirm := pm.confirm
	pm.mu.Unlock()

	if confirm == nil {
		return NewToolError(ErrPermission, tool, nil).
			WithMessage(fmt.Sprintf("permission denied: tool %q requires confirmation and no confirmer is configured", tool))
	}

	req := PermissionRequest{
		Tool:        tool,
		Arguments:   args,
		Level:       effective,
		Description: describeRequest(tool, args, effective),
	}
	if !confirm(ctx, req) {
		return NewToolError(ErrPermission, tool, nil).
			WithMessage(fmt.Sprintf("permission denied: user declined %q", tool))
	}

	pm.mu.Lock()
	pm.sessionGrants[tool] = true
	pm.mu.Unlock()
	return nil
}

// GrantForSession pre-approves a tool for the rest of the session.
func (pm *PermissionManager) GrantForSession(tool string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.sessionGrants[tool] = true
}

// RevokeSessionGrants clears all session approvals.
func (pm *PermissionManager) RevokeSessionGrants() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.sessionGrants = make(map[string]bool)
}

// SetConfirm installs the confirmation callback.
func (pm *PermissionManager) SetConfirm(fn ConfirmFunc) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.confirm = fn
}

// describeRequest builds the human-readable line for the approval prompt.
func describeRequest(tool string, args map[string]any, level PermissionLevel) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprintf("%v", args[k])
		if len(v) > 80 {
			v = v[:77] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return fmt.Sprintf("%s [%s] %s", tool, level, strings.Join(parts, " "))
}
