package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quorumchat/quorum/internal/observability"
)

// ModOp names a file modification kind.
type ModOp string

const (
	OpCreate ModOp = "create"
	OpWrite  ModOp = "write"
	OpEdit   ModOp = "edit"
	OpDelete ModOp = "delete"
)

// FileRead records one file read by a tool.
type FileRead struct {
	Path   string
	Hash   string
	ReadAt time.Time

	// Stale is set when the file changed on disk after the read.
	Stale bool
}

// FileModification records one file change made by a tool.
type FileModification struct {
	Path       string
	Operation  ModOp
	ModifiedAt time.Time
	Hash       string
}

// ToolContext tracks what the tools have read and changed during a session,
// so the engine can warn models about stale reads and summarize the turn's
// file activity. An optional fsnotify watcher marks read entries stale when
// the file changes on disk outside the tools.
type ToolContext struct {
	mu      sync.Mutex
	reads   map[string]*FileRead
	mods    []FileModification
	watcher *fsnotify.Watcher
	logger  *observability.Logger
	done    chan struct{}
}

// NewToolContext creates a tracking context. When watch is true, a filesystem
// watcher follows every read file; watcher setup failure degrades to
// tracking without external-change detection.
func NewToolContext(watch bool, logger *observability.Logger) *ToolContext {
	if logger == nil {
		logger = observability.NopLogger()
	}
	tc := &ToolContext{
		reads:  make(map[string]*FileRead),
		logger: logger.WithFields("component", "tools.context"),
		done:   make(chan struct{}),
	}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			tc.logger.Warn(context.Background(), "file watcher unavailable", "error", err)
		} else {
			tc.watcher = watcher
			go tc.watchLoop()
		}
	}
	return tc
}

// HashContent returns the sha256 hex digest used for staleness checks.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// RecordRead notes that a tool read the file with the given content.
func (tc *ToolContext) RecordRead(path string, content []byte) {
	tc.mu.Lock()
	tc.reads[path] = &FileRead{
		Path:   path,
		Hash:   HashContent(content),
		ReadAt: time.Now().UTC(),
	}
	tc.mu.Unlock()

	if tc.watcher != nil {
		if err := tc.watcher.Add(path); err != nil {
			tc.logger.Debug(context.Background(), "cannot watch file", "path", path, "error", err)
		}
	}
}

// RecordModification notes that a tool changed the file. Content may be nil
// for deletes.
func (tc *ToolContext) RecordModification(path string, op ModOp, content []byte) {
	mod := FileModification{
		Path:       path,
		Operation:  op,
		ModifiedAt: time.Now().UTC(),
	}
	if content != nil {
		mod.Hash = HashContent(content)
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.mods = append(tc.mods, mod)

	// Our own write refreshes the read entry rather than staling it.
	if read, ok := tc.reads[path]; ok {
		if mod.Hash != "" {
			read.Hash = mod.Hash
			read.Stale = false
		} else if op == OpDelete {
			read.Stale = true
		}
	}
}

// IsFileStale reports whether the file was previously read and its content
// hash has since changed.
func (tc *ToolContext) IsFileStale(path string, currentHash string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	read, ok := tc.reads[path]
	if !ok {
		return false
	}
	return read.Stale || read.Hash != currentHash
}

// WasModified reports whether any tool changed the file this session.
func (tc *ToolContext) WasModified(path string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, mod := range tc.mods {
		if mod.Path == path {
			return true
		}
	}
	return false
}

// RecentlyRead returns up to limit reads, most recent first.
func (tc *ToolContext) RecentlyRead(limit int) []FileRead {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	out := make([]FileRead, 0, len(tc.reads))
	for _, read := range tc.reads {
		out = append(out, *read)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReadAt.After(out[j].ReadAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecentlyModified returns up to limit modifications, most recent first.
func (tc *ToolContext) RecentlyModified(limit int) []FileModification {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	out := make([]FileModification, len(tc.mods))
	copy(out, tc.mods)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ModifiedAt.After(out[j].ModifiedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ModificationSummary renders the most recent modifications as one line per
// file for inclusion in prompts.
func (tc *ToolContext) ModificationSummary(maxEntries int) string {
	mods := tc.RecentlyModified(maxEntries)
	if len(mods) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Files modified this session:\n")
	for _, mod := range mods {
		fmt.Fprintf(&b, "- %s (%s)\n", mod.Path, mod.Operation)
	}
	return strings.TrimRight(b.String(), "\n")
}

// watchLoop marks read entries stale when the file changes on disk.
func (tc *ToolContext) watchLoop() {
	for {
		select {
		case <-tc.done:
			return
		case event, ok := <-tc.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			tc.mu.Lock()
			if read, ok := tc.reads[event.Name]; ok {
				read.Stale = true
			}
			tc.mu.Unlock()
		case err, ok := <-tc.watcher.Errors:
			if !ok {
				return
			}
			tc.logger.Debug(context.Background(), "file watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (tc *ToolContext) Close() error {
	close(tc.done)
	if tc.watcher != nil {
		return tc.watcher.Close()
	}
	return nil
}
