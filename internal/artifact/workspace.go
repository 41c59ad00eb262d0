// Package artifact manages the generated artifact on disk during repair:
// durable backups, byte-identical restores, and patch application.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExclude skips version control, caches, and the default backup
// directory.
var DefaultExclude = []string{
	".git/**", ".specfit/**", "**/__pycache__/**", "**/node_modules/**",
	"**/.venv/**", "**/venv/**", "**/*.pyc",
}

// Config configures a Workspace.
type Config struct {
	// Root is the artifact directory.
	Root string
	// Include lists doublestar patterns of tracked files. Defaults to all.
	Include []string
	// Exclude lists doublestar patterns of untracked files.
	Exclude []string
	// BackupDir holds snapshots. Defaults to <Root>/.specfit/backups.
	BackupDir string
	Logger    *slog.Logger
}

// Workspace is one artifact directory.
type Workspace struct {
	root      string
	include   []string
	exclude   []string
	backupDir string
	logger    *slog.Logger

	mu sync.Mutex
	// written holds paths written by Apply since the last Backup.
	written map[string]bool
}

// New creates a Workspace rooted at cfg.Root.
func New(cfg Config) (*Workspace, error) {
	if cfg.Root == "" {
		return nil, errors.New("artifact root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact root %s is not a directory", root)
	}

	w := &Workspace{
		root:      root,
		include:   cfg.Include,
		exclude:   cfg.Exclude,
		backupDir: cfg.BackupDir,
		logger:    cfg.Logger,
		written:   make(map[string]bool),
	}
	if len(w.include) == 0 {
		w.include = []string{"**"}
	}
	if w.exclude == nil {
		w.exclude = DefaultExclude
	}
	if w.backupDir == "" {
		w.backupDir = filepath.Join(root, ".specfit", "backups")
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "artifact", "root", root)
	return w, nil
}

// Root returns the absolute artifact directory.
func (w *Workspace) Root() string {
	return w.root
}

// Files returns the tracked files as sorted slash-separated relative paths.
func (w *Workspace) Files(ctx context.Context) ([]string, error) {
	fsys := os.DirFS(w.root)
	backupRel, _ := filepath.Rel(w.root, w.backupDir)
	backupRel = filepath.ToSlash(backupRel)

	seen := make(map[string]bool)
	var out []string
	for _, pattern := range w.include {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || w.excluded(m) || under(m, backupRel) {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (w *Workspace) excluded(rel string) bool {
	for _, pattern := range w.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func under(rel, dir string) bool {
	if dir == "" || dir == "." || strings.HasPrefix(dir, "..") {
		return false
	}
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}

// Contents returns the text of every tracked file keyed by relative path.
// Binary files are left out.
func (w *Workspace) Contents(ctx context.Context) (map[string]string, error) {
	files, err := w.Files(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(files))
	for _, rel := range files {
		data, err := fs.ReadFile(os.DirFS(w.root), rel)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		if bytes.IndexByte(data, 0) >= 0 {
			continue
		}
		out[rel] = string(data)
	}
	return out, nil
}

// resolve maps a patch path onto the artifact, rejecting paths that
// escape Root.
func (w *Workspace) resolve(name string) (string, string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimSpace(name)))
	if !filepath.IsLocal(rel) {
		return "", "", fmt.Errorf("path %q escapes the artifact root", name)
	}
	return filepath.ToSlash(rel), filepath.Join(w.root, rel), nil
}

func (w *Workspace) markWritten(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written[rel] = true
}

func (w *Workspace) takeWritten() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.written
	w.written = make(map[string]bool)
	return out
}
