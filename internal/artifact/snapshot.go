package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

const manifestName = "manifest.json"

// Snapshot is a durable copy of the tracked files.
type Snapshot struct {
	ID        string               `json:"id"`
	Dir       string               `json:"-"`
	Files     map[string]FileEntry `json:"files"`
	CreatedAt time.Time            `json:"created_at"`
}

// FileEntry records one backed-up file.
type FileEntry struct {
	SHA256 string      `json:"sha256"`
	Mode   fs.FileMode `json:"mode"`
}

// Backup copies every tracked file into a new snapshot directory. Files and
// directories are fsynced and the manifest is written last, so a snapshot
// with a manifest is complete.
func (w *Workspace) Backup(ctx context.Context) (*Snapshot, error) {
	files, err := w.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}

	snap := &Snapshot{
		ID:        "snap-" + uuid.New().String()[:8],
		Files:     make(map[string]FileEntry, len(files)),
		CreatedAt: time.Now().UTC(),
	}
	snap.Dir = filepath.Join(w.backupDir, snap.ID)
	if err := os.MkdirAll(snap.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	dirs := map[string]bool{snap.Dir: true}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := filepath.Join(w.root, filepath.FromSlash(rel))
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", rel, err)
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		dst := filepath.Join(snap.Dir, "files", filepath.FromSlash(rel))
		if err := writeDurable(dst, data, 0o644); err != nil {
			return nil, fmt.Errorf("back up %s: %w", rel, err)
		}
		dirs[filepath.Dir(dst)] = true
		snap.Files[rel] = FileEntry{SHA256: digest(data), Mode: info.Mode().Perm()}
	}
	for dir := range dirs {
		if err := syncDir(dir); err != nil {
			return nil, fmt.Errorf("sync %s: %w", dir, err)
		}
	}

	manifest, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeDurable(filepath.Join(snap.Dir, manifestName), manifest, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := syncDir(snap.Dir); err != nil {
		return nil, fmt.Errorf("sync snapshot dir: %w", err)
	}

	w.takeWritten()
	w.logger.Debug("backup created", "snapshot", snap.ID, "files", len(snap.Files))
	return snap, nil
}

// LoadSnapshot reads a snapshot manifest from dir.
func LoadSnapshot(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	snap.Dir = dir
	return &snap, nil
}

// Restore returns the artifact to the snapshot: every backed-up file is
// rewritten and verified, and files created since the backup are removed.
func (w *Workspace) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("restore: nil snapshot")
	}

	for rel, entry := range snap.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(snap.Dir, "files", filepath.FromSlash(rel)))
		if err != nil {
			return fmt.Errorf("read backup of %s: %w", rel, err)
		}
		if digest(data) != entry.SHA256 {
			return fmt.Errorf("backup of %s is corrupt", rel)
		}
		dst := filepath.Join(w.root, filepath.FromSlash(rel))
		if err := writeDurable(dst, data, entry.Mode); err != nil {
			return fmt.Errorf("restore %s: %w", rel, err)
		}
		if err := os.Chmod(dst, entry.Mode); err != nil {
			return fmt.Errorf("restore mode of %s: %w", rel, err)
		}
	}

	current, err := w.Files(ctx)
	if err != nil {
		return fmt.Errorf("list tracked files: %w", err)
	}
	stale := w.takeWritten()
	for _, rel := range current {
		stale[rel] = true
	}
	for rel := range stale {
		if _, ok := snap.Files[rel]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(w.root, filepath.FromSlash(rel))); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", rel, err)
		}
	}

	return w.verify(snap)
}

// verify checks that every snapshot file is byte-identical on disk.
func (w *Workspace) verify(snap *Snapshot) error {
	for rel, entry := range snap.Files {
		data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
		if err != nil {
			return fmt.Errorf("verify %s: %w", rel, err)
		}
		if digest(data) != entry.SHA256 {
			return fmt.Errorf("verify %s: content differs from backup", rel)
		}
	}
	return nil
}

// Discard deletes a snapshot that is no longer needed.
func (w *Workspace) Discard(snap *Snapshot) error {
	if snap == nil || snap.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(snap.Dir); err != nil {
		return fmt.Errorf("discard snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeDurable writes data through a synced temp file renamed into place.
func writeDurable(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".specfit-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	return nil
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
