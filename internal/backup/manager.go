package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/nextlevelbuilder/routegen/internal/compile"
	"github.com/nextlevelbuilder/routegen/internal/faults"
)

// ErrNotFound is returned by Rollback for a version id with no retained
// snapshot.
var ErrNotFound = errors.New("backup version not found")

const (
	lockFileName    = ".routegen.lock"
	snapshotExt     = ".yaml"
	lockRetryDelay  = 50 * time.Millisecond
	defaultLockWait = 2 * time.Second
)

// snapshotNameRe matches files produced by compile.VersionID plus the
// snapshot extension. Anything else in the directory is ignored.
var snapshotNameRe = regexp.MustCompile(`^v(\d{8}-\d{6})-[0-9a-f]{8}\.yaml$`)

// Manager owns the backup directory. Every filesystem operation runs
// under a cross-process advisory lock scoped to that directory, so
// concurrent invocations serialize instead of racing; a bounded wait
// that expires yields a retryable busy error.
type Manager struct {
	dir      string
	lockWait time.Duration
	policy   Policy
}

// NewManager creates a manager for dir. lockWait <= 0 uses the 2s
// default.
func NewManager(dir string, lockWait time.Duration) *Manager {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Manager{dir: dir, lockWait: lockWait, policy: DefaultPolicy()}
}

func (m *Manager) withLock(fn func() error) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	fl := flock.New(filepath.Join(m.dir, lockFileName))
	ctx, cancel := context.WithTimeout(context.Background(), m.lockWait)
	defer cancel()

	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if !ok || err != nil {
		return &faults.LockContentionError{Dir: m.dir, Wait: m.lockWait}
	}
	defer fl.Unlock()
	return fn()
}

// CommitGenerate atomically finishes a successful generate run:
// snapshot the current active artifact (if any), replace it with the
// new one, then sweep retention. Returns the versions deleted by the
// sweep.
func (m *Manager) CommitGenerate(activePath string, artifact []byte, now time.Time) ([]string, error) {
	var swept []string
	err := m.withLock(func() error {
		if err := m.snapshotLocked(activePath); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(activePath), 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		if err := writeFileAtomic(activePath, artifact, 0644); err != nil {
			return fmt.Errorf("write artifact: %w", err)
		}
		var err error
		swept, err = m.sweepLocked(now)
		return err
	})
	return swept, err
}

// List reconstructs the retained-backup index from directory contents.
func (m *Manager) List(now time.Time) ([]Record, error) {
	var records []Record
	err := m.withLock(func() error {
		var err error
		records, err = m.scanLocked()
		return err
	})
	if err != nil {
		return nil, err
	}
	return AssignTiers(records, now, m.policy), nil
}

// Sweep applies the retention policy and deletes everything tiered
// pending-delete. Returns the deleted versions.
func (m *Manager) Sweep(now time.Time) ([]string, error) {
	var swept []string
	err := m.withLock(func() error {
		var err error
		swept, err = m.sweepLocked(now)
		return err
	})
	return swept, err
}

// Rollback restores the snapshot for version as the active artifact.
// The snapshot is re-validated via revalidate before anything is
// written; on failure the prior active document stays byte-for-byte
// untouched. The restore itself is an atomic rename of the original
// snapshot bytes.
func (m *Manager) Rollback(version, activePath string, revalidate func(*compile.Document) error) error {
	return m.withLock(func() error {
		records, err := m.scanLocked()
		if err != nil {
			return err
		}
		var target *Record
		for i := range records {
			if records[i].Version == version {
				target = &records[i]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, version)
		}

		data, err := os.ReadFile(target.Path)
		if err != nil {
			return fmt.Errorf("read snapshot %s: %w", version, err)
		}
		doc, err := compile.Decode(data)
		if err != nil {
			return fmt.Errorf("snapshot %s is not a valid artifact: %w", version, err)
		}
		if err := revalidate(doc); err != nil {
			return fmt.Errorf("snapshot %s failed re-validation: %w", version, err)
		}

		if err := os.MkdirAll(filepath.Dir(activePath), 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		if err := writeFileAtomic(activePath, data, 0644); err != nil {
			return fmt.Errorf("restore artifact: %w", err)
		}
		slog.Info("rollback complete", "version", version, "path", activePath)
		return nil
	})
}

// snapshotLocked copies the current active artifact into the backup
// directory under its version id. Missing active file is a no-op (first
// generate); an existing snapshot for the same version is left alone.
func (m *Manager) snapshotLocked(activePath string) error {
	data, err := os.ReadFile(activePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read active artifact: %w", err)
	}

	version := ""
	if doc, derr := compile.Decode(data); derr == nil {
		version = doc.Meta.Version
	}
	if !snapshotNameRe.MatchString(version + snapshotExt) {
		// Hand-edited or foreign artifact: synthesize a version so the
		// operator can still roll back to it.
		sum := sha256.Sum256(data)
		info, serr := os.Stat(activePath)
		ts := time.Now()
		if serr == nil {
			ts = info.ModTime()
		}
		version = compile.VersionID(ts, hex.EncodeToString(sum[:]))
		slog.Warn("active artifact has no usable version; snapshotting under derived id", "version", version)
	}

	dest := filepath.Join(m.dir, version+snapshotExt)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := writeFileAtomic(dest, data, 0644); err != nil {
		return fmt.Errorf("snapshot %s: %w", version, err)
	}
	slog.Info("backup created", "version", version)
	return nil
}

func (m *Manager) sweepLocked(now time.Time) ([]string, error) {
	records, err := m.scanLocked()
	if err != nil {
		return nil, err
	}
	var swept []string
	for _, r := range AssignTiers(records, now, m.policy) {
		if r.Tier != TierPendingDelete {
			continue
		}
		if err := os.Remove(r.Path); err != nil {
			return swept, fmt.Errorf("sweep %s: %w", r.Version, err)
		}
		swept = append(swept, r.Version)
	}
	if len(swept) > 0 {
		slog.Info("retention sweep", "deleted", len(swept))
	}
	return swept, nil
}

// scanLocked reads the directory and rebuilds records from snapshot
// file names; the content hash comes from each snapshot's meta block.
func (m *Manager) scanLocked() ([]Record, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("scan backup dir: %w", err)
	}
	var records []Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := snapshotNameRe.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		created, err := time.Parse("20060102-150405", match[1])
		if err != nil {
			continue
		}
		rec := Record{
			Version:   strings.TrimSuffix(e.Name(), snapshotExt),
			CreatedAt: created,
			Path:      filepath.Join(m.dir, e.Name()),
		}
		if data, rerr := os.ReadFile(rec.Path); rerr == nil {
			if doc, derr := compile.Decode(data); derr == nil {
				rec.ContentHash = doc.Meta.ContentHash
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// writeFileAtomic writes via a temp file in the destination directory
// followed by a rename, so a crash mid-write can never leave a
// half-written artifact or snapshot behind.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
