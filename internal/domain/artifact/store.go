package artifact

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/paths"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Limits caps what a single bundle archive may unpack to. Zero disables a cap.
type Limits struct {
	MaxExtractBytes int64
	MaxEntries      int
}

// DefaultLimits applies to stores created by NewStore.
var DefaultLimits = Limits{
	MaxExtractBytes: 8 << 30,
	MaxEntries:      100000,
}

// Store manages application directories below a data root.
type Store struct {
	layout paths.Layout
	limits Limits
	logger *zap.Logger
}

// NewStore creates a Store and makes sure the standard directories exist.
func NewStore(layout paths.Layout, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{layout: layout, limits: DefaultLimits, logger: logger}
	if err := s.EnsureLayout(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetLimits replaces the archive extraction limits.
func (s *Store) SetLimits(l Limits) {
	s.limits = l
}

// Layout returns the data root layout.
func (s *Store) Layout() paths.Layout {
	return s.layout
}

// EnsureLayout creates the Apps, Certificates and tmp directories.
func (s *Store) EnsureLayout() error {
	for _, dir := range s.layout.StandardDirectories() {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return apperrors.IO("create "+filepath.Base(dir)+" directory", err)
		}
	}
	return nil
}

// Path returns the directory for id without touching the filesystem.
func (s *Store) Path(id string) string {
	return s.layout.App(id).Dir
}

// CreateDirectory creates an empty directory for id. It fails if the
// directory already exists.
func (s *Store) CreateDirectory(id string) (string, error) {
	if err := paths.ValidateAppID(id); err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidInput, "invalid application id", err)
	}
	dir := s.Path(id)
	if err := os.Mkdir(dir, dirPerm); err != nil {
		return "", apperrors.IO("create application directory", err)
	}
	s.logger.Debug("Created application directory", zap.String("id", id), zap.String("path", dir))
	return dir, nil
}

// Delete removes the directory tree for id. Removing a directory that does
// not exist is not an error. When removal is partially blocked the returned
// error names the entries that survived.
func (s *Store) Delete(id string) error {
	if err := paths.ValidateAppID(id); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid application id", err)
	}
	dir := s.Path(id)
	err := os.RemoveAll(dir)
	if err == nil {
		s.logger.Debug("Deleted application directory", zap.String("id", id))
		return nil
	}

	left := s.remaining(dir)
	s.logger.Warn("Application directory only partially removed",
		zap.String("id", id),
		zap.Strings("remaining", left),
		zap.Error(err))
	return apperrors.IO(fmt.Sprintf("delete application directory (%d entries remain: %s)",
		len(left), strings.Join(left, ", ")), err)
}

// remaining lists the entries still present below dir, relative to it.
func (s *Store) remaining(dir string) []string {
	var (
		mu   sync.Mutex
		left []string
	)
	conf := fastwalk.Config{Follow: false}
	_ = fastwalk.Walk(&conf, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == dir {
			return nil
		}
		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil {
			return nil
		}
		mu.Lock()
		left = append(left, rel)
		mu.Unlock()
		return nil
	})
	return left
}

// ListIDs returns the names of all application directories.
func (s *Store) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(s.layout.Apps())
	if err != nil {
		return nil, apperrors.IO("list application directories", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// Size returns the total size in bytes of the files in id's directory.
func (s *Store) Size(id string) (int64, error) {
	var (
		mu    sync.Mutex
		total int64
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.Path(id), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mu.Lock()
		total += info.Size()
		mu.Unlock()
		return nil
	})
	if err != nil {
		return 0, apperrors.IO("measure application directory", err)
	}
	return total, nil
}

// WriteMetadata caches rec as metadata.json inside its directory.
func (s *Store) WriteMetadata(rec *types.Record) error {
	data, err := sonic.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "encode metadata", err)
	}
	if err := writeFileAtomic(s.layout.App(rec.ID).MetadataFile(), data); err != nil {
		return apperrors.IO("write metadata", err)
	}
	return nil
}

// ReadMetadata loads the cached record for id.
func (s *Store) ReadMetadata(id string) (*types.Record, error) {
	data, err := os.ReadFile(s.layout.App(id).MetadataFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, "metadata not cached", err)
		}
		return nil, apperrors.IO("read metadata", err)
	}
	var rec types.Record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "decode metadata", err)
	}
	return &rec, nil
}

// PurgeTmp empties the scratch directory and returns the number of entries
// removed.
func (s *Store) PurgeTmp() (int, error) {
	tmp := s.layout.Tmp()
	entries, err := os.ReadDir(tmp)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apperrors.IO("read tmp directory", err)
	}
	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(tmp, e.Name())); err != nil {
			return removed, apperrors.IO("purge tmp directory", err)
		}
		removed++
	}
	return removed, nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, filePerm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
