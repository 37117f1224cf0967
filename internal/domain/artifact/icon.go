package artifact

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/paths"
)

const iconPattern = paths.IconBase + ".*"

// WriteIcon stores data as id's icon and returns its path relative to the
// application directory. The extension follows the detected image type and
// any previous icon is replaced.
func (s *Store) WriteIcon(id string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperrors.New(apperrors.CodeInvalidInput, "icon is empty")
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", apperrors.Newf(apperrors.CodeInvalidInput, "icon has unsupported type %s", mt.String())
	}

	app := s.layout.App(id)
	existing, err := s.iconFiles(app.Dir)
	if err != nil {
		return "", err
	}

	ext := mt.Extension()
	target := app.IconFile(ext)
	if err := writeFileAtomic(target, data); err != nil {
		return "", apperrors.IO("write icon", err)
	}
	for _, old := range existing {
		if old == filepath.Base(target) {
			continue
		}
		if err := os.Remove(filepath.Join(app.Dir, old)); err != nil && !os.IsNotExist(err) {
			return "", apperrors.IO("replace icon", err)
		}
	}
	return filepath.Base(target), nil
}

// ReadIcon returns id's icon bytes, or nil when the application has no icon.
// It returns NOT_FOUND when the application directory does not exist.
func (s *Store) ReadIcon(id string) ([]byte, error) {
	dir := s.Path(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound(id)
		}
		return nil, apperrors.IO("stat application directory", err)
	}

	files, err := s.iconFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, files[0]))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.IO("read icon", err)
	}
	return data, nil
}

// ReadIconAt reads an icon by its path relative to id's directory.
func (s *Store) ReadIconAt(id, rel string) ([]byte, error) {
	full, err := s.layout.App(id).Resolve(rel)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid icon path", err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.IO("read icon", err)
	}
	return data, nil
}

func (s *Store) iconFiles(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), iconPattern, doublestar.WithFilesOnly())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.IO("find icon", err)
	}
	sort.Strings(matches)
	return matches, nil
}
