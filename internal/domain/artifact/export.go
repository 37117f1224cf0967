package artifact

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
)

// Export writes id's directory to w as a zstd-compressed tar stream. Entry
// names are relative to the application directory.
func (s *Store) Export(ctx context.Context, id string, w io.Writer) error {
	dir := s.Path(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return apperrors.NotFound(id)
		}
		return apperrors.IO("stat application directory", err)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "create zstd writer", err)
	}
	tw := tar.NewWriter(zw)

	// WalkDir keeps entry order deterministic
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		return addTarEntry(tw, dir, p, d)
	})

	if err := tw.Close(); walkErr == nil {
		walkErr = err
	}
	if err := zw.Close(); walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(apperrors.CodeCancelled, "export cancelled", ctx.Err())
		}
		return apperrors.IO("export application directory", walkErr)
	}
	return nil
}

func addTarEntry(tw *tar.Writer, root, p string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return nil
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
