package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
)

// sniffLen is how much of a bundle is buffered for format detection.
const sniffLen = 3072

// RawPayloadName is the file name used for bundles that are not archives.
const RawPayloadName = "payload"

// BundleInfo summarizes a written bundle.
type BundleInfo struct {
	MIME    string
	Files   int
	Bytes   int64
	Archive bool
}

// WriteBundle stores the bundle read from r inside id's bundle directory.
// Zip payloads (IPA files) are extracted; anything else is stored as a single
// file. The copy observes ctx and returns CANCELLED when it is done.
func (s *Store) WriteBundle(ctx context.Context, id string, r io.Reader) (*BundleInfo, error) {
	app := s.layout.App(id)
	if err := os.MkdirAll(app.BundleDir(), dirPerm); err != nil {
		return nil, apperrors.IO("create bundle directory", err)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, apperrors.IO("read bundle", err)
	}
	head = head[:n]
	mt := mimetype.Detect(head)
	body := &ctxReader{ctx: ctx, r: io.MultiReader(bytes.NewReader(head), r)}

	var info *BundleInfo
	if isZip(mt) {
		info, err = s.extractZip(ctx, app.BundleDir(), body)
	} else {
		info, err = s.writeRaw(filepath.Join(app.BundleDir(), RawPayloadName), body)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(apperrors.CodeCancelled, "bundle write cancelled", ctx.Err())
		}
		return nil, err
	}
	info.MIME = mt.String()

	s.logger.Debug("Wrote bundle",
		zap.String("id", id),
		zap.String("mime", info.MIME),
		zap.Int("files", info.Files),
		zap.Int64("bytes", info.Bytes))
	return info, nil
}

func isZip(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

func (s *Store) writeRaw(dst string, r io.Reader) (*BundleInfo, error) {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, apperrors.IO("create bundle payload", err)
	}
	written, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, apperrors.IO("write bundle payload", err)
	}
	return &BundleInfo{Files: 1, Bytes: written}, nil
}

// extractZip spools the archive into tmp (zip needs random access) and
// unpacks it into dest.
func (s *Store) extractZip(ctx context.Context, dest string, r io.Reader) (*BundleInfo, error) {
	spool, err := os.CreateTemp(s.layout.Tmp(), "bundle-*.zip")
	if err != nil {
		return nil, apperrors.IO("create bundle spool", err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	size, err := io.Copy(spool, r)
	if err != nil {
		return nil, apperrors.IO("spool bundle", err)
	}

	zr, err := zip.NewReader(spool, size)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "open bundle archive", err)
	}

	limits := s.limits
	if limits.MaxEntries > 0 && len(zr.File) > limits.MaxEntries {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput,
			"archive has %d entries, limit is %d", len(zr.File), limits.MaxEntries)
	}

	info := &BundleInfo{Archive: true}
	clean := filepath.Clean(dest)
	root := clean + string(os.PathSeparator)
	for _, file := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Prevent zip-slip attacks
		target := filepath.Join(dest, file.Name)
		if target == clean {
			continue
		}
		if !strings.HasPrefix(target, root) {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "archive entry %q escapes bundle directory", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return nil, apperrors.IO("create bundle directory", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
			return nil, apperrors.IO("create bundle directory", err)
		}

		budget := int64(-1)
		if limits.MaxExtractBytes > 0 {
			budget = limits.MaxExtractBytes - info.Bytes
			if file.UncompressedSize64 > uint64(budget) {
				return nil, errExtractLimit(limits)
			}
		}
		n, err := extractFile(file, target, budget)
		if errors.Is(err, errBudget) {
			return nil, errExtractLimit(limits)
		}
		if err != nil {
			return nil, apperrors.IO(fmt.Sprintf("extract %s", file.Name), err)
		}
		info.Files++
		info.Bytes += n
	}
	return info, nil
}

var errBudget = errors.New("extraction budget exceeded")

func errExtractLimit(l Limits) error {
	return apperrors.Newf(apperrors.CodeInvalidInput,
		"archive unpacks to more than %d bytes", l.MaxExtractBytes)
}

// extractFile writes file to target. A non-negative budget caps the bytes
// written regardless of the size the entry header declares.
func extractFile(file *zip.File, target string, budget int64) (int64, error) {
	src, err := file.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = filePerm
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return 0, err
	}
	var r io.Reader = src
	if budget >= 0 {
		r = io.LimitReader(src, budget+1)
	}
	n, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && budget >= 0 && n > budget {
		return n, errBudget
	}
	return n, err
}

// ctxReader fails reads once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
