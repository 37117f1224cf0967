package artifact

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/paths"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

var pngIcon = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(paths.New(t.TempDir()), nil)
	require.NoError(t, err)
	return s
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestNewStore_CreatesLayout(t *testing.T) {
	s := newTestStore(t)
	for _, dir := range s.Layout().StandardDirectories() {
		assert.DirExists(t, dir)
	}
}

func TestPath_IsPure(t *testing.T) {
	s := newTestStore(t)
	p := s.Path("app_missing")
	assert.Equal(t, filepath.Join(s.Layout().Apps(), "app_missing"), p)
	assert.NoDirExists(t, p)
}

func TestCreateDirectory(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.CreateDirectory("app_1")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	_, err = s.CreateDirectory("app_1")
	assert.True(t, apperrors.Is(err, apperrors.CodeIO), "existing directory should be an IO error")

	_, err = s.CreateDirectory("../escape")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))
}

func TestCreateDirectory_MissingParent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.RemoveAll(s.Layout().Apps()))

	_, err := s.CreateDirectory("app_1")
	assert.True(t, apperrors.Is(err, apperrors.CodeIO))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.CreateDirectory("app_1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), []byte("x"), 0o644))

	require.NoError(t, s.Delete("app_1"))
	assert.NoDirExists(t, dir)

	// Already gone
	require.NoError(t, s.Delete("app_1"))
}

func TestDelete_ReportsPartialRemoval(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	s := newTestStore(t)
	dir, err := s.CreateDirectory("app_1")
	require.NoError(t, err)
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Mkdir(locked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "keep"), []byte("x"), 0o644))
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	err = s.Delete("app_1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeIO))
	assert.Contains(t, err.Error(), "keep")
}

func TestWriteBundle_Raw(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDirectory("app_1")
	require.NoError(t, err)

	info, err := s.WriteBundle(context.Background(), "app_1", strings.NewReader("plain bundle bytes"))
	require.NoError(t, err)
	assert.False(t, info.Archive)
	assert.Equal(t, 1, info.Files)
	assert.Equal(t, int64(len("plain bundle bytes")), info.Bytes)

	data, err := os.ReadFile(filepath.Join(s.layout.App("app_1").BundleDir(), RawPayloadName))
	require.NoError(t, err)
	assert.Equal(t, "plain bundle bytes", string(data))
}

func TestWriteBundle_ExtractsZip(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDirectory("app_1")
	require.NoError(t, err)

	archive := buildZip(t, map[string]string{
		"Payload/Foo.app/Info.plist": "<plist/>",
		"Payload/Foo.app/Foo":        "binary",
	})

	info, err := s.WriteBundle(context.Background(), "app_1", bytes.NewReader(archive))
	require.NoError(t, err)
	assert.True(t, info.Archive)
	assert.Equal(t, 2, info.Files)

	bundle := s.layout.App("app_1").BundleDir()
	assert.FileExists(t, filepath.Join(bundle, "Payload/Foo.app/Info.plist"))
	assert.FileExists(t, filepath.Join(bundle, "Payload/Foo.app/Foo"))

	// Spool file is cleaned up
	entries, err := os.ReadDir(s.Layout().Tmp())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteBundle_RejectsZipSlip(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDirectory("app_1")
	require.NoError(t, err)

	archive := buildZip(t, map[string]string{"../../evil": "x"})

	_, err = s.WriteBundle(context.Background(), "app_1", bytes.NewReader(archive))
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))
	assert.NoFileExists(t, filepath.Join(s.Layout().Apps(), "evil"))
}

func TestWriteBundle_AcceptsCurrentDirectoryEntry(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDirectory("app_1")
	require.NoError(t, err)

	archive := buildZip(t, map[string]string{
		"./":                    "",
		"./Payload/Foo.app/Foo": "binary",
	})

	info, err := s.WriteBundle(context.Background(), "app_1", bytes.NewReader(archive))
	require.NoError(t, err)
	assert.Equal(t, 1, info.Files)
	assert.FileExists(t, filepath.Join(s.layout.App("app_1").BundleDir(), "Payload/Foo.app/Foo"))
}

func TestWriteBundle_ExtractionLimits(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"Payload/a": strings.Repeat("a", 8),
		"Payload/b": strings.Repeat("b", 8),
	})

	tests := []struct {
		name   string
		limits Limits
		ok     bool
	}{
		{"within limits", Limits{MaxExtractBytes: 16, MaxEntries: 2}, true},
		{"unlimited", Limits{}, true},
		{"too many bytes", Limits{MaxExtractBytes: 10}, false},
		{"too many entries", Limits{MaxEntries: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			s.SetLimits(tt.limits)
			_, err := s.CreateDirectory("app_1")
			require.NoError(t, err)

			info, err := s.WriteBundle(context.Background(), "app_1", bytes.NewReader(archive))
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, int64(16), info.Bytes)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))
		})
	}
}

func TestExtractFile_StopsAtBudget(t *testing.T) {
	archive := buildZip(t, map[string]string{"blob": strings.Repeat("x", 64)})
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "blob")
	n, err := extractFile(zr.File[0], target, 10)
	assert.ErrorIs(t, err, errBudget)
	assert.Equal(t, int64(11), n)

	n, err = extractFile(zr.File[0], target, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(64), n)
}

func TestWriteBundle_Cancelled(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDirectory("app_1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.WriteBundle(ctx, "app_1", strings.NewReader(strings.Repeat("x", 10000)))
	assert.True(t, apperrors.Is(err, apperrors.CodeCancelled))
}

func TestIcon_WriteReadReplace(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDirectory("app_1")
	require.NoError(t, err)

	data, err := s.ReadIcon("app_1")
	require.NoError(t, err)
	assert.Nil(t, data, "missing icon is not an error")

	rel, err := s.WriteIcon("app_1", pngIcon)
	require.NoError(t, err)
	assert.Equal(t, "icon.png", rel)

	data, err = s.ReadIcon("app_1")
	require.NoError(t, err)
	assert.Equal(t, pngIcon, data)

	// A stale icon with another extension is replaced
	stale := filepath.Join(s.Path("app_1"), "icon.jpg")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	_, err = s.WriteIcon("app_1", pngIcon)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)

	data, err = s.ReadIconAt("app_1", rel)
	require.NoError(t, err)
	assert.Equal(t, pngIcon, data)
}

func TestIcon_Errors(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDirectory("app_1")
	require.NoError(t, err)

	_, err = s.WriteIcon("app_1", []byte("not an image at all"))
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))

	_, err = s.ReadIcon("app_missing")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	_, err = s.ReadIconAt("app_1", "../other/icon.png")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))
}

func TestMetadata_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDirectory("app_1")
	require.NoError(t, err)

	rec := &types.Record{ID: "app_1", Kind: types.KindSigned, Name: "Foo", SigningStatus: types.Signed()}
	require.NoError(t, s.WriteMetadata(rec))

	got, err := s.ReadMetadata("app_1")
	require.NoError(t, err)
	assert.Equal(t, "Foo", got.Name)
	assert.Equal(t, types.StateSigned, got.SigningStatus.State)

	_, err = s.ReadMetadata("app_2")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestListIDsAndSize(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"app_b", "app_a"} {
		_, err := s.CreateDirectory(id)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Layout().Apps(), "stray-file"), nil, 0o644))

	ids, err := s.ListIDs()
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"app_a", "app_b"}, ids)

	_, err = s.WriteBundle(context.Background(), "app_a", strings.NewReader("12345"))
	require.NoError(t, err)
	size, err := s.Size("app_a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestPurgeTmp(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Layout().Tmp(), "a"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Layout().Tmp(), "b"), 0o755))

	n, err := s.PurgeTmp()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.DirExists(t, s.Layout().Tmp())
}

func TestExport(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDirectory("app_1")
	require.NoError(t, err)
	_, err = s.WriteBundle(context.Background(), "app_1", strings.NewReader("bundle"))
	require.NoError(t, err)
	_, err = s.WriteIcon("app_1", pngIcon)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Export(context.Background(), "app_1", &buf))

	zr, err := zstd.NewReader(&buf)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{"bundle/", "bundle/payload", "icon.png"}, names)

	err = s.Export(context.Background(), "app_missing", io.Discard)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}
