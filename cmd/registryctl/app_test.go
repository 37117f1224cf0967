package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/config"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/server"
	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"registryctl"}, args...))
	return out.String(), err
}

func TestImportListStatusRemove(t *testing.T) {
	data := t.TempDir()
	bundle := filepath.Join(t.TempDir(), "Foo.ipa")
	require.NoError(t, os.WriteFile(bundle, []byte("payload"), 0o644))

	out, err := run(t, "--data", data, "import", "--kind", "signed", "--version", "1.2", bundle)
	require.NoError(t, err)
	var rec types.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "Foo.ipa", rec.Name)
	assert.Equal(t, "1.2", rec.Version)

	out, err = run(t, "--data", data, "list", "--kind", "signed")
	require.NoError(t, err)
	var list []types.Record
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	_, err = run(t, "--data", data, "status", rec.ID, "signing_in_progress")
	require.NoError(t, err)
	_, err = run(t, "--data", data, "status", rec.ID, "signing_in_progress")
	assert.Error(t, err)

	archive := filepath.Join(t.TempDir(), "out.tar.zst")
	_, err = run(t, "--data", data, "export", rec.ID, archive)
	require.NoError(t, err)
	assert.FileExists(t, archive)

	out, err = run(t, "--data", data, "remove", rec.ID)
	require.NoError(t, err)
	assert.Contains(t, out, rec.ID)

	_, err = run(t, "--data", data, "remove", rec.ID)
	assert.Error(t, err)
}

func TestSweepAndSources(t *testing.T) {
	data := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(data, "Apps", "app_orphan"), 0o755))

	out, err := run(t, "--data", data, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "app_orphan")

	out, err = run(t, "--data", data, "sources")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(bytes.TrimSpace([]byte(out))))
}

func TestArgumentErrors(t *testing.T) {
	data := t.TempDir()
	_, err := run(t, "--data", data, "list", "--kind", "installed")
	assert.Error(t, err)

	_, err = run(t, "--data", data, "import", "--kind", "signed", filepath.Join(data, "missing.ipa"))
	assert.Error(t, err)
}

func TestCommandsFailWhileDataDirInUse(t *testing.T) {
	data := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = data
	srv, err := server.New(context.Background(), cfg, nil)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(data, "Apps", "app_orphan"), 0o755))
	_, err = run(t, "--data", data, "sweep")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeConflict))
	assert.DirExists(t, filepath.Join(data, "Apps", "app_orphan"))

	require.NoError(t, srv.Close())
	_, err = run(t, "--data", data, "sweep")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(data, "Apps", "app_orphan"))
}
