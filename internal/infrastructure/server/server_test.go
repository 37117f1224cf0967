package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/config"
	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/paths"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Server.Port = "0"
	cfg.RateLimit.Enabled = false
	return cfg
}

func TestNew_CreatesLayoutAndServes(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	layout := paths.New(cfg.Storage.DataDir)
	for _, dir := range layout.StandardDirectories() {
		assert.DirExists(t, dir)
	}
	assert.FileExists(t, layout.Database())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPrepare_SeedsAndSweeps(t *testing.T) {
	cfg := testConfig(t)
	layout := paths.New(cfg.Storage.DataDir)
	orphan := filepath.Join(layout.Apps(), "app_orphan")
	require.NoError(t, os.MkdirAll(orphan, 0o755))

	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Prepare(context.Background()))
	assert.NoDirExists(t, orphan)

	sources, err := s.Repository().ListSources(context.Background())
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	// A second start is a no-op
	require.NoError(t, s.Prepare(context.Background()))
	sources, err = s.Repository().ListSources(context.Background())
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}

func TestPrepare_RespectsSwitches(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.SweepOnStart = false
	cfg.Registry.SeedSources = false
	orphan := filepath.Join(paths.New(cfg.Storage.DataDir).Apps(), "app_orphan")
	require.NoError(t, os.MkdirAll(orphan, 0o755))

	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Prepare(context.Background()))
	assert.DirExists(t, orphan)
	sources, err := s.Repository().ListSources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestRun_GracefulShutdown(t *testing.T) {
	s, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		addr := s.Addr()
		if addr == nil {
			return false
		}
		resp, err := http.Get("http://" + addr.String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.DataDir = ""
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNew_DataDirLockedWhileOpen(t *testing.T) {
	cfg := testConfig(t)
	first, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.FileExists(t, paths.New(cfg.Storage.DataDir).Lock())

	_, err = New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeConflict))

	require.NoError(t, first.Close())

	second, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestNew_FailedOpenReleasesLock(t *testing.T) {
	cfg := testConfig(t)
	// A directory where the database file belongs makes the open fail
	require.NoError(t, os.MkdirAll(paths.New(cfg.Storage.DataDir).Database(), 0o755))

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)

	require.NoError(t, os.Remove(paths.New(cfg.Storage.DataDir).Database()))
	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
