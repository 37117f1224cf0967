package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

func TestSweep_RemovesOrphansAndDanglingRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	kept := commit(t, e.svc, types.KindSigned, "Kept")
	dangling := commit(t, e.svc, types.KindSigned, "Dangling")
	require.NoError(t, os.RemoveAll(e.store.Path(dangling.ID)))

	_, err := e.store.CreateDirectory("app_orphan")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.store.Layout().Tmp(), "spool"), []byte("x"), 0o644))

	wait := e.events(t)
	report, err := e.svc.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"app_orphan"}, report.OrphanDirectories)
	assert.Equal(t, []string{dangling.ID}, report.DanglingRecords)
	assert.Empty(t, report.FailedDirectories)
	assert.Equal(t, 1, report.TmpEntries)
	assert.True(t, report.Changed())

	records, err := e.svc.List(ctx, types.KindSigned)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, kept.ID, records[0].ID)
	e.assertPaired(t)

	events := wait(1)
	assert.Equal(t, types.EventSwept, events[0].Type)
}

func TestSweep_CleanStateIsQuiet(t *testing.T) {
	e := newEnv(t)
	commit(t, e.svc, types.KindDownloaded, "Foo")

	report, err := e.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Zero(t, report.TmpEntries)

	// No swept event for a no-op pass
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(1), e.feed.Stats().Published)
}

func TestSweep_ReportsDirectoriesItCannotRemove(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.CreateDirectory("app_stuck")
	require.NoError(t, err)

	svc := NewService(e.repo, &stuckArtifacts{e.store}, e.feed, Options{})
	report, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"app_stuck"}, report.FailedDirectories)
	assert.Empty(t, report.OrphanDirectories)

	// A later pass with a working store finishes the job
	report, err = e.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"app_stuck"}, report.OrphanDirectories)
}
