package loadtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osfoffline/osfsync/internal/logging"
	"github.com/osfoffline/osfsync/internal/mirror/content"
	"github.com/osfoffline/osfsync/internal/mirror/db"
	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

func setup(t *testing.T) (context.Context, *db.DB, *content.Hasher, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	store, err := db.Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema())

	root := t.TempDir()
	require.NoError(t, store.UpsertUser(ctx, &schema.User{ID: "u1", LocalRoot: root, LoggedIn: true}))

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0755))
	return ctx, store, content.NewHasher(fs, 0), root
}

func TestPopulate(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := Options{Projects: 2, FoldersPerProject: 3, FilesPerFolder: 4, FileSize: 16}

	tree, err := Populate(fs, "/sync", opts)
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Projects)
	assert.Equal(t, 6, tree.Folders)
	assert.Len(t, tree.Files, 24)

	data, err := afero.ReadFile(fs, tree.Files[0])
	require.NoError(t, err)
	assert.Len(t, data, 16)

	again, err := Populate(afero.NewMemMapFs(), "/sync", opts)
	require.NoError(t, err)
	assert.Equal(t, tree.Files, again.Files)
}

func TestRun_ReachesFixpoint(t *testing.T) {
	ctx, store, hasher, root := setup(t)
	opts := Options{Projects: 2, FoldersPerProject: 2, FilesPerFolder: 5, FileSize: 64, Producers: 4, QueueSize: 8}

	report, err := Run(ctx, store, hasher, root, opts, logging.Discard())
	require.NoError(t, err)

	// 2 projects + 4 folders + 20 files
	assert.Equal(t, 26, report.Seed.Planned)
	assert.Equal(t, 20, report.Live)
	assert.True(t, report.Fixpoint(), "final sweep planned %d changes", report.Resweep.Planned)

	assert.Equal(t, 2, report.Store.Nodes)
	assert.Equal(t, 4, report.Store.Folders)
	assert.Equal(t, 20, report.Store.Files)

	assert.Equal(t, 46, report.Latency.Total)
	assert.Zero(t, report.Latency.Failed)
	assert.LessOrEqual(t, report.Latency.Min, report.Latency.P50)
	assert.LessOrEqual(t, report.Latency.P99, report.Latency.Max)
}

func TestRun_NoProducers(t *testing.T) {
	ctx, store, hasher, root := setup(t)
	opts := Options{Projects: 1, FoldersPerProject: 1, FilesPerFolder: 1, FileSize: 8, QueueSize: 4}

	report, err := Run(ctx, store, hasher, root, opts, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Seed.Planned)
	assert.Zero(t, report.Live)
	assert.True(t, report.Fixpoint())
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}

	s := computeLatencyStats(ds)
	assert.Equal(t, 100, s.Total)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.Equal(t, 51*time.Millisecond, s.P50)
	assert.Equal(t, 96*time.Millisecond, s.P95)
	assert.Equal(t, 100*time.Millisecond, s.P99)
	assert.Equal(t, 50500*time.Microsecond, s.Mean)

	assert.Equal(t, &LatencyStats{}, computeLatencyStats(nil))
}
