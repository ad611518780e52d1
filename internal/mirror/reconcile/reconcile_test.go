package reconcile

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
	"github.com/osfoffline/osfsync/internal/mirror/dispatch"
	"github.com/osfoffline/osfsync/internal/mirror/events"
	"github.com/osfoffline/osfsync/internal/mirror/pathid"
	"github.com/osfoffline/osfsync/internal/mirror/schema"
	"github.com/osfoffline/osfsync/internal/mirror/translate"
	"github.com/osfoffline/osfsync/internal/ui"
)

type testEnv struct {
	ctx   context.Context
	store *db.DB
	fs    afero.Fs
	rec   *Reconciler
	root  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	store, err := db.Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema())

	root := t.TempDir()
	require.NoError(t, store.UpsertUser(ctx, &schema.User{ID: "u1", LocalRoot: root, LoggedIn: true}))

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0755))
	hasher := content.NewHasher(fs, 0)

	tr := translate.New(store, hasher, &ui.RecordingAlerter{}, logging.Discard(), translate.Options{})
	bridge := dispatch.New(tr, logging.Discard(), 16)
	go func() { _ = bridge.Run(ctx) }()
	t.Cleanup(func() {
		bridge.Stop()
		<-bridge.Done()
	})

	return &testEnv{
		ctx:   ctx,
		store: store,
		fs:    fs,
		rec:   New(store, hasher, bridge, logging.Discard()),
		root:  root,
	}
}

func (e *testEnv) path(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func (e *testEnv) write(t *testing.T, rel, data string) {
	t.Helper()
	require.NoError(t, e.fs.MkdirAll(filepath.Dir(e.path(rel)), 0755))
	require.NoError(t, afero.WriteFile(e.fs, e.path(rel), []byte(data), 0644))
}

func (e *testEnv) mkdir(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, e.fs.MkdirAll(e.path(rel), 0755))
}

func (e *testEnv) plan(t *testing.T, at string) []events.Notification {
	t.Helper()
	plan, err := e.rec.PlanPath(e.ctx, at)
	require.NoError(t, err)
	for i := range plan {
		plan[i].Synthetic = false
	}
	return plan
}

func (e *testEnv) sweep(t *testing.T) int {
	t.Helper()
	res, err := e.rec.Sweep(e.ctx, "")
	require.NoError(t, err)
	return res.Planned
}

// seed lays out and sweeps:
//
//	P/a.txt  "hello"
//	P/sub/c.txt
//	Q/
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	e.write(t, "P/a.txt", "hello")
	e.write(t, "P/sub/c.txt", "see")
	e.mkdir(t, "Q")
	require.Equal(t, 5, e.sweep(t))
	require.Empty(t, e.plan(t, ""))
}

func TestSweep_EmptyStoreReachesFixpoint(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "P/a.txt", "red")

	assert.Equal(t, []events.Notification{
		events.NewCreated(e.path("P"), true),
		events.NewCreated(e.path("P/a.txt"), false),
	}, e.plan(t, ""))

	assert.Equal(t, 2, e.sweep(t))
	assert.Empty(t, e.plan(t, ""))

	rec, ok, err := e.store.FindByPath(e.ctx, pathid.New(e.path("P/a.txt"), false))
	require.NoError(t, err)
	require.True(t, ok)
	f := rec.(*schema.File)
	assert.Equal(t, "b1f51a511f1da0cd348b8f8598db32e61cb963e5fc69e2b41485bf99590ed75a", f.Hash)
	assert.True(t, f.LocallyCreated)

	rec, ok, err = e.store.FindByPath(e.ctx, pathid.New(e.path("P"), true))
	require.NoError(t, err)
	require.True(t, ok)
	assert.IsType(t, &schema.Node{}, rec)
}

func TestPlan_Modified(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	e.write(t, "P/sub/c.txt", "changed")
	assert.Equal(t, []events.Notification{
		events.NewModified(e.path("P/sub/c.txt"), false),
	}, e.plan(t, ""))

	assert.Equal(t, 1, e.sweep(t))
	assert.Empty(t, e.plan(t, ""))
}

func TestPlan_ParentFirstDepthFirst(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	e.write(t, "P/new/x.txt", "x")
	require.NoError(t, e.fs.RemoveAll(e.path("P/sub")))

	assert.Equal(t, []events.Notification{
		events.NewCreated(e.path("P/new"), true),
		events.NewCreated(e.path("P/new/x.txt"), false),
		events.NewDeleted(e.path("P/sub"), true),
		events.NewDeleted(e.path("P/sub/c.txt"), false),
	}, e.plan(t, ""))

	e.sweep(t)
	assert.Empty(t, e.plan(t, ""))
}

func TestPlan_TombstonesAreNotResurfaced(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	require.NoError(t, e.fs.Remove(e.path("P/a.txt")))
	assert.Equal(t, 1, e.sweep(t))
	assert.Empty(t, e.plan(t, ""))

	rec, ok, err := e.store.FindByPath(e.ctx, pathid.New(e.path("P/a.txt"), false))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.(*schema.File).LocallyDeleted)

	e.write(t, "P/a.txt", "back")
	assert.Equal(t, []events.Notification{
		events.NewCreated(e.path("P/a.txt"), false),
	}, e.plan(t, ""))
	e.sweep(t)
	assert.Empty(t, e.plan(t, ""))
}

func TestPlan_ProjectRemovedFromDisk(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	require.NoError(t, e.fs.RemoveAll(e.path("Q")))
	assert.Equal(t, []events.Notification{
		events.NewDeleted(e.path("Q"), true),
	}, e.plan(t, ""))

	e.sweep(t)
	assert.Empty(t, e.plan(t, ""))
	_, ok, err := e.store.FindByPath(e.ctx, pathid.New(e.path("Q"), true))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlan_TypeChange(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	require.NoError(t, e.fs.Remove(e.path("P/a.txt")))
	e.mkdir(t, "P/a.txt")

	assert.Equal(t, []events.Notification{
		events.NewDeleted(e.path("P/a.txt"), false),
		events.NewCreated(e.path("P/a.txt"), true),
	}, e.plan(t, ""))
}

func TestPlan_SkipsReservedName(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	e.write(t, "P/Components/x.txt", "x")
	assert.Empty(t, e.plan(t, ""))
}

func TestPlan_Subtree(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	e.write(t, "P/sub/d.txt", "d")
	e.write(t, "Q/q.txt", "q")

	assert.Equal(t, []events.Notification{
		events.NewCreated(e.path("P/sub/d.txt"), false),
	}, e.plan(t, e.path("P/sub")))

	assert.Equal(t, []events.Notification{
		events.NewCreated(e.path("Q/q.txt"), false),
	}, e.plan(t, e.path("Q")))
}

func TestSweep_SubtreeRestoresDeletedFolder(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	require.NoError(t, e.fs.RemoveAll(e.path("P/sub")))
	e.sweep(t)
	require.Empty(t, e.plan(t, ""))

	e.write(t, "P/sub/c.txt", "see again")
	assert.Equal(t, []events.Notification{
		events.NewCreated(e.path("P/sub"), true),
		events.NewCreated(e.path("P/sub/c.txt"), false),
	}, e.plan(t, e.path("P/sub")))

	res, err := e.rec.Sweep(e.ctx, e.path("P/sub"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Planned)
	assert.Empty(t, e.plan(t, e.path("P/sub")))
	assert.Empty(t, e.plan(t, ""))

	rec, ok, err := e.store.FindByPath(e.ctx, pathid.New(e.path("P/sub/c.txt"), false))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec.(*schema.File).LocallyDeleted)
}

func TestSweep_SubtreeUntrackedAncestors(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	e.write(t, "P/new/deeper/x.txt", "x")
	assert.Equal(t, []events.Notification{
		events.NewCreated(e.path("P/new"), true),
		events.NewCreated(e.path("P/new/deeper"), true),
		events.NewCreated(e.path("P/new/deeper/x.txt"), false),
	}, e.plan(t, e.path("P/new/deeper")))

	_, err := e.rec.Sweep(e.ctx, e.path("P/new/deeper"))
	require.NoError(t, err)
	assert.Empty(t, e.plan(t, ""))
}

func TestPlan_SubtreeAnchorGoneFromDisk(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	require.NoError(t, e.fs.RemoveAll(e.path("P/sub")))
	assert.Equal(t, []events.Notification{
		events.NewDeleted(e.path("P/sub"), true),
		events.NewDeleted(e.path("P/sub/c.txt"), false),
	}, e.plan(t, e.path("P/sub")))

	_, err := e.rec.Sweep(e.ctx, e.path("P/sub"))
	require.NoError(t, err)
	assert.Empty(t, e.plan(t, ""))
}

func TestPlan_IgnoresFilesInSyncRoot(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	e.write(t, ".DS_Store", "finder")
	assert.Empty(t, e.plan(t, ""))
	assert.Zero(t, e.sweep(t))
}

func TestPlan_Errors(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	_, err := e.rec.PlanPath(e.ctx, filepath.Dir(e.root))
	assert.Error(t, err, "outside the sync root")

	_, err = e.rec.PlanPath(e.ctx, e.path("nowhere"))
	assert.Error(t, err)

	require.NoError(t, e.fs.RemoveAll(e.root))
	_, err = e.rec.PlanPath(e.ctx, "")
	assert.ErrorIs(t, err, ErrRootMissing)
}

func TestPlan_Synthetic(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "P/a.txt", "red")

	plan, err := e.rec.PlanPath(e.ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, plan)
	for _, n := range plan {
		assert.True(t, n.Synthetic, n.String())
	}
}
