// Package reconcile compares the sync root on disk against the metadata store
// and synthesizes the notifications that would bring the store in line.
//
// A sweep walks both trees side by side, one directory at a time. Children
// from each side are merged into a single list sorted by path identity, so a
// disk entry and the record it corresponds to end up adjacent and are paired.
// Unpaired disk entries become Created notifications, unpaired records become
// Deleted, and paired files whose content hash differs become Modified.
// Notifications come out parent first, depth first, and are applied through
// the same dispatch bridge the live watcher uses.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/osfoffline/osfsync/internal/metrics"
	"github.com/osfoffline/osfsync/internal/mirror/content"
	"github.com/osfoffline/osfsync/internal/mirror/events"
	"github.com/osfoffline/osfsync/internal/mirror/pathid"
	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

// Snapshotter loads a consistent view of the store. *db.DB implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*schema.Tree, error)
}

// Sink receives planned notifications. *dispatch.Bridge implements it.
type Sink interface {
	Submit(ctx context.Context, n events.Notification) error
	Flush(ctx context.Context) error
}

// ErrRootMissing is returned when the sync root does not exist on disk.
// Sweeping anyway would tombstone every tracked record.
var ErrRootMissing = errors.New("sync root does not exist")

// Reconciler plans and runs reconciliation sweeps.
type Reconciler struct {
	fs     afero.Fs
	hasher *content.Hasher
	store  Snapshotter
	sink   Sink
	log    logrus.FieldLogger
}

// New creates a Reconciler. The hasher's filesystem is walked.
func New(store Snapshotter, hasher *content.Hasher, sink Sink, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		fs:     hasher.Fs(),
		hasher: hasher,
		store:  store,
		sink:   sink,
		log:    log.WithField("component", "reconcile"),
	}
}

// Result summarizes one sweep.
type Result struct {
	Planned  int
	Duration time.Duration
}

// Sweep reconciles the subtree rooted at path, or the whole sync root when
// path is empty. It returns once every planned notification has been
// applied.
func (r *Reconciler) Sweep(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	res, err := r.sweep(ctx, path)
	res.Duration = time.Since(start)
	metrics.RecordSweep(res.Duration, res.Planned, err == nil)

	log := r.log.WithFields(logrus.Fields{"planned": res.Planned, "duration": res.Duration})
	if err != nil {
		log.WithError(err).Warn("sweep failed")
		return res, err
	}
	log.Info("sweep complete")
	return res, nil
}

func (r *Reconciler) sweep(ctx context.Context, path string) (Result, error) {
	var res Result

	plan, err := r.PlanPath(ctx, path)
	if err != nil {
		return res, err
	}
	for _, n := range plan {
		if err := r.sink.Submit(ctx, n); err != nil {
			return res, fmt.Errorf("failed to submit %s: %w", n, err)
		}
		res.Planned++
	}
	if err := r.sink.Flush(ctx); err != nil {
		return res, fmt.Errorf("failed to flush sweep: %w", err)
	}
	return res, nil
}

// PlanPath loads a snapshot and plans the subtree rooted at path, or the
// whole sync root when path is empty. Nothing is submitted.
func (r *Reconciler) PlanPath(ctx context.Context, path string) ([]events.Notification, error) {
	tree, err := r.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = tree.User.LocalRoot
	}
	return r.Plan(ctx, path, tree)
}

// Plan returns the notifications that reconcile the subtree rooted at root
// against tree, in the order they must be applied. root must be the sync
// root or lie inside it.
func (r *Reconciler) Plan(ctx context.Context, root string, tree *schema.Tree) ([]events.Notification, error) {
	a, err := r.anchor(root, tree)
	if err != nil {
		return nil, err
	}
	p := &planner{r: r, ctx: ctx}
	p.anchored(a, tree)
	if err := p.walk(a); err != nil {
		return nil, err
	}
	return p.out, nil
}

// anchor resolves the directory a plan starts from.
func (r *Reconciler) anchor(root string, tree *schema.Tree) (entry, error) {
	syncRoot := tree.Root()
	at := pathid.New(root, true)

	if !syncRoot.Contains(at) {
		return entry{}, fmt.Errorf("%s is outside the sync root %s", at, syncRoot)
	}

	onDisk, err := r.isDir(at.String())
	if err != nil {
		return entry{}, err
	}

	if at.Equal(syncRoot) {
		if !onDisk {
			return entry{}, fmt.Errorf("%w: %s", ErrRootMissing, syncRoot)
		}
		return entry{origin: originRoot, path: at, tree: tree, onDisk: true}, nil
	}

	e := entry{path: at, onDisk: onDisk}
	if rec, ok := tree.Find(at); ok {
		switch rec := rec.(type) {
		case *schema.Node:
			e.origin, e.node = originNode, rec
		case *schema.File:
			if !rec.LocallyDeleted {
				e.origin, e.file = originFile, rec
			}
		}
	}
	if e.origin == originDisk && !onDisk {
		return entry{}, fmt.Errorf("%s is neither on disk nor tracked", at)
	}
	return e, nil
}

// anchored emits what a subtree plan needs before walking below a: Created
// for the anchor and every ancestor the store does not track as live,
// outermost first, or Deleted when a tracked anchor is gone from disk.
func (p *planner) anchored(a entry, tree *schema.Tree) {
	switch {
	case a.origin == originRoot:
		return
	case a.isStore():
		if !a.onDisk {
			p.emit(events.NewDeleted(a.path.String(), true))
		}
		return
	}

	root := tree.Root()
	var missing []pathid.Path
	for at := a.path; !at.Equal(root) && root.Contains(at); at = at.Parent() {
		if live(tree, at) {
			break
		}
		missing = append(missing, at)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		p.emit(events.NewCreated(missing[i].String(), true))
	}
}

// live reports whether at resolves to a Node or a File that is not a
// tombstone.
func live(tree *schema.Tree, at pathid.Path) bool {
	rec, ok := tree.Find(at)
	if !ok {
		return false
	}
	if f, isFile := rec.(*schema.File); isFile {
		return !f.LocallyDeleted
	}
	return true
}

func (r *Reconciler) isDir(path string) (bool, error) {
	info, err := r.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

type origin int

const (
	originDisk origin = iota
	originRoot
	originNode
	originFile
)

// entry is one side of a comparison: a disk path, the user's sync root, a
// Node, or a File. onDisk is set on store entries that were paired with a
// directory on disk.
type entry struct {
	origin origin
	path   pathid.Path
	onDisk bool

	tree *schema.Tree
	node *schema.Node
	file *schema.File
}

func (e entry) isStore() bool {
	return e.origin != originDisk
}

type planner struct {
	r   *Reconciler
	ctx context.Context
	out []events.Notification
}

func (p *planner) emit(n events.Notification) {
	n.Synthetic = true
	p.out = append(p.out, n)
}

// walk compares the children of dir on both sides and recurses depth first.
func (p *planner) walk(dir entry) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}

	children, err := p.children(dir)
	if err != nil {
		return err
	}

	for i := 0; i < len(children); i++ {
		cur := children[i]
		if i+1 < len(children) && paired(cur, children[i+1]) {
			store := children[i+1]
			if err := p.matched(cur, store); err != nil {
				return err
			}
			i++
			continue
		}

		if cur.isStore() {
			p.emit(events.NewDeleted(cur.path.String(), cur.path.IsDir()))
		} else {
			p.emit(events.NewCreated(cur.path.String(), cur.path.IsDir()))
		}
		if cur.path.IsDir() {
			if err := p.walk(cur); err != nil {
				return err
			}
		}
	}
	return nil
}

// paired reports whether a (disk) and b (store) describe the same object.
// Sorting puts the disk entry first.
func paired(a, b entry) bool {
	return !a.isStore() && b.isStore() && a.path.Equal(b.path)
}

func (p *planner) matched(disk, store entry) error {
	if store.path.IsDir() {
		store.onDisk = true
		store.path = disk.path
		return p.walk(store)
	}

	hash, err := p.r.hasher.Hash(p.ctx, disk.path.String())
	if err != nil {
		if errors.Is(err, schema.ErrTransientSource) {
			p.r.log.WithField("path", disk.path.String()).Debug("file vanished during sweep")
			return nil
		}
		return err
	}
	if hash != store.file.Hash {
		p.emit(events.NewModified(disk.path.String(), false))
	}
	return nil
}

// children lists dir's entries from disk and from the store, merged and
// sorted by path identity with disk entries ahead of store entries.
func (p *planner) children(dir entry) ([]entry, error) {
	var out []entry

	if dir.onDisk || dir.origin == originDisk {
		disk, err := p.diskChildren(dir.path)
		if err != nil {
			return nil, err
		}
		for _, d := range disk {
			// Only project folders live directly in the sync root.
			if dir.origin == originRoot && !d.path.IsDir() {
				p.r.log.WithField("path", d.path.String()).Debug("ignoring file in sync root")
				continue
			}
			out = append(out, d)
		}
	}

	var nodes []*schema.Node
	var files []*schema.File
	switch dir.origin {
	case originRoot:
		nodes = dir.tree.Projects
	case originNode:
		nodes, files = dir.node.Components, dir.node.Files
	case originFile:
		files = dir.file.Files
	}
	for _, n := range nodes {
		if n.Title == schema.ReservedName {
			continue
		}
		out = append(out, entry{origin: originNode, path: pathid.New(n.Path, true), node: n})
	}
	for _, f := range files {
		if f.LocallyDeleted || f.Name == schema.ReservedName {
			continue
		}
		out = append(out, entry{origin: originFile, path: pathid.New(f.Path, f.IsFolder()), file: f})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].path.Equal(out[j].path) {
			return !out[i].isStore() && out[j].isStore()
		}
		return out[i].path.Less(out[j].path)
	})
	return out, nil
}

// diskChildren lists regular files and directories under dir. The reserved
// name and anything else (symlinks, devices, sockets) are skipped.
func (p *planner) diskChildren(dir pathid.Path) ([]entry, error) {
	infos, err := afero.ReadDir(p.r.fs, dir.String())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	out := make([]entry, 0, len(infos))
	for _, info := range infos {
		if info.Name() == schema.ReservedName {
			continue
		}
		mode := info.Mode()
		if !mode.IsRegular() && !mode.IsDir() {
			continue
		}
		out = append(out, entry{
			origin: originDisk,
			path:   pathid.New(filepath.Join(dir.String(), info.Name()), mode.IsDir()),
		})
	}
	return out, nil
}
