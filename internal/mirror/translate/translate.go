// Package translate turns filesystem notifications into metadata store
// mutations.
//
// Every notification goes through the same state machine whether it was
// observed live or synthesized by a reconciliation sweep:
//
//	Created  -> new File (or top-level Node), hashed immediately
//	Moved    -> rename and/or move of a File; Nodes are rejected
//	Modified -> rehash of a File; directories are ignored
//	Deleted  -> tombstone a File, hard delete a Node
//
// Translator.Apply must only be called from the dispatch bridge's worker.
package translate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/osfoffline/osfsync/internal/metrics"
	"github.com/osfoffline/osfsync/internal/mirror/content"
	"github.com/osfoffline/osfsync/internal/mirror/events"
	"github.com/osfoffline/osfsync/internal/mirror/pathid"
	"github.com/osfoffline/osfsync/internal/mirror/schema"
	"github.com/osfoffline/osfsync/internal/ui"
)

// Store is the part of the metadata store the translator reads and mutates.
type Store interface {
	CurrentUser(ctx context.Context) (*schema.User, error)
	FindByPath(ctx context.Context, p pathid.Path) (schema.Record, bool, error)
	FindParentByPath(ctx context.Context, p pathid.Path) (schema.Record, bool, error)
	GetNode(ctx context.Context, nodeID string) (*schema.Node, bool, error)

	CreateNode(ctx context.Context, n *schema.Node) error
	CreateFile(ctx context.Context, f *schema.File) error
	UpdateFile(ctx context.Context, f *schema.File) error
	SoftDeleteFile(ctx context.Context, fileID string) error
	DeleteFile(ctx context.Context, fileID string) error
	DeleteNode(ctx context.Context, nodeID string) error
}

// Options configures a Translator.
type Options struct {
	// DefaultProvider is assigned to files placed directly in a Node.
	DefaultProvider string
}

// Translator applies notifications to the store.
type Translator struct {
	store   Store
	hasher  *content.Hasher
	alerter ui.Alerter
	log     logrus.FieldLogger
	opts    Options
}

// New creates a Translator.
func New(store Store, hasher *content.Hasher, alerter ui.Alerter, log logrus.FieldLogger, opts Options) *Translator {
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = schema.DefaultProvider
	}
	return &Translator{
		store:   store,
		hasher:  hasher,
		alerter: alerter,
		log:     log.WithField("component", "translate"),
		opts:    opts,
	}
}

// Apply runs one notification through the state machine.
//
// A nil error means the store now reflects the notification, or that the
// notification needed no change. Errors wrapping the schema sentinels mean
// the notification was dropped; any other error comes from the store.
func (t *Translator) Apply(ctx context.Context, n events.Notification) error {
	log := t.log.WithFields(logrus.Fields{"kind": n.Kind.String(), "path": n.SrcPath, "seq": n.Seq})
	if n.Kind == events.Moved {
		log = log.WithField("dest", n.DestPath)
	}

	if isReserved(n.SrcPath) || (n.Kind == events.Moved && isReserved(n.DestPath)) {
		t.alert(fmt.Sprintf("Cannot have a custom file or folder named %s", schema.ReservedName))
		log.Warn("rejected notification for reserved name")
		return schema.ErrReservedName
	}

	switch n.Kind {
	case events.Created:
		return t.created(ctx, log, n)
	case events.Moved:
		return t.moved(ctx, log, n)
	case events.Modified:
		return t.modified(ctx, log, n)
	case events.Deleted:
		return t.deleted(ctx, log, n)
	default:
		return fmt.Errorf("unknown notification kind %d", n.Kind)
	}
}

func isReserved(path string) bool {
	return path != "" && filepath.Base(path) == schema.ReservedName
}

func (t *Translator) alert(msg string) {
	metrics.RecordUserAlert()
	t.alerter.Warn(msg)
}

func (t *Translator) created(ctx context.Context, log logrus.FieldLogger, n events.Notification) error {
	src := n.Src()

	rec, ok, err := t.store.FindByPath(ctx, src)
	if err != nil {
		return err
	}
	if ok {
		if f, isFile := rec.(*schema.File); isFile && f.LocallyDeleted {
			parent, ok, err := t.store.FindParentByPath(ctx, src)
			if err != nil {
				return err
			}
			if p, isFile := parent.(*schema.File); ok && isFile && p.LocallyDeleted {
				log.Error("parent is deleted")
				return fmt.Errorf("parent of %s: %w", n.SrcPath, schema.ErrNotFound)
			}
			return t.resurrect(ctx, log, f, n.SrcPath)
		}
		log.Debug("already tracked")
		return nil
	}

	user, err := t.store.CurrentUser(ctx)
	if err != nil {
		return err
	}

	if src.Parent().Equal(pathid.New(user.LocalRoot, true)) {
		if !src.IsDir() {
			log.Debug("files cannot live directly in the sync root")
			return fmt.Errorf("%s: %w", n.SrcPath, schema.ErrNotFound)
		}
		node := &schema.Node{
			ID:             schema.NewID(),
			Title:          src.Name(),
			UserID:         user.ID,
			LocallyCreated: true,
		}
		if err := t.store.CreateNode(ctx, node); err != nil {
			return err
		}
		log.Info("created project")
		return nil
	}

	parent, ok, err := t.store.FindParentByPath(ctx, src)
	if err != nil {
		return err
	}
	if !ok {
		log.WithField("parent", src.Parent().String()).Error("parent is not tracked")
		return fmt.Errorf("parent of %s: %w", n.SrcPath, schema.ErrNotFound)
	}
	if p, isFile := parent.(*schema.File); isFile && p.LocallyDeleted {
		log.Error("parent is deleted")
		return fmt.Errorf("parent of %s: %w", n.SrcPath, schema.ErrNotFound)
	}

	f := &schema.File{
		ID:             schema.NewID(),
		Name:           src.Name(),
		Type:           schema.TypeFile,
		UserID:         user.ID,
		LocallyCreated: true,
	}
	if src.IsDir() {
		f.Type = schema.TypeFolder
	}
	if err := t.place(f, parent); err != nil {
		log.Warn("parent is a file")
		return err
	}

	if f.IsFile() {
		hash, err := t.hasher.Hash(ctx, n.SrcPath)
		if err != nil {
			if errors.Is(err, schema.ErrTransientSource) {
				log.Debug("file vanished before hashing")
			}
			return err
		}
		f.Hash = hash
	}

	if err := t.store.CreateFile(ctx, f); err != nil {
		return err
	}
	log.WithField("type", string(f.Type)).Info("created file")
	return nil
}

// resurrect clears the tombstone of a File whose path reappeared on disk.
func (t *Translator) resurrect(ctx context.Context, log logrus.FieldLogger, f *schema.File, path string) error {
	if f.IsFile() {
		hash, err := t.hasher.Hash(ctx, path)
		if err != nil {
			return err
		}
		f.Hash = hash
	}
	f.LocallyDeleted = false
	if err := t.store.UpdateFile(ctx, f); err != nil {
		return err
	}
	log.Info("restored deleted file")
	return nil
}

// place sets f's parent, node and provider for a new location under parent.
func (t *Translator) place(f *schema.File, parent schema.Record) error {
	switch p := parent.(type) {
	case *schema.Node:
		f.ParentID = ""
		f.NodeID = p.ID
		f.Provider = t.opts.DefaultProvider
	case *schema.File:
		if !p.IsFolder() {
			return schema.ErrParentIsFile
		}
		f.ParentID = p.ID
		f.NodeID = p.NodeID
		f.Provider = p.Provider
	}
	return nil
}

func (t *Translator) moved(ctx context.Context, log logrus.FieldLogger, n events.Notification) error {
	src, dest := n.Src(), n.Dest()

	rec, ok, err := t.store.FindByPath(ctx, src)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("tried to move an item that is not tracked")
		return fmt.Errorf("%s: %w", n.SrcPath, schema.ErrNotFound)
	}

	var f *schema.File
	switch r := rec.(type) {
	case *schema.Node:
		t.alert(fmt.Sprintf("Projects and components cannot be moved locally. %s will stop syncing", r.Title))
		log.Warn("rejected move of a project folder")
		return schema.ErrNodeRelocation
	case *schema.File:
		f = r
	}
	if f.LocallyDeleted {
		log.Warn("tried to move a deleted item")
		return fmt.Errorf("%s: %w", n.SrcPath, schema.ErrNotFound)
	}

	if src.Parent().Equal(dest.Parent()) {
		if err := t.supersede(ctx, log, f, dest); err != nil {
			return err
		}
		f.Name = dest.Name()
		f.LocallyRenamed = true
		if err := t.store.UpdateFile(ctx, f); err != nil {
			return err
		}
		log.Info("renamed file")
		return nil
	}

	parent, ok, err := t.store.FindParentByPath(ctx, dest)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("destination parent is not tracked")
		return fmt.Errorf("parent of %s: %w", n.DestPath, schema.ErrNotFound)
	}
	if p, isFile := parent.(*schema.File); isFile {
		if p.LocallyDeleted {
			log.Warn("destination parent is deleted")
			return fmt.Errorf("parent of %s: %w", n.DestPath, schema.ErrNotFound)
		}
		if !p.IsFolder() {
			log.Warn("destination parent is a file")
			return schema.ErrParentIsFile
		}
	}

	if err := t.supersede(ctx, log, f, dest); err != nil {
		return err
	}

	if !f.LocallyMoved {
		node, ok, err := t.store.GetNode(ctx, f.NodeID)
		if err != nil {
			return err
		}
		f.PreviousProvider = f.Provider
		if ok {
			f.PreviousNodeID = remoteIdentity(node)
		}
	}

	if err := t.place(f, parent); err != nil {
		return err
	}
	f.LocallyMoved = true
	if name := dest.Name(); name != f.Name {
		f.Name = name
		f.LocallyRenamed = true
	}

	if err := t.store.UpdateFile(ctx, f); err != nil {
		return err
	}
	log.Info("moved file")
	return nil
}

// supersede hard-deletes a stale record occupying dest so the moved File
// becomes its sole occupant. Whatever is there loses: the disk now holds the
// moved item.
func (t *Translator) supersede(ctx context.Context, log logrus.FieldLogger, moving *schema.File, dest pathid.Path) error {
	rec, ok, err := t.store.FindByPath(ctx, dest)
	if err != nil || !ok {
		return err
	}
	switch r := rec.(type) {
	case *schema.Node:
		if err := t.store.DeleteNode(ctx, r.ID); err != nil {
			return err
		}
		log.WithField("replaced", r.ID).Info("removed stale project at destination")
	case *schema.File:
		if r.ID == moving.ID {
			return nil
		}
		if err := t.store.DeleteFile(ctx, r.ID); err != nil {
			return err
		}
		log.WithField("replaced", r.ID).Info("removed stale record at destination")
	}
	return nil
}

// remoteIdentity prefers the node's remote id, falling back to the local one
// for nodes that have never been synced.
func remoteIdentity(n *schema.Node) string {
	if n.OSFID != "" {
		return n.OSFID
	}
	return n.ID
}

func (t *Translator) modified(ctx context.Context, log logrus.FieldLogger, n events.Notification) error {
	if n.IsDir {
		return nil
	}

	rec, ok, err := t.store.FindByPath(ctx, n.Src())
	if err != nil {
		return err
	}
	f, isFile := rec.(*schema.File)
	if !ok || !isFile || f.LocallyDeleted {
		log.Warn("file was modified but is not tracked")
		return fmt.Errorf("%s: %w", n.SrcPath, schema.ErrNotFound)
	}

	hash, err := t.hasher.Hash(ctx, n.SrcPath)
	if err != nil {
		if errors.Is(err, schema.ErrTransientSource) {
			log.Debug("file vanished before hashing")
		}
		return err
	}
	if hash == f.Hash {
		log.Debug("content unchanged")
		return nil
	}

	f.Hash = hash
	if err := t.store.UpdateFile(ctx, f); err != nil {
		return err
	}
	log.Info("updated file hash")
	return nil
}

func (t *Translator) deleted(ctx context.Context, log logrus.FieldLogger, n events.Notification) error {
	rec, ok, err := t.store.FindByPath(ctx, n.Src())
	if err != nil {
		return err
	}
	if !ok {
		log.Debug("delete of untracked path")
		return nil
	}

	switch r := rec.(type) {
	case *schema.Node:
		// Nodes cannot be deleted remotely from here; the next remote poll
		// recreates them.
		if err := t.store.DeleteNode(ctx, r.ID); err != nil {
			return err
		}
		log.Info("removed project from store")
	case *schema.File:
		if r.LocallyDeleted {
			return nil
		}
		if err := t.store.SoftDeleteFile(ctx, r.ID); err != nil {
			return err
		}
		log.Info("marked file deleted")
	}
	return nil
}
