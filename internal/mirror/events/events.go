// Package events defines the filesystem change notification shared by the
// watcher, the reconciler and the translator.
package events

import (
	"fmt"

	"github.com/osfoffline/osfsync/internal/mirror/pathid"
)

// Kind is the type of filesystem change.
type Kind int

const (
	// Created means a file or directory appeared at SrcPath.
	Created Kind = iota + 1
	// Modified means the content of the file at SrcPath changed.
	Modified
	// Deleted means the file or directory at SrcPath disappeared.
	Deleted
	// Moved means SrcPath was renamed or moved to DestPath.
	Moved
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Moved:
		return "moved"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Notification is one filesystem change, produced by the live watcher or
// synthesized by a reconciliation sweep. Notifications are values; the
// dispatch bridge stamps Seq on submission.
type Notification struct {
	Kind     Kind
	SrcPath  string
	DestPath string // Moved only
	IsDir    bool

	// Synthetic is set for notifications produced by a sweep rather than
	// observed by the watcher.
	Synthetic bool

	// Seq is the submission order assigned by the dispatch bridge.
	Seq uint64
}

// Src returns the source path identity.
func (n Notification) Src() pathid.Path {
	return pathid.New(n.SrcPath, n.IsDir)
}

// Dest returns the destination path identity of a move.
func (n Notification) Dest() pathid.Path {
	return pathid.New(n.DestPath, n.IsDir)
}

// String formats the notification for logs and dry-run output.
func (n Notification) String() string {
	suffix := ""
	if n.IsDir {
		suffix = "/"
	}
	if n.Kind == Moved {
		return fmt.Sprintf("%s %s%s -> %s%s", n.Kind, n.SrcPath, suffix, n.DestPath, suffix)
	}
	return fmt.Sprintf("%s %s%s", n.Kind, n.SrcPath, suffix)
}

// NewCreated returns a Created notification.
func NewCreated(path string, isDir bool) Notification {
	return Notification{Kind: Created, SrcPath: path, IsDir: isDir}
}

// NewModified returns a Modified notification.
func NewModified(path string, isDir bool) Notification {
	return Notification{Kind: Modified, SrcPath: path, IsDir: isDir}
}

// NewDeleted returns a Deleted notification.
func NewDeleted(path string, isDir bool) Notification {
	return Notification{Kind: Deleted, SrcPath: path, IsDir: isDir}
}

// NewMoved returns a Moved notification.
func NewMoved(src, dest string, isDir bool) Notification {
	return Notification{Kind: Moved, SrcPath: src, DestPath: dest, IsDir: isDir}
}
