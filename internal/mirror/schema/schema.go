// Package schema provides the metadata model mirrored from the local sync folder.
package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReservedName is the directory name the remote layout reserves for
// components. It may never exist as a user-manipulable File or Node.
const ReservedName = "Components"

// DefaultProvider is the storage provider assigned to new local files.
const DefaultProvider = "osfstorage"

// NewID returns a fresh local record id.
func NewID() string {
	return uuid.NewString()
}

// FileType distinguishes files from folders.
type FileType string

const (
	// TypeFile is a regular file with content.
	TypeFile FileType = "file"
	// TypeFolder is a folder that may contain Files.
	TypeFolder FileType = "folder"
)

// User is the logged-in local identity that owns the sync root.
type User struct {
	ID        string    `json:"id" yaml:"id"`
	FullName  string    `json:"full_name" yaml:"full_name"`
	OSFID     string    `json:"osf_id,omitempty" yaml:"osf_id,omitempty"`
	LocalRoot string    `json:"local_root" yaml:"local_root"`
	LoggedIn  bool      `json:"logged_in" yaml:"logged_in"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Validate checks if the User has valid field values.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("id is required")
	}
	if u.LocalRoot == "" {
		return fmt.Errorf("local_root is required")
	}
	return nil
}

// Node is a project or component, mapped to a directory.
type Node struct {
	ID             string `json:"id" yaml:"id"`
	OSFID          string `json:"osf_id,omitempty" yaml:"osf_id,omitempty"`
	Title          string `json:"title" yaml:"title"`
	UserID         string `json:"user_id" yaml:"-"`
	ParentID       string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	LocallyCreated bool   `json:"locally_created,omitempty" yaml:"locally_created,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// Path is computed from the parent chain when the node is loaded.
	Path string `json:"path" yaml:"path"`

	Components []*Node `json:"components,omitempty" yaml:"components,omitempty"`
	Files      []*File `json:"files,omitempty" yaml:"files,omitempty"`
}

// Validate checks if the Node has valid field values.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	if n.Title == ReservedName {
		return fmt.Errorf("title %q is reserved", ReservedName)
	}
	if n.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	return nil
}

// File is a tracked file or folder inside a Node.
type File struct {
	ID       string   `json:"id" yaml:"id"`
	OSFID    string   `json:"osf_id,omitempty" yaml:"osf_id,omitempty"`
	Name     string   `json:"name" yaml:"name"`
	Type     FileType `json:"type" yaml:"type"`
	Hash     string   `json:"hash,omitempty" yaml:"hash,omitempty"`
	Provider string   `json:"provider" yaml:"provider"`
	UserID   string   `json:"user_id" yaml:"-"`
	NodeID   string   `json:"node_id" yaml:"node_id"`
	ParentID string   `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`

	LocallyCreated bool `json:"locally_created,omitempty" yaml:"locally_created,omitempty"`
	LocallyRenamed bool `json:"locally_renamed,omitempty" yaml:"locally_renamed,omitempty"`
	LocallyMoved   bool `json:"locally_moved,omitempty" yaml:"locally_moved,omitempty"`
	LocallyDeleted bool `json:"locally_deleted,omitempty" yaml:"locally_deleted,omitempty"`

	// Provenance, captured once when a move is first observed.
	PreviousProvider string `json:"previous_provider,omitempty" yaml:"previous_provider,omitempty"`
	PreviousNodeID   string `json:"previous_node_id,omitempty" yaml:"previous_node_id,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// Path is computed from the parent chain when the file is loaded.
	Path string `json:"path" yaml:"path"`

	Files []*File `json:"files,omitempty" yaml:"files,omitempty"`
}

// IsFolder reports whether f is a folder.
func (f *File) IsFolder() bool {
	return f.Type == TypeFolder
}

// IsFile reports whether f is a regular file.
func (f *File) IsFile() bool {
	return f.Type == TypeFile
}

// Validate checks if the File has valid field values.
func (f *File) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if f.Name == ReservedName {
		return fmt.Errorf("name %q is reserved", ReservedName)
	}
	if f.Type != TypeFile && f.Type != TypeFolder {
		return fmt.Errorf("type must be %q or %q (got %q)", TypeFile, TypeFolder, f.Type)
	}
	if f.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if f.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if f.ParentID == f.ID {
		return fmt.Errorf("file cannot be its own parent")
	}
	return nil
}

// Pending reports whether f carries a local change the downstream sync
// worker has not consumed yet.
func (f *File) Pending() bool {
	return f.LocallyCreated || f.LocallyRenamed || f.LocallyMoved || f.LocallyDeleted
}
