// Package pathid provides the normalized path identity used to decide whether
// two filesystem paths name the same object.
//
// Every comparison between a path reported by the watch service, a path found
// while walking the disk, and a path computed from a metadata record goes
// through Path.Equal. Raw string comparison is never correct: separators,
// trailing slashes, Unicode normalization forms and (on macOS and Windows)
// letter case all differ between those sources.
package pathid

import (
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CaseInsensitive reports whether identities fold letter case before comparing.
// It follows the default filesystem semantics of the host OS.
var CaseInsensitive = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

// Path is a normalized, comparable filesystem path tagged with a directory flag.
// The zero value is the empty path.
type Path struct {
	full  string
	key   string
	isDir bool
}

// New builds a Path from a raw path string. Relative paths are resolved
// against the working directory.
func New(raw string, isDir bool) Path {
	if raw == "" {
		return Path{isDir: isDir}
	}

	full := filepath.FromSlash(raw)
	if abs, err := filepath.Abs(full); err == nil {
		full = abs
	} else {
		full = filepath.Clean(full)
	}
	full = norm.NFC.String(full)

	return Path{
		full:  full,
		key:   comparisonKey(full),
		isDir: isDir,
	}
}

func comparisonKey(full string) string {
	key := filepath.ToSlash(full)
	if CaseInsensitive {
		key = cases.Fold().String(key)
	}
	return key
}

// String returns the normalized absolute path.
func (p Path) String() string {
	return p.full
}

// Key returns the comparison key. Two paths with equal keys and equal
// directory flags are the same filesystem object.
func (p Path) Key() string {
	return p.key
}

// IsDir reports whether the path names a directory.
func (p Path) IsDir() bool {
	return p.isDir
}

// IsZero reports whether p is the empty path.
func (p Path) IsZero() bool {
	return p.full == ""
}

// Name returns the final path component, or "" for a filesystem root.
func (p Path) Name() string {
	if p.full == "" {
		return ""
	}
	base := filepath.Base(p.full)
	if base == string(filepath.Separator) || base == "." || strings.HasSuffix(base, ":") {
		return ""
	}
	return base
}

// Parent returns the containing directory. The parent of a root is the root.
func (p Path) Parent() Path {
	if p.full == "" {
		return Path{isDir: true}
	}
	return New(filepath.Dir(p.full), true)
}

// Join returns the child of p with the given name.
func (p Path) Join(name string, isDir bool) Path {
	return New(filepath.Join(p.full, name), isDir)
}

// WithDir returns p with its directory flag replaced.
func (p Path) WithDir(isDir bool) Path {
	p.isDir = isDir
	return p
}

// Equal reports whether p and o name the same filesystem object.
func (p Path) Equal(o Path) bool {
	return p.key == o.key && p.isDir == o.isDir
}

// SameLocation reports whether p and o have the same normalized location,
// ignoring the directory flag.
func (p Path) SameLocation(o Path) bool {
	return p.key == o.key
}

// Less orders paths by comparison key, files before directories at the same
// location. Equal identities are adjacent after sorting.
func (p Path) Less(o Path) bool {
	if p.key != o.key {
		return p.key < o.key
	}
	return !p.isDir && o.isDir
}

// Contains reports whether o is p itself or lies somewhere below p.
func (p Path) Contains(o Path) bool {
	if p.key == "" || o.key == "" {
		return false
	}
	if p.key == o.key {
		return true
	}
	prefix := p.key
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.HasPrefix(o.key, prefix)
}
