package schema

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/osfoffline/osfsync/internal/mirror/pathid"
)

// Tree is an in-memory view of one user's metadata: projects, their
// components and files, linked together with paths computed from the
// user's sync root.
type Tree struct {
	User     *User
	Projects []*Node

	// Nodes and Files hold every record in load order.
	Nodes []*Node
	Files []*File
}

// BuildTree links flat node and file rows into a Tree and computes every
// record's Path. Rows whose parent chain does not reach the user (orphans,
// cycles) are returned as an error.
func BuildTree(user *User, nodes []*Node, files []*File) (*Tree, error) {
	if user == nil {
		return nil, ErrNoUser
	}

	nodeByID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		n.Components = nil
		n.Files = nil
		nodeByID[n.ID] = n
	}
	fileByID := make(map[string]*File, len(files))
	for _, f := range files {
		f.Files = nil
		fileByID[f.ID] = f
	}

	t := &Tree{User: user, Nodes: nodes, Files: files}

	for _, n := range nodes {
		if n.ParentID == "" {
			t.Projects = append(t.Projects, n)
			continue
		}
		parent, ok := nodeByID[n.ParentID]
		if !ok {
			return nil, fmt.Errorf("node %s references missing parent %s", n.ID, n.ParentID)
		}
		parent.Components = append(parent.Components, n)
	}
	for _, f := range files {
		if f.ParentID != "" {
			parent, ok := fileByID[f.ParentID]
			if !ok {
				return nil, fmt.Errorf("file %s references missing parent %s", f.ID, f.ParentID)
			}
			parent.Files = append(parent.Files, f)
			continue
		}
		node, ok := nodeByID[f.NodeID]
		if !ok {
			return nil, fmt.Errorf("file %s references missing node %s", f.ID, f.NodeID)
		}
		node.Files = append(node.Files, f)
	}

	sortNodes(t.Projects)
	for _, n := range nodes {
		n.Path = ""
		sortNodes(n.Components)
		sortFiles(n.Files)
	}
	for _, f := range files {
		f.Path = ""
		sortFiles(f.Files)
	}

	for _, n := range t.Projects {
		if err := assignNodePaths(n, user.LocalRoot, 0); err != nil {
			return nil, err
		}
	}
	for _, n := range nodes {
		if n.Path == "" {
			return nil, fmt.Errorf("node %s is not reachable from the sync root", n.ID)
		}
	}
	for _, f := range files {
		if f.Path == "" {
			return nil, fmt.Errorf("file %s is not reachable from the sync root", f.ID)
		}
	}

	return t, nil
}

// maxDepth bounds path computation so corrupted parent links cannot recurse forever.
const maxDepth = 4096

func assignNodePaths(n *Node, parentPath string, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("node %s exceeds maximum tree depth", n.ID)
	}
	n.Path = filepath.Join(parentPath, n.Title)
	for _, c := range n.Components {
		if err := assignNodePaths(c, n.Path, depth+1); err != nil {
			return err
		}
	}
	for _, f := range n.Files {
		if err := assignFilePaths(f, n.Path, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func assignFilePaths(f *File, parentPath string, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("file %s exceeds maximum tree depth", f.ID)
	}
	f.Path = filepath.Join(parentPath, f.Name)
	for _, c := range f.Files {
		if err := assignFilePaths(c, f.Path, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Title < nodes[j].Title })
}

func sortFiles(files []*File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
}

// Find resolves p against every Node, then every File. A live File wins over
// a tombstoned one at the same path; a tombstone is returned only when no
// live record matches.
func (t *Tree) Find(p pathid.Path) (Record, bool) {
	for _, n := range t.Nodes {
		if pathid.New(n.Path, true).Equal(p) {
			return n, true
		}
	}

	var tombstone *File
	for _, f := range t.Files {
		if !pathid.New(f.Path, f.IsFolder()).Equal(p) {
			continue
		}
		if !f.LocallyDeleted {
			return f, true
		}
		if tombstone == nil {
			tombstone = f
		}
	}
	if tombstone != nil {
		return tombstone, true
	}
	return nil, false
}

// Root returns the identity of the user's sync root.
func (t *Tree) Root() pathid.Path {
	return pathid.New(t.User.LocalRoot, true)
}

// Node returns the node with the given id.
func (t *Tree) Node(id string) (*Node, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}
