package schema

// Record is a metadata row that maps to one filesystem path: either a *Node
// or a *File. The set is closed; handle it with a type switch.
//
//	switch r := rec.(type) {
//	case *schema.Node:
//	case *schema.File:
//	}
type Record interface {
	// RecordPath is the absolute on-disk path computed for the record.
	RecordPath() string
	// RecordIsDir reports whether the record maps to a directory.
	RecordIsDir() bool

	sealed()
}

// RecordPath implements Record.
func (n *Node) RecordPath() string { return n.Path }

// RecordIsDir implements Record. Nodes are always directories.
func (n *Node) RecordIsDir() bool { return true }

func (n *Node) sealed() {}

// RecordPath implements Record.
func (f *File) RecordPath() string { return f.Path }

// RecordIsDir implements Record.
func (f *File) RecordIsDir() bool { return f.IsFolder() }

func (f *File) sealed() {}

// NodeOf returns the Node a new child of rec belongs to: rec itself for a
// Node, the owning node id for a File.
func NodeOf(rec Record) string {
	switch r := rec.(type) {
	case *Node:
		return r.ID
	case *File:
		return r.NodeID
	}
	return ""
}
