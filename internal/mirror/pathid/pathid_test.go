package pathid

import (
	"path/filepath"
	"sort"
	"testing"
)

func TestNew_Normalizes(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name string
		a    string
		b    string
	}{
		{"trailing separator", filepath.Join(root, "P") + string(filepath.Separator), filepath.Join(root, "P")},
		{"dot segments", root + "/P/./sub/..", filepath.Join(root, "P")},
		{"NFD vs NFC", filepath.Join(root, "cafe\u0301"), filepath.Join(root, "caf\u00e9")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.a, true)
			b := New(tt.b, true)
			if !a.Equal(b) {
				t.Errorf("New(%q) != New(%q): keys %q vs %q", tt.a, tt.b, a.Key(), b.Key())
			}
		})
	}
}

func TestEqual_DirectoryFlag(t *testing.T) {
	root := t.TempDir()
	file := New(filepath.Join(root, "a"), false)
	dir := New(filepath.Join(root, "a"), true)

	if file.Equal(dir) {
		t.Error("file and directory at the same location must not be equal")
	}
	if !file.SameLocation(dir) {
		t.Error("SameLocation should ignore the directory flag")
	}
}

func TestCaseFolding(t *testing.T) {
	old := CaseInsensitive
	defer func() { CaseInsensitive = old }()

	root := t.TempDir()

	CaseInsensitive = true
	if !New(filepath.Join(root, "Readme.TXT"), false).Equal(New(filepath.Join(root, "readme.txt"), false)) {
		t.Error("case-insensitive identities should fold case")
	}

	CaseInsensitive = false
	if New(filepath.Join(root, "Readme.TXT"), false).Equal(New(filepath.Join(root, "readme.txt"), false)) {
		t.Error("case-sensitive identities should not fold case")
	}
}

func TestNameParentJoin(t *testing.T) {
	root := t.TempDir()
	p := New(filepath.Join(root, "P", "a.txt"), false)

	if p.Name() != "a.txt" {
		t.Errorf("Name() = %q, want a.txt", p.Name())
	}
	if !p.Parent().Equal(New(filepath.Join(root, "P"), true)) {
		t.Errorf("Parent() = %s", p.Parent())
	}
	if !New(filepath.Join(root, "P"), true).Join("a.txt", false).Equal(p) {
		t.Error("Join should produce the child identity")
	}
	if New(string(filepath.Separator), true).Name() != "" {
		t.Error("root should have an empty name")
	}
}

func TestContains(t *testing.T) {
	root := t.TempDir()
	p := New(filepath.Join(root, "P"), true)

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "P"), true},
		{filepath.Join(root, "P", "a.txt"), true},
		{filepath.Join(root, "P", "sub", "b.txt"), true},
		{filepath.Join(root, "PX"), false},
		{root, false},
	}
	for _, tt := range tests {
		if got := p.Contains(New(tt.path, false)); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestLess_AdjacentIdentities(t *testing.T) {
	root := t.TempDir()
	paths := []Path{
		New(filepath.Join(root, "b"), false),
		New(filepath.Join(root, "a"), true),
		New(filepath.Join(root, "b"), false),
		New(filepath.Join(root, "a"), false),
	}
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Less(paths[j]) })

	if paths[0].Name() != "a" || paths[0].IsDir() {
		t.Errorf("first = %s dir=%v, want file a", paths[0], paths[0].IsDir())
	}
	if !paths[2].Equal(paths[3]) {
		t.Error("equal identities should sort adjacent")
	}
}
