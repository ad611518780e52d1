package events

import (
	"fmt"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{Created, "created"},
		{Modified, "modified"},
		{Deleted, "deleted"},
		{Moved, "moved"},
		{Kind(42), "kind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestNotification_Identities(t *testing.T) {
	n := NewMoved("/root/P/a", "/root/P/b", true)
	if !n.Src().IsDir() || !n.Dest().IsDir() {
		t.Error("directory flag should carry to both identities")
	}
	if n.Src().Equal(n.Dest()) {
		t.Error("source and destination should differ")
	}
}

func ExampleNotification_String() {
	fmt.Println(NewCreated("/root/P", true))
	fmt.Println(NewMoved("/root/P/a.txt", "/root/P/b.txt", false))
	// Output:
	// created /root/P/
	// moved /root/P/a.txt -> /root/P/b.txt
}
