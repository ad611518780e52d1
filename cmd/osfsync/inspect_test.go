package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2024-03-01T08:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2 hours ago", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), got)

	_, err = parseSince("whenever", now)
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 bytes", formatSize(512))
	assert.Equal(t, "2.0 KB", formatSize(2048))
	assert.Equal(t, "1.5 MB", formatSize(3*512*1024))
}

func TestTreeEntries(t *testing.T) {
	live := &schema.File{ID: "f1", Name: "a.txt", Type: schema.TypeFile, LocallyCreated: true, LocallyMoved: true}
	gone := &schema.File{ID: "f2", Name: "b.txt", Type: schema.TypeFile, LocallyDeleted: true}
	comp := &schema.Node{ID: "n2", Title: "C"}
	project := &schema.Node{ID: "n1", Title: "P", Components: []*schema.Node{comp}, Files: []*schema.File{live, gone}}

	e := nodeEntry(project, "project", false)
	require.Len(t, e.Children, 2)
	assert.Equal(t, "component", e.Children[0].Kind)
	assert.Equal(t, []string{"created", "moved"}, e.Children[1].Flags)

	e = nodeEntry(project, "project", true)
	require.Len(t, e.Children, 3)
	assert.Equal(t, []string{"deleted"}, e.Children[2].Flags)
}
