package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/osfoffline/osfsync/internal/mirror/schema"
	"github.com/osfoffline/osfsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "inspect",
	Short:   "Show store status",
	Long: `Display the metadata store location and record counts.

Shows:
  - Store file location and size
  - Logged-in user and sync folder
  - Projects, files, folders, tombstones
  - Files with local changes not yet consumed`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		info, err := os.Stat(cfg.Store.Path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Store not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'osfsync init' to create it\n\n")
			return
		}
		if err != nil {
			fatalf("checking store: %v", err)
		}

		store, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		stats, err := store.Counts(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("\n%s osfsync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Store: %s (%s)\n", store.Path(), formatSize(info.Size()))
		if user, err := store.CurrentUser(ctx); err == nil {
			name := user.FullName
			if name == "" {
				name = user.ID
			}
			fmt.Printf("User: %s\n", name)
			fmt.Printf("Root: %s\n", user.LocalRoot)
		} else {
			fmt.Printf("User: %s\n", ui.RenderWarn("not logged in"))
		}
		fmt.Printf("Nodes: %d\n", stats.Nodes)
		fmt.Printf("Files: %d\n", stats.Files)
		fmt.Printf("Folders: %d\n", stats.Folders)
		fmt.Printf("Tombstones: %d\n", stats.Tombstones)
		fmt.Printf("Pending: %d\n", stats.Pending)
		fmt.Println()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

var (
	treeFormat string
	treeAll    bool
)

// treeEntry is the printable form of a Node or File.
type treeEntry struct {
	Name     string      `json:"name" yaml:"name"`
	Kind     string      `json:"kind" yaml:"kind"`
	ID       string      `json:"id" yaml:"id"`
	OSFID    string      `json:"osf_id,omitempty" yaml:"osf_id,omitempty"`
	Provider string      `json:"provider,omitempty" yaml:"provider,omitempty"`
	Hash     string      `json:"hash,omitempty" yaml:"hash,omitempty"`
	Flags    []string    `json:"flags,omitempty" yaml:"flags,omitempty"`
	Children []treeEntry `json:"children,omitempty" yaml:"children,omitempty"`
}

var treeCmd = &cobra.Command{
	Use:     "tree",
	GroupID: "inspect",
	Short:   "Print the mirrored metadata tree",
	Long: `Print every project, component, folder and file the store knows about.

Tombstoned files are hidden unless --all is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		tree, err := store.Snapshot(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		entries := make([]treeEntry, 0, len(tree.Projects))
		for _, n := range tree.Projects {
			entries = append(entries, nodeEntry(n, "project", treeAll))
		}

		switch treeFormat {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(entries); err != nil {
				fatalf("encoding tree: %v", err)
			}
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(entries); err != nil {
				fatalf("encoding tree: %v", err)
			}
			_ = enc.Close()
		case "text":
			fmt.Println(ui.RenderAccent(tree.User.LocalRoot))
			printEntries(entries, "")
		default:
			fatalf("unknown format %q (want text, json or yaml)", treeFormat)
		}
	},
}

func nodeEntry(n *schema.Node, kind string, all bool) treeEntry {
	e := treeEntry{Name: n.Title, Kind: kind, ID: n.ID, OSFID: n.OSFID}
	if n.LocallyCreated {
		e.Flags = append(e.Flags, "created")
	}
	for _, c := range n.Components {
		e.Children = append(e.Children, nodeEntry(c, "component", all))
	}
	for _, f := range n.Files {
		if f.LocallyDeleted && !all {
			continue
		}
		e.Children = append(e.Children, fileEntry(f, all))
	}
	return e
}

func fileEntry(f *schema.File, all bool) treeEntry {
	e := treeEntry{
		Name:     f.Name,
		Kind:     string(f.Type),
		ID:       f.ID,
		OSFID:    f.OSFID,
		Provider: f.Provider,
		Hash:     f.Hash,
		Flags:    fileFlags(f),
	}
	for _, c := range f.Files {
		if c.LocallyDeleted && !all {
			continue
		}
		e.Children = append(e.Children, fileEntry(c, all))
	}
	return e
}

func fileFlags(f *schema.File) []string {
	var flags []string
	if f.LocallyCreated {
		flags = append(flags, "created")
	}
	if f.LocallyRenamed {
		flags = append(flags, "renamed")
	}
	if f.LocallyMoved {
		flags = append(flags, "moved")
	}
	if f.LocallyDeleted {
		flags = append(flags, "deleted")
	}
	return flags
}

func printEntries(entries []treeEntry, indent string) {
	for i, e := range entries {
		branch, next := "├── ", "│   "
		if i == len(entries)-1 {
			branch, next = "└── ", "    "
		}

		name := e.Name
		switch e.Kind {
		case "project", "component":
			name = ui.RenderAccent(name + "/")
		case string(schema.TypeFolder):
			name += "/"
		}
		line := indent + branch + name
		if len(e.Flags) > 0 {
			line += " " + ui.RenderMuted("["+strings.Join(e.Flags, ",")+"]")
		}
		fmt.Println(line)
		printEntries(e.Children, indent+next)
	}
}

var pendingSince string

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "inspect",
	Short:   "List files with unconsumed local changes",
	Long: `List files flagged as locally created, renamed, moved or deleted, oldest
change first.

--since accepts an RFC 3339 timestamp or plain English such as "2 hours ago"
or "yesterday".`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		var since time.Time
		if pendingSince != "" {
			t, err := parseSince(pendingSince, time.Now())
			if err != nil {
				fatalf("%v", err)
			}
			since = t
		}

		store, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		user, err := store.CurrentUser(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		files, err := store.PendingChanges(ctx, since)
		if err != nil {
			fatalf("%v", err)
		}

		if len(files) == 0 {
			fmt.Printf("%s No pending changes\n", ui.RenderPass("✓"))
			return
		}
		for _, f := range files {
			rel, err := filepath.Rel(user.LocalRoot, f.Path)
			if err != nil {
				rel = f.Path
			}
			fmt.Printf("%s  %-24s %s\n",
				ui.RenderMuted(f.UpdatedAt.Local().Format("2006-01-02 15:04:05")),
				strings.Join(fileFlags(f), ","),
				rel)
		}
		fmt.Printf("\n%d pending\n", len(files))
	},
}

// parseSince reads an absolute timestamp or a natural-language time
// relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", text)
	}
	return r.Time, nil
}

func init() {
	treeCmd.Flags().StringVar(&treeFormat, "format", "text", "Output format: text, json or yaml")
	treeCmd.Flags().BoolVar(&treeAll, "all", false, "Include tombstoned files")
	pendingCmd.Flags().StringVar(&pendingSince, "since", "", "Only changes at or after this time")

	rootCmd.AddCommand(statusCmd, treeCmd, pendingCmd)
}
