package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/osfoffline/osfsync/internal/mirror/schema"
	"github.com/osfoffline/osfsync/internal/ui"
)

var (
	initRoot  string
	initName  string
	initOSFID string
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Set up the sync folder and log in",
	Long: `Create the local sync folder and record the logged-in user.

Running init again updates the current user; the store keeps exactly one
logged-in user. When run from a terminal without --root, init asks for the
missing values interactively.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		user, err := store.CurrentUser(ctx)
		switch {
		case errors.Is(err, schema.ErrNoUser):
			user = &schema.User{ID: schema.NewID(), LocalRoot: cfg.Sync.Root}
		case err != nil:
			fatalf("loading current user: %v", err)
		}

		if initRoot != "" {
			user.LocalRoot = initRoot
		}
		if initName != "" {
			user.FullName = initName
		}
		if initOSFID != "" {
			user.OSFID = initOSFID
		}

		if initRoot == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := promptUser(user); err != nil {
				fatalf("%v", err)
			}
		}

		root, err := filepath.Abs(user.LocalRoot)
		if err != nil {
			fatalf("resolving %s: %v", user.LocalRoot, err)
		}
		user.LocalRoot = root
		user.LoggedIn = true

		if err := os.MkdirAll(root, 0755); err != nil {
			fatalf("creating sync folder: %v", err)
		}
		if err := store.UpsertUser(ctx, user); err != nil {
			fatalf("saving user: %v", err)
		}
		if err := store.Login(ctx, user.ID); err != nil {
			fatalf("logging in: %v", err)
		}

		fmt.Printf("%s Sync folder ready\n", ui.RenderPass("✓"))
		fmt.Printf("   Root: %s\n", root)
		if user.FullName != "" {
			fmt.Printf("   User: %s\n", user.FullName)
		}
		fmt.Printf("   Store: %s\n", store.Path())
		fmt.Printf("\nRun %s to start mirroring.\n", ui.RenderAccent("osfsync watch"))
	},
}

func promptUser(user *schema.User) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Sync folder").
				Description("Projects are mirrored as folders here").
				Value(&user.LocalRoot).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("sync folder is required")
					}
					if filepath.Base(s) == schema.ReservedName {
						return fmt.Errorf("%q is a reserved name", schema.ReservedName)
					}
					return nil
				}),
			huh.NewInput().
				Title("Full name").
				Value(&user.FullName),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}
	return nil
}

func init() {
	initCmd.Flags().StringVar(&initRoot, "root", "", "Sync folder (default from config)")
	initCmd.Flags().StringVar(&initName, "name", "", "Full name of the user")
	initCmd.Flags().StringVar(&initOSFID, "osf-id", "", "Remote id of the user")
	rootCmd.AddCommand(initCmd)
}
