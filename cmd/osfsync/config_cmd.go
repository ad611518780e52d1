package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/osfoffline/osfsync/internal/config"
	"github.com/osfoffline/osfsync/internal/ui"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if err := config.WriteDefault(path, configForce); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file and
OSFSYNC_* environment variables.`,
	Run: func(cmd *cobra.Command, args []string) {
		data, err := config.Encode(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		_, _ = os.Stdout.Write(data)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
