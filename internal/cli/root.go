// Package cli implements the chime commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	version    string
}

// NewRootCmd builds the command tree. version is reported by `chime version`
// and the MCP handshake.
func NewRootCmd(version string) *cobra.Command {
	f := &rootFlags{version: version}
	root := &cobra.Command{
		Use:           "chime",
		Short:         "Local reminder daemon",
		Long:          "chime fires reminders after a delay or at a time of day, repeating daily, weekly or monthly.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Config file, JSON or YAML (default: $CHIME_CONFIG or ~/.config/chime/config.yaml)")

	root.AddCommand(
		newRunCmd(f),
		newListCmd(f),
		newNextCmd(),
		newVersionCmd(f),
	)
	return root
}

func (f *rootFlags) config() string {
	if f.configPath != "" {
		return f.configPath
	}
	if env := os.Getenv("CHIME_CONFIG"); env != "" {
		return env
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "chime", "config.yaml")
}

func newVersionCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "chime "+f.version)
		},
	}
}
