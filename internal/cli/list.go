package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"chime/internal/app"
	"chime/internal/reminder"
)

func newListCmd(f *rootFlags) *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored reminders as JSON",
		Long:  "Reads the configured storage without starting the daemon.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := app.LoadReminders(cmd.Context(), f.config())
			if err != nil {
				return err
			}
			out := make([]reminder.Reminder, 0, len(rs))
			for _, r := range rs {
				if enabledOnly && !r.Enabled {
					continue
				}
				out = append(out, r)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only armed reminders")
	return cmd
}
