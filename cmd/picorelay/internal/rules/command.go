package rules

import (
	"github.com/spf13/cobra"
)

func NewRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage relay rules offline",
		Long: `Manage relay rules directly in the store, acting as the configured owner.
With the file backend, stop the gateway first or restart it afterwards.
Group ids are negative, so put them after "--".`,
		Example: `  picorelay rules list
  picorelay rules add -- -1001234567890 -1009876543210 @news
  picorelay rules deactivate -- -1001234567890
  picorelay rules remove -- -1001234567890`,
	}

	cmd.AddCommand(
		newListCommand(),
		newAddCommand(),
		newRemoveCommand(),
		newActiveCommand("activate", "Resume a paused rule", true),
		newActiveCommand("deactivate", "Pause a rule without deleting it", false),
	)

	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List relay rules",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listCmd(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newAddCommand() *cobra.Command {
	var inactive bool

	cmd := &cobra.Command{
		Use:   "add <source> <destination>...",
		Short: "Create or replace the rule of a source",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return addCmd(cmd.Context(), cmd.OutOrStdout(), args[0], args[1:], !inactive)
		},
	}

	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the rule paused")

	return cmd
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <source>",
		Aliases: []string{"rm"},
		Short:   "Delete the rule of a source",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return removeCmd(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func newActiveCommand(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <source>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setActiveCmd(cmd.Context(), cmd.OutOrStdout(), args[0], active)
		},
	}
}
