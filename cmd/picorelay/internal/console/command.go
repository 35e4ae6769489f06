package console

import (
	"github.com/spf13/cobra"
)

func NewConsoleCommand() *cobra.Command {
	var command string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run operator commands locally as the owner",
		Example: `  picorelay console
  picorelay console -c "/list"`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return consoleCmd(command)
		},
	}

	cmd.Flags().StringVarP(&command, "command", "c", "", "Run a single command and exit")

	return cmd
}
