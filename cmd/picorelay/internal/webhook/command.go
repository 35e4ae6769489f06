package webhook

import (
	"github.com/spf13/cobra"
)

func NewWebhookCommand() *cobra.Command {
	var dropPending bool

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Bot API webhook registration",
		Example: `  picorelay webhook set
  picorelay webhook delete --drop-pending`,
	}

	setSub := &cobra.Command{
		Use:   "set",
		Short: "Register ingest.public_url as the webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setCmd(cmd.Context(), dropPending)
		},
	}

	deleteSub := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook so long polling can be used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return deleteCmd(cmd.Context(), dropPending)
		},
	}

	cmd.PersistentFlags().BoolVar(&dropPending, "drop-pending", false, "Discard updates queued at the provider")

	cmd.AddCommand(setSub, deleteSub)

	return cmd
}
