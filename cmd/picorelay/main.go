// PicoRelay - Telegram group-to-channel relay
// Built on the PicoClaw gateway: https://github.com/tinyland-inc/picoclaw
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal"
	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal/console"
	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal/gateway"
	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal/rules"
	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal/status"
	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal/version"
	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal/webhook"
)

func NewPicorelayCommand() *cobra.Command {
	short := fmt.Sprintf("%s picorelay - Telegram group-to-channel relay v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:          "picorelay",
		Short:        short,
		Example:      "picorelay gateway",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&internal.ConfigPath, "config", "",
		"Config file path (default: ~/.picorelay/config.json)")

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		rules.NewRulesCommand(),
		console.NewConsoleCommand(),
		webhook.NewWebhookCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewPicorelayCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
