package main

import (
	"github.com/spf13/cobra"

	"github.com/sipeed/wagate/pkg/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "wagate",
		Short:         "WhatsApp gateway: session supervisor, paced sending and webhook relay",
		Long:          "wagate keeps one WhatsApp Web session alive, sends messages at a safe pace, and relays inbound messages to a webhook.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.wagate/config.json)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newGatewayCmd(opts),
		newSendCmd(opts),
		newStatusCmd(opts),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte("wagate " + version + "\n"))
			return err
		},
	}
}
