package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sipeed/wagate/pkg/api"
	"github.com/sipeed/wagate/pkg/app"
	"github.com/sipeed/wagate/pkg/logger"
	"github.com/sipeed/wagate/pkg/transport/whatsapp"
)

func newGatewayCmd(root *rootOptions) *cobra.Command {
	var noQR bool
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the session supervisor, API server and delivery workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger.SetLevel(cfg.LogLevel)
			logger.SetFormat(cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			adapter, err := whatsapp.Open(ctx, cfg.Session.StorePath, cfg.Session.TransportLogLevel)
			if err != nil {
				return err
			}
			defer adapter.Close()

			var opts []app.Option
			if cfg.Session.PrintQR && !noQR {
				opts = append(opts, app.WithQROutput(cmd.OutOrStdout()))
			}
			c, err := app.NewContainer(ctx, cfg, adapter, opts...)
			if err != nil {
				return fmt.Errorf("wire gateway: %w", err)
			}
			defer c.Close()

			srv := api.NewServer(c)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			logger.InfoCF("gateway", "Gateway running", map[string]interface{}{
				"addr":    srv.Addr(),
				"version": version,
			})

			runErr := c.Run(ctx)

			logger.InfoC("gateway", "Shutting down")
			if err := srv.Stop(); err != nil {
				logger.WarnCF("gateway", "API server shutdown failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			if runErr != nil && ctx.Err() == nil {
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "do not print QR codes to the terminal")
	return cmd
}
