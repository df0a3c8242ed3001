package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type sendResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

func newSendCmd(root *rootOptions) *cobra.Command {
	var (
		conn    clientOptions
		to, msg string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message through a running gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := conn.client(root)
			if err != nil {
				return err
			}

			var out sendResponse
			resp, err := client.R().
				SetContext(cmd.Context()).
				SetBody(map[string]string{"to": to, "message": msg}).
				SetResult(&out).
				Post("/api/send")
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			if err := checkResponse(resp); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "sent to %s (id %s)\n", to, out.MessageID)
			return err
		},
	}
	conn.bind(cmd)
	cmd.Flags().StringVar(&to, "to", "", "recipient phone number, digits with country code")
	cmd.Flags().StringVarP(&msg, "message", "m", "", "message text")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
