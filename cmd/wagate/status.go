package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type statusResponse struct {
	Connected         bool    `json:"connected"`
	PhoneNumber       *string `json:"phoneNumber"`
	State             string  `json:"state"`
	ReconnectAttempts int     `json:"reconnectAttempts"`
	HasQR             bool    `json:"hasQr"`
	Dispatch          struct {
		Queued  int   `json:"queued"`
		Sent    int64 `json:"sent"`
		Failed  int64 `json:"failed"`
		Dropped int64 `json:"dropped"`
	} `json:"dispatch"`
	Webhook struct {
		Active     bool   `json:"active"`
		URL        string `json:"url"`
		Overridden bool   `json:"overridden"`
		Queued     int    `json:"queued"`
	} `json:"webhook"`
	Uptime string `json:"uptime_human"`
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var (
		conn   clientOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state of a running gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := conn.client(root)
			if err != nil {
				return err
			}

			var st statusResponse
			resp, err := client.R().
				SetContext(cmd.Context()).
				SetResult(&st).
				Get("/api/status")
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if err := checkResponse(resp); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			return writeStatus(cmd.OutOrStdout(), st)
		},
	}
	conn.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeStatus(w io.Writer, st statusResponse) error {
	conn := "disconnected"
	switch {
	case st.Connected && st.PhoneNumber != nil:
		conn = "connected as +" + *st.PhoneNumber
	case st.Connected:
		conn = "connected"
	case st.HasQR:
		conn = "waiting for QR scan"
	}

	webhook := "off"
	if st.Webhook.Active {
		webhook = st.Webhook.URL
		if st.Webhook.Overridden {
			webhook += " (env override)"
		}
	}

	_, err := fmt.Fprintf(w,
		"session:  %s (%s, %d reconnect attempts)\n"+
			"dispatch: %d queued, %d sent, %d failed, %d dropped\n"+
			"webhook:  %s, %d pending\n"+
			"uptime:   %s\n",
		conn, st.State, st.ReconnectAttempts,
		st.Dispatch.Queued, st.Dispatch.Sent, st.Dispatch.Failed, st.Dispatch.Dropped,
		webhook, st.Webhook.Queued,
		st.Uptime,
	)
	return err
}
