package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

// clientOptions locate a running gateway. Unset values come from the config.
type clientOptions struct {
	url     string
	token   string
	timeout time.Duration
}

func (o *clientOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.url, "url", "", "gateway base URL (default from config)")
	cmd.Flags().StringVar(&o.token, "token", "", "API key (default from config or WAGATE_GATEWAY_API_KEY)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 30*time.Second, "request timeout")
}

// apiError is the error body every endpoint returns on failure.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (o *clientOptions) client(root *rootOptions) (*resty.Client, error) {
	base, token := strings.TrimRight(o.url, "/"), o.token
	if base == "" || token == "" {
		cfg, err := root.load()
		if err != nil {
			return nil, err
		}
		if base == "" {
			host := cfg.Gateway.Host
			if host == "" || host == "0.0.0.0" {
				host = "127.0.0.1"
			}
			base = fmt.Sprintf("http://%s:%d", host, cfg.Gateway.Port)
		}
		if token == "" {
			token = cfg.Gateway.APIKey
		}
	}
	if token == "" {
		return nil, fmt.Errorf("no API key: pass --token or set gateway.api_key")
	}

	return resty.New().
		SetBaseURL(base).
		SetTimeout(o.timeout).
		SetAuthToken(token).
		SetHeader("User-Agent", "wagate-cli/"+version).
		SetError(&apiError{}), nil
}

// checkResponse turns a non-2xx response into an error.
func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok {
		if e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status(), e.Error)
		}
		if e.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status(), e.Message)
		}
	}
	return fmt.Errorf("%s", resp.Status())
}
