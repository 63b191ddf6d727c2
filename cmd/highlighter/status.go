package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/community-highlighter/internal/handlers"
	"github.com/tendant/community-highlighter/internal/render"
	"github.com/tendant/community-highlighter/pkg/client"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show step progress of a running highlighter server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = localServerURL(cfg.ListenAddr)
			}

			st, err := fetchStatus(cmd, serverURL)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			activity := st.Activity
			if activity == "" {
				activity = "idle"
			}
			fmt.Fprintf(out, "Activity: %s\n", activity)
			fmt.Fprintf(out, "Last run: %s", st.Run.Phase)
			if st.Run.Error != "" {
				fmt.Fprintf(out, " (%s)", st.Run.Error)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, strings.Join(render.Progress(st.Steps, render.ShouldDecorate(out)), "\n"))
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (defaults to listen_addr on localhost)")
	return cmd
}

func localServerURL(listenAddr string) string {
	if strings.HasPrefix(listenAddr, ":") {
		return "http://localhost" + listenAddr
	}
	return "http://" + listenAddr
}

func fetchStatus(cmd *cobra.Command, serverURL string) (*handlers.StatusResponse, error) {
	target := strings.TrimRight(serverURL, "/") + "/v1/status"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &client.StatusError{Operation: "status", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var st handlers.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &st, nil
}
