// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/resetd/resetd/internal/client"
	"github.com/resetd/resetd/internal/wire"
)

// DaemonStatus holds the probe results for a running daemon.
type DaemonStatus struct {
	Protocol  string `json:"protocol"`
	Liveness  string `json:"liveness,omitempty"`
	Readiness string `json:"readiness,omitempty"`
	Error     string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr        string
	metricsAddr string
	timeout     time.Duration
	jsonOutput  bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running daemon",
		Long: `Probe a running daemon: a protocol echo round trip on the client
port and the liveness/readiness endpoints on the metrics port.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "127.0.0.1:8448", "daemon address")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "127.0.0.1:9448", "metrics HTTP address, empty skips the HTTP probes")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 5*time.Second, "probe timeout")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	status := DaemonStatus{
		Protocol: probeProtocol(ctx, cfg.addr),
	}
	if cfg.metricsAddr != "" {
		status.Liveness = probeHTTP(ctx, cfg.metricsAddr, "/healthz/liveness")
		status.Readiness = probeHTTP(ctx, cfg.metricsAddr, "/healthz/readiness")
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(formatStatusTable(status))
	return nil
}

// probeProtocol runs one echo round trip against the daemon.
func probeProtocol(ctx context.Context, addr string) string {
	c, err := client.Dial(ctx, addr, wire.Default)
	if err != nil {
		return "unreachable: " + err.Error()
	}
	defer func() { _ = c.Close() }()

	echo, err := c.TestProtocol("status probe")
	if err != nil {
		return "error: " + err.Error()
	}
	if echo != "status probe" {
		return fmt.Sprintf("garbled echo %q", echo)
	}
	return "ok"
}

// probeHTTP fetches one health endpoint and reports its outcome.
func probeHTTP(ctx context.Context, addr, path string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return "error: " + err.Error()
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "unreachable: " + err.Error()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return "ok"
}

// formatStatusTable renders the probe results as an aligned table.
func formatStatusTable(status DaemonStatus) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "PROBE\tRESULT\n")
	fmt.Fprintf(w, "protocol\t%s\n", status.Protocol)
	if status.Liveness != "" {
		fmt.Fprintf(w, "liveness\t%s\n", status.Liveness)
	}
	if status.Readiness != "" {
		fmt.Fprintf(w, "readiness\t%s\n", status.Readiness)
	}
	_ = w.Flush()

	return strings.TrimRight(sb.String(), "\n")
}
