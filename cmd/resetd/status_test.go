// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resetd/resetd/internal/observability"
)

func TestStatusCommand_ProbesHealthEndpoints(t *testing.T) {
	obs := observability.NewServer("127.0.0.1:0", func() bool { return true })
	_, err := obs.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obs.Stop(ctx)
	})

	cmd := NewStatusCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	// Port 9 is the discard service; nothing listens there in CI.
	cmd.SetArgs([]string{
		"--addr", "127.0.0.1:9",
		"--metrics-addr", obs.Addr(),
		"--timeout", "2s",
		"--json",
	})

	require.NoError(t, cmd.Execute())

	var status DaemonStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &status))
	assert.Equal(t, "ok", status.Liveness)
	assert.Equal(t, "ok", status.Readiness)
	assert.True(t, strings.HasPrefix(status.Protocol, "unreachable:"), "Protocol = %q", status.Protocol)
}

func TestStatusCommand_ReadinessFailure(t *testing.T) {
	obs := observability.NewServer("127.0.0.1:0", func() bool { return false })
	_, err := obs.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obs.Stop(ctx)
	})

	cmd := NewStatusCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{
		"--addr", "127.0.0.1:9",
		"--metrics-addr", obs.Addr(),
		"--timeout", "2s",
		"--json",
	})

	require.NoError(t, cmd.Execute())

	var status DaemonStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &status))
	assert.Equal(t, "ok", status.Liveness)
	assert.Equal(t, "status 503", status.Readiness)
}

func TestStatusCommand_SkipsHTTPProbesWithoutMetricsAddr(t *testing.T) {
	cmd := NewStatusCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{
		"--addr", "127.0.0.1:9",
		"--metrics-addr", "",
		"--timeout", "1s",
		"--json",
	})

	require.NoError(t, cmd.Execute())

	var status DaemonStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &status))
	assert.Empty(t, status.Liveness)
	assert.Empty(t, status.Readiness)
}

func TestFormatStatusTable(t *testing.T) {
	out := formatStatusTable(DaemonStatus{
		Protocol:  "ok",
		Liveness:  "ok",
		Readiness: "status 503",
	})

	assert.Contains(t, out, "PROBE")
	assert.Contains(t, out, "protocol")
	assert.Contains(t, out, "readiness")
	assert.Contains(t, out, "status 503")
}
