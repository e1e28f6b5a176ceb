// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package wire_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resetd/resetd/internal/wire"
)

func TestSendFraming(t *testing.T) {
	t.Run("empty payload sends nothing", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, wire.Send(&buf, nil))
		assert.Zero(t, buf.Len())
	})

	t.Run("single frame is padded to the boundary", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, wire.Send(&buf, []byte("KTHXBYE")))
		assert.Equal(t, wire.DefaultFrameSize, buf.Len())

		raw := buf.Bytes()
		assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw[0:4]))
		assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(raw[4:12]))
		assert.Equal(t, []byte("KTHXBYE"), raw[12:19])
		assert.Equal(t, make([]byte, wire.DefaultFrameSize-19), raw[19:])
	})

	t.Run("payload spanning frames", func(t *testing.T) {
		var buf bytes.Buffer
		payload := bytes.Repeat([]byte{0xAB}, 2000)
		require.NoError(t, wire.Send(&buf, payload))
		assert.Equal(t, 2*wire.DefaultFrameSize, buf.Len())
	})

	t.Run("exact frame multiple emits no padding frame", func(t *testing.T) {
		var buf bytes.Buffer
		payload := bytes.Repeat([]byte{0x01}, wire.DefaultFrameSize-wire.HeaderSize)
		require.NoError(t, wire.Send(&buf, payload))
		assert.Equal(t, wire.DefaultFrameSize, buf.Len())
	})
}

func TestReceive(t *testing.T) {
	roundTrip := func(t *testing.T, payload []byte) []byte {
		t.Helper()
		var buf bytes.Buffer
		require.NoError(t, wire.Send(&buf, payload))
		got, err := wire.Receive(&buf)
		require.NoError(t, err)
		return got
	}

	t.Run("round-trips payloads of assorted sizes", func(t *testing.T) {
		sizes := []int{1, 11, wire.DefaultFrameSize - wire.HeaderSize,
			wire.DefaultFrameSize - wire.HeaderSize + 1, 2048, wire.Default.MaxPayload()}
		for _, size := range sizes {
			payload := bytes.Repeat([]byte{byte(size)}, size)
			assert.Equal(t, payload, roundTrip(t, payload), "size %d", size)
		}
	})

	t.Run("clean disconnect returns no message and no error", func(t *testing.T) {
		got, err := wire.Receive(bytes.NewReader(nil))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("short frame is a framing error", func(t *testing.T) {
		_, err := wire.Receive(bytes.NewReader([]byte("truncated")))
		assert.ErrorIs(t, err, wire.ErrFraming)
	})

	t.Run("zero content length is a framing error", func(t *testing.T) {
		frame := make([]byte, wire.DefaultFrameSize)
		binary.LittleEndian.PutUint32(frame[0:4], wire.Version)
		_, err := wire.Receive(bytes.NewReader(frame))
		assert.ErrorIs(t, err, wire.ErrFraming)
	})

	t.Run("unknown version is a framing error", func(t *testing.T) {
		frame := make([]byte, wire.DefaultFrameSize)
		binary.LittleEndian.PutUint32(frame[0:4], 7)
		binary.LittleEndian.PutUint64(frame[4:12], 5)
		_, err := wire.Receive(bytes.NewReader(frame))
		assert.ErrorIs(t, err, wire.ErrFraming)
	})

	t.Run("frame count over the limit fails without reading on", func(t *testing.T) {
		frame := make([]byte, wire.DefaultFrameSize)
		binary.LittleEndian.PutUint32(frame[0:4], wire.Version)
		binary.LittleEndian.PutUint64(frame[4:12], uint64(wire.Default.MaxPayload()+1))
		r := bytes.NewReader(frame)
		_, err := wire.Receive(r)
		assert.ErrorIs(t, err, wire.ErrFraming)
		// only the first frame was consumed
		assert.Zero(t, r.Len())
	})

	t.Run("truncated continuation frame is a framing error", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, wire.Send(&buf, bytes.Repeat([]byte{0x42}, 1500)))
		trimmed := buf.Bytes()[:buf.Len()-100]
		_, err := wire.Receive(bytes.NewReader(trimmed))
		assert.ErrorIs(t, err, wire.ErrFraming)
	})
}

func TestCustomFramer(t *testing.T) {
	f := wire.Framer{FrameSize: 64, MaxFrames: 3}

	t.Run("respects configured sizes", func(t *testing.T) {
		var buf bytes.Buffer
		payload := bytes.Repeat([]byte{0x55}, f.MaxPayload())
		require.NoError(t, f.Send(&buf, payload))
		assert.Equal(t, 3*64, buf.Len())

		got, err := f.Receive(&buf)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("one frame above the cap is rejected", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, f.Send(&buf, bytes.Repeat([]byte{0x55}, f.MaxPayload()+1)))
		_, err := f.Receive(&buf)
		assert.ErrorIs(t, err, wire.ErrFraming)
	})
}

// Receiving over a real connection must fail on oversized messages rather
// than hang waiting for frames that are never read.
func TestReceiveOverConnectionDoesNotHang(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		frame := make([]byte, wire.DefaultFrameSize)
		binary.LittleEndian.PutUint32(frame[0:4], wire.Version)
		binary.LittleEndian.PutUint64(frame[4:12], 1<<40)
		_, _ = client.Write(frame)
	}()

	errCh := make(chan error, 1)
	go func() {
		_, err := wire.Receive(server)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, wire.ErrFraming)
	case <-time.After(5 * time.Second):
		t.Fatal("receive did not return for an oversized message")
	}
}

func TestLoopbackRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := bytes.Repeat([]byte("reset"), 500)
	go func() {
		_ = wire.Send(client, payload)
	}()

	got, err := wire.Receive(io.Reader(server))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
