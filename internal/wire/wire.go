// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package wire implements the length-framed packet transport.
//
// Every message is carried in one or more fixed-size frames. The first
// frame starts with a 12-byte header: a little-endian uint32 protocol
// version and a little-endian uint64 content length. The final frame is
// zero-padded to the frame boundary; padding is never payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire format constants. The frame size approximates a single link-layer
// packet (Ethernet MTU minus IP/TCP overhead) to minimize fragmentation.
const (
	Version          = 1
	HeaderSize       = 12
	DefaultFrameSize = 1024
	DefaultMaxFrames = 4
)

// ErrFraming marks violations of the framing protocol. Whatever wraps it
// is fatal for the connection: no answer is sent, the peer is cut off.
var ErrFraming = errors.New("framing violation")

// Framer frames and reassembles messages with a configured frame size and
// an upper bound on frames per message. The frame cap bounds worst-case
// memory per message independent of the attacker-controlled length field.
type Framer struct {
	FrameSize int
	MaxFrames int
}

// Default is the Framer used by the package-level helpers.
var Default = Framer{FrameSize: DefaultFrameSize, MaxFrames: DefaultMaxFrames}

// Send frames payload using the default framer.
func Send(w io.Writer, payload []byte) error { return Default.Send(w, payload) }

// Receive reads one message using the default framer.
func Receive(r io.Reader) ([]byte, error) { return Default.Receive(r) }

// MaxPayload returns the largest logical payload a single message may carry.
func (f Framer) MaxPayload() int {
	return f.MaxFrames*f.FrameSize - HeaderSize
}

// Send prepends the packet header to payload, splits the result into
// fixed-size frames and writes them in order, zero-padding the final frame
// to the boundary. An empty payload sends nothing.
func (f Framer) Send(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	total := HeaderSize + len(payload)
	buf := make([]byte, 0, total+f.FrameSize)
	buf = binary.LittleEndian.AppendUint32(buf, Version)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	if pad := (f.FrameSize - total%f.FrameSize) % f.FrameSize; pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire: send: %w", err)
	}
	return nil
}

// Receive reads exactly one message. A clean disconnect before any byte
// arrives returns (nil, nil). A short frame, a zero declared content
// length, an unknown protocol version, or a message whose frame count
// would exceed MaxFrames all fail with an error wrapping ErrFraming; in
// the frame-count case no further frames are read.
func (f Framer) Receive(r io.Reader) ([]byte, error) {
	frame := make([]byte, f.FrameSize)
	n, err := io.ReadFull(r, frame)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, nil // peer went away between messages
		}
		return nil, fmt.Errorf("wire: receive: connection closed %d bytes into a frame: %w", n, ErrFraming)
	}

	version := binary.LittleEndian.Uint32(frame[0:4])
	if version != Version {
		return nil, fmt.Errorf("wire: receive: unsupported protocol version %d: %w", version, ErrFraming)
	}
	length := binary.LittleEndian.Uint64(frame[4:HeaderSize])
	if length == 0 {
		return nil, fmt.Errorf("wire: receive: declared content length is zero: %w", ErrFraming)
	}

	if length <= uint64(f.FrameSize-HeaderSize) {
		payload := make([]byte, length)
		copy(payload, frame[HeaderSize:])
		return payload, nil
	}

	remaining := length + HeaderSize - uint64(f.FrameSize)
	extra := remaining / uint64(f.FrameSize)
	if remaining%uint64(f.FrameSize) > 0 {
		extra++
	}
	if extra > uint64(f.MaxFrames-1) {
		return nil, fmt.Errorf("wire: receive: %d frames incoming (content length %d), limit is %d: %w",
			extra+1, length, f.MaxFrames, ErrFraming)
	}

	payload := make([]byte, 0, length)
	payload = append(payload, frame[HeaderSize:]...)
	for i := uint64(0); i < extra; i++ {
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, fmt.Errorf("wire: receive: connection closed while waiting for frame %d of %d: %w",
				i+2, extra+1, ErrFraming)
		}
		payload = append(payload, frame...)
	}
	return payload[:length], nil
}
