package dme

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FrameType is the sum-type discriminator for a wire Frame.
type FrameType int

const (
	// FrameRequest is a REQUEST frame: a peer is asking to enter the CS.
	FrameRequest FrameType = iota
	// FrameReply is a REPLY frame: a peer is granting a previously
	// deferred or immediate REQUEST.
	FrameReply
)

func (t FrameType) String() string {
	switch t {
	case FrameRequest:
		return "REQUEST"
	case FrameReply:
		return "REPLY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// maxFrameBytes is the maximum size of one wire frame.
const maxFrameBytes = 1024

// Frame is one DME wire message: TYPE|TIMESTAMP|SENDER_ID.
type Frame struct {
	Type      FrameType
	Timestamp uint64
	SenderID  string
}

// Encode renders a Frame as its wire form. SenderID must not contain '|';
// callers are expected to have validated node IDs at construction time.
func (f Frame) Encode() []byte {
	return []byte(fmt.Sprintf("%s|%d|%s", f.Type, f.Timestamp, f.SenderID))
}

// DecodeFrame parses a wire frame. A malformed frame (wrong field count,
// unknown type, non-numeric timestamp, oversized payload) is a transport
// error: the caller drops the connection and leaves protocol state
// untouched.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) > maxFrameBytes {
		return Frame{}, errors.Errorf("dme: frame exceeds %d bytes", maxFrameBytes)
	}
	parts := strings.SplitN(strings.TrimSpace(string(data)), "|", 3)
	if len(parts) != 3 {
		return Frame{}, errors.Errorf("dme: malformed frame %q", data)
	}

	var typ FrameType
	switch parts[0] {
	case "REQUEST":
		typ = FrameRequest
	case "REPLY":
		typ = FrameReply
	default:
		return Frame{}, errors.Errorf("dme: unknown frame type %q", parts[0])
	}

	ts, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "dme: invalid timestamp %q", parts[1])
	}

	sender := parts[2]
	if sender == "" || strings.Contains(sender, "|") {
		return Frame{}, errors.Errorf("dme: invalid sender id %q", sender)
	}

	return Frame{Type: typ, Timestamp: ts, SenderID: sender}, nil
}
