package dme

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sincronizacion-distribuida/chatmutex/internal/logging"
)

// dialTimeout bounds a single outbound connect attempt. It aborts only
// this send, never the round the caller is waiting on.
const dialTimeout = 5 * time.Second

// Transport is the peer-to-peer messaging primitive the Mutex depends on.
// The production implementation is TCPTransport; tests substitute an
// in-memory fake to control delivery order and simulate unreachable peers.
type Transport interface {
	// Send opens one short-lived connection to addr, writes the encoded
	// frame, and closes. It returns an error on connect/write failure;
	// callers log and drop, never retry within a round.
	Send(ctx context.Context, addr string, frame Frame) error

	// Listen accepts connections until ctx is cancelled, handing each
	// decoded frame to handler on its own goroutine. Listen blocks until
	// shutdown is complete.
	Listen(ctx context.Context, addr string, handler func(Frame)) error
}

// TCPTransport implements Transport over raw TCP using the DME wire frame:
// one frame per connection, sender closes after writing.
type TCPTransport struct {
	log logging.Logger
}

// NewTCPTransport builds a TCPTransport that logs through log.
func NewTCPTransport(log logging.Logger) *TCPTransport {
	if log == nil {
		log = logging.Noop()
	}
	return &TCPTransport{log: log}
}

func (t *TCPTransport) Send(ctx context.Context, addr string, frame Frame) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "dme: dial %s", addr)
	}
	defer conn.Close()

	if _, err := conn.Write(frame.Encode()); err != nil {
		return errors.Wrapf(err, "dme: write to %s", addr)
	}
	return nil
}

func (t *TCPTransport) Listen(ctx context.Context, addr string, handler func(Frame)) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "dme: listen on %s", addr)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	group.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-gctx.Done():
					return nil
				default:
					return errors.Wrap(err, "dme: accept")
				}
			}
			go t.handleConn(conn, handler)
		}
	})

	return group.Wait()
}

// handleConn reads exactly one frame from conn: one short-lived connection
// per message. A short read or parse error drops the connection without
// touching protocol state.
func (t *TCPTransport) handleConn(conn net.Conn, handler func(Frame)) {
	defer conn.Close()

	buf := make([]byte, maxFrameBytes)
	r := bufio.NewReader(conn)
	n, err := r.Read(buf)
	if err != nil && err != io.EOF {
		t.log.Warnf("dme: read error from %s: %v", conn.RemoteAddr(), err)
		return
	}
	if n == 0 {
		return
	}

	frame, err := DecodeFrame(buf[:n])
	if err != nil {
		t.log.Warnf("dme: dropping malformed frame from %s: %v", conn.RemoteAddr(), err)
		return
	}

	handler(frame)
}
