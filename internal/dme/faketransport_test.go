package dme

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// fakeTransport routes frames between in-process handlers by address,
// letting tests control delivery order and simulate unreachable peers
// without opening real sockets. Delivery is synchronous and not ordered
// across peers, mirroring the lack of any FIFO guarantee real TCP
// connections give — tests that care about ordering synchronize explicitly.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func(Frame)
	down     map[string]bool
	sent     []sentFrame
}

type sentFrame struct {
	addr  string
	frame Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]func(Frame)),
		down:     make(map[string]bool),
	}
}

func (f *fakeTransport) Listen(ctx context.Context, addr string, handler func(Frame)) error {
	f.mu.Lock()
	f.handlers[addr] = handler
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, addr string, frame Frame) error {
	f.mu.Lock()
	down := f.down[addr]
	handler := f.handlers[addr]
	f.sent = append(f.sent, sentFrame{addr: addr, frame: frame})
	f.mu.Unlock()

	if down {
		return errors.Errorf("fake: connection refused to %s", addr)
	}
	if handler == nil {
		return errors.Errorf("fake: no listener at %s", addr)
	}

	handler(frame)
	return nil
}

func (f *fakeTransport) setDown(addr string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[addr] = down
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
