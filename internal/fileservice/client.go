package fileservice

import (
	"io"
	"net"
	"time"
)

// dialTimeout and readTimeout bound a single file-service round trip so a
// stalled server can't hang the app shell forever; this is a client-side
// courtesy and is unrelated to the DME layer's own timeout policy.
const (
	dialTimeout = 5 * time.Second
	readTimeout = 5 * time.Second
)

// Client talks to a file service over its line protocol.
type Client struct {
	addr string
}

// NewClient returns a Client targeting addr ("host:port").
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// View sends VIEW and returns the raw response text.
func (c *Client) View() (string, error) {
	return c.roundTrip("VIEW")
}

// Post sends POST <message> and returns the raw response text.
func (c *Client) Post(message string) (string, error) {
	return c.roundTrip("POST " + message)
}

func (c *Client) roundTrip(request string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(readTimeout))

	if _, err := conn.Write([]byte(request)); err != nil {
		return "", err
	}

	buf := make([]byte, maxResponseBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	return string(buf[:n]), nil
}
