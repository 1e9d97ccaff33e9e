// Package fileservice implements the external file-service boundary: a
// single TCP listener over a line protocol (VIEW / POST <message>),
// serialized by one process-wide lock that only prevents intra-process
// torn reads/writes — it is NOT the distributed mutex; DME-level exclusion
// is the caller's responsibility.
package fileservice

import (
	"bufio"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/sincronizacion-distribuida/chatmutex/internal/logging"
)

// maxRequestBytes/maxResponseBytes bound each line on the wire. A VIEW
// response longer than this is silently truncated — a known, accepted
// limitation, not fixed here.
const (
	maxRequestBytes  = 4096
	maxResponseBytes = 4096
)

const (
	emptyRoomMessage = "[Chat room is empty]"
	noMessagesYet    = "[No messages yet]"
	postedOK         = "OK: Message posted"
	errNoMessage     = "ERROR: No message provided"
	errUnknownCmd    = "ERROR: Unknown command"
)

// Server is the file service: one append-only log file behind a single
// process-wide lock.
type Server struct {
	path string
	log  logging.Logger

	mu sync.Mutex
}

// New builds a Server backed by the file at path. The file is created lazily
// on first POST; VIEW on a missing file reports the chat room as empty.
func New(path string, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{path: path, log: log}
}

// Serve accepts connections on ln until it is closed, handling each in its
// own goroutine. Each accepted connection carries exactly one request frame
// and yields one response.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "fileservice: accept")
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, maxRequestBytes)
	r := bufio.NewReader(conn)
	n, err := r.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warnf("fileservice: read error from %s: %v", conn.RemoteAddr(), err)
		return
	}
	if n == 0 {
		return
	}

	response := s.handleRequest(strings.TrimRight(string(buf[:n]), "\r\n"))
	if len(response) > maxResponseBytes {
		response = response[:maxResponseBytes]
	}
	if _, err := conn.Write([]byte(response)); err != nil {
		s.log.Warnf("fileservice: write error to %s: %v", conn.RemoteAddr(), err)
	}
}

// handleRequest implements the VIEW / POST / unknown-verb contract.
func (s *Server) handleRequest(line string) string {
	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "VIEW":
		return s.view()
	case "POST":
		return s.post(rest)
	default:
		s.log.Warnf("fileservice: unknown command %q", verb)
		return errUnknownCmd
	}
}

func (s *Server) view() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyRoomMessage
		}
		s.log.Errorf("fileservice: read %s: %v", s.path, err)
		return emptyRoomMessage
	}
	if len(data) == 0 {
		return noMessagesYet
	}
	return string(data)
}

func (s *Server) post(message string) string {
	if message == "" {
		return errNoMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Errorf("fileservice: open %s: %v", s.path, err)
		return errors.Wrap(err, "fileservice: open log").Error()
	}
	defer f.Close()

	if _, err := f.WriteString(message + "\n"); err != nil {
		s.log.Errorf("fileservice: write %s: %v", s.path, err)
		return errors.Wrap(err, "fileservice: write log").Error()
	}
	return postedOK
}
