// Package chatapp implements the interactive chat application shell: a
// REPL over `view`, `post <text>`, and `exit`, where only `post` is
// exclusive (wrapped in the DME mutex's RequestCS/ReleaseCS) and `view`
// talks to the file service directly.
package chatapp

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sincronizacion-distribuida/chatmutex/internal/dme"
	"github.com/sincronizacion-distribuida/chatmutex/internal/fileservice"
	"github.com/sincronizacion-distribuida/chatmutex/internal/logging"
)

// timestampLayout is the wall-clock format stamped on each posted line,
// e.g. "31 Jul 02:15pm".
const timestampLayout = "02 Jan 03:04pm"

// postHoldDelay simulates in-CS work so that concurrent posters are more
// likely to actually contend when demonstrated interactively.
const postHoldDelay = 2 * time.Second

// Shell is the REPL's behavior, decoupled from its I/O streams so it can be
// driven by tests without a real terminal.
type Shell struct {
	nodeID string
	mutex  *dme.Mutex
	client *fileservice.Client
	log    logging.Logger

	// HoldDelay is how long post holds the CS; New sets it to postHoldDelay
	// and tests override it. Zero means no hold.
	HoldDelay time.Duration
}

// New builds a Shell for nodeID, talking to the DME mutex and file service
// client given.
func New(nodeID string, mutex *dme.Mutex, client *fileservice.Client, log logging.Logger) *Shell {
	if log == nil {
		log = logging.Noop()
	}
	return &Shell{nodeID: nodeID, mutex: mutex, client: client, log: log, HoldDelay: postHoldDelay}
}

// Run reads commands from in and writes prompts/output to out until exit,
// EOF, or an unrecoverable read error.
func (s *Shell) Run(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s_machine> ", s.nodeID)
		if !scanner.Scan() {
			fmt.Fprintln(out, "\nGoodbye!")
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "view":
			s.handleView(out)
		case "post":
			if rest == "" {
				fmt.Fprintln(out, "Usage: post <your message here>")
				continue
			}
			s.handlePost(out, rest)
		case "exit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		default:
			fmt.Fprintf(out, "Unknown command: '%s'\n", cmd)
		}
	}
}

func (s *Shell) handleView(out io.Writer) {
	fmt.Fprintln(out, "\nFetching chat log from server...")
	content, err := s.client.View()
	if err != nil {
		fmt.Fprintf(out, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintln(out, "\n--- Chat Log ---")
	fmt.Fprintln(out, content)
	fmt.Fprintln(out, "----------------")
}

// handlePost wraps the protected action in RequestCS/ReleaseCS. ReleaseCS
// runs via defer immediately after acquisition so the CS is released on
// every exit path, including the file-service error path.
func (s *Shell) handlePost(out io.Writer, text string) {
	fmt.Fprintln(out, "Waiting for write access (DME)...")
	start := time.Now()
	s.mutex.RequestCS()
	waited := time.Since(start)
	defer s.mutex.ReleaseCS()

	s.log.Infof("acquired lock in %s, entering critical section", waited)
	fmt.Fprintln(out, "Acquired lock. Posting to server...")

	line := fmt.Sprintf("%s %s: %s", time.Now().Format(timestampLayout), s.nodeID, text)
	response, err := s.client.Post(line)
	if err != nil {
		fmt.Fprintf(out, "Server response: ERROR: %v\n", err)
	} else {
		fmt.Fprintf(out, "Server response: %s\n", response)
	}

	fmt.Fprintln(out, "Holding lock briefly to simulate work...")
	time.Sleep(s.HoldDelay)

	fmt.Fprintln(out, "Post complete. Lock released.")
}
