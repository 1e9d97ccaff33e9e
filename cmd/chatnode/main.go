// Command chatnode runs one node of the distributed chat: it owns that
// node's DME mutex and file-service client, and drives the view/post/exit
// REPL over them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/sincronizacion-distribuida/chatmutex/internal/audit"
	"github.com/sincronizacion-distribuida/chatmutex/internal/chatapp"
	"github.com/sincronizacion-distribuida/chatmutex/internal/dme"
	"github.com/sincronizacion-distribuida/chatmutex/internal/fileservice"
	"github.com/sincronizacion-distribuida/chatmutex/internal/logging"
	"github.com/sincronizacion-distribuida/chatmutex/internal/status"
)

var (
	nodeIDArg  = kingpin.Arg("node-id", "This node's unique ID.").Required().String()
	dmePortArg = kingpin.Arg("dme-port", "Local port for DME peer communication.").Required().Int()
	serverFlag = kingpin.Flag("server", "File server's host:port.").Required().String()
	peerFlags  = kingpin.Flag("peer", "A peer as id:host:port. Repeatable.").Strings()
	statusAddr = kingpin.Flag("status-addr", "Address for the read-only status HTTP surface. Empty disables it.").Default("").String()
	auditURI   = kingpin.Flag("audit-mongo-uri", "MongoDB URI for the optional audit trail. Empty disables it.").Default("").String()
	debug      = kingpin.Flag("debug", "Enable debug-level logging.").Bool()
)

func main() {
	kingpin.Parse()

	var log logging.Logger
	if *debug {
		log = logging.NewDebug()
	} else {
		log = logging.NewDefault()
	}

	peers, err := parsePeers(*peerFlags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error parsing peers:", err)
		os.Exit(1)
	}
	if len(peers) == 0 {
		log.Warn("no peers specified, DME will be trivial (lock acquired instantly)")
	}

	sink := audit.Noop()
	if *auditURI != "" {
		mongoSink, err := audit.NewMongoSink(*auditURI, "chatmutex", "cs_events", log)
		if err != nil {
			log.Warnf("audit trail disabled, could not connect: %v", err)
		} else {
			sink = mongoSink
			defer mongoSink.Close()
		}
	}

	trans := dme.NewTCPTransport(log)
	mutex := dme.New(*nodeIDArg, peers, trans, log, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return mutex.Listen(gctx, fmt.Sprintf(":%d", *dmePortArg))
	})

	if *statusAddr != "" {
		peerIDs := make([]string, 0, len(peers))
		for id := range peers {
			peerIDs = append(peerIDs, id)
		}
		handler := status.Handler(*nodeIDArg, peerIDs, mutex)
		group.Go(func() error {
			return serveUntilCancel(gctx, *statusAddr, handler)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt, shutting down")
		cancel()
		_ = group.Wait()
		os.Exit(0)
	}()

	client := fileservice.NewClient(*serverFlag)
	shell := chatapp.New(*nodeIDArg, mutex, client, log)

	fmt.Printf("\nWelcome, %s.\n", *nodeIDArg)
	fmt.Println("Your commands are: 'view', 'post <message>', or 'exit'.")

	if err := shell.Run(os.Stdin, os.Stdout); err != nil {
		log.Errorf("shell exited with error: %v", err)
	}
	cancel()
	_ = group.Wait()
}

// serveUntilCancel runs an HTTP server on addr until ctx is cancelled, then
// shuts it down. Used for the read-only status surface; its failure never
// affects the DME or chat path.
func serveUntilCancel(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// parsePeers turns "id:host:port" strings into a peer_id -> address map.
func parsePeers(raw []string) (map[string]string, error) {
	peers := make(map[string]string, len(raw))
	for _, p := range raw {
		parts := strings.SplitN(p, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid peer %q, expected id:host:port", p)
		}
		id, host, portStr := parts[0], parts[1], parts[2]
		if _, err := strconv.Atoi(portStr); err != nil {
			return nil, fmt.Errorf("invalid port in peer %q: %w", p, err)
		}
		peers[id] = host + ":" + portStr
	}
	return peers, nil
}
