// Command fileserver runs the external file-service boundary: a trivial
// single-lock append/read service over a line protocol. It has no
// knowledge of the DME layer.
package main

import (
	"net"
	"os"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/sincronizacion-distribuida/chatmutex/internal/fileservice"
	"github.com/sincronizacion-distribuida/chatmutex/internal/logging"
)

var (
	listenAddr = kingpin.Flag("listen", "Address to listen on for file-service clients.").Default("0.0.0.0:50000").String()
	filePath   = kingpin.Flag("file", "Path to the append-only chat log.").Default("chat_log.txt").String()
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

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Errorf("failed to listen on %s: %v", *listenAddr, err)
		os.Exit(1)
	}

	log.Infof("file service listening on %s, storing log at %s", *listenAddr, *filePath)

	srv := fileservice.New(*filePath, log)
	if err := srv.Serve(ln); err != nil {
		log.Errorf("file service stopped: %v", err)
		os.Exit(1)
	}
}
