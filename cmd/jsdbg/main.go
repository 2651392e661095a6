// Command jsdbg is a Debug Adapter Protocol server for Node.js and
// Chromium-based browsers: it speaks DAP over stdio to an editor and
// Chrome DevTools Protocol over a WebSocket to the runtime it
// launches or attaches to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/nodescope/jsdbg/internal/config"
	"github.com/nodescope/jsdbg/internal/dapio"
	"github.com/nodescope/jsdbg/internal/logging"
	"github.com/nodescope/jsdbg/internal/session"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	quiet := flag.Bool("quiet", false, "Suppress adapter logging on stderr")
	flag.Parse()

	if *showVersion {
		fmt.Printf("jsdbg version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("jsdbg: failed to load configuration: %v", err)
	}

	root := logging.New("jsdbg")
	root.Silence(*quiet)

	sessionID := uuid.NewString()
	transport := dapio.NewStdioTransport(os.Stdin, os.Stdout)
	sess := session.New(transport, cfg, sessionID, root.Sub("session"))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		root.Infof("jsdbg: received shutdown signal")
		sess.Shutdown(ctx)
		cancel()
		os.Exit(0)
	}()

	if err := sess.Run(ctx); err != nil {
		root.Errorf("jsdbg: session ended: %v", err)
		os.Exit(1)
	}
}
