// Command coordinatord is the long-running process behind the runtime:
// it owns the Store, the Blackboard's live notification paths, and the
// read-only HTTP/WS introspection surface operators use to watch
// coordination state. Hook invocations themselves go through the
// separate agentctl binary; coordinatord never runs inline in a hook's
// request path. Grounded on the teacher's cmd/cliaimonitor/main.go for
// the flag-parse, wire-dependencies, signal-driven-shutdown shape,
// simplified down from its instance-locking/Captain-terminal/process-
// spawning machinery since this runtime has no subprocess supervision
// of its own — agents are spawned and reported on by the caller driving
// the hook protocol, not by this daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/httpapi"
	"github.com/agentcoord/runtime/internal/logging"
	"github.com/agentcoord/runtime/internal/natsbridge"
	"github.com/agentcoord/runtime/internal/registry"
	"github.com/agentcoord/runtime/internal/store"
)

func main() {
	dbPath := flag.String("db", "data/coordination.db", "path to the SQLite coordination database")
	httpAddr := flag.String("http", ":7337", "address the introspection HTTP/WS surface listens on")
	natsEmbedded := flag.Bool("nats-embedded", false, "start an embedded NATS server for the live notification path")
	natsPort := flag.Int("nats-port", 4222, "port for the embedded NATS server")
	natsURL := flag.String("nats-url", "", "connect to an external NATS server instead of embedding one (e.g. nats://localhost:4222)")
	sweepInterval := flag.Duration("sweep-interval", 15*time.Minute, "interval between leaked-agent and expired-checkpoint sweeps")
	maxAgentAge := flag.Duration("max-agent-age", 24*time.Hour, "a running agent row older than this is presumed leaked (spec.md §3)")
	flag.Parse()

	log := logging.New("COORDINATORD")

	db, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	bus := blackboard.NewBus()
	bb := blackboard.New(db).WithBus(bus)

	var embeddedNATS *natsbridge.EmbeddedServer
	var natsClient *natsbridge.Client

	switch {
	case *natsEmbedded:
		embeddedNATS, err = natsbridge.NewEmbeddedServer(natsbridge.EmbeddedServerConfig{Port: *natsPort})
		if err != nil {
			fmt.Fprintf(os.Stderr, "configure embedded NATS: %v\n", err)
			os.Exit(1)
		}
		if err := embeddedNATS.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "start embedded NATS: %v\n", err)
			os.Exit(1)
		}
		natsClient, err = natsbridge.NewClient(embeddedNATS.URL())
	case *natsURL != "":
		natsClient, err = natsbridge.NewClient(*natsURL)
	}
	if err != nil {
		log.Printf("NATS unavailable, continuing without the live publish path: %v", err)
		natsClient = nil
	}
	if natsClient != nil {
		bb = bb.WithNATS(natsbridge.NewBridge(natsClient))
		defer natsClient.Close()
	}
	if embeddedNATS != nil {
		defer embeddedNATS.Shutdown()
	}

	api := httpapi.New(db, bb, bus)
	srv := &http.Server{Addr: *httpAddr, Handler: api.Handler()}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSweepLoop(sweepCtx, registry.New(db), db, *sweepInterval, *maxAgentAge, log)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("introspection surface listening on %s", *httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		}
	case <-sig:
		log.Printf("shutting down (signal received)")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
	}
}

// runSweepLoop periodically enforces the GC lifecycle rules of
// spec.md §3: a running Agent row older than maxAgentAge is presumed
// leaked, and an expired Checkpoint is deleted. Grounded on the
// teacher's CleanupService.Start ticker loop (internal/server/cleanup.go)
// — a single ticker, one sweep pass per tick, logged counts, and a clean
// exit on context cancellation.
func runSweepLoop(ctx context.Context, reg *registry.Registry, db *store.DB, interval, maxAgentAge time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("sweep loop started (interval=%s, max-agent-age=%s)", interval, maxAgentAge)
	for {
		select {
		case <-ctx.Done():
			log.Printf("sweep loop stopped")
			return
		case <-ticker.C:
			now := time.Now()

			n, err := reg.Sweep(ctx, maxAgentAge, now)
			if err != nil {
				log.Printf("agent sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("swept %d leaked agent(s)", n)
			}

			n, err = db.SweepExpiredCheckpoints(ctx, now)
			if err != nil {
				log.Printf("checkpoint sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("swept %d expired checkpoint(s)", n)
			}
		}
	}
}
