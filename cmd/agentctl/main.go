// Command agentctl is the hook dispatcher binary: a Claude Code hook
// script execs it once per event, piping the hook JSON body on stdin
// and reading exactly one JSON decision object back on stdout.
// Grounded on the teacher's cmd/dbctl/main.go — a single-purpose,
// flag-configured, stdin/stdout JSON CLI — generalized from one
// -action flag into the full hook protocol that internal/hook
// implements.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/agentcoord/runtime/internal/blackboard"
	"github.com/agentcoord/runtime/internal/config"
	"github.com/agentcoord/runtime/internal/hook"
	"github.com/agentcoord/runtime/internal/session"
	"github.com/agentcoord/runtime/internal/store"
)

func main() {
	dbPath := flag.String("db", "data/coordination.db", "path to the SQLite coordination database")
	configPath := flag.String("config", "", "optional YAML file of pattern-tuning fallback defaults")
	flag.Parse()

	db, err := store.Open(*dbPath)
	if err != nil {
		// Per the hook protocol, a dispatcher failure must still resolve
		// to a single JSON object rather than a non-zero exit with no
		// body, so the calling hook script never gets a malformed reply.
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{})
		return
	}
	defer db.Close()

	bb := blackboard.New(db)
	sup := session.New(db, session.NewToast(""))
	d := hook.New(db, bb, sup)

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load pattern config: %v\n", err)
		} else {
			d = d.WithConfig(cfg)
		}
	}

	out := d.Handle(context.Background(), os.Stdin, os.Getenv)
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode decision: %v\n", err)
	}
}
