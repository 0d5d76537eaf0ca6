// Switchyard is a multi-tenant LLM gateway that unifies heterogeneous
// upstream providers behind one chat-completion API, with per-account
// quota rotation, smart routing and per-tenant budget enforcement.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	addr := flag.String("addr", "", "listen address override")
	dbPath := flag.String("db", "", "sqlite database path override")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("switchyard", version)
		os.Exit(0)
	}

	if err := run(*configPath, *addr, *dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
