/*
main.go - booksd entry point

PURPOSE:
  Command-line front end of the books engine. All configuration is
  resolved by the config package; subcommands share one wiring routine
  (app.go) so the server and the maintenance commands see the same
  engine.

COMMANDS:
  serve     HTTP API, /metrics and the integrity scheduler
  migrate   apply schema migrations and print the schema version
  verify    walk the audit chain and reconcile stock; exit 1 on failure
  seed      load the demo scenario

EXAMPLES:
  booksd serve --db ./data/books.db --addr :8080
  BOOKS_LOG_FORMAT=json booksd verify
  booksd seed --db ":memory:"

SEE ALSO:
  - config/config.go: keys and defaults
  - api/server.go: routes
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
