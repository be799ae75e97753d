// Command crankd runs a crank worker against a ledger, serves an
// in-memory devnet for local development and inspects queues and
// recorded attempts.
package main

import (
	"os"

	"github.com/xraph/crank/cmd/crankd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
