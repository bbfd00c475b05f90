// Command riftlogctl is the administrative CLI for a riftlog-backed
// database: schema creation/migration/status and durable-subscription
// inspection (listing subscriptions, listing and replaying parked events).
//
// It is a separate administrative operation from the library itself -
// application code never imports this package.
//
// Usage:
//
//	riftlogctl schema create --driver postgres --dsn "..."
//	riftlogctl schema status --driver postgres --dsn "..."
//	riftlogctl subscription list --driver postgres --dsn "..."
//	riftlogctl subscription park ls --stream order-1001 --name billing
//	riftlogctl subscription park replay --stream order-1001 --name billing --position 42
package main

import (
	"fmt"
	"os"

	"github.com/riftlog/riftlog/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
