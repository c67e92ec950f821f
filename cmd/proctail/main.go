// proctail shows the output of coding agent execution processes as a live
// terminal timeline, and runs the collector that feeds it.
//
// Usage:
//
//	proctail serve --token mytoken
//	proctail tail --attempt <id>
//	proctail render --file run.jsonl
package main

import (
	"os"

	"github.com/wethinkt/go-proctail/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
