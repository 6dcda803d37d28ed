// uplog - Game Log Uploader
//
// uplog follows a game client's log file, extracts the JSON event
// fragments embedded in it, and uploads them to a collection endpoint.
package main

import (
	"os"

	"github.com/gametrace/uplog/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
