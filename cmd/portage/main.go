// Portage - storage gateway serving one file API over many backends.
package main

import (
	"os"

	"github.com/portagehq/portage/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
