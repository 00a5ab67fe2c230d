// filtercam applies live photo filters to a camera feed.
package main

import (
	"os"

	"github.com/e7canasta/filtercam/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
