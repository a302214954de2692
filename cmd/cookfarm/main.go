// Command cookfarm cooks build targets across a pool of worker processes
package main

import (
	"context"
	"os"

	"github.com/cookfarm/cookfarm/pkg/cli"
)

var version = "dev"

func main() {
	if err := cli.ExecuteWithVersion(context.Background(), version); err != nil {
		os.Exit(1)
	}
}
