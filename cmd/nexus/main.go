package main

import (
	"context"
	"os"

	"github.com/scrypster/nexus/internal/logging"
)

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		logging.Default().Error("nexus failed", "error", err)
		os.Exit(1)
	}
}
