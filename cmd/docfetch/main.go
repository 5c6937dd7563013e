package main

import (
	"fmt"
	"os"

	"github.com/shpitdev/docfetch/internal/util"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "docfetch: %s\n", util.RedactSecrets(err.Error()))
		os.Exit(1)
	}
}
