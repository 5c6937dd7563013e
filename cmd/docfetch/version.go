package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shpitdev/docfetch/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the docfetch version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Current)
		},
	}
}
