package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"pkt.systems/bundled/internal/version"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the bundled version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "bundled %s\n", version.String())
			return err
		},
	}
	return cmd
}
