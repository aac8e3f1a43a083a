package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// inspectCmd lists the instructions in a manifest file without executing
// them, useful for sanity-checking a hand-written manifest before running
// it against a kernel.
func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [manifest]",
		Short: "list the instructions in a manifest file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mf, _, err := loadManifest(args[0])
			if err != nil {
				return err
			}
			for i, ins := range mf.Instructions {
				fmt.Printf("%3d  %s\n", i, ins.Kind)
			}
			return nil
		},
	}
	return cmd
}
