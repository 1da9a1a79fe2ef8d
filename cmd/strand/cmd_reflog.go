package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newReflogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reflog [ref]",
		Short: "Show the movement log of a reference (default HEAD)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			ref := "HEAD"
			if len(args) > 0 {
				ref = args[0]
			}

			entries, err := r.ReadReflog(ref)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			// Newest first.
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				fmt.Fprintf(out, "%.8s %s@{%d}: %s\n", e.NewHash, ref, len(entries)-1-i, e.Reason)
			}
			return nil
		},
	}
}
