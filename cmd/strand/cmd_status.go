package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the working tree status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if b, err := r.CurrentBranch(); err == nil {
				fmt.Fprintf(out, "On branch %s\n", b.Name)
			} else {
				fmt.Fprintln(out, "HEAD detached")
			}

			if pending, err := r.MergeInProgress(); err == nil && pending {
				fmt.Fprintln(out, "You have an unfinished merge, cherry-pick or revert.")
			}

			entries, err := r.Status()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "nothing to commit, working tree clean")
				return nil
			}

			for _, e := range entries {
				if e.IndexStatus == repo.StatusConflicted {
					fmt.Fprintf(out, "  conflicted: %s\n", e.Path)
					continue
				}
				if e.IndexStatus != repo.StatusClean {
					fmt.Fprintf(out, "  staged %s: %s\n", e.IndexStatus, e.Path)
				}
				if e.WorkStatus != repo.StatusClean {
					fmt.Fprintf(out, "  %s: %s\n", e.WorkStatus, e.Path)
				}
			}
			return nil
		},
	}
}
