package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log [commit-ish]",
		Short: "Show commit history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			start := "HEAD"
			if len(args) > 0 {
				start = args[0]
			}
			startHash, err := r.ResolveCommit(start)
			if err != nil {
				return err
			}

			commits, err := r.Log(startHash, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cur := startHash
			for _, c := range commits {
				fmt.Fprintf(out, "commit %s\n", cur)
				fmt.Fprintf(out, "Author: %s\n", c.Author)
				fmt.Fprintf(out, "Date:   %s\n", time.Unix(c.AuthorTime, 0).Format(time.RFC1123Z))
				if c.Signature != "" {
					fmt.Fprintln(out, "Signed: yes")
				}
				fmt.Fprintf(out, "\n    %s\n\n", c.Message)
				if len(c.Parents) == 0 {
					break
				}
				cur = c.Parents[0]
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "max-count", "n", 0, "limit the number of commits (0 = all)")
	return cmd
}
