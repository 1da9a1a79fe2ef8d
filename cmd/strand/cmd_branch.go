package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newBranchCmd() *cobra.Command {
	var del bool
	var force bool

	cmd := &cobra.Command{
		Use:   "branch [name] [start-point]",
		Short: "List, create or delete branches",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				branches, err := r.ListBranches()
				if err != nil {
					return err
				}
				current := ""
				if b, err := r.CurrentBranch(); err == nil {
					current = b.Name
				}
				for _, b := range branches {
					marker := "  "
					if b.Name == current {
						marker = "* "
					}
					fmt.Fprintf(out, "%s%s\n", marker, b.Name)
				}
				return nil
			}

			if del {
				return r.DeleteBranch(args[0], force)
			}

			at := ""
			if len(args) > 1 {
				at = args[1]
			}
			b, err := r.CreateBranch(args[0], at)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "branch %s at %.8s\n", b.Name, b.Tip)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&del, "delete", "d", false, "delete the named branch")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete even if unmerged")
	return cmd
}
