package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newMergeCmd() *cobra.Command {
	var ffOnly bool
	var noFF bool
	var noCommit bool
	var message string

	cmd := &cobra.Command{
		Use:   "merge <branch|commit>...",
		Short: "Join development histories together",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ffOnly && noFF {
				return fmt.Errorf("--ff-only and --no-ff are mutually exclusive")
			}

			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			opts := repo.MergeOptions{Message: message, NoCommit: noCommit}
			if ffOnly {
				opts.Strategy = repo.MergeFastForwardOnly
			}
			if noFF {
				opts.Strategy = repo.MergeNoFastForward
			}

			result, err := r.Merge(args, opts)
			if err != nil {
				return err
			}
			printMergeResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ffOnly, "ff-only", false, "refuse unless fast-forward is possible")
	cmd.Flags().BoolVar(&noFF, "no-ff", false, "always create a merge commit")
	cmd.Flags().BoolVar(&noCommit, "no-commit", false, "stage the merge without committing")
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	return cmd
}

func printMergeResult(cmd *cobra.Command, result *repo.MergeResult) {
	out := cmd.OutOrStdout()
	switch result.Status {
	case repo.MergeUpToDate:
		fmt.Fprintln(out, "Already up to date.")
	case repo.MergeFastForward:
		fmt.Fprintf(out, "Fast-forward to %.8s\n", result.CommitHash)
	case repo.MergeConflicts:
		fmt.Fprintln(out, "Automatic merge failed; fix conflicts and commit the result:")
		for _, p := range result.ConflictedPaths {
			fmt.Fprintf(out, "  %s\n", p)
		}
	default:
		if result.CommitHash != "" {
			fmt.Fprintf(out, "Merge made commit %.8s\n", result.CommitHash)
		} else {
			fmt.Fprintln(out, "Merge staged; commit to finish.")
		}
	}
}
