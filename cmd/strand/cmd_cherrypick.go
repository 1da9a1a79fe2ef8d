package main

import (
	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newCherryPickCmd() *cobra.Command {
	var mainline int
	var noCommit bool

	cmd := &cobra.Command{
		Use:   "cherry-pick <commit>",
		Short: "Apply the change introduced by an existing commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			result, err := r.CherryPick(args[0], repo.PickOptions{
				Mainline: mainline,
				NoCommit: noCommit,
			})
			if err != nil {
				return err
			}
			printMergeResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().IntVarP(&mainline, "mainline", "M", 0, "parent number to diff against for merge commits")
	cmd.Flags().BoolVar(&noCommit, "no-commit", false, "stage the result without committing")
	return cmd
}

func newRevertCmd() *cobra.Command {
	var mainline int
	var noCommit bool

	cmd := &cobra.Command{
		Use:   "revert <commit>",
		Short: "Revert an existing commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			result, err := r.Revert(args[0], repo.PickOptions{
				Mainline: mainline,
				NoCommit: noCommit,
			})
			if err != nil {
				return err
			}
			printMergeResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().IntVarP(&mainline, "mainline", "M", 0, "parent number to diff against for merge commits")
	cmd.Flags().BoolVar(&noCommit, "no-commit", false, "stage the result without committing")
	return cmd
}
