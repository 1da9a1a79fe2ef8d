package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newResetCmd() *cobra.Command {
	var soft bool
	var hard bool
	var paths bool

	cmd := &cobra.Command{
		Use:   "reset [--soft|--hard] <commit> | reset --paths <path>...",
		Short: "Reset HEAD, the index, or individual paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if soft && hard {
				return fmt.Errorf("--soft and --hard are mutually exclusive")
			}

			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			if paths {
				return r.ResetPaths(args)
			}
			if len(args) != 1 {
				return fmt.Errorf("reset takes one commit (use --paths for files)")
			}

			mode := repo.ResetMixed
			if soft {
				mode = repo.ResetSoft
			}
			if hard {
				mode = repo.ResetHard
			}
			return r.Reset(args[0], mode)
		},
	}

	cmd.Flags().BoolVar(&soft, "soft", false, "move HEAD only")
	cmd.Flags().BoolVar(&hard, "hard", false, "reset index and working tree too")
	cmd.Flags().BoolVar(&paths, "paths", false, "unstage the given paths instead")
	return cmd
}
