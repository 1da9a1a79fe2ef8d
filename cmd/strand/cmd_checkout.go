package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newCheckoutCmd() *cobra.Command {
	var force bool
	var pathsOnly bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "checkout <branch|commit> | checkout --paths <path>...",
		Short: "Switch branches or restore working tree files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if pathsOnly {
				return r.CheckoutPaths(args)
			}
			if len(args) != 1 {
				return fmt.Errorf("checkout takes one branch or commit (use --paths for files)")
			}

			opts := repo.CheckoutOptions{Force: force}
			if verbose {
				opts.Notify = func(path string) {
					fmt.Fprintf(out, "  %s\n", path)
				}
			}

			err = r.Checkout(args[0], opts)
			var conflict *repo.CheckoutConflictError
			if errors.As(err, &conflict) {
				fmt.Fprintln(out, "your local changes would be overwritten by checkout:")
				for _, p := range conflict.Paths {
					fmt.Fprintf(out, "  %s\n", p)
				}
				return fmt.Errorf("commit your changes or use --force")
			}
			if err != nil {
				return err
			}

			if b, err := r.CurrentBranch(); err == nil {
				fmt.Fprintf(out, "Switched to branch '%s'\n", b.Name)
			} else {
				fmt.Fprintf(out, "HEAD is now detached at %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "discard local modifications")
	cmd.Flags().BoolVar(&pathsOnly, "paths", false, "restore the given paths instead of switching")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each updated path")
	return cmd
}
