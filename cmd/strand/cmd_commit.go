package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newCommitCmd() *cobra.Command {
	var message string
	var author string
	var allowEmpty bool
	var amend bool
	var sign bool
	var signingKey string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record changes to the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			opts := repo.CommitOptions{
				Author:              author,
				AllowEmptyCommit:    allowEmpty,
				AmendPreviousCommit: amend,
			}
			if sign || signingKey != "" {
				signer, keyPath, err := newSSHCommitSigner(signingKey)
				if err != nil {
					return err
				}
				opts.Signer = signer
				fmt.Fprintf(cmd.ErrOrStderr(), "signing with %s\n", keyPath)
			}

			h, err := r.CommitWithOptions(message, opts)
			if err != nil {
				return err
			}

			branch := "HEAD"
			if b, err := r.CurrentBranch(); err == nil {
				branch = b.Name
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s %.8s] %s\n", branch, h, message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "override the author")
	cmd.Flags().BoolVar(&allowEmpty, "allow-empty", false, "allow a commit with no changes")
	cmd.Flags().BoolVar(&amend, "amend", false, "replace the tip commit")
	cmd.Flags().BoolVarP(&sign, "sign", "S", false, "sign the commit with an SSH key")
	cmd.Flags().StringVar(&signingKey, "signing-key", "", "path to the SSH private key")

	return cmd
}
