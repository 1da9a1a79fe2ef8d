package main

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/remote"
	"github.com/strandvcs/strand/pkg/repo"
)

// fetchOptions builds the transfer options shared by clone, fetch, pull
// and push: terminal progress, prompted credentials, and debug logging
// when STRAND_DEBUG is set.
func fetchOptions(cmd *cobra.Command) repo.FetchOptions {
	opts := repo.FetchOptions{
		Progress: func(bytes int64, objects int) bool {
			fmt.Fprintf(cmd.ErrOrStderr(), "\rreceived %d objects (%d bytes)", objects, bytes)
			return true
		},
		Credentials: promptCredentials(cmd),
	}
	if os.Getenv("STRAND_DEBUG") != "" {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
		opts.Logger = &logger
	}
	return opts
}

func promptCredentials(cmd *cobra.Command) remote.CredentialsFn {
	return func(endpointURL string) (remote.Credentials, error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "authentication required for %s\n", endpointURL)
		reader := bufio.NewReader(cmd.InOrStdin())

		fmt.Fprint(cmd.ErrOrStderr(), "username: ")
		user, err := reader.ReadString('\n')
		if err != nil {
			return remote.Credentials{}, err
		}
		fmt.Fprint(cmd.ErrOrStderr(), "password: ")
		pass, err := reader.ReadString('\n')
		if err != nil {
			return remote.Credentials{}, err
		}
		return remote.Credentials{
			Username: strings.TrimSpace(user),
			Password: strings.TrimSpace(pass),
		}, nil
	}
}

func newCloneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clone <url> [path]",
		Short: "Clone a remote repository into a new directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			dest := ""
			if len(args) > 1 {
				dest = args[1]
			} else {
				dest = strings.TrimSuffix(path.Base(url), ".strand")
			}
			abs, err := filepath.Abs(dest)
			if err != nil {
				return err
			}

			r, err := repo.Clone(cmd.Context(), url, abs, fetchOptions(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\ncloned into %s\n", r.RootDir)
			return nil
		},
	}
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [remote]",
		Short: "Download objects and refs from a remote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			name := "origin"
			if len(args) > 0 {
				name = args[0]
			}

			heads, err := r.Fetch(cmd.Context(), name, fetchOptions(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out)
			for _, h := range heads {
				fmt.Fprintf(out, "%.8s  %s\n", h.Target, h.RefName)
			}
			return nil
		},
	}
}

func newPullCmd() *cobra.Command {
	var ffOnly bool

	cmd := &cobra.Command{
		Use:   "pull [remote]",
		Short: "Fetch from a remote and merge the current branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			name := "origin"
			if len(args) > 0 {
				name = args[0]
			}

			if _, err := r.Fetch(cmd.Context(), name, fetchOptions(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr())

			opts := repo.MergeOptions{}
			if ffOnly {
				opts.Strategy = repo.MergeFastForwardOnly
			}
			result, err := r.MergeFetchedHeads(opts)
			if err != nil {
				return err
			}
			printMergeResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ffOnly, "ff-only", false, "refuse unless fast-forward is possible")
	return cmd
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push [remote] [branch]",
		Short: "Upload the current branch to a remote",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			name := "origin"
			branch := ""
			if len(args) > 0 {
				name = args[0]
			}
			if len(args) > 1 {
				branch = args[1]
			}

			if err := r.Push(cmd.Context(), name, branch, fetchOptions(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\npush complete")
			return nil
		},
	}
}
