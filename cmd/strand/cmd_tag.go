package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandvcs/strand/pkg/repo"
)

func newTagCmd() *cobra.Command {
	var del bool
	var message string

	cmd := &cobra.Command{
		Use:   "tag [name] [commit-ish]",
		Short: "List, create or delete tags",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				tags, err := r.ListTags()
				if err != nil {
					return err
				}
				for _, t := range tags {
					fmt.Fprintln(out, t.Name)
				}
				return nil
			}

			if del {
				return r.DeleteTag(args[0])
			}

			at := ""
			if len(args) > 1 {
				at = args[1]
			}
			var t repo.Tag
			if message != "" {
				t, err = r.CreateAnnotatedTag(args[0], at, message)
			} else {
				t, err = r.CreateTag(args[0], at)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "tag %s at %.8s\n", t.Name, t.Hash)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&del, "delete", "d", false, "delete the named tag")
	cmd.Flags().StringVarP(&message, "message", "m", "", "create an annotated tag with this message")
	return cmd
}
