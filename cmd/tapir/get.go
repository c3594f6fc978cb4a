package main

import (
	"fmt"

	"github.com/nasdf/tapir/codec"

	"github.com/spf13/cobra"
)

func newGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print the node at a path below the current root",
		Long: `Print the node at a slash separated path below the current root as dag-json.
Links along the path are followed, for example
  tapir get Collections/users/Documents/<id>/name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			n, err := s.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", args[0], err)
			}
			data, err := codec.Marshal(n)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
