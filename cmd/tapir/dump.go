package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDumpCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the current root and the document ids of every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			dump, err := s.Dump(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "root: %s\n", s.RootLink())
			if blocks, err := s.Blocks(cmd.Context()); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "blocks: %d\n", blocks)
			}
			if len(dump) == 0 {
				return nil
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(map[string]any{"collections": dump}); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
