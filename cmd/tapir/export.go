package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.car>",
		Short: "Write a CAR archive of the current root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			out, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			defer func() {
				if cerr := out.Close(); err == nil {
					err = cerr
				}
			}()
			if err := s.Export(cmd.Context(), out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", s.RootLink(), args[0])
			return nil
		},
	}
}
