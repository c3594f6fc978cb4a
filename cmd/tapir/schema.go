package main

import (
	"fmt"
	"os"

	"github.com/nasdf/tapir/mapping"
	"github.com/nasdf/tapir/strategy"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSchemaCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <file>",
		Short: "Validate a GraphQL schema and print its class descriptors",
		Long:  "Load a GraphQL schema, resolve every collection strategy and print the resulting class descriptors as YAML.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read schema: %w", err)
			}
			registry, err := mapping.LoadRegistry(string(input),
				mapping.WithResolver(strategy.NewResolver(c.config.ReplaceThreshold)),
				mapping.WithDiscriminatorField(c.config.DiscriminatorField),
			)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(registry.Classes()); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
