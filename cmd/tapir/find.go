package main

import (
	"fmt"

	"github.com/nasdf/tapir/codec"
	"github.com/nasdf/tapir/store"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newFindCmd(c *cli) *cobra.Command {
	var (
		query string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "find <collection>",
		Short: "Print the documents of a collection matching a query",
		Long: `Print the documents of a collection matching a query as dag-json, one per line.

The query is a YAML or JSON criteria document, for example
  tapir find users -q '{status: active, tags: {$type: array}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var criteria store.Criteria
			if query != "" {
				var parsed map[string]any
				if err := yaml.Unmarshal([]byte(query), &parsed); err != nil {
					return fmt.Errorf("invalid query: %w", err)
				}
				var err error
				if criteria, err = store.ParseCriteria(parsed); err != nil {
					return fmt.Errorf("invalid query: %w", err)
				}
			}
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			nodes, err := s.FindAll(cmd.Context(), args[0], criteria)
			if err != nil {
				return err
			}
			for i, n := range nodes {
				if limit > 0 && i >= limit {
					break
				}
				data, err := codec.Marshal(n)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "criteria document")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of documents to print")
	return cmd
}
