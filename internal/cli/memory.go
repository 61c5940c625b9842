package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Collections used when --collection is not given.
const (
	CollectionCode         = "code_collection"
	CollectionRequirements = "requirements_collection"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Store and retrieve semantic memory",
	}
	cmd.AddCommand(newMemoryAddCmd())
	cmd.AddCommand(newMemoryRetrieveCmd())
	cmd.AddCommand(newMemoryCollectionsCmd())
	return cmd
}

func newMemoryAddCmd() *cobra.Command {
	var (
		id         string
		collection string
	)

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Embed and store a document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			mem, err := openMemory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = mem.Close() }()

			if err := mem.AddDocument(cmd.Context(), strings.Join(args, " "), id, collection); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Document ID (default: random UUID)")
	cmd.Flags().StringVar(&collection, "collection", CollectionRequirements,
		fmt.Sprintf("Collection name, e.g. %s or %s", CollectionCode, CollectionRequirements))
	return cmd
}

func newMemoryRetrieveCmd() *cobra.Command {
	var (
		n       int
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Print the documents nearest to a query across all collections",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := openMemory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = mem.Close() }()

			query := strings.Join(args, " ")
			if verbose {
				matches, err := mem.Search(cmd.Context(), query, n)
				if err != nil {
					return err
				}
				for _, m := range matches {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%.4f\t%s/%s\t%s\n", m.Distance, m.Collection, m.ID, m.Text)
				}
				return nil
			}

			text, err := mem.Retrieve(cmd.Context(), query, n)
			if err != nil {
				return err
			}
			if text != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "results", "n", 0, "Number of results (default: memory.default_results)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show distance, collection and id per match")
	return cmd
}

func newMemoryCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List memory collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := openMemory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = mem.Close() }()

			names, err := mem.Collections(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
