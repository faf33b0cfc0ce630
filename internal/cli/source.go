package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docflowd/docflow/internal/models"
	"github.com/docflowd/docflow/internal/store"
)

var (
	sourceType  string
	sourceTags  []string
	followLinks bool
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage document sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <uri>",
	Short: "Register a new document source",
	Long: `Register a new document source in the knowledge base.

The source is only recorded; run "docflow ingest" or "docflow run" to
actually pull its content through the pipeline.

Examples:
  docflow source add ./docs --type file
  docflow source add https://example.com/handbook --type url --follow-links`,
	Args: cobra.ExactArgs(1),
	RunE: runSourceAdd,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List document sources",
	RunE:  runSourceList,
}

var sourceRmCmd = &cobra.Command{
	Use:   "rm <source-id>",
	Short: "Delete a source and everything derived from it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceRm,
}

func init() {
	sourceAddCmd.Flags().StringVarP(&sourceType, "type", "t", "file", "source type (file, url, search, notion)")
	sourceAddCmd.Flags().StringSliceVarP(&sourceTags, "tags", "l", nil, "tags for organization")
	sourceAddCmd.Flags().BoolVar(&followLinks, "follow-links", false, "also fetch same-host pages linked from a url source")

	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceRmCmd)
	rootCmd.AddCommand(sourceCmd)
}

func runSourceAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	src, err := addSource(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Created source: %s (%s)\n", src.URI, src.ID)
	return nil
}

// addSource registers the KB and creates the DocSource record.
func addSource(ctx context.Context, uri string) (*models.DocSource, error) {
	if err := stores.RegisterKB(ctx, kbFlag); err != nil {
		return nil, fmt.Errorf("register kb: %w", err)
	}
	var ingestConfig map[string]any
	if followLinks {
		ingestConfig = map[string]any{"follow_links": true}
	}
	src, err := stores.DocSources.Create(ctx, store.DocSourceCreate{
		KBID:         kbFlag,
		SourceType:   models.SourceType(sourceType),
		URI:          uri,
		IngestConfig: ingestConfig,
		Tags:         sourceTags,
	})
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	return src, nil
}

func runSourceList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sources, err := stores.DocSources.List(ctx, kbFlag)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	if len(sources) == 0 {
		fmt.Println("No sources found")
		return nil
	}

	fmt.Printf("%-36s %-8s %-12s %s\n", "ID", "TYPE", "STATUS", "URI")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, src := range sources {
		fmt.Printf("%-36s %-8s %-12s %s\n", src.ID, src.SourceType, src.Status, src.URI)
	}
	return nil
}

func runSourceRm(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := stores.DocSources.Delete(ctx, kbFlag, args[0]); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	fmt.Printf("Deleted source %s and its derived documents\n", args[0])
	return nil
}
