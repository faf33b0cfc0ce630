package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var segmentsCmd = &cobra.Command{
	Use:   "segments <document-id>",
	Short: "Show a document's segment tree",
	Long: `Print the segments of a document in position order, indented by
hierarchy depth.`,
	Args: cobra.ExactArgs(1),
	RunE: runSegments,
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List documents of a source",
	RunE:  runDocuments,
}

var documentsSource string

func init() {
	documentsCmd.Flags().StringVar(&documentsSource, "source", "", "only documents derived from this source id")
	rootCmd.AddCommand(segmentsCmd)
	rootCmd.AddCommand(documentsCmd)
}

func runSegments(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	segs, err := stores.Segments.ListForDocument(ctx, kbFlag, args[0])
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	if len(segs) == 0 {
		fmt.Println("No segments")
		return nil
	}

	for _, seg := range segs {
		depth := strings.Count(seg.Position, ".")
		indent := strings.Repeat("  ", depth)
		title := seg.Heading
		if title == "" {
			title = firstLine(seg.Content)
		}
		embedded := " "
		if len(seg.Vector) > 0 {
			embedded = "*"
		}
		fmt.Printf("%s%-8s %s [%d-%d] %s\n", indent, seg.Position, embedded, seg.StartOffset, seg.EndOffset, truncate(title, 60))
	}
	return nil
}

func runDocuments(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sources, err := stores.DocSources.List(ctx, kbFlag)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	printed := 0
	for _, src := range sources {
		if documentsSource != "" && src.ID != documentsSource {
			continue
		}
		sinks, err := stores.DocSinks.ListForDocSource(ctx, kbFlag, src.ID)
		if err != nil {
			return err
		}
		for _, sink := range sinks {
			docs, err := stores.Documents.ListForDocSink(ctx, kbFlag, sink.ID)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				if printed == 0 {
					fmt.Printf("%-36s %-10s %-10s %s\n", "ID", "SPLIT", "EMBED", "ORIGIN")
					fmt.Println("--------------------------------------------------------------------------------")
				}
				printed++
				fmt.Printf("%-36s %-10s %-10s %s\n", doc.ID, doc.SplitStatus, doc.EmbedStatus, doc.OriginalURI)
			}
		}
	}
	if printed == 0 {
		fmt.Println("No documents found")
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
