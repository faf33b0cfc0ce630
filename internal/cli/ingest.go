package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docflowd/docflow/internal/models"
	"github.com/docflowd/docflow/internal/scheduler"
)

var (
	ingestWait    bool
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <uri>",
	Short: "Register a source and run it through the whole pipeline",
	Long: `Register a source and immediately run the pipeline for it: fetch the
raw content, deduplicate it, convert it to markdown, split it into
segments and embed them.

Examples:
  docflow ingest ./notes --type file
  docflow ingest https://example.com/post.html --type url --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&sourceType, "type", "t", "file", "source type (file, url, search, notion)")
	ingestCmd.Flags().StringSliceVarP(&sourceTags, "tags", "l", nil, "tags for organization")
	ingestCmd.Flags().BoolVar(&followLinks, "follow-links", false, "also fetch same-host pages linked from a url source")
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", true, "wait for the source to reach a terminal status")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "how long --wait waits")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	src, err := addSource(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = stores.Tasks.Create(ctx, kbFlag, src.ID, models.ProgramSpec{
		Type:      models.ProgramConnector,
		Connector: &models.ConnectorSpec{DocSourceID: src.ID},
	})
	if err != nil {
		return fmt.Errorf("create connector task: %w", err)
	}

	fmt.Printf("Ingesting %s (source %s)\n", src.URI, src.ID)
	started, err := sched.Run(ctx, scheduler.Scope{KBID: kbFlag, DocSourceIDs: []string{src.ID}})
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}
	if !started {
		fmt.Println("Scheduler already running, tasks queued for the active run")
	}

	if !ingestWait {
		return nil
	}
	status, err := sched.WaitForDocSource(ctx, kbFlag, src.ID, ingestTimeout)
	if err != nil {
		return fmt.Errorf("wait for source: %w", err)
	}
	fmt.Printf("Source %s finished: %s\n", src.ID, status)
	if verbose {
		printStageStats()
	}
	if status != models.DocSourceCompleted {
		exitWithError("ingestion ended with status %s", status)
	}
	return nil
}
