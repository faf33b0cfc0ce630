package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docflowd/docflow/internal/metrics"
	"github.com/docflowd/docflow/internal/scheduler"
)

var runAllKBs bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain all incomplete pipeline tasks",
	Long: `Run the scheduler until every incomplete task in scope has been
executed or is out of retries. This is how interrupted ingestions are
resumed: the pipeline picks up exactly where the stored tasks left off.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runAllKBs, "all", false, "run across every registered knowledge base")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	scope := scheduler.Scope{KBID: kbFlag}
	if runAllKBs {
		scope.KBID = ""
	}
	started, err := sched.Run(ctx, scope)
	if err != nil {
		return fmt.Errorf("run scheduler: %w", err)
	}
	if !started {
		fmt.Println("Scheduler already running")
		return nil
	}
	fmt.Println("Pipeline drained")
	printStageStats()
	return nil
}

// printStageStats shows per-stage job statistics for this process's run.
func printStageStats() {
	snap := collector.Snapshot()
	stages := []struct {
		name string
		s    *metrics.StageSnapshot
	}{
		{"connector", snap.Connector},
		{"convert", snap.Convert},
		{"split", snap.Split},
		{"embed", snap.Embed},
	}
	header := false
	for _, st := range stages {
		if st.s == nil {
			continue
		}
		if !header {
			fmt.Printf("\n%-10s %-6s %-8s %-10s %-10s\n", "STAGE", "JOBS", "FAILED", "AVG", "TOTAL")
			header = true
		}
		fmt.Printf("%-10s %-6d %-8d %-10s %-10s\n",
			st.name, st.s.Jobs, st.s.Failures,
			fmt.Sprintf("%.0fms", st.s.AvgTimeMs),
			fmt.Sprintf("%dms", st.s.TotalTimeMs))
	}
}
