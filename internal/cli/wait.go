package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var waitTimeout time.Duration

var waitCmd = &cobra.Command{
	Use:   "wait <source-id>",
	Short: "Block until a source reaches a terminal status",
	Args:  cobra.ExactArgs(1),
	RunE:  runWait,
}

func init() {
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 10*time.Minute, "maximum time to wait")
	rootCmd.AddCommand(waitCmd)
}

func runWait(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	status, err := sched.WaitForDocSource(ctx, kbFlag, args[0], waitTimeout)
	if err != nil {
		return fmt.Errorf("wait for source: %w", err)
	}
	fmt.Printf("Source %s finished: %s\n", args[0], status)
	return nil
}
