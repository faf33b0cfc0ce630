package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docflowd/docflow/internal/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [task-id]",
	Short: "List incomplete tasks or inspect one task's jobs",
	Long: `List the incomplete tasks of a knowledge base, or show every
execution attempt of one task by ID.

Examples:
  docflow jobs           # List incomplete tasks
  docflow jobs abc123    # Show the jobs of task abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a task's current job",
	Long: `Pause the latest job of a task. The scheduler leaves paused jobs
alone until they are resumed with "docflow jobs resume".`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsPause,
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResume,
}

func init() {
	jobsCmd.AddCommand(jobsPauseCmd)
	jobsCmd.AddCommand(jobsResumeCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showTaskJobs(ctx, args[0])
	}
	return listTasks(ctx)
}

func listTasks(ctx context.Context) error {
	tasks, err := stores.Tasks.GetIncompleteTasks(ctx, kbFlag)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No incomplete tasks")
		return nil
	}

	fmt.Printf("%-36s %-10s %-10s %-10s %s\n", "TASK", "TYPE", "STATUS", "ATTEMPT", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, task := range tasks {
		attempt := "-"
		latest, err := stores.Jobs.GetLatestJobForTask(ctx, kbFlag, task.ID)
		if err != nil {
			return err
		}
		if latest != nil {
			attempt = fmt.Sprintf("#%d %s", latest.RetryCount+1, latest.Status)
		}
		fmt.Printf("%-36s %-10s %-10s %-10s %s\n",
			task.ID, task.ProgramType, task.Status, attempt, task.CreatedAt.Format("15:04:05"))
	}
	return nil
}

func runJobsPause(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	latest, err := stores.Jobs.GetLatestJobForTask(ctx, kbFlag, args[0])
	if err != nil {
		return fmt.Errorf("get latest job: %w", err)
	}
	if latest == nil {
		return fmt.Errorf("task %s has no jobs", args[0])
	}
	if latest.Status.IsTerminal() || latest.Status == models.JobPaused {
		return fmt.Errorf("job %s is %s, nothing to pause", latest.ID, latest.Status)
	}
	if err := stores.Jobs.SetStatus(ctx, kbFlag, latest.ID, models.JobPaused); err != nil {
		return fmt.Errorf("pause job: %w", err)
	}
	fmt.Printf("Paused job %s\n", latest.ID)
	return nil
}

func runJobsResume(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	latest, err := stores.Jobs.GetLatestJobForTask(ctx, kbFlag, args[0])
	if err != nil {
		return fmt.Errorf("get latest job: %w", err)
	}
	if latest == nil {
		return fmt.Errorf("task %s has no jobs", args[0])
	}
	if latest.Status != models.JobPaused {
		return fmt.Errorf("job %s is %s, not paused", latest.ID, latest.Status)
	}
	if err := stores.Jobs.SetStatus(ctx, kbFlag, latest.ID, models.JobPending); err != nil {
		return fmt.Errorf("resume job: %w", err)
	}
	fmt.Printf("Job %s resumes on the next run\n", latest.ID)
	return nil
}

func showTaskJobs(ctx context.Context, taskID string) error {
	task, err := stores.Tasks.Get(ctx, kbFlag, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	jobs, err := stores.Jobs.ListForTask(ctx, kbFlag, taskID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	fmt.Printf("Task: %s\n", task.ID)
	fmt.Printf("  Type: %s\n", task.ProgramType)
	fmt.Printf("  Target: %s\n", task.TargetID)
	fmt.Printf("  Status: %s\n", task.Status)

	if len(jobs) == 0 {
		fmt.Println("\nNo jobs yet")
		return nil
	}
	fmt.Printf("\nJobs (%d):\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("  #%d %s\n", job.RetryCount+1, job.ID)
		fmt.Printf("    Status: %s\n", job.Status)
		fmt.Printf("    Progress: %.0f%%\n", job.Progress*100)
		fmt.Printf("    Created: %s\n", job.CreatedAt.Format(time.RFC3339))
		if job.Result != "" {
			fmt.Printf("    Result: %s\n", job.Result)
		}
		if job.LogPath != "" {
			fmt.Printf("    Log: %s\n", job.LogPath)
		}
	}
	return nil
}
