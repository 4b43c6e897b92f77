package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/config"
	"github.com/ShayCichocki/fleet/internal/state"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recent run",
	Long: `Status shows the latest run recorded in run history: its state,
progress, and per-task outcomes with -v.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "Show per-task outcomes")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dbPath := state.DefaultPath(cfg.StateDir())
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No run history found.")
		return nil
	}

	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer store.Close()

	run, err := store.LatestRun()
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Feature:  %s\n", run.Feature)
	fmt.Printf("Level:    %d\n", run.CurrentLevel)
	fmt.Printf("Started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Printf("Finished: %s\n", run.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	switch run.State {
	case "COMPLETE":
		color.Green("State:    %s", run.State)
	case "FAILED":
		color.Red("State:    %s", run.State)
	default:
		color.Yellow("State:    %s", run.State)
	}

	if !statusVerbose {
		return nil
	}

	tasks, err := store.TasksForRun(run.ID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("\nNo task records.")
		return nil
	}

	fmt.Println("\nTasks:")
	for _, t := range tasks {
		line := fmt.Sprintf("  [level %d] %-20s worker %d  %s", t.Level, t.TaskID, t.WorkerID, t.Status)
		switch t.Status {
		case "complete":
			color.Green("%s", line)
		case "failed":
			color.Red("%s  %s", line, t.Error)
		default:
			fmt.Println(line)
		}
	}
	return nil
}
