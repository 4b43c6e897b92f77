package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration",
	Long: `Config prints the configuration fleet would use, after merging
defaults, the user config, the project config, and environment variables.`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("User config:    %s\n", config.GetUserConfigPath())
	if project := config.GetProjectConfigPath(); project != "" {
		fmt.Printf("Project config: %s\n", project)
	}
	fmt.Println()
	fmt.Printf("workers.max:               %d\n", cfg.Workers.Max)
	fmt.Printf("workers.command:           %s\n", cfg.Workers.Command)
	fmt.Printf("branch.prefix:             %s\n", cfg.Branch.Prefix)
	fmt.Printf("branch.base:               %s\n", cfg.Branch.Base)
	fmt.Printf("worktrees.base_dir:        %s\n", cfg.WorktreeBaseDir())
	fmt.Printf("breaker.failure_threshold: %d\n", cfg.Breaker.FailureThreshold)
	fmt.Printf("breaker.cooldown:          %s\n", cfg.Breaker.Cooldown)
	fmt.Printf("breaker.enabled:           %t\n", cfg.Breaker.Enabled)
	fmt.Printf("limiter.slots:             %d\n", cfg.Limiter.Slots)
	fmt.Printf("limiter.acquire_timeout:   %s\n", cfg.Limiter.AcquireTimeout)
	fmt.Printf("shutdown.timeout:          %s\n", cfg.Shutdown.Timeout)
	fmt.Printf("state.dir:                 %s\n", cfg.StateDir())
	fmt.Printf("loop.poll_interval:        %s\n", cfg.Loop.PollInterval)
	if len(cfg.Gates.Commands) > 0 {
		fmt.Println("gates.commands:")
		for _, c := range cfg.Gates.Commands {
			fmt.Printf("  - %s\n", c)
		}
	}
	return nil
}
