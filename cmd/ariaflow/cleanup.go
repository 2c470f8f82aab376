package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kylegalloway/ariaflow/internal/config"
	"github.com/kylegalloway/ariaflow/internal/locks"
	"github.com/kylegalloway/ariaflow/internal/logging"
	"github.com/kylegalloway/ariaflow/internal/orchestrator"
	"github.com/kylegalloway/ariaflow/internal/state"
)

var (
	cleanupDirectory  string
	cleanupConfigPath string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Stop an orphaned aria2c and remove stale session state",
	Long: `Inspect the session state left in DIRECTORY/.ariaflow by a run that did
not shut down cleanly. A recorded aria2c that is still alive is stopped, the
session file is removed, and lock files nobody holds are deleted.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVarP(&cleanupDirectory, "directory", "d", "", "download directory to clean (default: from config or current directory)")
	cleanupCmd.Flags().StringVar(&cleanupConfigPath, "config", "", "path to "+config.FileName)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if cleanupConfigPath != "" {
		cfg, err = config.Load(cleanupConfigPath)
	} else {
		cfg, err = config.LoadOptional(config.FileName)
	}
	if err != nil {
		return &exitError{code: ExitInvalidArgs, err: err}
	}

	dir := cfg.Download.Directory
	if cleanupDirectory != "" {
		dir = cleanupDirectory
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	logger := logging.New("ariaflow", cfg.Log.Level)
	stateDir := filepath.Join(dir, stateDirName)
	lockMgr := locks.NewManager(filepath.Join(stateDir, "locks"))
	if err := lockMgr.Acquire(dir, "cleanup"); err != nil {
		return fmt.Errorf("cleanup %s: %w", dir, err)
	}
	defer lockMgr.ReleaseAll()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "ariaflow cleanup")
	fmt.Fprintln(out)

	result, err := orchestrator.CleanupStaleState(state.NewManager(stateDir), lockMgr, cfg.Process.StopGrace, logger)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Fprintln(out, orchestrator.FormatCleanupResult(result))
	return nil
}
