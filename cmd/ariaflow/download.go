package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kylegalloway/ariaflow/internal/config"
	"github.com/kylegalloway/ariaflow/internal/locks"
	"github.com/kylegalloway/ariaflow/internal/logging"
	"github.com/kylegalloway/ariaflow/internal/orchestrator"
	"github.com/kylegalloway/ariaflow/internal/preflight"
	"github.com/kylegalloway/ariaflow/internal/readiness"
	"github.com/kylegalloway/ariaflow/internal/results"
	"github.com/kylegalloway/ariaflow/internal/state"
	"github.com/kylegalloway/ariaflow/internal/supervisor"
	"github.com/kylegalloway/ariaflow/internal/tasks"
	"github.com/kylegalloway/ariaflow/internal/ui"
)

// stateDirName holds session state and locks inside the download directory.
const stateDirName = ".ariaflow"

var (
	dlDirectory     string
	dlMaxConcurrent int
	dlVerbose       bool
	dlSecret        string
	dlConfigPath    string
	dlTransport     string
	dlManifest      string
)

var downloadCmd = &cobra.Command{
	Use:   "download [FILE|-]",
	Short: "Download every URL listed in FILE (or stdin)",
	Long: `Read one URL per line from FILE, or from stdin when FILE is "-" or
omitted. Blank lines and lines starting with '#' are ignored; lines that are
not http(s) URLs are skipped with a warning.

Each URL becomes its own aria2c download. On SIGINT/SIGTERM the session is
stopped and the downloads finished so far are summarised; a second signal
exits immediately.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return invalidArgs("download accepts at most one FILE argument, got %d", len(args))
		}
		return nil
	},
	RunE: runDownload,
}

func init() {
	f := downloadCmd.Flags()
	f.StringVarP(&dlDirectory, "directory", "d", "", "directory to store downloaded files (default: current directory)")
	f.IntVarP(&dlMaxConcurrent, "max-concurrent", "j", 5, "maximum concurrent aria2c downloads")
	f.BoolVarP(&dlVerbose, "verbose", "v", false, "enable verbose logging")
	f.StringVar(&dlSecret, "secret", "", "RPC secret token for aria2c")
	f.StringVar(&dlConfigPath, "config", "", "path to "+config.FileName+" (default: ./"+config.FileName+" if present)")
	f.StringVar(&dlTransport, "transport", "", "control channel transport: http or websocket")
	f.StringVar(&dlManifest, "manifest", "", "bucket URL to publish the session manifest to (file:// or mem://)")
}

// loadConfig reads the config file and applies flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if dlConfigPath != "" {
		cfg, err = config.Load(dlConfigPath)
	} else {
		cfg, err = config.LoadOptional(config.FileName)
	}
	if err != nil {
		return nil, &exitError{code: ExitInvalidArgs, err: err}
	}

	f := cmd.Flags()
	if f.Changed("directory") {
		cfg.Download.Directory = dlDirectory
	}
	if f.Changed("max-concurrent") {
		cfg.Download.MaxConcurrent = dlMaxConcurrent
	}
	if f.Changed("secret") {
		cfg.Download.Secret = dlSecret
	}
	if f.Changed("transport") {
		cfg.RPC.Transport = dlTransport
	}
	if f.Changed("manifest") {
		cfg.Results.BucketURL = dlManifest
	}

	if err := config.Validate(cfg); err != nil {
		return nil, &exitError{code: ExitInvalidArgs, err: err}
	}
	return cfg, nil
}

func readURLSource(name string, stdin io.Reader) (urls, skipped []string, err error) {
	if name == "" || name == "-" {
		return tasks.ReadURLs(stdin)
	}
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("URL file not found: %s", name)
		}
		return nil, nil, fmt.Errorf("failed to read URL source: %w", err)
	}
	defer f.Close()
	return tasks.ReadURLs(f)
}

func orchestratorOptions(cfg *config.Config, dir string) orchestrator.Options {
	return orchestrator.Options{
		Directory:       dir,
		MaxConcurrent:   cfg.Download.MaxConcurrent,
		Secret:          cfg.Download.Secret,
		Verbose:         dlVerbose,
		Host:            cfg.RPC.Host,
		Transport:       cfg.RPC.Transport,
		StartPolicy:     cfg.Retry.Start.Apply(orchestrator.DefaultStartPolicy()),
		TCPPolicy:       cfg.Retry.TCP.Apply(readiness.DefaultTCPPolicy()),
		RPCPolicy:       cfg.Retry.RPC.Apply(readiness.DefaultRPCPolicy()),
		PollInterval:    cfg.RPC.PollInterval,
		StoppedPageSize: cfg.RPC.StoppedPageSize,
		WaitingPageSize: cfg.RPC.WaitingPageSize,
		CallTimeout:     cfg.RPC.CallTimeout,
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New("ariaflow", logging.LevelFor(dlVerbose, cfg.Log.Level))

	source := "-"
	if len(args) == 1 {
		source = args[0]
	}
	urls, skipped, err := readURLSource(source, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(skipped) > 0 {
		logger.Warn("skipped invalid URL entries", "count", len(skipped))
		for _, s := range skipped {
			logger.Debug("skipped entry", "line", s)
		}
	}
	if len(urls) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No valid URLs provided; nothing to download.")
		return nil
	}

	dir, err := filepath.Abs(cfg.Download.Directory)
	if err != nil {
		return fmt.Errorf("resolve download directory: %w", err)
	}
	binary, err := preflight.Run(preflight.Checks{
		Binary:    cfg.Download.Aria2cPath,
		Directory: dir,
		MinDiskMB: cfg.Preflight.MinDiskMB,
	})
	if err != nil {
		return fmt.Errorf("preflight: %w", err)
	}

	stateDir := filepath.Join(dir, stateDirName)
	lockMgr := locks.NewManager(filepath.Join(stateDir, "locks"))
	if err := lockMgr.Acquire(dir, "download"); err != nil {
		if errors.Is(err, locks.ErrLocked) {
			if h, herr := lockMgr.Holder(dir); herr == nil {
				return fmt.Errorf("another ariaflow session (PID %d, since %s) is downloading into %s",
					h.PID, h.Acquired.Format(time.RFC3339), dir)
			}
		}
		return err
	}
	defer lockMgr.ReleaseAll()

	stateMgr := state.NewManager(stateDir)
	cleanup, err := orchestrator.CleanupStaleState(stateMgr, lockMgr, cfg.Process.StopGrace, logger)
	if err != nil {
		logger.Warn("startup cleanup", "error", err)
	}
	if cleanup != nil && (cleanup.OrphanKilled || cleanup.StaleSession != nil || cleanup.StaleLocksCleaned > 0) {
		fmt.Fprintln(cmd.ErrOrStderr(), orchestrator.FormatCleanupResult(cleanup))
	}

	sup := supervisor.New(binary, logger)
	sup.ExitCheckDelay = cfg.Process.ExitCheckDelay
	sup.StopGrace = cfg.Process.StopGrace

	orch := orchestrator.New(orchestratorOptions(cfg, dir), sup, logger)
	orch.SetStateManager(stateMgr)
	reporter := ui.NewReporter(ui.Options{Output: cmd.ErrOrStderr(), Total: len(urls)})
	orch.SetProgress(reporter)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "\nReceived %s, stopping downloads...\n", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		// If we get a second signal, force exit. The session file stays
		// behind so the next run stops the orphaned aria2c.
		<-sigCh
		fmt.Fprintln(os.Stderr, "Force exit.")
		os.Exit(ExitFailure)
	}()

	logger.Info("starting aria2 download session", "urls", len(urls), "directory", dir,
		"session", orch.SessionID())
	started := time.Now()

	if err := orch.Start(ctx); err != nil {
		return sessionFailed(logger, err)
	}
	defer orch.Stop()

	if _, err := orch.AddURLs(ctx, urls); err != nil {
		if ctx.Err() == nil {
			return sessionFailed(logger, err)
		}
	}

	reporter.Start()
	completed, failed, err := orch.WaitForCompletion(ctx)
	reporter.Stop()
	if err != nil {
		if ctx.Err() == nil {
			return sessionFailed(logger, err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted by user, stopping downloads...")
		logger.Warn("download session interrupted by user")
		completed, failed = orch.Results()
	}
	orch.Stop()

	fmt.Fprint(cmd.OutOrStdout(), ui.FormatSummary(completed, failed))

	if cfg.Results.BucketURL != "" {
		publishManifest(cmd, logger, cfg.Results.BucketURL, results.Manifest{
			SessionID:  orch.SessionID(),
			Directory:  dir,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Completed:  completed,
			Failed:     failed,
		})
	}
	return nil
}

func sessionFailed(logger *slog.Logger, err error) error {
	logger.Error("aria2 download session failed", "error", err)
	return fmt.Errorf("aria2 download session failed: %w", err)
}

// publishManifest writes the session manifest. Failures are reported but do
// not change the exit code; the downloads themselves are already on disk.
func publishManifest(cmd *cobra.Command, logger *slog.Logger, bucketURL string, m results.Manifest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pub, err := results.Open(ctx, bucketURL)
	if err != nil {
		logger.Error("could not open manifest bucket", "error", err)
		return
	}
	defer pub.Close()

	key, err := pub.Publish(ctx, m)
	if err != nil {
		logger.Error("could not publish manifest", "error", err)
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Manifest written to %s (%s)\n", key, bucketURL)
}
