package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitInvalidArgs = 2
)

var version = "dev"

// exitError carries a process exit code through cobra's RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidArgs(format string, args ...any) error {
	return &exitError{code: ExitInvalidArgs, err: fmt.Errorf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "ariaflow",
	Short: "Download URL lists through a managed aria2c session",
	Long: `ariaflow starts a private aria2c process, feeds it a list of URLs over
its JSON-RPC control channel, tracks every transfer until it finishes, and
prints a summary.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &exitError{code: ExitInvalidArgs, err: err}
	})
	rootCmd.AddCommand(downloadCmd, cleanupCmd, versionCmd)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFailure
}
