package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores package-level flag state between runs.
func resetFlags(t *testing.T) {
	t.Helper()
	for _, c := range []*cobra.Command{downloadCmd, cleanupCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	if code := run([]string{"version"}); code != ExitSuccess {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "ariaflow "+version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunUnknownFlag(t *testing.T) {
	resetFlags(t)
	rootCmd.SetErr(&bytes.Buffer{})
	defer rootCmd.SetErr(nil)
	if code := run([]string{"download", "--no-such-flag"}); code != ExitInvalidArgs {
		t.Errorf("exit = %d, want %d", code, ExitInvalidArgs)
	}
}

func TestRunTooManyArgs(t *testing.T) {
	resetFlags(t)
	if code := run([]string{"download", "a.txt", "b.txt"}); code != ExitInvalidArgs {
		t.Errorf("exit = %d, want %d", code, ExitInvalidArgs)
	}
}

func TestRunInvalidConcurrency(t *testing.T) {
	resetFlags(t)
	t.Chdir(t.TempDir())
	if code := run([]string{"download", "-j", "0", "-"}); code != ExitInvalidArgs {
		t.Errorf("exit = %d, want %d", code, ExitInvalidArgs)
	}
}

func TestRunNothingToDownload(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	t.Chdir(dir)

	list := filepath.Join(dir, "urls.txt")
	if err := os.WriteFile(list, []byte("# comment\n\nftp://example.com/x\nnot a url\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	if code := run([]string{"download", list}); code != ExitSuccess {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "nothing to download") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunHighConcurrencyAccepted(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	t.Chdir(dir)

	list := filepath.Join(dir, "urls.txt")
	if err := os.WriteFile(list, []byte("# nothing yet\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rootCmd.SetOut(&bytes.Buffer{})
	defer rootCmd.SetOut(nil)

	if code := run([]string{"download", "-j", "32", list}); code != ExitSuccess {
		t.Errorf("exit = %d, want 0 for -j 32", code)
	}
}

func TestRunMissingURLFile(t *testing.T) {
	resetFlags(t)
	t.Chdir(t.TempDir())
	if code := run([]string{"download", "missing.txt"}); code != ExitFailure {
		t.Errorf("exit = %d, want %d", code, ExitFailure)
	}
}

func TestReadURLSourceStdin(t *testing.T) {
	urls, skipped, err := readURLSource("-", strings.NewReader("https://example.com/a\nbogus\n"))
	if err != nil {
		t.Fatalf("readURLSource: %v", err)
	}
	if len(urls) != 1 || len(skipped) != 1 {
		t.Errorf("urls=%v skipped=%v", urls, skipped)
	}
}

func TestRunCleanupEmptyDir(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	t.Chdir(dir)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	if code := run([]string{"cleanup", "-d", dir}); code != ExitSuccess {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "Clean startup") {
		t.Errorf("output = %q", out.String())
	}
}
