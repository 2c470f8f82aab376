package preflight

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kylegalloway/ariaflow/internal/supervisor"
)

func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aria2c")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckDiskSpacePass(t *testing.T) {
	if err := CheckDiskSpace(t.TempDir(), 1); err != nil {
		t.Errorf("CheckDiskSpace: %v", err)
	}
}

func TestCheckDiskSpaceFail(t *testing.T) {
	err := CheckDiskSpace(t.TempDir(), 999999999)
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("error = %v, want ErrInsufficientSpace", err)
	}
}

func TestCheckDiskSpaceMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet", "created")
	if err := CheckDiskSpace(dir, 1); err != nil {
		t.Errorf("CheckDiskSpace on missing dir: %v", err)
	}
}

func TestLookPath(t *testing.T) {
	bin := fakeBinary(t)
	got, err := LookPath(bin)
	if err != nil {
		t.Fatalf("LookPath: %v", err)
	}
	if got != bin {
		t.Errorf("LookPath = %q, want %q", got, bin)
	}

	_, err = LookPath(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, supervisor.ErrBinaryNotFound) {
		t.Errorf("error = %v, want ErrBinaryNotFound", err)
	}
}

func TestRunJoinsFailures(t *testing.T) {
	_, err := Run(Checks{
		Binary:    filepath.Join(t.TempDir(), "missing"),
		Directory: t.TempDir(),
		MinDiskMB: 999999999,
	})
	if !errors.Is(err, supervisor.ErrBinaryNotFound) {
		t.Errorf("missing ErrBinaryNotFound in %v", err)
	}
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("missing ErrInsufficientSpace in %v", err)
	}
}

func TestRunOK(t *testing.T) {
	bin := fakeBinary(t)
	got, err := Run(Checks{Binary: bin, Directory: t.TempDir(), MinDiskMB: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != bin {
		t.Errorf("binary = %q", got)
	}

	if _, err := Run(Checks{Binary: bin, MinDiskMB: 0}); err != nil {
		t.Errorf("Run with disk check disabled: %v", err)
	}
}
