// Package preflight checks the host before an aria2c session is started.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/kylegalloway/ariaflow/internal/supervisor"
)

// DefaultMinDiskSpaceMB is the free space required in the download directory.
const DefaultMinDiskSpaceMB = 100

// ErrInsufficientSpace is returned when the download directory's filesystem
// is too full.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// Checks configures Run.
type Checks struct {
	Binary    string
	Directory string
	// MinDiskMB of zero disables the disk check.
	MinDiskMB int
}

// Run performs every configured check and returns the resolved binary path.
// All failures are reported together.
func Run(c Checks) (string, error) {
	var errs []error

	bin, err := LookPath(c.Binary)
	if err != nil {
		errs = append(errs, err)
	}
	if c.MinDiskMB > 0 {
		if err := CheckDiskSpace(c.Directory, c.MinDiskMB); err != nil {
			errs = append(errs, err)
		}
	}
	return bin, errors.Join(errs...)
}

// LookPath resolves the aria2c executable.
func LookPath(binary string) (string, error) {
	if binary == "" {
		binary = supervisor.DefaultBinary
	}
	p, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s (install aria2 or set download.aria2c_path)", supervisor.ErrBinaryNotFound, binary)
	}
	return p, nil
}

// CheckDiskSpace checks if the filesystem holding path has at least minMB
// megabytes free. A path that does not exist yet is checked at its nearest
// existing ancestor.
func CheckDiskSpace(path string, minMB int) error {
	target, err := existingAncestor(path)
	if err != nil {
		return err
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(target, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", target, err)
	}

	availableMB := stat.Bavail * uint64(stat.Bsize) / (1024 * 1024)
	if availableMB < uint64(minMB) {
		return fmt.Errorf("%w: %d MB available, %d MB required at %s",
			ErrInsufficientSpace, availableMB, minMB, target)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", abs, err)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		abs = parent
	}
}
