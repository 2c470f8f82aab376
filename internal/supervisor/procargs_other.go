//go:build unix && !linux

package supervisor

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// processArgs asks ps for the command line. Arguments containing spaces are
// split, which is harmless for the flag match.
func processArgs(pid int) ([]string, error) {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return nil, fmt.Errorf("ps pid %d: %w", pid, err)
	}
	args := strings.Fields(string(out))
	if len(args) == 0 {
		return nil, fmt.Errorf("pid %d: empty command line", pid)
	}
	return args, nil
}
