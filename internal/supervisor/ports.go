//go:build unix

package supervisor

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

// PortRange is an inclusive range of TCP ports.
type PortRange struct {
	Low  int
	High int
}

// FallbackRange is used when the platform range cannot be determined.
var FallbackRange = PortRange{Low: 30000, High: 60999}

func (r PortRange) valid() bool {
	return r.Low >= 1024 && r.High <= 65535 && r.Low <= r.High
}

// Contains reports whether port lies in r.
func (r PortRange) Contains(port int) bool {
	return port >= r.Low && port <= r.High
}

// EphemeralRange returns the operating system's ephemeral port range, or
// FallbackRange when it is unavailable or implausible.
func EphemeralRange() PortRange {
	r, ok := platformRange()
	if !ok || !r.valid() {
		return FallbackRange
	}
	return r
}

// RandomPort picks a port uniformly from the ephemeral range. The port is not
// checked for availability; a collision surfaces as an early exit of aria2c.
func RandomPort() int {
	return randomIn(EphemeralRange())
}

func randomIn(r PortRange) int {
	return r.Low + rand.IntN(r.High-r.Low+1)
}

// parsePortRange parses "low<whitespace>high".
func parsePortRange(s string) (PortRange, bool) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return PortRange{}, false
	}
	lo, err := strconv.Atoi(fields[0])
	if err != nil {
		return PortRange{}, false
	}
	hi, err := strconv.Atoi(fields[1])
	if err != nil {
		return PortRange{}, false
	}
	r := PortRange{Low: lo, High: hi}
	return r, r.valid()
}
