//go:build darwin

package supervisor

import "syscall"

// platformRange queries net.inet.ip.portrange.first/last.
func platformRange() (PortRange, bool) {
	lo, err := syscall.SysctlUint32("net.inet.ip.portrange.first")
	if err != nil {
		return PortRange{}, false
	}
	hi, err := syscall.SysctlUint32("net.inet.ip.portrange.last")
	if err != nil {
		return PortRange{}, false
	}
	return PortRange{Low: int(lo), High: int(hi)}, true
}
