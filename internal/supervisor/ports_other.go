//go:build unix && !linux && !darwin

package supervisor

func platformRange() (PortRange, bool) {
	return PortRange{}, false
}
