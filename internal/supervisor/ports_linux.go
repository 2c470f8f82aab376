//go:build linux

package supervisor

import "os"

const portRangeFile = "/proc/sys/net/ipv4/ip_local_port_range"

func platformRange() (PortRange, bool) {
	return readPortRangeFile(portRangeFile)
}

func readPortRangeFile(path string) (PortRange, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PortRange{}, false
	}
	return parsePortRange(string(data))
}
