//go:build unix

package supervisor

import "strconv"

// IsLaunchedAria2c reports whether pid is a process started by Launch for
// port: its command line must carry the RPC flags Launch passes. A pid whose
// arguments cannot be read does not match.
func IsLaunchedAria2c(pid, port int) bool {
	if pid <= 0 || port <= 0 {
		return false
	}
	args, err := processArgs(pid)
	if err != nil {
		return false
	}
	return launchedWith(args, port)
}

func launchedWith(args []string, port int) bool {
	wantPort := "--rpc-listen-port=" + strconv.Itoa(port)
	var rpc, listen bool
	for _, a := range args {
		switch a {
		case "--enable-rpc=true":
			rpc = true
		case wantPort:
			listen = true
		}
	}
	return rpc && listen
}
