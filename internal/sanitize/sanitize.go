package sanitize

import "strings"

// Mask replaces secrets in logged output.
const Mask = "***"

// secretFlags are aria2c options whose values must not reach logs.
var secretFlags = []string{
	"--rpc-secret=",
	"--http-passwd=",
	"--ftp-passwd=",
}

// Args returns a copy of a command line with secret-bearing flag values masked.
func Args(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = arg
		for _, flag := range secretFlags {
			if strings.HasPrefix(arg, flag) && len(arg) > len(flag) {
				out[i] = flag + Mask
				break
			}
		}
	}
	return out
}

// Secret removes every occurrence of secret from s, including the
// "token:<secret>" form used on the control channel.
func Secret(s, secret string) string {
	if secret == "" {
		return s
	}
	s = strings.ReplaceAll(s, "token:"+secret, "token:"+Mask)
	return strings.ReplaceAll(s, secret, Mask)
}
