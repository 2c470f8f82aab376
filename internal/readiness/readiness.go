// Package readiness waits for a freshly launched aria2c to accept TCP
// connections and then to answer its JSON-RPC handshake.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kylegalloway/ariaflow/internal/retry"
	"github.com/kylegalloway/ariaflow/internal/rpc"
)

// DialTimeout bounds a single TCP connection attempt.
const DialTimeout = 250 * time.Millisecond

var (
	ErrTCPNotReady = errors.New("control port not accepting connections")
	ErrRPCNotReady = errors.New("control channel not answering")
)

var errNoVersion = errors.New("handshake returned no version")

// Error reports a readiness check that ran out of retries. Kind is
// ErrTCPNotReady or ErrRPCNotReady.
type Error struct {
	Kind error
	Addr string
	Err  error
}

func (e *Error) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v on %s: %v", e.Kind, e.Addr, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// DefaultTCPPolicy is the retry schedule for AwaitTCP.
func DefaultTCPPolicy() retry.Policy {
	return retry.Policy{
		Name:        "tcp-ready",
		InitialWait: 50 * time.Millisecond,
		MaxWait:     time.Second,
		Multiplier:  2,
		Timeout:     3 * time.Second,
	}
}

// DefaultRPCPolicy is the retry schedule for AwaitRPC.
func DefaultRPCPolicy() retry.Policy {
	return retry.Policy{
		Name:        "rpc-ready",
		InitialWait: 100 * time.Millisecond,
		MaxWait:     1500 * time.Millisecond,
		Multiplier:  2,
		Timeout:     3 * time.Second,
	}
}

// AwaitTCP retries a TCP connect to host:port until one is accepted.
func AwaitTCP(ctx context.Context, host string, port int, p retry.Policy) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	err := retry.Do(ctx, p, func(ctx context.Context) error {
		d := net.Dialer{Timeout: DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
	if err == nil || ctx.Err() != nil {
		return err
	}
	return &Error{Kind: ErrTCPNotReady, Addr: addr, Err: err}
}

// VersionProber performs the aria2.getVersion handshake.
type VersionProber interface {
	GetVersion(ctx context.Context) (rpc.VersionInfo, error)
}

// AwaitRPC retries the handshake until it yields a version. addr names the
// control channel in the returned error.
func AwaitRPC(ctx context.Context, prober VersionProber, addr string, p retry.Policy) (rpc.VersionInfo, error) {
	var info rpc.VersionInfo
	err := retry.Do(ctx, p, func(ctx context.Context) error {
		v, err := prober.GetVersion(ctx)
		if err != nil {
			return err
		}
		if v.Version == "" {
			return errNoVersion
		}
		info = v
		return nil
	})
	if err == nil || ctx.Err() != nil {
		return info, err
	}
	return rpc.VersionInfo{}, &Error{Kind: ErrRPCNotReady, Addr: addr, Err: err}
}
