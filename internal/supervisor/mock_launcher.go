//go:build unix

package supervisor

import (
	"sync"
	"time"
)

// LaunchCall records the arguments of one MockLauncher.Launch call.
type LaunchCall struct {
	Port   int
	Secret string
	Extra  []string
}

// MockLauncher stands in for Supervisor in tests. It starts no process; the
// returned handles have no PID and point at Port, typically a fake
// control-channel server.
type MockLauncher struct {
	// Port overrides the port reported by handles. Zero keeps the requested
	// port.
	Port int

	// Failures are returned by successive Launch calls before any succeeds.
	Failures []error

	mu         sync.Mutex
	calls      []LaunchCall
	terminated int
}

func (m *MockLauncher) Launch(port int, secret string, extra []string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, LaunchCall{Port: port, Secret: secret, Extra: extra})
	if len(m.calls) <= len(m.Failures) {
		return nil, m.Failures[len(m.calls)-1]
	}

	if m.Port != 0 {
		port = m.Port
	}
	return &Handle{
		Port:    port,
		Secret:  secret,
		Started: time.Now(),
	}, nil
}

func (m *MockLauncher) Terminate(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated++
}

// Calls returns a copy of the recorded Launch calls.
func (m *MockLauncher) Calls() []LaunchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LaunchCall(nil), m.calls...)
}

// Running is the number of successful launches not yet terminated.
func (m *MockLauncher) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	launched := len(m.calls) - len(m.Failures)
	if launched < 0 {
		launched = 0
	}
	return launched - m.terminated
}

// Terminated is the number of Terminate calls made with a handle.
func (m *MockLauncher) Terminated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}
