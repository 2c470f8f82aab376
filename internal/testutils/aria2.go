// Package testutils provides shared test infrastructure: an in-process
// server that speaks aria2's JSON-RPC dialect over HTTP and WebSocket.
package testutils

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// Entry builds a task entry shaped like aria2's tell* results, with every
// number string-encoded.
func Entry(gid, status string, total, completed int64, path string) map[string]any {
	e := map[string]any{
		"gid":             gid,
		"status":          status,
		"totalLength":     strconv.FormatInt(total, 10),
		"completedLength": strconv.FormatInt(completed, 10),
		"downloadSpeed":   "0",
		"files":           []any{},
	}
	if path != "" {
		e["files"] = []any{map[string]any{
			"index":           "1",
			"path":            path,
			"length":          strconv.FormatInt(total, 10),
			"completedLength": strconv.FormatInt(completed, 10),
			"selected":        "true",
			"uris":            []any{},
		}}
	}
	return e
}

// ErrorEntry builds a stopped entry carrying an aria2 error code and message.
func ErrorEntry(gid string, total, completed int64, path, code, message string) map[string]any {
	e := Entry(gid, "error", total, completed, path)
	e["errorCode"] = code
	e["errorMessage"] = message
	return e
}

// Snapshot is the content of the three remote queues at one instant.
type Snapshot struct {
	Waiting []map[string]any
	Active  []map[string]any
	Stopped []map[string]any
}

// AddedURI records one aria2.addUri call.
type AddedURI struct {
	GID     string
	URIs    []string
	Options map[string]string
}

// FakeAria2 emulates the subset of the aria2 control channel ariaflow uses.
//
// Queues are served from Current. Each aria2.tellWaiting call first advances
// Current to the next entry of Steps, so a test can script how the queues
// evolve across polls.
type FakeAria2 struct {
	Secret  string
	Version string

	// Notify makes the WebSocket handler push a notification before every
	// response.
	Notify bool

	// Fail maps a method name to a JSON-RPC error returned for it.
	Fail map[string]string

	// RawResults overrides the result of a method with raw JSON.
	RawResults map[string]string

	mu      sync.Mutex
	Current Snapshot
	Steps   []Snapshot
	Added   []AddedURI
	Calls   []string
	Tokens  []string
	nextGID int

	server   *httptest.Server
	upgrader websocket.Upgrader
}

// NewFakeAria2 starts a fake server that is closed when the test ends.
func NewFakeAria2(t *testing.T) *FakeAria2 {
	t.Helper()
	f := &FakeAria2{
		Version:    "1.37.0",
		Fail:       map[string]string{},
		RawResults: map[string]string{},
	}
	f.server = httptest.NewServer(f)
	t.Cleanup(f.server.Close)
	return f
}

// Host returns the listening host.
func (f *FakeAria2) Host() string {
	host, _, _ := net.SplitHostPort(f.server.Listener.Addr().String())
	return host
}

// Port returns the listening port.
func (f *FakeAria2) Port() int {
	return f.server.Listener.Addr().(*net.TCPAddr).Port
}

// Close stops the server early.
func (f *FakeAria2) Close() {
	f.server.Close()
}

// SetCurrent replaces the served queues.
func (f *FakeAria2) SetCurrent(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Current = s
}

// Script queues snapshots to be served on successive polls.
func (f *FakeAria2) Script(steps ...Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Steps = append(f.Steps, steps...)
}

// CallCount returns how many times method was called.
func (f *FakeAria2) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == method {
			n++
		}
	}
	return n
}

// AddedURIs returns a copy of the recorded addUri calls.
func (f *FakeAria2) AddedURIs() []AddedURI {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AddedURI(nil), f.Added...)
}

// ReceivedTokens returns the first parameter of every call when it was a
// string starting with "token:".
func (f *FakeAria2) ReceivedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Tokens...)
}

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  []any           `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (f *FakeAria2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/jsonrpc" {
		http.NotFound(w, r)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		f.serveWS(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "Parse error."}})
		return
	}

	resp := f.handle(req)
	w.Header().Set("Content-Type", "application/json-rpc")
	if resp.Error != nil {
		w.WriteHeader(http.StatusBadRequest)
	}
	json.NewEncoder(w).Encode(resp)
}

func (f *FakeAria2) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if f.Notify {
			note := response{
				JSONRPC: "2.0",
				Method:  "aria2.onDownloadStart",
				Params:  []any{map[string]string{"gid": "0000000000000000"}},
			}
			if err := conn.WriteJSON(note); err != nil {
				return
			}
		}
		if err := conn.WriteJSON(f.handle(req)); err != nil {
			return
		}
	}
}

func (f *FakeAria2) handle(req request) response {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, req.Method)
	resp := response{JSONRPC: "2.0", ID: req.ID}

	params := req.Params
	if len(params) > 0 {
		var first string
		if json.Unmarshal(params[0], &first) == nil && len(first) > 6 && first[:6] == "token:" {
			f.Tokens = append(f.Tokens, first)
			params = params[1:]
			if f.Secret != "" && first != "token:"+f.Secret {
				resp.Error = &rpcError{Code: 1, Message: "Unauthorized"}
				return resp
			}
		} else if f.Secret != "" {
			resp.Error = &rpcError{Code: 1, Message: "Unauthorized"}
			return resp
		}
	} else if f.Secret != "" {
		resp.Error = &rpcError{Code: 1, Message: "Unauthorized"}
		return resp
	}

	if msg, ok := f.Fail[req.Method]; ok {
		resp.Error = &rpcError{Code: 1, Message: msg}
		return resp
	}
	if raw, ok := f.RawResults[req.Method]; ok {
		resp.Result = json.RawMessage(raw)
		return resp
	}

	var result any
	switch req.Method {
	case "aria2.getVersion":
		result = map[string]any{"version": f.Version, "enabledFeatures": []string{"HTTPS", "Metalink"}}
	case "aria2.addUri":
		added := AddedURI{GID: fmt.Sprintf("%016x", 0x2089b05ecca3d800+f.nextGID)}
		f.nextGID++
		if len(params) > 0 {
			json.Unmarshal(params[0], &added.URIs)
		}
		if len(params) > 1 {
			json.Unmarshal(params[1], &added.Options)
		}
		f.Added = append(f.Added, added)
		result = added.GID
	case "aria2.tellWaiting":
		if len(f.Steps) > 0 {
			f.Current = f.Steps[0]
			f.Steps = f.Steps[1:]
		}
		result = page(f.Current.Waiting, params)
	case "aria2.tellActive":
		result = nonNil(f.Current.Active)
	case "aria2.tellStopped":
		result = page(f.Current.Stopped, params)
	default:
		resp.Error = &rpcError{Code: 1, Message: "No such method: " + req.Method}
		return resp
	}

	data, _ := json.Marshal(result)
	resp.Result = data
	return resp
}

func page(entries []map[string]any, params []json.RawMessage) []map[string]any {
	entries = nonNil(entries)
	if len(params) < 2 {
		return entries
	}
	var offset, num int
	json.Unmarshal(params[0], &offset)
	json.Unmarshal(params[1], &num)
	if offset >= len(entries) {
		return []map[string]any{}
	}
	end := offset + num
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}

func nonNil(entries []map[string]any) []map[string]any {
	if entries == nil {
		return []map[string]any{}
	}
	return entries
}
