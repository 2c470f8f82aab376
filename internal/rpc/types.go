package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Method is one of the aria2 control-channel operations this client issues.
type Method string

const (
	MethodGetVersion  Method = "aria2.getVersion"
	MethodAddURI      Method = "aria2.addUri"
	MethodTellActive  Method = "aria2.tellActive"
	MethodTellWaiting Method = "aria2.tellWaiting"
	MethodTellStopped Method = "aria2.tellStopped"
)

// Valid reports whether m belongs to the supported set.
func (m Method) Valid() bool {
	switch m {
	case MethodGetVersion, MethodAddURI, MethodTellActive, MethodTellWaiting, MethodTellStopped:
		return true
	}
	return false
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  Method `json:"method"`
	Params  []any  `json:"params"`
}

// Response is a JSON-RPC 2.0 response. Notifications pushed by aria2 over
// WebSocket carry Method and no ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`
}

// VersionInfo is the aria2.getVersion payload.
type VersionInfo struct {
	Version         string   `json:"version"`
	EnabledFeatures []string `json:"enabledFeatures"`
}

// AddOptions are the per-task options sent with aria2.addUri.
type AddOptions struct {
	Dir            string
	Out            string
	Continue       bool
	CheckIntegrity bool
}

func (o AddOptions) params() map[string]string {
	p := map[string]string{
		"continue":        strconv.FormatBool(o.Continue),
		"check-integrity": strconv.FormatBool(o.CheckIntegrity),
	}
	if o.Dir != "" {
		p["dir"] = o.Dir
	}
	if o.Out != "" {
		p["out"] = o.Out
	}
	return p
}

// File is one file of a download as reported by aria2.
type File struct {
	Index           int
	Path            string
	Length          int64
	CompletedLength int64
	URIs            []string
}

// Entry is one task from aria2.tellActive, tellWaiting or tellStopped.
type Entry struct {
	GID             string
	Status          string
	TotalLength     int64
	CompletedLength int64
	DownloadSpeed   int64
	ErrorCode       string
	ErrorMessage    string
	Files           []File
}

// Paths returns the reported file paths in index order.
func (e Entry) Paths() []string {
	paths := make([]string, 0, len(e.Files))
	for _, f := range e.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// count decodes aria2's string-encoded integers. Plain JSON numbers are
// accepted too; anything else is a decoding error.
type count int64

func (c *count) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("want integer string, got %s", data)
		}
		s = n.String()
	}
	if s == "" {
		*c = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("want integer string, got %q", s)
	}
	*c = count(v)
	return nil
}
