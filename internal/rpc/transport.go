package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxResponseBytes bounds a single response body. tellStopped with a full
// page of multi-file entries stays well under this.
const maxResponseBytes = 32 << 20

// HTTPTransport posts JSON-RPC requests to aria2's /jsonrpc endpoint.
type HTTPTransport struct {
	url    string
	client *http.Client
}

// NewHTTPTransport creates an HTTP transport with a per-request timeout.
func NewHTTPTransport(url string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               nil, // loopback only
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// aria2 answers remote errors with a 4xx status and a JSON-RPC error body.
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error == nil && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return &out, nil
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// WSTransport speaks JSON-RPC over a WebSocket connection to aria2's /jsonrpc
// endpoint. The connection is dialed on first use and redialed after any
// failure. Notifications pushed by aria2 are skipped.
type WSTransport struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer

	mu   sync.Mutex // one request in flight
	conn *websocket.Conn
}

// NewWSTransport creates a WebSocket transport with a per-request timeout.
func NewWSTransport(url string, timeout time.Duration) *WSTransport {
	return &WSTransport{
		url:     url,
		timeout: timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
	}
}

func (t *WSTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", t.url, err)
		}
		conn.SetReadLimit(maxResponseBytes)
		t.conn = conn
	}

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	resp, err := t.exchange(req, deadline)
	if err != nil {
		t.conn.Close()
		t.conn = nil
		return nil, err
	}
	return resp, nil
}

func (t *WSTransport) exchange(req *Request, deadline time.Time) (*Response, error) {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err := t.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		var resp Response
		if err := t.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.ID == "" && resp.Method != "" {
			continue // notification, e.g. aria2.onDownloadComplete
		}
		if resp.ID != req.ID {
			return nil, errors.New("response out of sequence")
		}
		return &resp, nil
	}
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := t.conn.Close()
	t.conn = nil
	return err
}
