package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kylegalloway/ariaflow/internal/logging"
	"github.com/kylegalloway/ariaflow/internal/sanitize"
)

// Transport names accepted by Dial.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// ErrCommunication is matched by every error returned from Client.Call.
var ErrCommunication = errors.New("rpc communication failed")

// CallError reports a failed control-channel call. Transport failures,
// protocol violations and remote error objects all surface as CallError.
type CallError struct {
	Method Method
	Err    error
	secret string
}

func (e *CallError) Error() string {
	return sanitize.Secret(fmt.Sprintf("rpc %s: %v", e.Method, e.Err), e.secret)
}

// Unwrap exposes ErrCommunication and the underlying cause.
func (e *CallError) Unwrap() []error {
	return []error{ErrCommunication, e.Err}
}

// RemoteError is a JSON-RPC error object returned by aria2.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// Transport carries one JSON-RPC request/response exchange.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// Config describes the control-channel endpoint.
type Config struct {
	Host      string
	Port      int
	Secret    string
	Transport string        // "http" (default) or "websocket"
	Timeout   time.Duration // per call; default 10s
}

// Client issues authenticated aria2 calls. It holds only the endpoint, the
// secret and its transport, and may be reused for any number of calls.
type Client struct {
	transport Transport
	secret    string
	logger    *slog.Logger
	newID     func() string
}

// NewClient wraps a transport. An empty secret disables the token parameter.
func NewClient(t Transport, secret string, logger *slog.Logger) *Client {
	return &Client{
		transport: t,
		secret:    secret,
		logger:    logging.OrDiscard(logger),
		newID:     uuid.NewString,
	}
}

// Dial builds a Client for the endpoint in cfg. No connection is made until
// the first call.
func Dial(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	var t Transport
	switch cfg.Transport {
	case "", TransportHTTP:
		t = NewHTTPTransport(Endpoint("http", cfg.Host, cfg.Port), cfg.Timeout)
	case TransportWebSocket:
		t = NewWSTransport(Endpoint("ws", cfg.Host, cfg.Port), cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown rpc transport %q", cfg.Transport)
	}
	return NewClient(t, cfg.Secret, logger), nil
}

// Endpoint returns the aria2 JSON-RPC URL for scheme ("http" or "ws").
func Endpoint(scheme, host string, port int) string {
	return fmt.Sprintf("%s://%s/jsonrpc", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Call invokes method with params, prepending the secret token when set.
func (c *Client) Call(ctx context.Context, method Method, params ...any) (json.RawMessage, error) {
	if !method.Valid() {
		return nil, c.fail(method, fmt.Errorf("unsupported method"))
	}

	if c.secret != "" {
		params = append([]any{"token:" + c.secret}, params...)
	}
	if params == nil {
		params = []any{}
	}

	req := &Request{
		JSONRPC: "2.0",
		ID:      c.newID(),
		Method:  method,
		Params:  params,
	}

	start := time.Now()
	resp, err := c.transport.RoundTrip(ctx, req)
	if err != nil {
		return nil, c.fail(method, err)
	}
	if resp.Error != nil {
		return nil, c.fail(method, resp.Error)
	}
	if resp.ID != req.ID {
		return nil, c.fail(method, fmt.Errorf("response id %q does not match request id %q", resp.ID, req.ID))
	}

	c.logger.Debug("rpc call", "method", string(method), "elapsed", time.Since(start))
	return resp.Result, nil
}

func (c *Client) fail(method Method, err error) error {
	callErr := &CallError{Method: method, Err: err, secret: c.secret}
	c.logger.Debug("rpc call failed", "method", string(method), "error", callErr.Error())
	return callErr
}

// GetVersion performs the handshake call used for readiness checks.
func (c *Client) GetVersion(ctx context.Context) (VersionInfo, error) {
	raw, err := c.Call(ctx, MethodGetVersion)
	if err != nil {
		return VersionInfo{}, err
	}
	v, err := DecodeVersion(raw)
	if err != nil {
		return VersionInfo{}, c.fail(MethodGetVersion, err)
	}
	return v, nil
}

// AddURI queues one download and returns its GID.
func (c *Client) AddURI(ctx context.Context, uris []string, opts AddOptions) (string, error) {
	raw, err := c.Call(ctx, MethodAddURI, uris, opts.params())
	if err != nil {
		return "", err
	}
	gid, err := DecodeGID(raw)
	if err != nil {
		return "", c.fail(MethodAddURI, err)
	}
	return gid, nil
}

// TellActive lists the downloads in progress.
func (c *Client) TellActive(ctx context.Context) ([]Entry, error) {
	return c.entries(ctx, MethodTellActive)
}

// TellWaiting lists up to num queued downloads starting at offset.
func (c *Client) TellWaiting(ctx context.Context, offset, num int) ([]Entry, error) {
	return c.entries(ctx, MethodTellWaiting, offset, num)
}

// TellStopped lists up to num stopped downloads starting at offset.
func (c *Client) TellStopped(ctx context.Context, offset, num int) ([]Entry, error) {
	return c.entries(ctx, MethodTellStopped, offset, num)
}

func (c *Client) entries(ctx context.Context, method Method, params ...any) ([]Entry, error) {
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	entries, err := DecodeEntries(raw)
	if err != nil {
		return nil, c.fail(method, err)
	}
	return entries, nil
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
