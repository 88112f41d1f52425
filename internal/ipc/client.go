package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"agentbrowser/internal/logging"
	"agentbrowser/internal/session"
)

const (
	// DefaultConnectTimeout bounds a single connect attempt.
	DefaultConnectTimeout = time.Second
	// DefaultReadTimeout bounds the wait for a response. Navigation and
	// screenshots can legitimately take several seconds.
	DefaultReadTimeout = 30 * time.Second
	// DefaultWriteTimeout bounds writing a command frame.
	DefaultWriteTimeout = 5 * time.Second
	// MaxFrameSize caps a single frame in either direction.
	MaxFrameSize = 16 << 20
)

// Client sends one command per connection to a session daemon.
type Client struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeouts overrides the connect, read and write timeouts. Zero values
// keep the defaults.
func WithTimeouts(connect, read, write time.Duration) ClientOption {
	return func(c *Client) {
		if connect > 0 {
			c.ConnectTimeout = connect
		}
		if read > 0 {
			c.ReadTimeout = read
		}
		if write > 0 {
			c.WriteTimeout = write
		}
	}
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = logger
	}
}

// NewClient returns a client with default timeouts.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	return c
}

// SendCommand resolves name inside dir and sends cmd to its daemon.
// Liveness is not checked first; an absent daemon surfaces as
// ErrTransportUnreachable.
func SendCommand(ctx context.Context, dir, name string, cmd Command, opts ...ClientOption) (*Response, error) {
	return NewClient(opts...).Send(ctx, session.Resolve(dir, name).Endpoint, cmd)
}

// Send delivers cmd to endpoint and returns the matching response. cmd
// receives an id if it has none. The connection is closed on every path.
func (c *Client) Send(ctx context.Context, endpoint session.Endpoint, cmd Command) (*Response, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrProtocol)
	}
	id := cmd.EnsureID()
	frame, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	if len(frame) >= MaxFrameSize {
		return nil, fmt.Errorf("%w: command of %d bytes exceeds frame limit", ErrProtocol, len(frame))
	}
	frame = append(frame, '\n')

	logger := c.Logger.With(logging.String(logging.FieldRequestID, id), logging.String(logging.FieldAction, cmd.Action()))

	dialer := net.Dialer{Timeout: c.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, endpoint.Network, endpoint.Address)
	if err != nil {
		logger.Debug("connect failed", logging.String("endpoint", endpoint.String()), logging.Error(err))
		return nil, &TransportError{Op: "connect", Endpoint: endpoint, Err: fmt.Errorf("%w: %w", ErrTransportUnreachable, err)}
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout)); err != nil {
		return nil, &TransportError{Op: "write", Endpoint: endpoint, Err: err}
	}
	if _, err := conn.Write(frame); err != nil {
		return nil, c.classify(ctx, "write", endpoint, err)
	}

	started := time.Now()
	if err := conn.SetReadDeadline(started.Add(c.ReadTimeout)); err != nil {
		return nil, &TransportError{Op: "read", Endpoint: endpoint, Err: err}
	}
	line, err := readFrame(bufio.NewReader(conn))
	if err != nil {
		return nil, c.classify(ctx, "read", endpoint, err)
	}

	resp, err := decodeResponse(line, id)
	if err != nil {
		return nil, &TransportError{Op: "decode", Endpoint: endpoint, Err: err}
	}
	logger.Debug("response received",
		logging.Bool("success", resp.Success),
		logging.Duration("elapsed", time.Since(started)),
	)
	return resp, nil
}

func (c *Client) classify(ctx context.Context, op string, endpoint session.Endpoint, err error) error {
	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
	case errors.Is(err, os.ErrDeadlineExceeded):
		if op == "read" {
			err = fmt.Errorf("%w after %s", ErrResponseTimeout, c.ReadTimeout)
		} else {
			err = fmt.Errorf("%w: write deadline exceeded", ErrProtocol)
		}
	case errors.Is(err, ErrProtocol):
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		err = fmt.Errorf("%w: connection closed before a complete response", ErrProtocol)
	default:
		err = fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &TransportError{Op: op, Endpoint: endpoint, Err: err}
}

// readFrame reads one newline-terminated frame. A frame without its
// terminating newline is reported as io.ErrUnexpectedEOF.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) > MaxFrameSize {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrProtocol, MaxFrameSize)
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return bytes.TrimRight(buf, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

func decodeResponse(line []byte, wantID string) (*Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrProtocol, err)
	}
	if wire.Success == nil {
		return nil, fmt.Errorf("%w: response missing \"success\"", ErrProtocol)
	}
	resp := &Response{Success: *wire.Success, Data: wire.Data, Error: wire.Error}
	if wire.ID != nil {
		if *wire.ID != wantID {
			return nil, fmt.Errorf("%w: response id %q does not match command id %q", ErrProtocol, *wire.ID, wantID)
		}
		resp.ID = *wire.ID
	}
	if bytes.Equal(resp.Data, []byte("null")) {
		resp.Data = nil
	}
	return resp, nil
}

// Probe connects to endpoint and immediately disconnects. It is the
// readiness check used while a daemon starts.
func Probe(ctx context.Context, endpoint session.Endpoint, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, endpoint.Network, endpoint.Address)
	if err != nil {
		return &TransportError{Op: "probe", Endpoint: endpoint, Err: fmt.Errorf("%w: %w", ErrTransportUnreachable, err)}
	}
	return conn.Close()
}
