package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"agentbrowser/internal/logging"
	"agentbrowser/internal/session"
)

// Handler answers commands received by a Server.
type Handler interface {
	Handle(ctx context.Context, cmd Command) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd Command) Response {
	return f(ctx, cmd)
}

// Server accepts newline-delimited JSON commands on a session endpoint.
type Server struct {
	endpoint session.Endpoint
	handler  Handler
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer binds endpoint. A leftover unix socket file is removed first;
// callers must hold the session marker so no live daemon owns it.
func NewServer(ctx context.Context, endpoint session.Endpoint, handler Handler, logger *slog.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("ipc server requires handler")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if endpoint.Network == "unix" {
		if err := os.RemoveAll(endpoint.Address); err != nil {
			return nil, fmt.Errorf("remove existing socket: %w", err)
		}
	}

	listener, err := net.Listen(endpoint.Network, endpoint.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", endpoint, err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		endpoint: endpoint,
		handler:  handler,
		logger:   logging.NewComponentLogger(logger, "ipc"),
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting connections until the context is canceled or
// Close is called. It returns immediately.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("endpoint", s.endpoint.String()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "CLI invocations may fail to connect"),
					logging.String(logging.FieldErrorHint, "check runtime_dir permissions and restart the session"),
				)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.serveConn(c)
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := readFrame(reader)
		if err != nil {
			if errors.Is(err, ErrProtocol) {
				s.reply(conn, Fail("", "invalid command: "+err.Error()))
			}
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !s.reply(conn, s.dispatch(line)) {
			return
		}
		if s.ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) dispatch(line []byte) Response {
	var cmd Command
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.UseNumber()
	if err := decoder.Decode(&cmd); err != nil || cmd == nil {
		if err == nil {
			err = errors.New("expected a JSON object")
		}
		return Fail("", "invalid command: "+err.Error())
	}
	id := cmd.ID()
	if cmd.Action() == "" {
		return Fail(id, "invalid command: missing action")
	}

	ctx := logging.WithRequestID(s.ctx, id)
	logger := logging.WithContext(ctx, s.logger)
	started := time.Now()
	resp := s.handler.Handle(ctx, cmd)
	resp.ID = id
	logger.Debug("command handled",
		logging.String(logging.FieldAction, cmd.Action()),
		logging.Bool("success", resp.Success),
		logging.Duration("elapsed", time.Since(started)),
	)
	return resp
}

func (s *Server) reply(conn net.Conn, resp Response) bool {
	payload, err := json.Marshal(resp)
	if err != nil {
		payload, _ = json.Marshal(Fail(resp.ID, fmt.Sprintf("encode response: %v", err)))
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		s.logger.Debug("write response failed", logging.String(logging.FieldRequestID, resp.ID), logging.Error(err))
		return false
	}
	return true
}

// Close stops accepting, lets in-flight commands write their response,
// closes every connection, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()

	// Expiring the read deadline unblocks idle readers without cutting off
	// a reply that is still being written.
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	s.conns = nil
	s.mu.Unlock()

	s.wg.Wait()
	if s.endpoint.Network != "unix" {
		return
	}
	if err := os.Remove(s.endpoint.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.endpoint.Address),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket file left in runtime_dir"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}
