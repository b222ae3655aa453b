// Package ipc is the local control socket: one JSON request per line, one
// JSON response per line.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"

	"carescribe/internal/audio"
	"carescribe/internal/domain"
)

const DefaultSocketPath = "/tmp/carescribe.sock"

// maxLine bounds one request; imports carry paths, not audio.
const maxLine = 1 << 20

type Request struct {
	Cmd     string `json:"cmd"`
	Session string `json:"session,omitempty"`
	Text    string `json:"text,omitempty"`
	Segment string `json:"segment,omitempty"`
	Path    string `json:"path,omitempty"`
}

type Response struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Session  string          `json:"session,omitempty"`
	State    string          `json:"state,omitempty"`
	Recorder string          `json:"recorder,omitempty"`
	Progress float64         `json:"progress"`
	Question string          `json:"question,omitempty"`
	Report   *domain.Report  `json:"report,omitempty"`
	Segment  *audio.Segment  `json:"segment,omitempty"`
	Segments []audio.Segment `json:"segments,omitempty"`
}

func Fail(err error) Response {
	return Response{Error: err.Error()}
}

type Handler func(ctx context.Context, req Request) Response

type Server struct {
	path    string
	handler Handler

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(path string, handler Handler) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Server{path: path, handler: handler}
}

// Start removes a stale socket, listens and serves in the background until
// ctx is done or Close is called.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn("Accept failed", "err", err)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(ctx, conn)
			}()
		}
	}()

	log.Info("Control socket ready", "path", s.path)
	return nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	_ = os.Remove(s.path)
	return err
}

// Wait blocks until the accept loop and open connections are done.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	enc := json.NewEncoder(conn)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		var resp Response
		if err := json.Unmarshal(line, &req); err != nil {
			resp = Fail(fmt.Errorf("bad request: %w", err))
		} else {
			log.Debug("Control request", "cmd", req.Cmd, "session", req.Session)
			resp = s.handler(ctx, req)
		}

		if err := enc.Encode(resp); err != nil {
			log.Warn("Failed to write response", "err", err)
			return
		}
	}
}

// Send dials the socket, sends one request and reads its response.
func Send(ctx context.Context, path string, req Request) (Response, error) {
	if path == "" {
		path = DefaultSocketPath
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
