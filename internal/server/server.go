package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type connMetrics interface {
	ConnOpened()
	ConnClosed()
	ReadTimeout()
}

// Server accepts TCP connections and serves the line protocol, one
// goroutine per connection. A connection stays open across commands until
// the client closes it, a read deadline expires or the server shuts down.
type Server struct {
	addr        string
	router      *Router
	readTimeout time.Duration
	metrics     connMetrics
	logger      *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer constructs a Server. metrics may be nil.
func NewServer(addr string, router *Router, readTimeout time.Duration, metrics connMetrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:        addr,
		router:      router,
		readTimeout: readTimeout,
		metrics:     metrics,
		logger:      logger,
		conns:       make(map[net.Conn]struct{}),
	}
}

// ListenAndServe blocks until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("request engine listening", zap.String("addr", s.addr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return err
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr reports the bound listener address, or nil before ListenAndServe.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, closes live connections and waits for the
// handler goroutines to drain or the context to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ConnOpened()
		defer s.metrics.ConnClosed()
	}

	state := &ConnState{ID: uuid.New().String()}
	log := s.logger.With(
		zap.String("connection_id", state.ID),
		zap.String("remote_addr", conn.RemoteAddr().String()))
	log.Debug("connection opened")

	reader := bufio.NewReader(conn)
	for {
		if s.readTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
				log.Warn("failed to arm read deadline", zap.Error(err))
				return
			}
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			var nerr net.Error
			switch {
			case errors.Is(err, io.EOF):
				log.Debug("connection closed by client")
			case errors.As(err, &nerr) && nerr.Timeout():
				if s.metrics != nil {
					s.metrics.ReadTimeout()
				}
				log.Info("connection idle past read deadline")
			default:
				log.Warn("connection read failed", zap.Error(err))
			}
			return
		}

		resp := s.router.Dispatch(context.Background(), state, line)
		if _, err := conn.Write([]byte(resp + "\n")); err != nil {
			log.Warn("connection write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
