package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dredigo/internal/command"
	"dredigo/internal/config"
	"dredigo/internal/conn"
	"dredigo/internal/metrics"
	"dredigo/internal/pubsub"
	"dredigo/internal/resp"
)

// Server accepts raw TCP connections and speaks RESP over them, dispatching
// each command vector through a command.Dispatcher and fanning pub/sub
// pushes out through a pubsub.Hub.
type Server struct {
	cfg        config.Config
	logger     *zap.Logger
	hub        *pubsub.Hub
	dispatcher *command.Dispatcher
	metrics    *metrics.Registry

	listener    net.Listener
	wg          sync.WaitGroup
	nextID      uint64
	activeConns int64
}

// ActiveConnections returns the current number of accepted connections
// still being served, for the /healthz endpoint.
func (s *Server) ActiveConnections() int {
	return int(atomic.LoadInt64(&s.activeConns))
}

func NewServer(cfg config.Config, logger *zap.Logger, hub *pubsub.Hub, dispatcher *command.Dispatcher, metricsRegistry *metrics.Registry) *Server {
	return &Server{cfg: cfg, logger: logger, hub: hub, dispatcher: dispatcher, metrics: metricsRegistry}
}

func (s *Server) Start(ctx context.Context) error {
	if s.listener != nil {
		return errors.New("transport already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.logger.Info("transport listening", zap.String("addr", addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	return nil
}

func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		rawConn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.Commands.AcceptErrors.Inc()
			}
			s.logger.Error("accept error", zap.Error(err))
			return
		}

		atomic.AddInt64(&s.activeConns, 1)
		if s.metrics != nil {
			s.metrics.Connections.ActiveConnections.Inc()
		}

		s.wg.Add(1)
		go func(rc net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, rc)
			atomic.AddInt64(&s.activeConns, -1)
			if s.metrics != nil {
				s.metrics.Connections.ActiveConnections.Dec()
			}
		}(rawConn)
	}
}

func (s *Server) nextConnID() uint64 {
	return atomic.AddUint64(&s.nextID, 1)
}

// handleConnection runs the read and write loops for one accepted
// connection. The read loop drives dispatch inline; the write loop runs
// on its own goroutine draining the connection's send queue, the same
// pairing the teacher uses for its hub broadcasts.
func (s *Server) handleConnection(parent context.Context, rawConn net.Conn) {
	defer rawConn.Close()

	c := conn.New(s.nextConnID(), rawConn, s.cfg.PubSub.SendChannelSize)
	s.hub.Register(c)
	defer s.hub.Unregister(c)

	connCtx, cancel := context.WithCancel(parent)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(connCtx, c)
	}()

	s.readLoop(connCtx, c)
	cancel()
	<-done
}

// readLoop decodes one command vector at a time and dispatches it.
// A dispatch can yield zero, one, or several response values (SUBSCRIBE
// and its pattern/unsubscribe variants reply once per channel/pattern);
// each is enqueued separately so the write loop emits them back to back
// with no array wrapper, which is exactly what a Multiple-Responses
// reply is: N ordinary frames in a row.
func (s *Server) readLoop(ctx context.Context, c *conn.Connection) {
	reader := resp.NewReader(c.Conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.cfg.Server.ReadTimeout > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(s.cfg.Server.ReadTimeout))
		}

		cmdVec, err := reader.ReadCommand()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("read command error", zap.Error(err))
			}
			return
		}
		if cmdVec == nil {
			continue
		}

		responses, terminal := s.dispatcher.Dispatch(c, cmdVec)
		for _, v := range responses {
			// A reply to the client's own command is never dropped: the
			// write is a suspension point on the read loop, not a
			// best-effort push. Only pub/sub fan-out (in pubsub.Hub) uses
			// the non-blocking, drop-on-full Enqueue.
			if err := c.Send(ctx, v); err != nil {
				s.logger.Debug("send response canceled", zap.Uint64("conn", c.ID), zap.Error(err))
				return
			}
		}
		if terminal {
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *conn.Connection) {
	writer := resp.NewWriter(c.Conn)
	for {
		select {
		case <-ctx.Done():
			// Flush what the read loop already queued (e.g. QUIT's OK)
			// before the connection is closed.
			for {
				select {
				case v := <-c.SendQueue:
					if err := writer.WriteValue(v); err != nil {
						return
					}
				default:
					return
				}
			}
		case v, ok := <-c.SendQueue:
			if !ok {
				return
			}
			if err := writer.WriteValue(v); err != nil {
				s.logger.Debug("write value error", zap.Error(err))
				return
			}
		}
	}
}
