// Package transport is the TCP front door: it accepts connections, frames
// and deframes the tag=value wire format from internal/fixcodec, and hands
// decoded messages to a session.Facade for dispatch. Adapted from the
// teacher's internal/net server: same accept-loop/worker-pool/tomb shape,
// reworked around request/response framing instead of a length-prefixed
// binary protocol.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"limitbook/internal/fixcodec"
	"limitbook/internal/netutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultWorkers     = 16
	defaultReadTimeout = 30 * time.Second
	maxFrameSize       = 8 * 1024
)

// Dispatcher is the subset of session.Facade the transport layer depends on,
// kept as an interface so tests can supply a stub.
type Dispatcher interface {
	Dispatch(msg *fixcodec.Message) []*fixcodec.Message
}

// Server accepts FIX-framed TCP connections and dispatches each decoded
// message to a Dispatcher, writing back every response message it returns.
type Server struct {
	addr       string
	dispatcher Dispatcher
	pool       netutil.WorkerPool

	// dispatchMu serializes Dispatch calls across connections, so the
	// single Book behind the dispatcher sees one request at a time.
	dispatchMu sync.Mutex

	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a Server listening on addr (host:port) that dispatches through
// d. workers bounds concurrently-served connections; 0 selects a default.
func New(addr string, d Dispatcher, workers int) *Server {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Server{
		addr:       addr,
		dispatcher: d,
		pool:       netutil.NewWorkerPool(workers),
	}
}

// Shutdown closes the listener and stops accepting new connections. Already
// running connection handlers observe the tomb dying and return once their
// in-flight read completes.
func (s *Server) Shutdown() {
	log.Info().Msg("transport: shutting down")
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			log.Error().Err(err).Msg("transport: error closing listener")
		}
	}
}

// Run listens on addr and serves connections until ctx is cancelled or a
// fatal listener error occurs.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", s.addr, err)
	}
	s.listener = listener
	defer listener.Close()

	t.Go(func() error {
		s.pool.Run(t, s.handleConnection)
		return nil
	})

	// Accept blocks with no deadline, so ctx cancellation alone can't
	// unblock it — force it to return by closing the listener once the
	// context dies.
	t.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})

	log.Info().Str("addr", s.addr).Msg("transport: listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				t.Kill(nil)
				return t.Wait()
			default:
				log.Error().Err(err).Msg("transport: accept error")
				continue
			}
		}
		s.pool.AddTask(conn)
	}
}

// handleConnection owns one TCP connection end to end: it frames inbound
// bytes into fixcodec.Messages, dispatches each through s.dispatcher, and
// writes back every resulting message, looping until the peer disconnects,
// a frame cannot be read (including one over maxFrameSize), a write fails,
// or the tomb dies. A frame that fails to decode is logged and skipped.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return errors.New("transport: unexpected task type")
	}
	sessionID := uuid.NewString()
	logger := log.With().Str("session", sessionID).Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("transport: connection opened")

	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug().Err(err).Msg("transport: close error")
		}
		logger.Info().Msg("transport: connection closed")
	}()

	r := bufio.NewReader(conn)
	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(defaultReadTimeout))

		raw, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				logger.Debug().Err(err).Msg("transport: frame read error")
			}
			return nil
		}

		msg, err := fixcodec.Decode(raw)
		if err != nil {
			logger.Warn().Err(err).Msg("transport: malformed frame")
			continue
		}

		s.dispatchMu.Lock()
		resps := s.dispatcher.Dispatch(msg)
		s.dispatchMu.Unlock()

		for _, resp := range resps {
			if _, err := conn.Write(fixcodec.Encode(resp)); err != nil {
				logger.Debug().Err(err).Msg("transport: write error")
				return nil
			}
		}
	}
}

// readFrame reads SOH-delimited tag=value fields off r until it consumes a
// tag 10 (CheckSum) field, which always terminates a message, then returns
// the accumulated raw bytes for fixcodec.Decode.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var frame []byte
	for {
		field, err := r.ReadBytes(fixcodec.SOH)
		if err != nil {
			return nil, err
		}
		if len(frame)+len(field) > maxFrameSize {
			return nil, errors.New("transport: frame too large")
		}
		frame = append(frame, field...)
		if len(field) >= 3 && field[0] == '1' && field[1] == '0' && field[2] == '=' {
			return frame, nil
		}
	}
}
