// Package receiver listens for code submissions on a UDP socket.
//
// Every datagram is decoded as UTF-8 (invalid bytes are dropped), trimmed,
// and, when non-empty, handed to the Handler together with the sender's
// address. The transport is receive-only: the sender never gets a reply.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/snipbox/metrics"
)

// Handler accepts decoded messages. It must not block on their processing.
type Handler interface {
	OnMessage(text, sender string) (uuid.UUID, error)
}

// Receiver reads datagrams and forwards them to a Handler.
type Receiver struct {
	logger      *zap.Logger
	addr        string
	maxDatagram int
	handler     Handler
	metrics     *metrics.Metrics

	mu    sync.Mutex
	conn  net.PacketConn
	done  chan struct{}
	ready atomic.Bool
}

// New creates a Receiver for addr. Nothing is bound until Start.
func New(logger *zap.Logger, addr string, maxDatagram int, handler Handler, m *metrics.Metrics) *Receiver {
	return &Receiver{
		logger:      logger,
		addr:        addr,
		maxDatagram: maxDatagram,
		handler:     handler,
		metrics:     m,
	}
}

// Start binds the socket and begins reading in the background.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return errors.New("receiver already started")
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.addr, err)
	}

	r.conn = conn
	r.done = make(chan struct{})
	r.ready.Store(true)

	r.logger.Info("listening for submissions", zap.String("addr", conn.LocalAddr().String()))
	go r.serve(conn, r.done)
	return nil
}

// Close stops reading and releases the socket.
func (r *Receiver) Close() error {
	r.mu.Lock()
	conn, done := r.conn, r.done
	r.mu.Unlock()

	if conn == nil {
		return nil
	}

	r.ready.Store(false)
	err := conn.Close()
	<-done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr returns the bound address, or nil before Start.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Ready reports whether the socket is bound and being read.
func (r *Receiver) Ready() bool {
	return r.ready.Load()
}

func (r *Receiver) serve(conn net.PacketConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, r.maxDatagram)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn("failed to read datagram", zap.Error(err))
			continue
		}
		r.metrics.DatagramsTotal.Inc()

		text := Decode(buf[:n])
		if text == "" {
			continue
		}

		if _, err := r.handler.OnMessage(text, addr.String()); err != nil {
			r.logger.Debug("message not scheduled",
				zap.String("sender", addr.String()),
				zap.Error(err))
		}
	}
}

// Decode turns a datagram into submission text, dropping invalid UTF-8 and
// surrounding whitespace.
func Decode(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), ""))
}
