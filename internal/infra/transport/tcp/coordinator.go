// Package tcp carries scheduler messages between a coordinator process and
// worker processes over TCP, as length-prefixed codec frames.
//
// A worker dials the coordinator and sends a hello frame; the coordinator
// numbers workers 1..n in the order their hellos arrive. Each connection
// gets a reader goroutine that feeds one shared reply channel, which is
// what ReceiveAny reads.
package tcp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/gridpool/internal/domain"
	"github.com/tutu-network/gridpool/internal/infra/codec"
)

// ProtocolVersion is sent in the hello frame.
const ProtocolVersion = 1

// helloTimeout bounds how long a fresh connection may take to identify itself.
const helloTimeout = 10 * time.Second

type hello struct {
	Name    string `json:"name" cbor:"name"`
	Version int    `json:"version" cbor:"version"`
}

// Listener accepts worker connections.
type Listener struct {
	ln    net.Listener
	codec codec.Codec
	log   *zap.Logger
}

// Listen opens a TCP listener on addr.
func Listen(addr string, c codec.Codec, log *zap.Logger) (*Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, codec: c, log: log}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting. Established connections are unaffected.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept waits until n workers have connected and said hello. Cancelling
// ctx closes the listener.
func (l *Listener) Accept(ctx context.Context, n int) (*Coordinator, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	c := &Coordinator{
		codec:   l.codec,
		log:     l.log,
		peers:   make(map[domain.WorkerID]*peer, n),
		replies: make(chan domain.Envelope, max(n, 1)),
		errs:    make(chan error, max(n, 1)),
		closed:  make(chan struct{}),
	}

	for len(c.ids) < n {
		conn, err := l.ln.Accept()
		if err != nil {
			c.Close()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("accept workers (%d/%d connected): %w", len(c.ids), n, ctx.Err())
			}
			return nil, fmt.Errorf("accept: %w", err)
		}

		p, err := l.handshake(conn)
		if err != nil {
			l.log.Warn("rejected worker connection",
				zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			_ = conn.Close()
			continue
		}

		p.id = domain.WorkerID(len(c.ids) + 1)
		c.ids = append(c.ids, p.id)
		c.peers[p.id] = p
		l.log.Info("worker connected",
			zap.Stringer("worker", p.id),
			zap.String("name", p.name),
			zap.String("remote", conn.RemoteAddr().String()))
	}

	for _, p := range c.peers {
		go c.readLoop(p)
	}
	return c, nil
}

func (l *Listener) handshake(conn net.Conn) (*peer, error) {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	p := &peer{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
	b, err := readFrame(p.br)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	var h hello
	if err := l.codec.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}
	if h.Version != ProtocolVersion {
		return nil, fmt.Errorf("hello version %d, want %d: %w", h.Version, ProtocolVersion, domain.ErrProtocolViolation)
	}
	p.name = h.Name
	return p, nil
}

// ─── Coordinator ────────────────────────────────────────────────────────────

// Coordinator implements domain.CoordinatorTransport over TCP.
type Coordinator struct {
	codec codec.Codec
	log   *zap.Logger

	ids     []domain.WorkerID
	peers   map[domain.WorkerID]*peer
	replies chan domain.Envelope
	errs    chan error

	closeOnce sync.Once
	closed    chan struct{}
}

type peer struct {
	id   domain.WorkerID
	name string
	conn net.Conn
	br   *bufio.Reader

	mu sync.Mutex // guards bw
	bw *bufio.Writer

	terminated atomic.Bool
}

// Workers returns the worker IDs in connection order.
func (c *Coordinator) Workers() []domain.WorkerID {
	out := make([]domain.WorkerID, len(c.ids))
	copy(out, c.ids)
	return out
}

// Name returns the name a worker announced in its hello.
func (c *Coordinator) Name(id domain.WorkerID) string {
	if p, ok := c.peers[id]; ok {
		return p.name
	}
	return ""
}

// Send writes one frame to the worker.
func (c *Coordinator) Send(ctx context.Context, to domain.WorkerID, msg domain.Message) error {
	p, ok := c.peers[to]
	if !ok {
		return fmt.Errorf("send to %s: %w", to, domain.ErrUnknownWorker)
	}
	if c.isClosed() {
		return domain.ErrTransportClosed
	}
	b, err := c.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.Kind == domain.KindTerminate {
		// The worker hangs up after TERMINATE; its EOF is expected from here on.
		p.terminated.Store(true)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(dl)
		defer p.conn.SetWriteDeadline(time.Time{})
	}
	if err := writeFrame(p.bw, b); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// ReceiveAny returns the next message from any worker.
func (c *Coordinator) ReceiveAny(ctx context.Context) (domain.Envelope, error) {
	select {
	case env := <-c.replies:
		return env, nil
	case err := <-c.errs:
		return domain.Envelope{}, err
	case <-c.closed:
		return domain.Envelope{}, domain.ErrTransportClosed
	case <-ctx.Done():
		return domain.Envelope{}, ctx.Err()
	}
}

// Close closes every worker connection.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		for _, p := range c.peers {
			_ = p.conn.Close()
		}
	})
	return nil
}

func (c *Coordinator) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Coordinator) readLoop(p *peer) {
	for {
		b, err := readFrame(p.br)
		if err != nil {
			if p.terminated.Load() || c.isClosed() {
				return
			}
			c.fail(p, fmt.Errorf("read from %s: %w", p.id, err))
			return
		}
		var msg domain.Message
		if err := c.codec.Unmarshal(b, &msg); err != nil {
			c.fail(p, fmt.Errorf("decode from %s: %w", p.id, err))
			return
		}
		if !msg.Kind.Valid() {
			c.fail(p, fmt.Errorf("%s sent kind %q: %w", p.id, msg.Kind, domain.ErrProtocolViolation))
			return
		}
		select {
		case c.replies <- domain.Envelope{From: p.id, Msg: msg}:
		case <-c.closed:
			return
		}
	}
}

// fail reports a broken connection as a *domain.PeerError. Each peer fails
// at most once, so errs never fills up.
func (c *Coordinator) fail(p *peer, err error) {
	perr := &domain.PeerError{Worker: p.id, Err: fmt.Errorf("%w: %w", domain.ErrTransport, err)}
	c.log.Warn("worker connection failed",
		zap.Stringer("worker", p.id),
		zap.String("name", p.name),
		zap.Error(perr))
	select {
	case c.errs <- perr:
	default:
	}
}
