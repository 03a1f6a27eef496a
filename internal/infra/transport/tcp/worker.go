package tcp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tutu-network/gridpool/internal/domain"
	"github.com/tutu-network/gridpool/internal/infra/codec"
)

// Conn is the worker side of a TCP connection. It implements
// domain.WorkerConn.
type Conn struct {
	conn  net.Conn
	codec codec.Codec
	br    *bufio.Reader

	mu sync.Mutex // guards bw
	bw *bufio.Writer
}

// Dial connects to the coordinator at addr and announces name.
func Dial(ctx context.Context, addr, name string, c codec.Codec) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	wc := &Conn{
		conn:  nc,
		codec: c,
		br:    bufio.NewReader(nc),
		bw:    bufio.NewWriter(nc),
	}
	b, err := c.Marshal(hello{Name: name, Version: ProtocolVersion})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	if err := writeFrame(wc.bw, b); err != nil {
		nc.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	return wc, nil
}

// Receive blocks for the next message from the coordinator.
func (c *Conn) Receive(ctx context.Context) (domain.Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	b, err := readFrame(c.br)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Message{}, ctx.Err()
		}
		return domain.Message{}, fmt.Errorf("receive: %w", err)
	}
	var msg domain.Message
	if err := c.codec.Unmarshal(b, &msg); err != nil {
		return domain.Message{}, fmt.Errorf("decode: %w", err)
	}
	return msg, nil
}

// Send writes one message to the coordinator.
func (c *Conn) Send(ctx context.Context, msg domain.Message) error {
	b, err := c.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return writeFrame(c.bw, b)
}

// Close hangs up.
func (c *Conn) Close() error {
	return c.conn.Close()
}
