package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrFakeClosed is returned by a fake connection after Close or a
// simulated drop.
var ErrFakeClosed = errors.New("fake connection closed")

// FakeDialer is the deterministic in-memory stand-in for the real
// transport; it honors the Dialer contract exactly and lets tests and
// offline development script connection outcomes.
type FakeDialer struct {
	mu        sync.Mutex
	failNext  int
	dialCount int
	conns     []*FakeConn
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// FailNext makes the next n Dial calls fail.
func (d *FakeDialer) FailNext(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

// LastConn returns the most recently established fake connection.
func (d *FakeDialer) LastConn() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dialCount++
	if d.failNext > 0 {
		d.failNext--
		d.mu.Unlock()
		return nil, errors.New("fake dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// FakeConn records written envelopes and delivers scripted inbound
// frames through ReadMessage.
type FakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	inbound chan []byte
	done    chan struct{}
	closed  bool
}

func newFakeConn() *FakeConn {
	return &FakeConn{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *FakeConn) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, ErrFakeClosed
		}
		return data, nil
	case <-c.done:
		return nil, ErrFakeClosed
	}
}

func (c *FakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrFakeClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Drop simulates the remote end killing the connection.
func (c *FakeConn) Drop() {
	_ = c.Close()
}

// Deliver pushes an inbound envelope to the read loop.
func (c *FakeConn) Deliver(env Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	c.DeliverRaw(raw)
	return nil
}

// DeliverRaw pushes an arbitrary frame, malformed ones included.
func (c *FakeConn) DeliverRaw(raw []byte) {
	select {
	case c.inbound <- raw:
	case <-c.done:
	}
}

// Sent returns the decoded envelopes written so far, in write order.
func (c *FakeConn) Sent() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.sent))
	for _, raw := range c.sent {
		env, err := DecodeEnvelope(raw)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}
