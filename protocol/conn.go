package protocol

import (
	"bufio"
	"net"
	"sync/atomic"
)

// Conn wraps a net.Conn with framed message read/write and a per-
// connection monotonic message-id generator.
type Conn struct {
	nc     net.Conn
	reader *bufio.Reader
	nextID uint32
}

// NewConn wraps an established network connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, reader: bufio.NewReader(nc)}
}

// NextID allocates the next outbound message id for this connection.
func (c *Conn) NextID() uint32 {
	return atomic.AddUint32(&c.nextID, 1)
}

// Send writes one frame.
func (c *Conn) Send(msg *RpcMessage) error {
	return WriteFrame(c.nc, msg)
}

// Recv reads one frame, blocking until available.
func (c *Conn) Recv() (*RpcMessage, error) {
	return ReadFrame(c.reader)
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}
