// Package client implements the TM/RM-side transaction client:
// request/response plumbing over the binary wire protocol, context
// propagation of the active transaction, and a TCC-style interceptor
// for registering business-method branches.
package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/galaxytx/galaxytx/protocol"
)

// ErrNotConnected is returned by TcClient methods called before Dial.
var ErrNotConnected = errors.New("client: not connected to coordinator")

// TcClient is a single connection to the coordinator, correlating
// requests and responses by message id and serializing writes.
type TcClient struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn *protocol.Conn

	pending *protocol.PendingTable
}

// NewTcClient builds a client targeting addr, applying timeout to
// every request/response round trip.
func NewTcClient(addr string, timeout time.Duration) *TcClient {
	return &TcClient{addr: addr, timeout: timeout, pending: protocol.NewPendingTable()}
}

// Dial opens the underlying connection and starts the read loop.
func (c *TcClient) Dial() error {
	nc, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = protocol.NewConn(nc)
	c.mu.Unlock()
	go c.readLoop()
	return nil
}

// Close shuts down the connection and releases any in-flight waiters.
func (c *TcClient) Close() error {
	c.pending.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *TcClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		c.pending.Deliver(msg)
	}
}

// call sends msgType with the given body and decodes the response into
// respBody, blocking until the reply arrives or the timeout elapses.
func (c *TcClient) call(ctx context.Context, msgType protocol.MessageType, reqBody, respBody interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	codec := protocol.GetCodec("json")
	encoded, err := codec.Encode(reqBody)
	if err != nil {
		return err
	}

	id := conn.NextID()
	c.pending.Register(id)
	req := &protocol.RpcMessage{ID: id, Type: msgType, Codec: codec.Name(), Body: encoded}
	if err := conn.Send(req); err != nil {
		return err
	}

	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	resp, err := c.pending.Wait(id, timeout)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	return codec.Decode(resp.Body, respBody)
}

// Begin starts a new global transaction and returns its xid.
func (c *TcClient) Begin(ctx context.Context, applicationID, transactionName string, timeoutMs int64) (string, error) {
	var resp protocol.GlobalBeginResponse
	req := protocol.GlobalBeginRequest{ApplicationID: applicationID, TransactionName: transactionName, TimeoutMs: timeoutMs}
	if err := c.call(ctx, protocol.MessageTypeGlobalBegin, req, &resp); err != nil {
		return "", err
	}
	return resp.XID, nil
}

// Commit requests phase-2 commit of xid.
func (c *TcClient) Commit(ctx context.Context, xid string) error {
	return c.call(ctx, protocol.MessageTypeGlobalCommit, protocol.GlobalCommitRequest{XID: xid}, nil)
}

// Rollback requests phase-2 rollback of xid.
func (c *TcClient) Rollback(ctx context.Context, xid string) error {
	return c.call(ctx, protocol.MessageTypeGlobalRollback, protocol.GlobalRollbackRequest{XID: xid}, nil)
}

// Status queries the current global status of xid.
func (c *TcClient) Status(ctx context.Context, xid string) (string, error) {
	var resp protocol.GlobalStatusResponse
	if err := c.call(ctx, protocol.MessageTypeGlobalStatus, protocol.GlobalStatusRequest{XID: xid}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// RegisterBranch registers one branch of xid and returns its branchId.
func (c *TcClient) RegisterBranch(ctx context.Context, xid, resourceGroupID, resourceID, branchType, lockKey string, appData []byte, timeoutMs int64) (int64, error) {
	var resp protocol.BranchRegisterResponse
	req := protocol.BranchRegisterRequest{
		XID: xid, ResourceGroupID: resourceGroupID, ResourceID: resourceID,
		BranchType: branchType, LockKey: lockKey, ApplicationData: appData, TimeoutMs: timeoutMs,
	}
	if err := c.call(ctx, protocol.MessageTypeBranchRegister, req, &resp); err != nil {
		return 0, err
	}
	return resp.BranchID, nil
}

// ReportBranchStatus reports a branch's self-observed phase-one outcome.
func (c *TcClient) ReportBranchStatus(ctx context.Context, xid string, branchID int64, status string) error {
	req := protocol.BranchStatusReportRequest{XID: xid, BranchID: branchID, Status: status}
	return c.call(ctx, protocol.MessageTypeBranchStatusReport, req, nil)
}
