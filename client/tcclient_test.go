package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxytx/galaxytx/protocol"
)

// fakeServer answers every request type with a canned success response,
// enough to exercise TcClient's request/response plumbing end to end
// over a real net.Conn pair.
func fakeServer(t *testing.T, nc net.Conn) {
	conn := protocol.NewConn(nc)
	codec := protocol.GetCodec("json")
	for {
		req, err := conn.Recv()
		if err != nil {
			return
		}
		var respBody interface{}
		switch req.Type {
		case protocol.MessageTypeGlobalBegin:
			respBody = protocol.GlobalBeginResponse{XID: "gtx-1"}
		case protocol.MessageTypeGlobalStatus:
			respBody = protocol.GlobalStatusResponse{Status: "Committed"}
		case protocol.MessageTypeBranchRegister:
			respBody = protocol.BranchRegisterResponse{BranchID: 42}
		default:
			respBody = protocol.ResultBody{Success: true}
		}
		body, err := codec.Encode(respBody)
		require.NoError(t, err)
		resp := &protocol.RpcMessage{ID: req.ID, Type: protocol.MessageTypeResult, Codec: codec.Name(), Body: body}
		if err := conn.Send(resp); err != nil {
			return
		}
	}
}

func newLoopbackClient(t *testing.T) (*TcClient, func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		fakeServer(t, nc)
	}()

	c := NewTcClient(ln.Addr().String(), 2*time.Second)
	require.NoError(t, c.Dial())
	return c, func() { c.Close(); ln.Close() }
}

func TestTcClientBegin(t *testing.T) {
	c, cleanup := newLoopbackClient(t)
	defer cleanup()

	xid, err := c.Begin(context.Background(), "app1", "tx", 0)
	require.NoError(t, err)
	assert.Equal(t, "gtx-1", xid)
}

func TestTcClientRegisterBranchAndStatus(t *testing.T) {
	c, cleanup := newLoopbackClient(t)
	defer cleanup()

	branchID, err := c.RegisterBranch(context.Background(), "gtx-1", "g", "svc", "AT", "", nil, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 42, branchID)

	status, err := c.Status(context.Background(), "gtx-1")
	require.NoError(t, err)
	assert.Equal(t, "Committed", status)
}

func TestTcClientCommitRollback(t *testing.T) {
	c, cleanup := newLoopbackClient(t)
	defer cleanup()

	assert.NoError(t, c.Commit(context.Background(), "gtx-1"))
	assert.NoError(t, c.Rollback(context.Background(), "gtx-1"))
}

func TestTcClientNotConnected(t *testing.T) {
	c := NewTcClient("127.0.0.1:0", time.Second)
	_, err := c.Begin(context.Background(), "app", "tx", 0)
	assert.ErrorIs(t, err, ErrNotConnected)
}
