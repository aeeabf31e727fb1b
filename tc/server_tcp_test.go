package tc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxytx/galaxytx/config"
	"github.com/galaxytx/galaxytx/protocol"
	"github.com/galaxytx/galaxytx/rm"
)

func TestTCPServerBeginRoundTrip(t *testing.T) {
	cfg := config.Default()
	s := newMemStore()
	dispatcher := rm.NewDispatcher()
	coordinator := NewCoordinator(cfg, s, dispatcher, nil)

	srv := NewTCPServer("127.0.0.1:0", coordinator, 1000)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.listener = ln
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(nc)
		}
	}()
	defer srv.Close()

	nc, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer nc.Close()
	conn := protocol.NewConn(nc)

	codec := protocol.GetCodec("json")
	body, _ := codec.Encode(protocol.GlobalBeginRequest{ApplicationID: "app1", TransactionName: "tx", TimeoutMs: 0})
	req := &protocol.RpcMessage{ID: conn.NextID(), Type: protocol.MessageTypeGlobalBegin, Codec: "json", Body: body}
	require.NoError(t, conn.Send(req))

	resp, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeResult, resp.Type)

	var beginResp protocol.GlobalBeginResponse
	require.NoError(t, codec.Decode(resp.Body, &beginResp))
	assert.NotEmpty(t, beginResp.XID)
}
