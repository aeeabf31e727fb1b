package tc

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/ratelimit"

	"github.com/galaxytx/galaxytx/logger"
	"github.com/galaxytx/galaxytx/protocol"
)

var errUnknownMessageType = errors.New("tc: unknown message type")

// TCPServer accepts RM/TM connections on the binary wire protocol and
// dispatches each request to the coordinator.
type TCPServer struct {
	addr        string
	coordinator *Coordinator
	limiter     ratelimit.Limiter
	listener    net.Listener
}

// NewTCPServer builds a server listening on addr, accepting at most
// acceptsPerSecond new connections per second.
func NewTCPServer(addr string, coordinator *Coordinator, acceptsPerSecond int) *TCPServer {
	if acceptsPerSecond <= 0 {
		acceptsPerSecond = 1000
	}
	return &TCPServer{
		addr:        addr,
		coordinator: coordinator,
		limiter:     ratelimit.New(acceptsPerSecond),
	}
}

// ListenAndServe binds addr and serves until the listener is closed.
func (s *TCPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.Infof("tc: tcp server listening on %s", s.addr)
	for {
		s.limiter.Take()
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warnf("tc: accept error: %v", err)
			continue
		}
		go s.serveConn(nc)
	}
}

// Close stops accepting new connections.
func (s *TCPServer) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *TCPServer) serveConn(nc net.Conn) {
	conn := protocol.NewConn(nc)
	defer conn.Close()
	for {
		req, err := conn.Recv()
		if err != nil {
			return
		}
		switch req.Type {
		case protocol.MessageTypeGlobalBegin, protocol.MessageTypeGlobalCommit, protocol.MessageTypeGlobalRollback,
			protocol.MessageTypeGlobalStatus, protocol.MessageTypeBranchRegister, protocol.MessageTypeBranchStatusReport:
		default:
			logger.Warnf("tc: closing connection after unknown message type %v", req.Type)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		resp := s.handleMessage(ctx, req)
		cancel()
		if err := conn.Send(resp); err != nil {
			return
		}
	}
}
