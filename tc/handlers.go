package tc

import (
	"context"

	"github.com/galaxytx/galaxytx/protocol"
)

// handleMessage dispatches one decoded request to the coordinator and
// returns the Result message to send back.
func (s *TCPServer) handleMessage(ctx context.Context, req *protocol.RpcMessage) *protocol.RpcMessage {
	codec := protocol.GetCodec(req.Codec)
	switch req.Type {
	case protocol.MessageTypeGlobalBegin:
		var body protocol.GlobalBeginRequest
		if err := codec.Decode(req.Body, &body); err != nil {
			return s.errorResult(req, codec, err)
		}
		xid, err := s.coordinator.Begin(body.ApplicationID, body.TransactionName, body.TimeoutMs)
		if err != nil {
			return s.errorResult(req, codec, err)
		}
		return s.okResult(req, codec, protocol.GlobalBeginResponse{XID: xid})

	case protocol.MessageTypeGlobalCommit:
		var body protocol.GlobalCommitRequest
		if err := codec.Decode(req.Body, &body); err != nil {
			return s.errorResult(req, codec, err)
		}
		_, err := s.coordinator.Commit(ctx, body.XID)
		if err != nil {
			return s.errorResult(req, codec, err)
		}
		return s.okResult(req, codec, protocol.ResultBody{Success: true})

	case protocol.MessageTypeGlobalRollback:
		var body protocol.GlobalRollbackRequest
		if err := codec.Decode(req.Body, &body); err != nil {
			return s.errorResult(req, codec, err)
		}
		_, err := s.coordinator.Rollback(ctx, body.XID)
		if err != nil {
			return s.errorResult(req, codec, err)
		}
		return s.okResult(req, codec, protocol.ResultBody{Success: true})

	case protocol.MessageTypeGlobalStatus:
		var body protocol.GlobalStatusRequest
		if err := codec.Decode(req.Body, &body); err != nil {
			return s.errorResult(req, codec, err)
		}
		status, err := s.coordinator.Status(body.XID)
		if err != nil {
			return s.errorResult(req, codec, err)
		}
		return s.okResult(req, codec, protocol.GlobalStatusResponse{Status: status})

	case protocol.MessageTypeBranchRegister:
		var body protocol.BranchRegisterRequest
		if err := codec.Decode(req.Body, &body); err != nil {
			return s.errorResult(req, codec, err)
		}
		branchID, err := s.coordinator.RegisterBranch(ctx, body.XID, body.ResourceGroupID, body.ResourceID,
			body.BranchType, body.LockKey, body.ApplicationData, body.TimeoutMs)
		if err != nil {
			return s.errorResult(req, codec, err)
		}
		return s.okResult(req, codec, protocol.BranchRegisterResponse{BranchID: branchID})

	case protocol.MessageTypeBranchStatusReport:
		var body protocol.BranchStatusReportRequest
		if err := codec.Decode(req.Body, &body); err != nil {
			return s.errorResult(req, codec, err)
		}
		if err := s.coordinator.ReportBranchStatus(body.XID, body.BranchID, body.Status); err != nil {
			return s.errorResult(req, codec, err)
		}
		return s.okResult(req, codec, protocol.ResultBody{Success: true})

	default:
		return s.errorResult(req, codec, errUnknownMessageType)
	}
}

func (s *TCPServer) okResult(req *protocol.RpcMessage, codec protocol.Codec, payload interface{}) *protocol.RpcMessage {
	body, _ := codec.Encode(payload)
	return &protocol.RpcMessage{ID: req.ID, Type: protocol.MessageTypeResult, Codec: codec.Name(), Body: body}
}

func (s *TCPServer) errorResult(req *protocol.RpcMessage, codec protocol.Codec, err error) *protocol.RpcMessage {
	body, _ := codec.Encode(protocol.ResultBody{Success: false, ErrMsg: err.Error()})
	return &protocol.RpcMessage{ID: req.ID, Type: protocol.MessageTypeResult, Codec: codec.Name(), Body: body}
}
