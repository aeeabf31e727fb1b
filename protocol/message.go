// Package protocol implements the length-prefixed binary wire protocol
// between clients (TM/RM) and the transaction coordinator, grounded on
// the original galaxytx implementation's ProtocolEncoder/ProtocolDecoder
// framing: a fixed 12-byte header followed by a codec-serialized body.
package protocol

// MessageType identifies the kind of RpcMessage on the wire.
type MessageType uint8

// Wire message types, matching the original protocol's numbering.
const (
	MessageTypeGlobalBegin       MessageType = 10
	MessageTypeGlobalCommit      MessageType = 11
	MessageTypeGlobalRollback    MessageType = 12
	MessageTypeGlobalStatus      MessageType = 13
	MessageTypeBranchRegister    MessageType = 20
	MessageTypeBranchStatusReport MessageType = 21
	MessageTypeResult            MessageType = 100
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeGlobalBegin:
		return "GlobalBegin"
	case MessageTypeGlobalCommit:
		return "GlobalCommit"
	case MessageTypeGlobalRollback:
		return "GlobalRollback"
	case MessageTypeGlobalStatus:
		return "GlobalStatus"
	case MessageTypeBranchRegister:
		return "BranchRegister"
	case MessageTypeBranchStatusReport:
		return "BranchStatusReport"
	case MessageTypeResult:
		return "Result"
	default:
		return "Unknown"
	}
}

// RpcMessage is a decoded wire-level request or response.
type RpcMessage struct {
	ID       uint32
	Type     MessageType
	Codec    string
	Compress bool
	Body     []byte
}

// GlobalBeginRequest is the body of a GlobalBegin message.
type GlobalBeginRequest struct {
	ApplicationID   string `json:"applicationId"`
	TransactionName string `json:"transactionName"`
	TimeoutMs       int64  `json:"timeoutMs"`
}

// GlobalBeginResponse is the body of the Result answering GlobalBegin.
type GlobalBeginResponse struct {
	XID string `json:"xid"`
}

// GlobalCommitRequest is the body of a GlobalCommit message.
type GlobalCommitRequest struct {
	XID string `json:"xid"`
}

// GlobalRollbackRequest is the body of a GlobalRollback message.
type GlobalRollbackRequest struct {
	XID string `json:"xid"`
}

// GlobalStatusRequest is the body of a GlobalStatus message.
type GlobalStatusRequest struct {
	XID string `json:"xid"`
}

// GlobalStatusResponse is the body of the Result answering GlobalStatus.
type GlobalStatusResponse struct {
	Status string `json:"status"`
}

// BranchRegisterRequest is the body of a BranchRegister message.
type BranchRegisterRequest struct {
	XID             string `json:"xid"`
	ResourceGroupID string `json:"resourceGroupId"`
	ResourceID      string `json:"resourceId"`
	BranchType      string `json:"branchType"`
	LockKey         string `json:"lockKey,omitempty"`
	ApplicationData []byte `json:"applicationData,omitempty"`
	TimeoutMs       int64  `json:"timeoutMs,omitempty"`
}

// BranchRegisterResponse is the body of the Result answering BranchRegister.
type BranchRegisterResponse struct {
	BranchID int64 `json:"branchId"`
}

// BranchStatusReportRequest is the body of a BranchStatusReport message.
type BranchStatusReportRequest struct {
	XID      string `json:"xid"`
	BranchID int64  `json:"branchId"`
	Status   string `json:"status"`
}

// ResultBody is the generic envelope for a Result message body when no
// richer typed payload applies.
type ResultBody struct {
	Success bool   `json:"success"`
	ErrCode string `json:"errCode,omitempty"`
	ErrMsg  string `json:"errMsg,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}
