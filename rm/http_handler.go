package rm

import (
	"context"

	"github.com/go-resty/resty/v2"

	"github.com/galaxytx/galaxytx/store"
)

// httpBranchRequest is the JSON body sent to an HTTP-mode branch's
// callback endpoint.
type httpBranchRequest struct {
	XID          string      `json:"xid"`
	BranchID     int64       `json:"branchId"`
	Operation    string      `json:"operation"`
	Timestamp    int64       `json:"timestamp"`
	ServiceGroup string      `json:"serviceGroup"`
	Parameters   interface{} `json:"parameters,omitempty"`
}

// HTTPEndpointResolver maps a branch's resourceId to the URL its
// commit/rollback callback is posted to.
type HTTPEndpointResolver interface {
	EndpointFor(resourceID string) (string, error)
}

// HTTPHandler drives phase-2 for HTTP branches by POSTing a commit or
// rollback callback and classifying the response status code.
type HTTPHandler struct {
	client   *resty.Client
	resolver HTTPEndpointResolver
	group    string
}

// NewHTTPHandler builds an HTTP handler using client against endpoints
// from resolver, tagging requests with the given service group.
func NewHTTPHandler(client *resty.Client, resolver HTTPEndpointResolver, group string) *HTTPHandler {
	return &HTTPHandler{client: client, resolver: resolver, group: group}
}

// BranchType returns "HTTP".
func (h *HTTPHandler) BranchType() string { return "HTTP" }

// Dispatch performs one commit or rollback POST.
func (h *HTTPHandler) Dispatch(ctx context.Context, branch *store.BranchTransaction, op Operation) CommunicationResult {
	url, err := h.resolver.EndpointFor(branch.ResourceID)
	if err != nil {
		return CommunicationResult{Status: StatusResourceError, Err: err}
	}
	opName := "commit"
	if op == OpRollback {
		opName = "rollback"
	}
	body := httpBranchRequest{
		XID:          branch.XID,
		BranchID:     branch.BranchID,
		Operation:    opName,
		Timestamp:    branch.UpdateTime.UnixNano() / int64(1e6),
		ServiceGroup: h.group,
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("X-Transaction-ID", branch.XID).
		SetHeader("X-Branch-ID", itoa64(branch.BranchID)).
		SetHeader("X-Service-Group", h.group).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		return CommunicationResult{Status: StatusNetworkError, Err: err}
	}
	return classifyHTTPStatus(resp.StatusCode(), resp)
}

func classifyHTTPStatus(code int, resp *resty.Response) CommunicationResult {
	switch {
	case code >= 200 && code < 300:
		return CommunicationResult{Status: StatusSuccess}
	case code == 401 || code == 403:
		return CommunicationResult{Status: StatusAuthError, Err: httpErr(code, resp)}
	case code == 404:
		return CommunicationResult{Status: StatusResourceError, Err: httpErr(code, resp)}
	case code == 408 || code == 504:
		return CommunicationResult{Status: StatusTimeout, Err: httpErr(code, resp)}
	case code == 409:
		return CommunicationResult{Status: StatusFailure, Err: httpErr(code, resp)}
	case code >= 400 && code < 500:
		return CommunicationResult{Status: StatusNonRetryableError, Err: httpErr(code, resp)}
	case code >= 500:
		return CommunicationResult{Status: StatusRetryableError, Err: httpErr(code, resp)}
	default:
		return CommunicationResult{Status: StatusProtocolError, Err: httpErr(code, resp)}
	}
}

func httpErr(code int, resp *resty.Response) error {
	return &httpStatusError{code: code, body: string(resp.Body())}
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return "rm: http callback returned status " + itoa64(int64(e.code)) + ": " + e.body
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
