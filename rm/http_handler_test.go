package rm

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxytx/galaxytx/store"

	"context"
)

type stubEndpointResolver struct {
	url string
	err error
}

func (r *stubEndpointResolver) EndpointFor(resourceID string) (string, error) { return r.url, r.err }

func dispatchWithStatus(t *testing.T, status int) CommunicationResult {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "x1", r.Header.Get("X-Transaction-ID"))
		assert.Equal(t, "1", r.Header.Get("X-Branch-ID"))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	h := NewHTTPHandler(resty.New(), &stubEndpointResolver{url: srv.URL}, "orders-group")
	branch := &store.BranchTransaction{XID: "x1", BranchID: 1, BranchType: "HTTP"}
	return h.Dispatch(context.Background(), branch, OpCommit)
}

func TestHTTPHandlerStatusMapping(t *testing.T) {
	cases := map[int]CommunicationResultStatus{
		200: StatusSuccess,
		204: StatusSuccess,
		401: StatusAuthError,
		403: StatusAuthError,
		404: StatusResourceError,
		408: StatusTimeout,
		504: StatusTimeout,
		409: StatusFailure,
		422: StatusNonRetryableError,
		500: StatusRetryableError,
		503: StatusRetryableError,
	}
	for status, want := range cases {
		res := dispatchWithStatus(t, status)
		assert.Equalf(t, want, res.Status, "status code %d", status)
	}
}

func TestHTTPHandlerResourceResolverError(t *testing.T) {
	h := NewHTTPHandler(resty.New(), &stubEndpointResolver{err: errNoEndpoint}, "g")
	branch := &store.BranchTransaction{XID: "x1", BranchID: 1, BranchType: "HTTP"}
	res := h.Dispatch(context.Background(), branch, OpCommit)
	require.Equal(t, StatusResourceError, res.Status)
}

var errNoEndpoint = &httpStatusError{code: 0, body: "no endpoint"}
