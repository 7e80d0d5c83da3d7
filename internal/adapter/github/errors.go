package github

import (
	"errors"
	"net/http"
	"strings"

	"github.com/skillre/mindmap-qoder/internal/adapter"
)

// classify maps a failed call to the adapter error taxonomy. withToken is
// set for writes that carried an expected version token.
func classify(op, p string, err error, withToken bool) error {
	var he *HTTPError
	if !errors.As(err, &he) {
		return &adapter.Error{Kind: adapter.KindUpstream, Op: op, Path: p, Err: err}
	}

	kind := adapter.KindUpstream
	switch he.StatusCode {
	case http.StatusUnauthorized:
		kind = adapter.KindUnauthorized
	case http.StatusForbidden:
		kind = adapter.KindUnauthorized
		if he.Header.Get("X-RateLimit-Remaining") == "0" {
			kind = adapter.KindRateLimited
		}
	case http.StatusTooManyRequests:
		kind = adapter.KindRateLimited
	case http.StatusNotFound:
		kind = adapter.KindNotFound
		// The file we hold a token for is gone.
		if op == "write" && withToken {
			kind = adapter.KindConflict
		}
	case http.StatusConflict:
		kind = adapter.KindConflict
	case http.StatusUnprocessableEntity:
		kind = adapter.KindBadRequest
		if strings.Contains(strings.ToLower(he.Message), "sha") || (op == "write" && !withToken) {
			kind = adapter.KindConflict
		}
	}
	return &adapter.Error{Kind: kind, Op: op, Path: p, Message: he.Message, Err: he}
}
