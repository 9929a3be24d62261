package httpclient

import (
	stdErrors "errors"
	"fmt"
	"net/http"

	xerrors "SwapRunner/internal/errors"
)

const (
	CodeRateLimited     xerrors.Code = "RATE_LIMITED"
	CodeForbidden       xerrors.Code = "FORBIDDEN"
	CodeUpstreamFailure xerrors.Code = "UPSTREAM_FAILURE"
	CodeTransport       xerrors.Code = "TRANSPORT_FAILURE"
	CodeDecode          xerrors.Code = "DECODE_FAILURE"
	CodeTooLarge        xerrors.Code = "RESPONSE_TOO_LARGE"
)

func init() {
	xerrors.Register(CodeRateLimited, xerrors.Attributes{
		Message:   "rate limited by upstream",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeForbidden, xerrors.Attributes{
		Message:   "request forbidden by upstream",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeUpstreamFailure, xerrors.Attributes{
		Message:   "upstream returned an error status",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeTransport, xerrors.Attributes{
		Message:   "network request failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeDecode, xerrors.Attributes{
		Message:   "response body could not be decoded",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeTooLarge, xerrors.Attributes{
		Message:  "response body exceeds the size limit",
		Severity: xerrors.SeverityWarning,
	})
}

// StatusError carries a non-success HTTP answer.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("POST %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("POST %s: http %d: %s", e.URL, e.StatusCode, e.Body)
}

// StatusCodeOf returns the HTTP status carried anywhere in err's chain, or 0.
func StatusCodeOf(err error) int {
	var se *StatusError
	if stdErrors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func statusError(se *StatusError) error {
	code := CodeUpstreamFailure
	switch se.StatusCode {
	case http.StatusTooManyRequests:
		code = CodeRateLimited
	case http.StatusForbidden:
		code = CodeForbidden
	}
	return xerrors.Wrap(code, se, "", xerrors.WithMetadata("status", fmt.Sprint(se.StatusCode)))
}
