package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fpang/prism/internal/api"
)

// maxDetailBytes caps how much of an error body is read.
const maxDetailBytes = 64 << 10

// TransportError reports a request that failed to reach the service or was
// rejected by it. StatusCode is zero when no response arrived.
type TransportError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed (%d)", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// newStatusError reads the service's {"detail": ...} body when present and
// falls back to the raw text.
func newStatusError(op string, resp *http.Response) *TransportError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	detail := strings.TrimSpace(string(raw))

	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		detail = body.Detail
	}
	return &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Detail:     detail,
		Err:        fmt.Errorf("unexpected status %s", resp.Status),
	}
}
