package authsdk

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// maxErrorBody caps how much of an error body is kept on StatusError.
const maxErrorBody = 512

// StatusError is returned for any non-2xx backend response.
type StatusError struct {
	StatusCode int

	// Message is the backend's own explanation when it sent one, otherwise
	// the (truncated) raw body.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// parseErrorResponse turns a non-2xx response into a *StatusError, pulling a
// message out of the common backend error shapes when possible.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		switch {
		case errResp.ErrorDescription != "":
			return &StatusError{StatusCode: resp.StatusCode, Message: errResp.ErrorDescription}
		case errResp.Message != "":
			return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Message}
		case errResp.Error != "":
			return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
