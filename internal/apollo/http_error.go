package apollo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/leadflow/leadflow/internal/redact"
)

// apiErrorEnvelope is the error body shape returned by the contacts API.
// Responses may include additional fields; we intentionally ignore them.
type apiErrorEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

// HTTPError is a sanitized summary of a non-2xx API response.
//
// Important: do not include raw response bodies here (can leak PII/keys).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Message    string
	ErrorCode  string

	// Snippet is a redacted, truncated hint for non-JSON responses.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "apollo http error"
	}
	parts := []string{
		fmt.Sprintf("apollo api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strings.TrimSpace(e.Message))
	}
	if strings.TrimSpace(e.ErrorCode) != "" {
		parts = append(parts, "code="+strings.TrimSpace(e.ErrorCode))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

func newHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	// Best effort: parse the JSON error envelope.
	var env apiErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = strings.TrimSpace(env.Message)
		}
		h.Message = redact.Secrets(msg)
		h.ErrorCode = strings.TrimSpace(env.ErrorCode)
		if h.Message != "" || h.ErrorCode != "" {
			return h
		}
	}

	// Fallback: include a small, redacted hint only.
	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	// Keep this small: response bodies can contain sensitive data.
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
