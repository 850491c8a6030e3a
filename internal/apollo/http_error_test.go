package apollo

import (
	"net/http"
	"strings"
	"testing"
)

func fakeResp(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
	}
}

func TestHTTPErrorPrefersJSONEnvelope(t *testing.T) {
	t.Parallel()

	body := []byte(`{"error":"invalid filters","error_code":"BAD_REQUEST"}`)
	he := newHTTPError("peopleSearch", fakeResp(422), body)

	if he.Message != "invalid filters" || he.ErrorCode != "BAD_REQUEST" {
		t.Fatalf("he = %+v", he)
	}
	if he.Snippet != "" {
		t.Fatalf("Snippet = %q, want empty when the envelope parsed", he.Snippet)
	}
	msg := he.Error()
	if !strings.Contains(msg, "peopleSearch") || !strings.Contains(msg, "invalid filters") {
		t.Fatalf("Error() = %q", msg)
	}
}

func TestHTTPErrorRedactsNonJSONBodies(t *testing.T) {
	t.Parallel()

	body := []byte("upstream proxy rejected api_key=sk-secret-value for this route")
	he := newHTTPError("peopleSearch", fakeResp(502), body)

	if strings.Contains(he.Snippet, "sk-secret-value") {
		t.Fatalf("secret survived in snippet: %q", he.Snippet)
	}
	if he.Snippet == "" {
		t.Fatal("snippet dropped entirely")
	}
}

func TestHTTPErrorTruncatesLongBodies(t *testing.T) {
	t.Parallel()

	body := []byte("<html>" + strings.Repeat("x", 1024))
	he := newHTTPError("peopleSearch", fakeResp(503), body)

	if len(he.Snippet) > 300 {
		t.Fatalf("snippet length = %d, want truncated", len(he.Snippet))
	}
	if !strings.HasSuffix(he.Snippet, "...") {
		t.Fatalf("snippet %q not marked as truncated", he.Snippet[:40])
	}
}
