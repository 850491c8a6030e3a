package lead

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRecordName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		first, last, want string
	}{
		{"Ada", "Lovelace", "Ada Lovelace"},
		{"Ada", "", "Ada"},
		{"", "Lovelace", "Lovelace"},
		{"  Ada ", " Lovelace ", "Ada Lovelace"},
		{"", "", ""},
	}
	for _, tc := range cases {
		r := Record{FirstName: tc.first, LastName: tc.last}
		if got := r.Name(); got != tc.want {
			t.Fatalf("Name(%q, %q) = %q, want %q", tc.first, tc.last, got, tc.want)
		}
	}
}

func TestApplyEnrichmentTagsRecord(t *testing.T) {
	t.Parallel()

	r := Record{ID: "r1", Provenance: StageSearch}
	r.ApplyEnrichment(Enrichment{Headline: "CTO at Acme"})

	if !r.Enriched {
		t.Fatal("Enriched not set")
	}
	if r.Provenance != StageEnrich {
		t.Fatalf("Provenance = %q, want enrich", r.Provenance)
	}
	if r.Headline != "CTO at Acme" {
		t.Fatalf("Headline = %q", r.Headline)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", &TransientError{Err: errors.New("x")}, true},
		{"rate limited", &RateLimitedError{Err: errors.New("x")}, true},
		{"wrapped transient", fmt.Errorf("stage: %w", &TransientError{Err: errors.New("x")}), true},
		{"auth", &AuthError{Op: "search"}, false},
		{"missing field", &MissingFieldError{RecordID: "r1", Field: "email"}, false},
		{"plain", errors.New("x"), false},
		{"cancelled", context.Canceled, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRateLimitedErrorRetryAfterHint(t *testing.T) {
	t.Parallel()

	e := &RateLimitedError{Err: errors.New("429"), RetryAfter: 3 * time.Second}
	if got := e.RetryAfterHint(); got != 3*time.Second {
		t.Fatalf("RetryAfterHint = %v, want 3s", got)
	}
}

func TestStageErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := &AuthError{Op: "enrich", Err: errors.New("bad key")}
	err := &StageError{Stage: StageEnrich, Err: cause}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("errors.As failed on %v", err)
	}
	if got := err.Error(); got == "" || authErr.Op != "enrich" {
		t.Fatalf("Error() = %q, Op = %q", got, authErr.Op)
	}
}
