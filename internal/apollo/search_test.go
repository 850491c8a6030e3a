package apollo_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leadflow/leadflow/internal/apollo"
	"github.com/leadflow/leadflow/internal/apollotest"
	"github.com/leadflow/leadflow/internal/lead"
)

const testAPIKey = "test-key"

func newTestClient(t *testing.T, fake *apollotest.Server) *apollo.Client {
	t.Helper()
	ts := httptest.NewServer(fake.Handler())
	t.Cleanup(ts.Close)

	c, err := apollo.NewClient(apollo.Config{APIKey: testAPIKey, BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func fastRetry(maxRetries int) apollo.RetryPolicy {
	return apollo.RetryPolicy{
		MaxRetries:        maxRetries,
		BackoffInitial:    time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		BackoffJitterFrac: 0.01,
	}
}

func person(id, first, last, email string) apollotest.Person {
	return apollotest.Person{
		ID:          id,
		FirstName:   first,
		LastName:    last,
		Title:       "VP Engineering",
		Email:       email,
		EmailStatus: "verified",
		OrgName:     "Acme",
	}
}

func recordIDs(recs []lead.Record) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSearchDedupesAcrossPages(t *testing.T) {
	t.Parallel()

	fake := apollotest.New()
	fake.SetPages([][]apollotest.Person{
		{person("a", "Ada", "Lovelace", "ada@acme.test"), person("b", "Bob", "Crane", "bob@acme.test")},
		// "b" repeats on page 2: overlapping pages happen upstream.
		{person("b", "Bob", "Crane", "bob@acme.test"), person("c", "Cia", "Reed", "cia@acme.test")},
		{person("d", "Dan", "Ochs", "dan@acme.test")},
	})

	c := newTestClient(t, fake)
	recs, err := c.Search(lead.SearchQuery{Titles: []string{"VP Engineering"}, PerPage: 2}, fastRetry(0)).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []string{"a", "b", "c", "d"}
	got := recordIDs(recs)
	if len(got) != len(want) {
		t.Fatalf("got %d records (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record IDs = %v, want %v", got, want)
		}
	}
	if calls := fake.Calls(); len(calls) != 3 {
		t.Fatalf("made %d search calls, want 3", len(calls))
	}
}

func TestSearchStopsAtMaxRecords(t *testing.T) {
	t.Parallel()

	fake := apollotest.New()
	fake.SetPages([][]apollotest.Person{
		{person("a", "Ada", "L", "a@x.test"), person("b", "Bob", "C", "b@x.test")},
		{person("c", "Cia", "R", "c@x.test"), person("d", "Dan", "O", "d@x.test")},
		{person("e", "Eve", "M", "e@x.test"), person("f", "Fay", "N", "f@x.test")},
	})

	c := newTestClient(t, fake)
	recs, err := c.Search(lead.SearchQuery{Titles: []string{"CTO"}, PerPage: 2, MaxRecords: 3}, fastRetry(0)).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3 (MaxRecords cap)", len(recs))
	}
	if calls := fake.Calls(); len(calls) != 2 {
		t.Fatalf("made %d search calls, want 2", len(calls))
	}
}

func TestSearchDropsUnusableRecords(t *testing.T) {
	t.Parallel()

	unavailable := person("u", "Uma", "K", "")
	unavailable.EmailStatus = "unavailable"
	noID := person("", "Ned", "P", "ned@x.test")

	fake := apollotest.New()
	fake.SetPages([][]apollotest.Person{
		{person("a", "Ada", "L", "a@x.test"), unavailable, noID},
	})

	c := newTestClient(t, fake)
	recs, err := c.Search(lead.SearchQuery{Titles: []string{"CTO"}}, fastRetry(0)).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "a" {
		t.Fatalf("records = %v, want only record a", recordIDs(recs))
	}
}

func TestSearchRetriesRateLimitedPages(t *testing.T) {
	t.Parallel()

	fake := apollotest.New()
	fake.SetPages([][]apollotest.Person{
		{person("a", "Ada", "L", "a@x.test")},
	})
	fake.FailNext(1, 429, "")

	c := newTestClient(t, fake)
	recs, err := c.Search(lead.SearchQuery{Titles: []string{"CTO"}, PerPage: 2}, fastRetry(2)).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect after 429: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	// One failed attempt plus the retry that succeeded.
	if calls := fake.Calls(); len(calls) != 2 {
		t.Fatalf("made %d search calls, want 2", len(calls))
	}
}

func TestSearchClassifiesRateLimitWithRetryAfter(t *testing.T) {
	t.Parallel()

	fake := apollotest.New()
	fake.FailNext(1, 429, "2")

	c := newTestClient(t, fake)
	_, err := c.Search(lead.SearchQuery{Titles: []string{"CTO"}}, fastRetry(0)).Next(context.Background())

	var rl *lead.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want RateLimitedError", err)
	}
	if rl.RetryAfter != 2*time.Second {
		t.Fatalf("RetryAfter = %v, want 2s", rl.RetryAfter)
	}
}

func TestSearchAuthFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	fake := apollotest.New()
	fake.RequireAPIKey("a-different-key")

	c := newTestClient(t, fake)
	_, err := c.Search(lead.SearchQuery{Titles: []string{"CTO"}}, fastRetry(3)).Next(context.Background())

	var authErr *lead.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if calls := fake.Calls(); len(calls) != 1 {
		t.Fatalf("made %d search calls, want 1 (no retry on auth failure)", len(calls))
	}
}

func TestCollectKeepsRecordsFetchedBeforeFailure(t *testing.T) {
	t.Parallel()

	fake := apollotest.New()
	fake.SetPages([][]apollotest.Person{
		{person("a", "Ada", "L", "a@x.test"), person("b", "Bob", "C", "b@x.test")},
		{person("c", "Cia", "R", "c@x.test"), person("d", "Dan", "O", "d@x.test")},
	})

	c := newTestClient(t, fake)
	p := c.Search(lead.SearchQuery{Titles: []string{"CTO"}, PerPage: 2}, fastRetry(0))

	first, err := p.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first page has %d records, want 2", len(first))
	}

	fake.FailNext(5, 500, "")
	rest, err := p.Collect(context.Background())
	var stageErr *lead.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != lead.StageSearch {
		t.Fatalf("error = %v, want search stage error", err)
	}
	if len(rest) != 0 {
		t.Fatalf("Collect returned %d records after failure, want 0", len(rest))
	}
	if p.More() {
		t.Fatal("pager still reports more pages after a terminal failure")
	}
}
