package apollo

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/leadflow/leadflow/internal/lead"
)

// RetryPolicy bounds per-call retries for transient failures. The zero value
// gets sensible defaults.
type RetryPolicy struct {
	MaxRetries        int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffJitterFrac float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = 200 * time.Millisecond
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = 2 * time.Second
	}
	if p.BackoffJitterFrac <= 0 {
		p.BackoffJitterFrac = 0.2
	}
	return p
}

// Pager fetches search result pages one at a time. It dedupes records by ID
// across pages (the API may repeat records on overlapping pages) and stops
// at the API's end of results or at the query's MaxRecords cap, whichever
// comes first.
//
// A Pager is single-use and not safe for concurrent use. Restarting a
// search means constructing a new Pager from the same query.
type Pager struct {
	c      *Client
	query  lead.SearchQuery
	retry  RetryPolicy
	page   int
	seen   map[string]struct{}
	unique int
	done   bool
}

// Search returns a Pager over the people matching the query.
func (c *Client) Search(query lead.SearchQuery, retry RetryPolicy) *Pager {
	start := query.StartPage
	if start <= 0 {
		start = 1
	}
	return &Pager{
		c:     c,
		query: query,
		retry: retry.withDefaults(),
		page:  start,
		seen:  make(map[string]struct{}),
	}
}

// More reports whether another page may be available.
func (p *Pager) More() bool {
	return !p.done
}

// Next fetches one page and returns its new (deduplicated) records.
// Transient page failures are retried per the retry policy before the error
// surfaces. The returned slice may be empty when every record on the page
// was a duplicate.
func (p *Pager) Next(ctx context.Context) ([]lead.Record, error) {
	if p.done {
		return nil, nil
	}

	perPage := p.query.PerPage
	if perPage <= 0 || perPage > maxPerPage {
		perPage = maxPerPage
	}

	var resp searchResponse
	err := p.withRetry(ctx, func(ctx context.Context) error {
		resp = searchResponse{}
		return p.c.postJSON(ctx, "peopleSearch", "v1/mixed_people/search", nil, searchPayload(p.query, perPage, p.page), &resp)
	})
	if err != nil {
		p.done = true
		return nil, err
	}
	p.page++

	records := make([]lead.Record, 0, len(resp.People))
	for _, person := range resp.People {
		rec, ok := person.toRecord(p.page - 1)
		if !ok {
			continue
		}
		if _, dup := p.seen[rec.ID]; dup {
			continue
		}
		p.seen[rec.ID] = struct{}{}
		records = append(records, rec)
		p.unique++
		if p.query.MaxRecords > 0 && p.unique >= p.query.MaxRecords {
			p.done = true
			break
		}
	}

	// A short page means the API ran out of results.
	if len(resp.People) < perPage {
		p.done = true
	}
	return records, nil
}

// Collect drains all remaining pages. On a terminal page failure it returns
// the records fetched so far alongside a search stage error, so completed
// work is never discarded.
func (p *Pager) Collect(ctx context.Context) ([]lead.Record, error) {
	var all []lead.Record
	for p.More() {
		if err := ctx.Err(); err != nil {
			return all, &lead.StageError{Stage: lead.StageSearch, Err: err}
		}
		recs, err := p.Next(ctx)
		all = append(all, recs...)
		if err != nil {
			return all, &lead.StageError{Stage: lead.StageSearch, Err: err}
		}
	}
	return all, nil
}

func (p *Pager) withRetry(ctx context.Context, call func(context.Context) error) error {
	var lastErr error
	attempts := 1 + p.retry.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := call(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !lead.IsTransient(err) || attempt == attempts-1 {
			return err
		}

		sleep := pageBackoff(p.retry, attempt)
		var rl *lead.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > sleep {
			sleep = rl.RetryAfter
		}
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

func pageBackoff(p RetryPolicy, attempt int) time.Duration {
	sleep := p.BackoffInitial
	for i := 0; i < attempt && sleep < p.BackoffMax; i++ {
		sleep *= 2
		if sleep > p.BackoffMax {
			sleep = p.BackoffMax
			break
		}
	}
	if p.BackoffJitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*p.BackoffJitterFrac
	return time.Duration(float64(sleep) * j)
}

func searchPayload(q lead.SearchQuery, perPage, page int) map[string]any {
	payload := map[string]any{
		"person_titles":          q.Titles,
		"include_similar_titles": q.IncludeSimilarTitles,
		"person_locations":       q.PersonLocations,
		"company_locations":      q.CompanyLocations,
		"company_industries":     q.Industries,
		"per_page":               perPage,
		"page":                   page,
		"with_email_data":        true,
	}
	if q.VerifiedEmailsOnly {
		payload["email_status"] = []string{"verified"}
	}
	return payload
}

type searchResponse struct {
	People []searchPerson `json:"people"`
}

type searchPerson struct {
	ID           string             `json:"id"`
	FirstName    string             `json:"first_name"`
	LastName     string             `json:"last_name"`
	Title        string             `json:"title"`
	Email        string             `json:"email"`
	EmailStatus  string             `json:"email_status"`
	LinkedInURL  string             `json:"linkedin_url"`
	Location     string             `json:"location"`
	City         string             `json:"city"`
	State        string             `json:"state"`
	Country      string             `json:"country"`
	Organization searchOrganization `json:"organization"`
}

type searchOrganization struct {
	Name string `json:"name"`
}

// toRecord maps the loose API shape into a validated Record at the
// ingestion boundary. Records without an ID or with an unavailable email
// are dropped here rather than propagated downstream.
func (p searchPerson) toRecord(page int) (lead.Record, bool) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return lead.Record{}, false
	}
	if strings.EqualFold(strings.TrimSpace(p.EmailStatus), "unavailable") {
		return lead.Record{}, false
	}

	loc := strings.TrimSpace(p.Location)
	if loc == "" {
		loc = joinNonEmpty(", ", p.City, p.State, p.Country)
	}

	return lead.Record{
		ID:          id,
		FirstName:   strings.TrimSpace(p.FirstName),
		LastName:    strings.TrimSpace(p.LastName),
		Title:       strings.TrimSpace(p.Title),
		Company:     strings.TrimSpace(p.Organization.Name),
		Location:    loc,
		Email:       strings.TrimSpace(p.Email),
		EmailStatus: strings.TrimSpace(p.EmailStatus),
		LinkedInURL: strings.TrimSpace(p.LinkedInURL),
		Page:        page,
		Provenance:  lead.StageSearch,
	}, true
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
