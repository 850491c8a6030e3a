package apollo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/leadflow/leadflow/internal/lead"
	"github.com/leadflow/leadflow/internal/pipeline/worker"
)

// EnrichOptions tunes the bulk-match stage.
type EnrichOptions struct {
	// ChunkSize is clamped to the bulk-match endpoint's batch limit.
	ChunkSize int
	Worker    worker.Options
}

// Enrich resolves enrichment data for the given record IDs. IDs are
// deduplicated and matched in bounded chunks through the worker pool.
//
// Partial failure is the norm, not the exception: the enriched map and the
// failed-ID set together account for every input ID. A failed chunk marks
// only its own IDs failed; IDs a successful response did not match are
// failed as unknown. The error return is non-nil only for stage-level
// failures (bad credentials), with all work completed so far retained.
func (c *Client) Enrich(ctx context.Context, ids []string, opts EnrichOptions) (map[string]lead.Enrichment, []string, error) {
	unique := dedupeIDs(ids)
	if len(unique) == 0 {
		return map[string]lead.Enrichment{}, nil, nil
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 || chunkSize > maxBulkMatch {
		chunkSize = maxBulkMatch
	}
	var chunks [][]string
	for start := 0; start < len(unique); start += chunkSize {
		end := start + chunkSize
		if end > len(unique) {
			end = len(unique)
		}
		chunks = append(chunks, unique[start:end])
	}

	wopts := opts.Worker
	wopts.FailurePolicy = worker.FailurePolicyPartialOutput
	results, err := worker.ProcessAll(ctx, chunks, c.bulkMatch, wopts)
	if err != nil {
		return map[string]lead.Enrichment{}, unique, &lead.StageError{Stage: lead.StageEnrich, Err: err}
	}

	enriched := make(map[string]lead.Enrichment, len(unique))
	var failed []string
	var authErr *lead.AuthError
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.Input...)
			if authErr == nil {
				errors.As(res.Err, &authErr)
			}
			continue
		}
		for _, id := range res.Input {
			e, ok := res.Output[id]
			if !ok {
				failed = append(failed, id)
				continue
			}
			enriched[id] = e
		}
	}

	if authErr != nil {
		return enriched, failed, &lead.StageError{Stage: lead.StageEnrich, Err: authErr}
	}
	return enriched, failed, nil
}

func (c *Client) bulkMatch(ctx context.Context, ids []string) (map[string]lead.Enrichment, error) {
	details := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		details = append(details, map[string]string{"id": id})
	}

	q := url.Values{}
	q.Set("reveal_personal_emails", "false")
	q.Set("reveal_phone_number", "false")

	var resp bulkMatchResponse
	err := c.postJSON(ctx, "peopleBulkMatch", "v1/people/bulk_match", q, map[string]any{"details": details}, &resp)
	if err != nil {
		return nil, err
	}

	out := make(map[string]lead.Enrichment, len(resp.Matches))
	for _, m := range resp.Matches {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			continue
		}
		out[id] = m.toEnrichment()
	}
	return out, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type bulkMatchResponse struct {
	Matches []matchPerson `json:"matches"`
}

type matchPerson struct {
	ID           string            `json:"id"`
	Headline     string            `json:"headline"`
	Organization matchOrganization `json:"organization"`
	Education    []matchEducation  `json:"education"`
	Experience   []matchExperience `json:"experience"`
}

type matchOrganization struct {
	Name             string   `json:"name"`
	Industry         string   `json:"industry"`
	Keywords         []string `json:"keywords"`
	WebsiteURL       string   `json:"website_url"`
	LinkedInURL      string   `json:"linkedin_url"`
	EstimatedHead    int      `json:"estimated_num_employees"`
	FoundedYear      int      `json:"founded_year"`
	City             string   `json:"city"`
	State            string   `json:"state"`
	Country          string   `json:"country"`
	ShortDescription string   `json:"short_description"`
	SEODescription   string   `json:"seo_description"`
}

type matchEducation struct {
	Degree       string `json:"degree"`
	FieldOfStudy string `json:"field_of_study"`
}

type matchExperience struct {
	Title        string            `json:"title"`
	Organization matchOrganization `json:"organization"`
}

func (m matchPerson) toEnrichment() lead.Enrichment {
	org := m.Organization

	desc := strings.TrimSpace(org.ShortDescription)
	if desc == "" {
		desc = strings.TrimSpace(org.SEODescription)
	}

	var edu []string
	for _, e := range m.Education {
		degree := strings.TrimSpace(e.Degree)
		field := strings.TrimSpace(e.FieldOfStudy)
		if degree == "" && field == "" {
			continue
		}
		switch {
		case field == "":
			edu = append(edu, degree)
		case degree == "":
			edu = append(edu, field)
		default:
			edu = append(edu, degree+" in "+field)
		}
	}

	var exp []string
	for _, e := range m.Experience {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			continue
		}
		if company := strings.TrimSpace(e.Organization.Name); company != "" {
			exp = append(exp, title+" at "+company)
			continue
		}
		exp = append(exp, title)
	}

	return lead.Enrichment{
		Headline:           strings.TrimSpace(m.Headline),
		Industry:           strings.TrimSpace(org.Industry),
		Keywords:           strings.Join(org.Keywords, ", "),
		Website:            strings.TrimSpace(org.WebsiteURL),
		CompanyLinkedIn:    strings.TrimSpace(org.LinkedInURL),
		CompanySize:        intField(org.EstimatedHead),
		FoundedYear:        intField(org.FoundedYear),
		CompanyLocation:    joinNonEmpty(", ", org.City, org.State, org.Country),
		CompanyDescription: desc,
		Education:          strings.Join(edu, "; "),
		Experience:         strings.Join(exp, "; "),
	}
}

func intField(v int) string {
	if v <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}
