package campaign

import (
	"strings"
	"testing"
)

const validYAML = `
name: q3-devtools-push
search:
  titles: ["CTO", "VP Engineering"]
  include_similar_titles: true
  person_locations: ["Germany"]
  verified_emails_only: true
  per_page: 50
  max_records: 200
product:
  name: LeadFlow
  pitch: Automated outreach for small teams.
  call_to_action: Book a 15 minute call.
  tone: friendly
sender:
  name: Sam Carter
  role: Founder
`

func TestParseValidCampaign(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	q := c.Query()
	if len(q.Titles) != 2 || q.Titles[0] != "CTO" {
		t.Fatalf("titles = %v", q.Titles)
	}
	if !q.IncludeSimilarTitles || !q.VerifiedEmailsOnly {
		t.Fatalf("flags not mapped: %+v", q)
	}
	if q.PerPage != 50 || q.MaxRecords != 200 {
		t.Fatalf("paging = %d/%d", q.PerPage, q.MaxRecords)
	}

	p := c.Product()
	if p.ProductName != "LeadFlow" || p.SenderName != "Sam Carter" || p.SenderRole != "Founder" {
		t.Fatalf("product = %+v", p)
	}
}

func TestParseRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		drop string
		want string
	}{
		{"no titles", `titles: ["CTO", "VP Engineering"]`, "search.titles"},
		{"no product name", "name: LeadFlow", "product.name"},
		{"no pitch", "pitch: Automated outreach for small teams.", "product.pitch"},
		{"no sender", "name: Sam Carter", "sender.name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := strings.Replace(validYAML, tc.drop, "", 1)
			_, err := Parse([]byte(in))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Parse error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	in := validYAML + "unknown_section:\n  foo: bar\n"
	if _, err := Parse([]byte(in)); err == nil {
		t.Fatal("Parse accepted an unknown top-level field")
	}
}
