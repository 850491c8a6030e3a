package lead

import (
	"strings"
	"time"
)

// Stage identifies a pipeline stage. Records carry the stage that last
// touched them as a provenance tag.
type Stage string

const (
	StageSearch   Stage = "search"
	StageEnrich   Stage = "enrich"
	StageGenerate Stage = "generate"
	StageSend     Stage = "send"
)

// Record is one contact profile drawn from the contacts API.
//
// Search populates the contact fields; Enrich fills in the enrichment fields
// and flips Enriched. Records are read-only after enrichment.
type Record struct {
	ID          string
	FirstName   string
	LastName    string
	Title       string
	Company     string
	Location    string
	Email       string
	EmailStatus string
	LinkedInURL string
	Page        int

	Enrichment
	Enriched bool

	// Provenance is the stage that last wrote to this record.
	Provenance Stage
}

// Enrichment holds the fields added by the bulk-match endpoint.
type Enrichment struct {
	Headline           string
	Industry           string
	Keywords           string
	Website            string
	CompanyLinkedIn    string
	CompanySize        string
	FoundedYear        string
	CompanyLocation    string
	CompanyDescription string
	Education          string
	Experience         string
}

// Name returns the display name, or "" when both parts are empty.
func (r Record) Name() string {
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

// ApplyEnrichment merges enrichment fields into the record and tags it.
func (r *Record) ApplyEnrichment(e Enrichment) {
	r.Enrichment = e
	r.Enriched = true
	r.Provenance = StageEnrich
}

// SearchQuery is the filter set sent to the people search endpoint.
type SearchQuery struct {
	Titles               []string
	IncludeSimilarTitles bool
	PersonLocations      []string
	CompanyLocations     []string
	Industries           []string

	// VerifiedEmailsOnly restricts results to verified email addresses.
	VerifiedEmailsOnly bool

	// PerPage is clamped to the API page-size limit by the client.
	PerPage int
	// StartPage is the first page to fetch (1-based; 0 means 1).
	StartPage int
	// MaxRecords caps the total number of unique records fetched across
	// pages. 0 means no cap.
	MaxRecords int
}

// ProductContext is what the outreach email is about. It is interpolated
// into generation prompts, never into the email verbatim.
type ProductContext struct {
	ProductName  string
	Pitch        string
	SenderName   string
	SenderRole   string
	CallToAction string
	Tone         string
}

// GeneratedEmail is one personalized email produced for one record.
// Re-running generation for the same record replaces the previous value.
type GeneratedEmail struct {
	RecordID    string
	Recipient   string
	Subject     string
	Body        string
	Model       string
	GeneratedAt time.Time
}

// Outcome is the terminal per-item result of the send stage.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// SendResult records the terminal outcome for one send item. Error is set
// iff Outcome is OutcomeFailed.
type SendResult struct {
	RecordID  string
	Recipient string
	Outcome   Outcome
	MessageID string
	Error     string
	Attempts  int
}
