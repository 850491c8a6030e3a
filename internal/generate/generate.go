// Package generate turns enriched lead records into personalized outreach
// emails via a pluggable text-generation backend.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leadflow/leadflow/internal/lead"
	"github.com/leadflow/leadflow/internal/pipeline/worker"
)

// Draft is the raw subject/body pair produced by a backend. Same inputs may
// yield different text on each call; that is expected.
type Draft struct {
	Subject string
	Body    string
}

// Generator is the text-generation backend. Implementations classify their
// own transport failures into the pipeline error taxonomy.
type Generator interface {
	Generate(ctx context.Context, rec lead.Record, product lead.ProductContext) (Draft, error)
	Model() string
}

// Mailer validates records and drives the backend. Validation happens before
// any backend call: a record missing a personalization field is skipped, not
// padded with placeholder text.
type Mailer struct {
	backend Generator
	now     func() time.Time
}

func NewMailer(backend Generator) *Mailer {
	return &Mailer{backend: backend, now: time.Now}
}

// requiredFields are the record fields interpolated into every prompt.
var requiredFields = []struct {
	name string
	get  func(lead.Record) string
}{
	{"name", lead.Record.Name},
	{"email", func(r lead.Record) string { return r.Email }},
	{"company", func(r lead.Record) string { return r.Company }},
	{"title", func(r lead.Record) string { return r.Title }},
}

// Validate reports the first missing required field, or nil.
func Validate(rec lead.Record) error {
	for _, f := range requiredFields {
		if strings.TrimSpace(f.get(rec)) == "" {
			return &lead.MissingFieldError{RecordID: rec.ID, Field: f.name}
		}
	}
	return nil
}

// Generate produces one email for one record. Calling it twice for the same
// record is fine and yields two independent emails.
func (m *Mailer) Generate(ctx context.Context, rec lead.Record, product lead.ProductContext) (lead.GeneratedEmail, error) {
	if err := Validate(rec); err != nil {
		return lead.GeneratedEmail{}, err
	}

	draft, err := m.backend.Generate(ctx, rec, product)
	if err != nil {
		return lead.GeneratedEmail{}, fmt.Errorf("generate email for record %s: %w", rec.ID, err)
	}
	subject := strings.TrimSpace(draft.Subject)
	body := strings.TrimSpace(draft.Body)
	if subject == "" || body == "" {
		return lead.GeneratedEmail{}, fmt.Errorf("generate email for record %s: backend returned an empty draft", rec.ID)
	}

	return lead.GeneratedEmail{
		RecordID:    rec.ID,
		Recipient:   rec.Email,
		Subject:     subject,
		Body:        body,
		Model:       m.backend.Model(),
		GeneratedAt: m.now(),
	}, nil
}

// GenerateAll runs records independently through the worker pool. One
// record's failure never blocks the others; results come back in input
// order.
func (m *Mailer) GenerateAll(
	ctx context.Context,
	recs []lead.Record,
	product lead.ProductContext,
	opts worker.Options,
) ([]worker.Result[lead.Record, lead.GeneratedEmail], error) {
	opts.FailurePolicy = worker.FailurePolicyPartialOutput
	return worker.ProcessAll(ctx, recs, func(ctx context.Context, rec lead.Record) (lead.GeneratedEmail, error) {
		return m.Generate(ctx, rec, product)
	}, opts)
}

// BuildPrompt renders the shared outreach prompt consumed by backends. Only
// validated, non-empty fields reach this point.
func BuildPrompt(rec lead.Record, product lead.ProductContext) string {
	var b strings.Builder
	b.WriteString("You write short, personalized cold outreach emails.\n\n")
	b.WriteString("Write one email to the lead below. Return ONLY a single JSON object with keys \"subject\" and \"body\".\n\n")

	b.WriteString("Lead:\n")
	writeField(&b, "Name", rec.Name())
	writeField(&b, "Title", rec.Title)
	writeField(&b, "Company", rec.Company)
	writeField(&b, "Location", rec.Location)
	writeField(&b, "Headline", rec.Headline)
	writeField(&b, "Company industry", rec.Industry)
	writeField(&b, "Company description", rec.CompanyDescription)
	writeField(&b, "Experience", rec.Experience)

	b.WriteString("\nProduct:\n")
	writeField(&b, "Name", product.ProductName)
	writeField(&b, "Pitch", product.Pitch)
	writeField(&b, "Call to action", product.CallToAction)

	b.WriteString("\nSender:\n")
	writeField(&b, "Name", product.SenderName)
	writeField(&b, "Role", product.SenderRole)

	tone := strings.TrimSpace(product.Tone)
	if tone == "" {
		tone = "friendly and direct"
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Tone: " + tone + ".\n")
	b.WriteString("- Under 150 words. No placeholders, no template tokens, no markdown.\n")
	b.WriteString("- Reference something specific about the lead or their company.\n")
	b.WriteString("- Sign off with the sender's name.\n")
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.WriteString("- " + label + ": " + value + "\n")
}
