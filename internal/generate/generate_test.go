package generate_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/leadflow/leadflow/internal/generate"
	"github.com/leadflow/leadflow/internal/lead"
	"github.com/leadflow/leadflow/internal/pipeline/worker"
)

type fakeBackend struct {
	calls atomic.Int32
	fn    func(rec lead.Record) (generate.Draft, error)
}

func (f *fakeBackend) Generate(_ context.Context, rec lead.Record, _ lead.ProductContext) (generate.Draft, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(rec)
	}
	return generate.Draft{
		Subject: "Quick question for " + rec.Company,
		Body:    "Hi " + rec.FirstName + ", saw your work at " + rec.Company + ".",
	}, nil
}

func (f *fakeBackend) Model() string { return "fake-model" }

func validRecord(id string) lead.Record {
	return lead.Record{
		ID:        id,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Title:     "CTO",
		Company:   "Acme",
		Email:     "ada@acme.test",
		Enriched:  true,
	}
}

var product = lead.ProductContext{
	ProductName: "LeadFlow",
	Pitch:       "Automated outreach for small teams.",
	SenderName:  "Sam Carter",
}

func TestGenerateProducesEmailFromDraft(t *testing.T) {
	t.Parallel()

	m := generate.NewMailer(&fakeBackend{})
	email, err := m.Generate(context.Background(), validRecord("r1"), product)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if email.RecordID != "r1" || email.Recipient != "ada@acme.test" {
		t.Fatalf("email routing = %q/%q", email.RecordID, email.Recipient)
	}
	if email.Subject == "" || email.Body == "" {
		t.Fatal("email has empty subject or body")
	}
	if email.Model != "fake-model" {
		t.Fatalf("email.Model = %q", email.Model)
	}
	if email.GeneratedAt.IsZero() {
		t.Fatal("email.GeneratedAt not set")
	}
}

func TestGenerateSkipsRecordWithMissingFieldBeforeBackendCall(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	m := generate.NewMailer(backend)

	rec := validRecord("r1")
	rec.Company = ""
	_, err := m.Generate(context.Background(), rec, product)

	var missing *lead.MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want MissingFieldError", err)
	}
	if missing.Field != "company" {
		t.Fatalf("missing field = %q, want company", missing.Field)
	}
	if got := backend.calls.Load(); got != 0 {
		t.Fatalf("backend called %d times for an invalid record, want 0", got)
	}
}

func TestGenerateTwiceYieldsIndependentEmails(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	backend := &fakeBackend{fn: func(rec lead.Record) (generate.Draft, error) {
		return generate.Draft{
			Subject: fmt.Sprintf("Draft %d", n.Add(1)),
			Body:    "Hi " + rec.FirstName,
		}, nil
	}}
	m := generate.NewMailer(backend)

	first, err := m.Generate(context.Background(), validRecord("r1"), product)
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	second, err := m.Generate(context.Background(), validRecord("r1"), product)
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if first.Subject == second.Subject {
		t.Fatalf("regeneration returned the same subject %q twice", first.Subject)
	}
}

func TestGenerateRejectsEmptyDraft(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(lead.Record) (generate.Draft, error) {
		return generate.Draft{Subject: "s", Body: "   "}, nil
	}}
	m := generate.NewMailer(backend)

	if _, err := m.Generate(context.Background(), validRecord("r1"), product); err == nil {
		t.Fatal("Generate accepted an empty draft body")
	}
}

func TestGenerateAllIsolatesPerRecordFailures(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fn: func(rec lead.Record) (generate.Draft, error) {
		if rec.ID == "r2" {
			return generate.Draft{}, errors.New("model refused")
		}
		return generate.Draft{Subject: "s", Body: "b"}, nil
	}}
	m := generate.NewMailer(backend)

	recs := []lead.Record{validRecord("r1"), validRecord("r2"), validRecord("r3")}
	results, err := m.GenerateAll(context.Background(), recs, product, worker.Options{Workers: 2})
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, res := range results {
		if res.Input.ID != recs[i].ID {
			t.Fatalf("results[%d] is for %q, want %q", i, res.Input.ID, recs[i].ID)
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("healthy records failed: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Fatal("failing record reported no error")
	}
}

func TestBuildPromptIncludesLeadAndProductContext(t *testing.T) {
	t.Parallel()

	rec := validRecord("r1")
	rec.Headline = "Builds data platforms"
	prompt := generate.BuildPrompt(rec, product)

	for _, want := range []string{"Ada Lovelace", "Acme", "Builds data platforms", "LeadFlow", "Sam Carter"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Location:") {
		t.Fatal("prompt includes a label for an empty field")
	}
}
