// Package export writes pipeline collections as CSV for download or
// archival. Headers are a stable contract; append-only.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/leadflow/leadflow/internal/lead"
)

// RecordsHeader returns the stable CSV header for lead records.
func RecordsHeader() []string {
	return []string{
		"id",
		"name",
		"title",
		"company",
		"email",
		"email_status",
		"location",
		"linkedin_url",
		"page",
		"headline",
		"industry",
		"keywords",
		"website",
		"company_linkedin",
		"company_size",
		"founded_year",
		"company_location",
		"company_description",
		"education",
		"experience",
		"enriched",
		"provenance",
	}
}

// WriteRecordsCSV writes all records with the stable header.
func WriteRecordsCSV(w io.Writer, recs []lead.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordsHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range recs {
		row := []string{
			r.ID,
			r.Name(),
			r.Title,
			r.Company,
			r.Email,
			r.EmailStatus,
			r.Location,
			r.LinkedInURL,
			strconv.Itoa(r.Page),
			r.Headline,
			r.Industry,
			r.Keywords,
			r.Website,
			r.CompanyLinkedIn,
			r.CompanySize,
			r.FoundedYear,
			r.CompanyLocation,
			r.CompanyDescription,
			r.Education,
			r.Experience,
			strconv.FormatBool(r.Enriched),
			string(r.Provenance),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// EmailsHeader returns the stable CSV header for generated emails.
func EmailsHeader() []string {
	return []string{"record_id", "recipient", "subject", "body", "model", "generated_at"}
}

// WriteEmailsCSV writes all generated emails with the stable header.
func WriteEmailsCSV(w io.Writer, emails []lead.GeneratedEmail) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EmailsHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range emails {
		row := []string{
			e.RecordID,
			e.Recipient,
			e.Subject,
			e.Body,
			e.Model,
			e.GeneratedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ResultsHeader returns the stable CSV header for send results.
func ResultsHeader() []string {
	return []string{"record_id", "recipient", "outcome", "message_id", "error", "attempts"}
}

// WriteResultsCSV writes all send results with the stable header.
func WriteResultsCSV(w io.Writer, results []lead.SendResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ResultsHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range results {
		row := []string{
			r.RecordID,
			r.Recipient,
			string(r.Outcome),
			r.MessageID,
			r.Error,
			strconv.Itoa(r.Attempts),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
