// Package campaign loads the per-run campaign file: who to search for and
// what the outreach is about.
package campaign

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/leadflow/leadflow/internal/lead"
	"gopkg.in/yaml.v3"
)

// Campaign is one outreach run's inputs. Process-level credentials and
// tunables live in the config file, not here.
type Campaign struct {
	Name string `yaml:"name"`

	Search struct {
		Titles               []string `yaml:"titles"`
		IncludeSimilarTitles bool     `yaml:"include_similar_titles"`
		PersonLocations      []string `yaml:"person_locations"`
		CompanyLocations     []string `yaml:"company_locations"`
		Industries           []string `yaml:"industries"`
		VerifiedEmailsOnly   bool     `yaml:"verified_emails_only"`
		PerPage              int      `yaml:"per_page"`
		MaxRecords           int      `yaml:"max_records"`
	} `yaml:"search"`

	ProductInfo struct {
		Name         string `yaml:"name"`
		Pitch        string `yaml:"pitch"`
		CallToAction string `yaml:"call_to_action"`
		Tone         string `yaml:"tone"`
	} `yaml:"product"`

	Sender struct {
		Name string `yaml:"name"`
		Role string `yaml:"role"`
	} `yaml:"sender"`
}

// Load reads and validates a campaign file.
func Load(path string) (Campaign, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Campaign{}, fmt.Errorf("read campaign file: %w", err)
	}
	return Parse(b)
}

// Parse decodes campaign YAML and validates it.
func Parse(b []byte) (Campaign, error) {
	var c Campaign
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Campaign{}, fmt.Errorf("parse campaign YAML: %w", err)
	}
	if err := c.validate(); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

func (c Campaign) validate() error {
	if len(c.Search.Titles) == 0 {
		return fmt.Errorf("campaign: search.titles is required")
	}
	if strings.TrimSpace(c.ProductInfo.Name) == "" {
		return fmt.Errorf("campaign: product.name is required")
	}
	if strings.TrimSpace(c.ProductInfo.Pitch) == "" {
		return fmt.Errorf("campaign: product.pitch is required")
	}
	if strings.TrimSpace(c.Sender.Name) == "" {
		return fmt.Errorf("campaign: sender.name is required")
	}
	return nil
}

// Query maps the campaign's search section onto a SearchQuery.
func (c Campaign) Query() lead.SearchQuery {
	return lead.SearchQuery{
		Titles:               c.Search.Titles,
		IncludeSimilarTitles: c.Search.IncludeSimilarTitles,
		PersonLocations:      c.Search.PersonLocations,
		CompanyLocations:     c.Search.CompanyLocations,
		Industries:           c.Search.Industries,
		VerifiedEmailsOnly:   c.Search.VerifiedEmailsOnly,
		PerPage:              c.Search.PerPage,
		MaxRecords:           c.Search.MaxRecords,
	}
}

// Product maps the campaign's product and sender sections onto the
// generation context.
func (c Campaign) Product() lead.ProductContext {
	return lead.ProductContext{
		ProductName:  c.ProductInfo.Name,
		Pitch:        c.ProductInfo.Pitch,
		CallToAction: c.ProductInfo.CallToAction,
		Tone:         c.ProductInfo.Tone,
		SenderName:   c.Sender.Name,
		SenderRole:   c.Sender.Role,
	}
}
