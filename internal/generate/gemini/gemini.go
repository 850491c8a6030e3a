// Package gemini generates outreach email drafts with the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/leadflow/leadflow/internal/generate"
	"github.com/leadflow/leadflow/internal/lead"
	"google.golang.org/genai"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

type Backend struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Backend{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

func (b *Backend) Model() string {
	return b.model
}

type draftSchema struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"subject": {Type: genai.TypeString},
		"body":    {Type: genai.TypeString},
	},
	Required: []string{"subject", "body"},
}

func (b *Backend) Generate(ctx context.Context, rec lead.Record, product lead.ProductContext) (generate.Draft, error) {
	prompt := generate.BuildPrompt(rec, product)
	resp, err := b.client.Models.GenerateContent(
		ctx,
		b.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return generate.Draft{}, classifyErr(err)
	}

	var parsed draftSchema
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return generate.Draft{}, fmt.Errorf("gemini: parse structured json: %w", err)
	}
	return generate.Draft{
		Subject: strings.TrimSpace(parsed.Subject),
		Body:    strings.TrimSpace(parsed.Body),
	}, nil
}

func classifyErr(err error) error {
	// Wrap transient failures so the worker pool will retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &lead.RateLimitedError{Err: err}
		case apiErr.Code/100 == 5:
			return &lead.TransientError{Err: err}
		case apiErr.Code == 401 || apiErr.Code == 403:
			return &lead.AuthError{Op: "geminiGenerate", Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &lead.TransientError{Err: err}
	}
	return err
}
