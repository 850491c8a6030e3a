// Package openai generates outreach email drafts with the OpenAI chat
// completion API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/leadflow/leadflow/internal/generate"
	"github.com/leadflow/leadflow/internal/lead"
	openai "github.com/sashabaranov/go-openai"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the API base URL. Useful for proxies/testing and
	// OpenAI-compatible servers.
	BaseURL string
}

type Backend struct {
	client *openai.Client
	model  string
}

func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("openai model is required")
	}

	cc := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	return &Backend{
		client: openai.NewClientWithConfig(cc),
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

func (b *Backend) Generate(ctx context.Context, rec lead.Record, product lead.ProductContext) (generate.Draft, error) {
	prompt := generate.BuildPrompt(rec, product)
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		N: 1,
	})
	if err != nil {
		return generate.Draft{}, classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return generate.Draft{}, fmt.Errorf("openai: response had no choices")
	}

	var parsed draftSchema
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return generate.Draft{}, fmt.Errorf("openai: parse structured json: %w", err)
	}
	return generate.Draft{
		Subject: strings.TrimSpace(parsed.Subject),
		Body:    strings.TrimSpace(parsed.Body),
	}, nil
}

func classifyErr(err error) error {
	// Wrap transient failures so the worker pool will retry with backoff.
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return &lead.RateLimitedError{Err: err}
		case apiErr.HTTPStatusCode/100 == 5:
			return &lead.TransientError{Err: err}
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &lead.AuthError{Op: "openaiGenerate", Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &lead.TransientError{Err: err}
	}
	return err
}
