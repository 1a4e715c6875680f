// Package gemini calls the Google Generative Language generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spec-kit/ticket-triage/internal/triage"
)

// ProviderName identifies this provider in logs, metrics and errors.
const ProviderName = "gemini"

const maxErrorBody = 512

// Client implements triage.Provider for Gemini models.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Gemini client. The per-call deadline comes from the caller's
// context; the HTTP client timeout is only a backstop.
func New(apiKey, model, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type request struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

func (c *Client) Name() string { return ProviderName }

// Complete sends the prompt and returns the decoded JSON response document.
func (c *Client) Complete(ctx context.Context, prompt triage.Prompt) (any, error) {
	body, err := json.Marshal(request{
		SystemInstruction: content{Parts: []part{{Text: prompt.System}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt.User}}}},
		GenerationConfig:  generationConfig{ResponseMimeType: "application/json", Temperature: 0.2},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &triage.ProviderError{Provider: ProviderName, Message: "send request: " + err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &triage.ProviderError{Provider: ProviderName, Status: resp.StatusCode, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &triage.ProviderError{Provider: ProviderName, Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var doc any
	if err := json.Unmarshal(respBody, &doc); err != nil {
		return nil, &triage.ProviderError{Provider: ProviderName, Status: resp.StatusCode, Message: "unmarshal response: " + err.Error(), Err: err}
	}
	return doc, nil
}

// errorMessage prefers the API's {"error":{"message":...}} text over the raw body.
func errorMessage(body []byte) string {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}
