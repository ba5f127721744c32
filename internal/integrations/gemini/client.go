// Package gemini adapts the Gemini generateContent API to the reply generator
// used by the usecase layer.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"shop-assistant/internal/domain"
)

const defaultModel = "gemini-2.5-flash"

// HTTPStatusError carries the status of a failed Gemini API call.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d (%s): %s", e.StatusCode, e.Status, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	api         *genai.Client
	model       string
	temperature float32
}

type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	// BaseURL overrides the API endpoint; empty uses the public one.
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{api: api, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Generate sends the payload as a single user turn, with the instructions as
// the system instruction and the optional image as an inline part.
func (c *Client) Generate(ctx context.Context, p domain.ContextPayload) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(p.Prompt())}
	if p.Image != nil && len(p.Image.Data) > 0 {
		mime := p.Image.MIMEType
		if mime == "" {
			mime = http.DetectContentType(p.Image.Data)
		}
		parts = append(parts, genai.NewPartFromBytes(p.Image.Data, mime))
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.Instructions, genai.RoleUser),
	}
	if c.temperature > 0 {
		temp := c.temperature
		cfg.Temperature = &temp
	}

	res, err := c.api.Models.GenerateContent(ctx, c.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", upstreamError(err))
	}
	if blocked(res) {
		return "", fmt.Errorf("gemini: response blocked: %w", domain.ErrContentRejected)
	}

	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: empty text: %w", domain.ErrNoReply)
	}
	return text, nil
}

func blocked(res *genai.GenerateContentResponse) bool {
	if res == nil {
		return false
	}
	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return true
	}
	for _, c := range res.Candidates {
		switch c.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
			return true
		}
	}
	return false
}

func upstreamError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPStatusError{StatusCode: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &HTTPStatusError{StatusCode: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return err
}
