// Package openai adapts an OpenAI-compatible chat completions endpoint to the
// reply generator used by the usecase layer.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"shop-assistant/internal/domain"
)

const (
	defaultModel           = "gpt-4o-mini"
	finishReasonFiltered   = "content_filter"
	defaultRequestTimeout  = 30 * time.Second
	defaultModerationModel = openai.ModerationModelOmniModerationLatest
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client generates replies with chat completions and, when enabled, screens
// the customer prompt with the moderation endpoint first.
type Client struct {
	api      openai.Client
	model    string
	moderate bool

	baseURL    string
	httpClient *http.Client
	maxRetries int
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModeration(enabled bool) Option {
	return func(c *Client) {
		c.moderate = enabled
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func NewClient(apiKey, model string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	c := &Client{
		model:      model,
		moderate:   true,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(c.maxRetries),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(c.baseURL, "/")+"/"))
	}
	c.api = openai.NewClient(reqOpts...)
	return c, nil
}

// Generate sends the instructions as the system message and the rest of the
// payload, plus the optional image, as one user message.
func (c *Client) Generate(ctx context.Context, p domain.ContextPayload) (string, error) {
	prompt := p.Prompt()
	if c.moderate {
		flagged, err := c.Moderate(ctx, prompt)
		if err != nil {
			return "", err
		}
		if flagged {
			return "", fmt.Errorf("openai: moderation flagged prompt: %w", domain.ErrContentRejected)
		}
	}

	completion, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.Instructions),
			userMessage(prompt, p.Image),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", upstreamError(err))
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response: %w", domain.ErrNoReply)
	}

	choice := completion.Choices[0]
	if choice.FinishReason == finishReasonFiltered {
		return "", fmt.Errorf("openai: completion filtered: %w", domain.ErrContentRejected)
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: empty completion: %w", domain.ErrNoReply)
	}
	return text, nil
}

// Moderate calls the moderations endpoint and returns true if the input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	res, err := c.api.Moderations.New(ctx, openai.ModerationNewParams{
		Model: defaultModerationModel,
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(input)},
	})
	if err != nil {
		return false, fmt.Errorf("openai: moderation request failed: %w", upstreamError(err))
	}
	if len(res.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return res.Results[0].Flagged, nil
}

func userMessage(prompt string, img *domain.Image) openai.ChatCompletionMessageParamUnion {
	if img == nil || len(img.Data) == 0 {
		return openai.UserMessage(prompt)
	}
	return openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL(*img),
		}),
	})
}

func dataURL(img domain.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// upstreamError converts SDK API errors into *HTTPStatusError so callers can
// branch on the status code without importing the SDK.
func upstreamError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	out := &HTTPStatusError{StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
	if apiErr.Request != nil && apiErr.Request.URL != nil {
		out.URL = apiErr.Request.URL.String()
	}
	return out
}
