// Package telegram talks to the Telegram Bot API: it resolves attachment
// file ids to bytes and delivers replies.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"shop-assistant/internal/domain"
)

const (
	defaultBaseURL   = "https://api.telegram.org"
	maxImageBytes    = 10 << 20
	maxMessageRunes  = 4096
	parseModeHTML    = "HTML"
	SecretHeaderName = "X-Telegram-Bot-Api-Secret-Token"
)

// HTTPStatusError captures non-2xx Bot API responses.
type HTTPStatusError struct {
	StatusCode int
	Method     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("telegram: unexpected status %d from %s: %s", e.StatusCode, e.Method, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type fileResult struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: bot token must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchImage resolves a file id with getFile and downloads the file.
func (c *Client) FetchImage(ctx context.Context, ref string) (domain.Image, error) {
	if strings.TrimSpace(ref) == "" {
		return domain.Image{}, errors.New("telegram: file id must not be empty")
	}
	var f fileResult
	if err := c.call(ctx, "getFile", map[string]string{"file_id": ref}, &f); err != nil {
		return domain.Image{}, err
	}
	if f.FilePath == "" {
		return domain.Image{}, errors.New("telegram: getFile returned no file_path")
	}
	if f.FileSize > maxImageBytes {
		return domain.Image{}, fmt.Errorf("telegram: file too large: %d bytes", f.FileSize)
	}

	fileURL := c.baseURL + "/file/bot" + c.token + "/" + f.FilePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return domain.Image{}, fmt.Errorf("telegram: create download request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Image{}, fmt.Errorf("telegram: download file: %w", redact(err, c.token))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.Image{}, &HTTPStatusError{StatusCode: res.StatusCode, Method: "file", Body: string(buf)}
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxImageBytes+1))
	if err != nil {
		return domain.Image{}, fmt.Errorf("telegram: read file: %w", err)
	}
	if len(data) > maxImageBytes {
		return domain.Image{}, fmt.Errorf("telegram: file exceeds %d bytes", maxImageBytes)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return domain.Image{}, fmt.Errorf("telegram: file is not an image: %s", mime)
	}
	return domain.Image{Data: data, MIMEType: mime}, nil
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// Send delivers a reply with HTML parse mode. When Telegram rejects the
// markup, the text is resent as plain text with the tags removed.
func (c *Client) Send(ctx context.Context, reply domain.OutboundReply) error {
	req := sendMessageRequest{
		ChatID:    reply.RecipientID,
		Text:      truncate(reply.Text, maxMessageRunes),
		ParseMode: parseModeHTML,
	}
	err := c.call(ctx, "sendMessage", req, nil)
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest && strings.Contains(statusErr.Body, "can't parse entities") {
		req.ParseMode = ""
		req.Text = plainText(req.Text)
		err = c.call(ctx, "sendMessage", req, nil)
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s request: %w", method, err)
	}
	methodURL := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, methodURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		return fmt.Errorf("telegram: %s request failed: %w", method, redact(err, c.token))
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: res.StatusCode, Method: method, Body: string(buf)}
	}

	var payload apiResponse
	if err := json.Unmarshal(buf, &payload); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !payload.OK {
		return fmt.Errorf("telegram: %s not ok: %s", method, payload.Description)
	}
	if out != nil {
		if err := json.Unmarshal(payload.Result, out); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

func redact(err error, token string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, token, "<redacted>")
	}
	return err
}

// truncate cuts HTML text to at most max runes without splitting a tag, an
// entity or an anchor.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	cut := string(r[:max])
	if i := strings.LastIndexByte(cut, '<'); i > strings.LastIndexByte(cut, '>') {
		cut = cut[:i]
	}
	if i := strings.LastIndexByte(cut, '&'); i >= 0 && !strings.Contains(cut[i:], ";") {
		cut = cut[:i]
	}
	if i := strings.LastIndex(cut, "<a "); i >= 0 && !strings.Contains(cut[i:], "</a>") {
		cut = cut[:i]
	}
	return cut
}

func plainText(s string) string {
	return html.UnescapeString(htmlTag.ReplaceAllString(s, ""))
}
