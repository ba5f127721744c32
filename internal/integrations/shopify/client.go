// Package shopify fetches the active product catalog from the Shopify Admin
// REST API.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"shop-assistant/internal/domain"
)

const (
	defaultAPIVersion = "2024-10"
	pageLimit         = 250
	maxPages          = 40

	maxPriceUnits = math.MaxInt64/100 - 1
)

// HTTPStatusError captures non-2xx storefront responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("shopify: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type productsResponse struct {
	Products []struct {
		Title    string `json:"title"`
		Handle   string `json:"handle"`
		BodyHTML string `json:"body_html"`
		Variants []struct {
			Price string `json:"price"`
		} `json:"variants"`
	} `json:"products"`
}

type Client struct {
	baseURL    string
	apiVersion string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithBaseURL overrides https://{shop domain}.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if v = strings.TrimSpace(v); v != "" {
			c.apiVersion = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient builds a client for the admin domain (for example
// my-store.myshopify.com), which may differ from the public store domain
// used in product links.
func NewClient(shopDomain, accessToken string, opts ...Option) (*Client, error) {
	shopDomain = strings.TrimSpace(shopDomain)
	if shopDomain == "" {
		return nil, errors.New("shopify: shop domain must not be empty")
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("shopify: access token must not be empty")
	}
	c := &Client{
		baseURL:    "https://" + shopDomain,
		apiVersion: defaultAPIVersion,
		token:      accessToken,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchCatalog returns every active product, following Link pagination. Any
// failure discards the partial result.
func (c *Client) FetchCatalog(ctx context.Context) ([]domain.Product, error) {
	next := fmt.Sprintf("%s/admin/api/%s/products.json?status=active&limit=%d&fields=title,handle,body_html,variants",
		c.baseURL, c.apiVersion, pageLimit)

	var out []domain.Product
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("shopify: more than %d pages of products", maxPages)
		}
		body, link, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		var payload productsResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("shopify: decode products: %w", err)
		}
		for _, p := range payload.Products {
			price := int64(0)
			if len(p.Variants) > 0 {
				if price, err = ParsePriceMinor(p.Variants[0].Price); err != nil {
					return nil, fmt.Errorf("shopify: product %q: %w", p.Handle, err)
				}
			}
			out = append(out, domain.Product{
				Title:           p.Title,
				Handle:          p.Handle,
				PriceMinor:      price,
				DescriptionHTML: p.BodyHTML,
			})
		}
		next = nextPageURL(link)
	}
	if out == nil {
		out = []domain.Product{}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("shopify: create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("shopify: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, "", &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, "", fmt.Errorf("shopify: read response body: %w", err)
	}
	return buf, res.Header.Get("Link"), nil
}

var linkNext = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPageURL extracts the rel="next" target from a Link header.
func nextPageURL(link string) string {
	m := linkNext.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParsePriceMinor converts a decimal price string such as "25.5" into minor
// units (2550). Digits past the second decimal place are dropped.
func ParsePriceMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	negative := strings.HasPrefix(whole, "-")
	digits := strings.TrimPrefix(whole, "-")
	if !allDigits(digits) || (hasFrac && !allDigits(frac)) {
		return 0, fmt.Errorf("parse price %q: not a decimal number", s)
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || units > maxPriceUnits {
		return 0, fmt.Errorf("parse price %q: out of range", s)
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)
	minor := units*100 + cents
	if negative {
		minor = -minor
	}
	return minor, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
