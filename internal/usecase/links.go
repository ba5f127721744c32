package usecase

import (
	"html"
	"net/url"
	"strings"

	"shop-assistant/internal/domain"
)

// Product mention markers the generator is instructed to put around names.
const (
	MarkerOpen  = "[["
	MarkerClose = "]]"
)

// BindProductLinks replaces each [[name]] span with an HTML anchor to the
// first catalog product whose title contains name, ignoring case. Names with
// no such product are left as the bare name. An opening marker without a
// closing one is kept verbatim. When markers are present the result is
// Telegram HTML: everything outside the anchors is escaped. Text without
// markers is returned unchanged.
func BindProductLinks(reply string, catalog []domain.Product, storeDomain string) string {
	if !strings.Contains(reply, MarkerOpen) {
		return reply
	}

	var b strings.Builder
	b.Grow(len(reply))
	rest := reply
	for {
		start := strings.Index(rest, MarkerOpen)
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+len(MarkerOpen):], MarkerClose)
		if end < 0 {
			break
		}
		end += start + len(MarkerOpen)

		b.WriteString(html.EscapeString(rest[:start]))
		name := strings.TrimSpace(rest[start+len(MarkerOpen) : end])
		if p, ok := findProduct(catalog, name); ok {
			b.WriteString(productAnchor(storeDomain, p.Handle, name))
		} else {
			b.WriteString(html.EscapeString(name))
		}
		rest = rest[end+len(MarkerClose):]
	}
	b.WriteString(html.EscapeString(rest))
	return b.String()
}

// RenderReply turns generated text into Telegram HTML whose only markup is
// product anchors.
func RenderReply(reply string, catalog []domain.Product, storeDomain string) string {
	if !strings.Contains(reply, MarkerOpen) {
		return html.EscapeString(reply)
	}
	return BindProductLinks(reply, catalog, storeDomain)
}

func findProduct(catalog []domain.Product, name string) (domain.Product, bool) {
	if name == "" {
		return domain.Product{}, false
	}
	needle := strings.ToLower(name)
	for _, p := range catalog {
		if p.Handle != "" && strings.Contains(strings.ToLower(p.Title), needle) {
			return p, true
		}
	}
	return domain.Product{}, false
}

func ProductURL(storeDomain, handle string) string {
	return "https://" + storeDomain + "/products/" + url.PathEscape(handle)
}

func productAnchor(storeDomain, handle, name string) string {
	return `<a href="` + html.EscapeString(ProductURL(storeDomain, handle)) + `">` + html.EscapeString(name) + `</a>`
}
