package usecase

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"shop-assistant/internal/domain"
)

type CatalogMode string

const (
	CatalogFiltered   CatalogMode = "filtered"
	CatalogDictionary CatalogMode = "dictionary"
)

const (
	defaultMaxCatalogItems     = 20
	defaultMaxDescriptionRunes = 400
	defaultMaxTurnRunes        = 1000
	defaultMaxMessageRunes     = 2000

	noMatchingProducts = "NO MATCHING PRODUCTS: none of the catalog products match this message."
	imageOnlyMessage   = "(the customer sent an image without text)"
)

// KeywordMatcher is the read-only view of the keyword index.
type KeywordMatcher interface {
	MatchesText(text string) []string
	Dictionary() string
}

type AssemblerConfig struct {
	Mode                CatalogMode
	Instructions        string
	MaxCatalogItems     int
	MaxDescriptionRunes int
	MaxTurnRunes        int
	MaxMessageRunes     int
}

// ContextAssembler builds the payload sent to the generative backend. It holds
// no mutable state.
type ContextAssembler struct {
	keywords KeywordMatcher
	cfg      AssemblerConfig
}

func NewContextAssembler(kw KeywordMatcher, cfg AssemblerConfig) (*ContextAssembler, error) {
	if kw == nil {
		return nil, errors.New("usecase: keyword matcher must not be nil")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = CatalogFiltered
	case CatalogFiltered, CatalogDictionary:
	default:
		return nil, fmt.Errorf("usecase: unknown catalog mode %q", cfg.Mode)
	}
	if strings.TrimSpace(cfg.Instructions) == "" {
		cfg.Instructions = defaultInstructions()
	}
	if cfg.MaxCatalogItems <= 0 {
		cfg.MaxCatalogItems = defaultMaxCatalogItems
	}
	if cfg.MaxDescriptionRunes <= 0 {
		cfg.MaxDescriptionRunes = defaultMaxDescriptionRunes
	}
	if cfg.MaxTurnRunes <= 0 {
		cfg.MaxTurnRunes = defaultMaxTurnRunes
	}
	if cfg.MaxMessageRunes <= 0 {
		cfg.MaxMessageRunes = defaultMaxMessageRunes
	}
	return &ContextAssembler{keywords: kw, cfg: cfg}, nil
}

// BuildContext assembles instructions, the catalog section, prior turns and
// the current message in that order. history must not include the current
// message.
func (a *ContextAssembler) BuildContext(history []domain.Turn, message string, image *domain.Image, catalog []domain.Product) domain.ContextPayload {
	return domain.ContextPayload{
		Instructions: a.cfg.Instructions,
		Catalog:      a.catalogSection(message, catalog),
		History:      a.historySection(history),
		Message:      a.messageSection(message, image != nil),
		Image:        image,
	}
}

func (a *ContextAssembler) catalogSection(message string, catalog []domain.Product) string {
	if a.cfg.Mode == CatalogDictionary {
		dict := a.keywords.Dictionary()
		if dict == "" {
			return "Keyword dictionary:\n" + noMatchingProducts
		}
		return "Keyword dictionary (product: phrases):\n" + dict
	}

	lines := filteredCatalog(catalog, a.keywords.MatchesText(message), a.cfg.MaxCatalogItems, a.cfg.MaxDescriptionRunes)
	if len(lines) == 0 {
		return "Catalog excerpt:\n" + noMatchingProducts
	}
	return "Catalog excerpt:\n" + strings.Join(lines, "\n")
}

// filteredCatalog renders matched products in catalog order. A title listed
// more than once in the catalog is rendered once.
func filteredCatalog(catalog []domain.Product, matched []string, maxItems, maxDesc int) []string {
	if len(matched) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(matched))
	for _, t := range matched {
		want[t] = struct{}{}
	}
	var lines []string
	for _, p := range catalog {
		if len(lines) >= maxItems {
			break
		}
		if _, ok := want[p.Title]; !ok {
			continue
		}
		delete(want, p.Title)
		line := fmt.Sprintf("- %s | price: %s", p.Title, formatPrice(p.PriceMinor))
		if desc := truncateRunes(plainText(p.DescriptionHTML), maxDesc); desc != "" {
			line += " | " + desc
		}
		lines = append(lines, line)
	}
	return lines
}

func (a *ContextAssembler) historySection(history []domain.Turn) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, 0, len(history)+1)
	lines = append(lines, "Conversation so far:")
	for _, t := range history {
		text := truncateRunes(normalizePromptInput(t.Text), a.cfg.MaxTurnRunes)
		if t.ImageRef != "" {
			text = strings.TrimSpace(text + " [image]")
		}
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, text))
	}
	return strings.Join(lines, "\n")
}

func (a *ContextAssembler) messageSection(message string, hasImage bool) string {
	text := truncateRunes(strings.TrimSpace(message), a.cfg.MaxMessageRunes)
	if text == "" && hasImage {
		text = imageOnlyMessage
	}
	return "Customer message:\n" + text
}

func defaultInstructions() string {
	return strings.Join([]string{
		"Role:",
		"You are the sales assistant of an online store and reply in the customer's language (usually Arabic).",
		"",
		"Task:",
		"Help the customer identify the product they are asking about from their message or image,",
		"and tell them its name, price and link when available in the catalog context.",
		"",
		"Behavior Rules:",
		"1) Use only products listed in the catalog context; never invent products or prices.",
		"2) Wrap every product name you mention in double square brackets, for example [[Clear Case]].",
		"3) If the catalog context says there are no matching products, say so and ask a clarifying question.",
		"4) Keep replies short and polite.",
	}, "\n")
}

func formatPrice(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// plainText drops tags and entities from storefront description HTML.
func plainText(s string) string {
	return normalizePromptInput(html.UnescapeString(htmlTag.ReplaceAllString(s, " ")))
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
