// Package keywords maps free customer text to catalog product titles by plain
// substring containment of configured phrases.
package keywords

import (
	"fmt"
	"sort"
	"strings"

	"shop-assistant/internal/domain"
)

// Index is immutable after construction and safe for concurrent use.
type Index struct {
	entries []domain.KeywordEntry
}

// SplitPhrases splits a comma-delimited phrase list and trims each phrase.
// Empty phrases are dropped.
func SplitPhrases(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewIndex builds an index from entries in the given order. Titles must be
// unique; phrases are trimmed and blanks dropped.
func NewIndex(entries []domain.KeywordEntry) (*Index, error) {
	seen := make(map[string]struct{}, len(entries))
	out := make([]domain.KeywordEntry, 0, len(entries))
	for _, e := range entries {
		title := strings.TrimSpace(e.ProductTitle)
		if title == "" {
			return nil, fmt.Errorf("keywords: entry with empty product title")
		}
		if _, dup := seen[title]; dup {
			return nil, fmt.Errorf("keywords: duplicate product title %q", title)
		}
		seen[title] = struct{}{}

		phrases := make([]string, 0, len(e.Phrases))
		for _, p := range e.Phrases {
			if p = strings.TrimSpace(p); p != "" {
				phrases = append(phrases, p)
			}
		}
		out = append(out, domain.KeywordEntry{ProductTitle: title, Phrases: phrases})
	}
	return &Index{entries: out}, nil
}

// MatchesText returns, in index order, every product title with at least one
// phrase contained in text. Matching is case-sensitive.
func (i *Index) MatchesText(text string) []string {
	if i == nil || text == "" {
		return nil
	}
	var out []string
	for _, e := range i.entries {
		for _, p := range e.Phrases {
			if strings.Contains(text, p) {
				out = append(out, e.ProductTitle)
				break
			}
		}
	}
	return out
}

// MatchSet is MatchesText as a set.
func (i *Index) MatchSet(text string) map[string]struct{} {
	titles := i.MatchesText(text)
	set := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		set[t] = struct{}{}
	}
	return set
}

// Entries returns a copy of the configured entries in index order.
func (i *Index) Entries() []domain.KeywordEntry {
	if i == nil {
		return nil
	}
	out := make([]domain.KeywordEntry, len(i.entries))
	for n, e := range i.entries {
		out[n] = domain.KeywordEntry{ProductTitle: e.ProductTitle, Phrases: append([]string(nil), e.Phrases...)}
	}
	return out
}

// Dictionary renders "title: phrase, phrase" lines sorted by title. Entries
// without phrases are listed with an empty phrase list.
func (i *Index) Dictionary() string {
	entries := i.Entries()
	sort.SliceStable(entries, func(a, b int) bool { return entries[a].ProductTitle < entries[b].ProductTitle })
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.ProductTitle+": "+strings.Join(e.Phrases, ", "))
	}
	return strings.Join(lines, "\n")
}

func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.entries)
}
