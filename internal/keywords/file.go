package keywords

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"shop-assistant/internal/domain"
)

// fileEntry is one item of the keyword YAML file:
//
//	- product: "Clear Case"
//	  keywords: "كفر, شفاف, clear case"
type fileEntry struct {
	Product  string `yaml:"product"`
	Keywords string `yaml:"keywords"`
}

// ParseYAML decodes a keyword list, keeping file order.
func ParseYAML(data []byte) ([]domain.KeywordEntry, error) {
	var raw []fileEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("keywords: parse yaml: %w", err)
	}
	out := make([]domain.KeywordEntry, 0, len(raw))
	for _, r := range raw {
		out = append(out, domain.KeywordEntry{ProductTitle: r.Product, Phrases: SplitPhrases(r.Keywords)})
	}
	return out, nil
}

// LoadFile reads and parses a keyword YAML file.
func LoadFile(path string) ([]domain.KeywordEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keywords: read %s: %w", path, err)
	}
	return ParseYAML(data)
}
