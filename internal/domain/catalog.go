package domain

// Product is one storefront catalog entry. A catalog snapshot is replaced as a
// whole on refresh and never edited in place.
type Product struct {
	Title           string
	Handle          string
	PriceMinor      int64
	DescriptionHTML string
}

// KeywordEntry lists the phrases that select a product from free text.
type KeywordEntry struct {
	ProductTitle string
	Phrases      []string
}
