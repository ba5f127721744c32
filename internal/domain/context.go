package domain

import "strings"

// ContextPayload is the ordered bundle sent to the generative backend.
type ContextPayload struct {
	Instructions string
	Catalog      string
	History      string
	Message      string
	Image        *Image
}

// Prompt joins the catalog, history and current message sections in order.
// Instructions travel separately as the system instruction.
func (p ContextPayload) Prompt() string {
	sections := make([]string, 0, 3)
	if p.Catalog != "" {
		sections = append(sections, p.Catalog)
	}
	if p.History != "" {
		sections = append(sections, p.History)
	}
	sections = append(sections, p.Message)
	return strings.Join(sections, "\n\n")
}
