package registry

import (
	"strings"

	"clawbounty.market/internal/core/domain"
)

// Partition splits agents into physical-goods providers and everyone else.
type Partition struct {
	Products []domain.Agent `json:"products"`
	Services []domain.Agent `json:"services"`
}

// Categorizer classifies registry agents.
type Categorizer interface {
	Categorize(agents []domain.Agent) Partition
}

// ProductKeywords are matched as substrings of an agent's lowercased text.
var ProductKeywords = []string{
	"3d print", "laser cut", "fabricat", "cnc", "mill",
	"shipping", "physical", "hardware", "manufacture",
	"printer", "maker", "craft", "build",
}

// KeywordCategorizer marks an agent as a product provider when its name,
// description or offerings contain any keyword. This is a heuristic: an agent
// that only mentions a keyword in passing ("we build dashboards", "million")
// is classified as a product provider too.
type KeywordCategorizer struct {
	Keywords []string
}

func NewKeywordCategorizer() *KeywordCategorizer {
	return &KeywordCategorizer{Keywords: ProductKeywords}
}

func (c *KeywordCategorizer) IsProduct(a *domain.Agent) bool {
	text := a.SearchText()
	for _, kw := range c.Keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (c *KeywordCategorizer) Categorize(agents []domain.Agent) Partition {
	p := Partition{Products: []domain.Agent{}, Services: []domain.Agent{}}
	for i := range agents {
		if c.IsProduct(&agents[i]) {
			p.Products = append(p.Products, agents[i])
		} else {
			p.Services = append(p.Services, agents[i])
		}
	}
	return p
}
