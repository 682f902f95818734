// Package parser turns raw query strings into the normalized, de-duplicated
// terms the engine scores against.
package parser

import (
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/barrel-search/internal/textnorm"
)

// QueryPlan is a parsed query.
type QueryPlan struct {
	RawQuery string
	// Terms are distinct, in order of first appearance. A term repeated in
	// the query still contributes at most 1 to a document's score.
	Terms []string
}

// Empty reports whether the query has no searchable terms.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

// Key returns a canonical form of the plan: terms sorted and joined. Two
// queries with the same key always produce the same results.
func (p *QueryPlan) Key() string {
	sorted := slices.Clone(p.Terms)
	slices.Sort(sorted)
	return strings.Join(sorted, " ")
}

// Parser normalizes queries with the same rules used to build the corpus.
type Parser struct {
	norm *textnorm.Normalizer
}

func New(norm *textnorm.Normalizer) *Parser {
	return &Parser{norm: norm}
}

// Parse normalizes query. Blank or all-stop-word queries yield an empty plan.
func (p *Parser) Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		RawQuery: query,
		Terms:    make([]string, 0),
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	seen := make(map[string]struct{})
	for _, term := range p.norm.Tokens(query) {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		plan.Terms = append(plan.Terms, term)
	}
	return plan
}
