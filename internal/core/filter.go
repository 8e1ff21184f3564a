package core

import (
	"strings"

	"redline-cli/internal/api"
)

// FilterAll is the wildcard for the type and risk criteria.
const FilterAll = "All"

// FilterCriteria are ANDed. Zero values ("" search, "All" or "" selectors)
// pass everything.
type FilterCriteria struct {
	Type   string
	Risk   string
	Search string
}

// FilterClauses returns the order-preserving subsequence of clauses matching
// every criterion. Pure: the input is never modified and the result depends
// only on the arguments, so callers may re-evaluate it on every change.
func FilterClauses(clauses []api.Clause, criteria FilterCriteria) []api.Clause {
	out := make([]api.Clause, 0, len(clauses))
	for _, clause := range clauses {
		if matchesCriteria(clause, criteria) {
			out = append(out, clause)
		}
	}
	return out
}

func matchesCriteria(clause api.Clause, c FilterCriteria) bool {
	if !wildcard(c.Type) && clause.ClauseType != c.Type {
		return false
	}
	if !wildcard(c.Risk) && clause.RiskLevel != c.Risk {
		return false
	}
	if c.Search != "" {
		needle := strings.ToLower(c.Search)
		if !strings.Contains(strings.ToLower(clause.SectionTitle), needle) &&
			!strings.Contains(strings.ToLower(clause.Text), needle) {
			return false
		}
	}
	return true
}

func wildcard(v string) bool {
	return v == "" || v == FilterAll
}
