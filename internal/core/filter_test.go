package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"redline-cli/internal/api"
)

func leaseClauses() []api.Clause {
	return []api.Clause{
		{ClauseID: "c1", SectionTitle: "Term and Renewal", Text: "This lease runs for 24 months.", ClauseType: api.ClauseTermination, RiskLevel: api.RiskLow, Page: 1},
		{ClauseID: "c2", SectionTitle: "Limitation of Liability", Text: "Landlord liability is capped.", ClauseType: api.ClauseLiability, RiskLevel: api.RiskHigh, Page: 2},
		{ClauseID: "c3", SectionTitle: "Rent", Text: "Rent is due on the first of each month.", ClauseType: api.ClausePayment, RiskLevel: api.RiskLow, Page: 2},
		{ClauseID: "c4", SectionTitle: "Indemnification", Text: "Tenant shall indemnify the landlord.", ClauseType: api.ClauseIndemnity, RiskLevel: api.RiskHigh, Page: 3},
		{ClauseID: "c5", SectionTitle: "Liability for Damages", Text: "Tenant is liable for damages to fixtures.", ClauseType: api.ClauseLiability, RiskLevel: api.RiskMedium, Page: 4},
		{ClauseID: "c6", SectionTitle: "Confidentiality", Text: "Lease terms are confidential.", ClauseType: api.ClauseConfidentiality, RiskLevel: api.RiskLow, Page: 5},
		{ClauseID: "c7", SectionTitle: "Governing Law", Text: "This lease is governed by state law.", ClauseType: api.ClauseGoverningLaw, RiskLevel: api.RiskLow, Page: 6},
		{ClauseID: "c8", SectionTitle: "Notices", Text: "Notices must be in writing.", ClauseType: api.ClauseGeneral, RiskLevel: api.RiskLow, Page: 6},
		{ClauseID: "c9", SectionTitle: "Third-Party Liability", Text: "Coverage for visitor injuries.", ClauseType: api.ClauseLiability, RiskLevel: api.RiskMedium, Page: 7},
		{ClauseID: "c10", SectionTitle: "Security Deposit", Text: "Deposit equals one month of rent.", ClauseType: api.ClausePayment, RiskLevel: api.RiskMedium, Page: 8},
		{ClauseID: "c11", SectionTitle: "Early Termination", Text: "Either party may terminate with notice.", ClauseType: api.ClauseTermination, RiskLevel: api.RiskHigh, Page: 9},
		{ClauseID: "c12", SectionTitle: "Severability", Text: "Invalid clauses do not void the lease.", ClauseType: api.ClauseGeneral, RiskLevel: api.RiskLow, Page: 10},
	}
}

func ids(clauses []api.Clause) []string {
	out := make([]string, len(clauses))
	for i, c := range clauses {
		out[i] = c.ClauseID
	}
	return out
}

func TestFilterClausesNoCriteriaPassesEverything(t *testing.T) {
	clauses := leaseClauses()

	got := FilterClauses(clauses, FilterCriteria{Type: FilterAll, Risk: FilterAll, Search: ""})
	require.Equal(t, ids(clauses), ids(got))

	// Zero-value criteria behave like explicit wildcards.
	got = FilterClauses(clauses, FilterCriteria{})
	require.Equal(t, ids(clauses), ids(got))
}

func TestFilterClausesByTypePreservesOrder(t *testing.T) {
	clauses := leaseClauses()

	got := FilterClauses(clauses, FilterCriteria{Type: api.ClauseLiability, Risk: FilterAll})
	require.Equal(t, []string{"c2", "c5", "c9"}, ids(got))
}

func TestFilterClausesSearchMatchesTitleOrBody(t *testing.T) {
	clauses := leaseClauses()

	// "liability" appears in two titles and one body, case-insensitively.
	got := FilterClauses(clauses, FilterCriteria{Search: "LIABILITY"})
	require.Equal(t, []string{"c2", "c5", "c9"}, ids(got))

	// Body-only match.
	got = FilterClauses(clauses, FilterCriteria{Search: "indemnify"})
	require.Equal(t, []string{"c4"}, ids(got))
}

func TestFilterClausesPredicatesAreANDed(t *testing.T) {
	clauses := leaseClauses()

	got := FilterClauses(clauses, FilterCriteria{Type: api.ClauseLiability, Risk: api.RiskMedium})
	require.Equal(t, []string{"c5", "c9"}, ids(got))

	got = FilterClauses(clauses, FilterCriteria{Type: api.ClauseLiability, Risk: api.RiskMedium, Search: "visitor"})
	require.Equal(t, []string{"c9"}, ids(got))
}

func TestFilterClausesComposition(t *testing.T) {
	clauses := leaseClauses()
	k1 := FilterCriteria{Risk: api.RiskHigh}
	k2 := FilterCriteria{Type: api.ClauseLiability}
	combined := FilterCriteria{Type: api.ClauseLiability, Risk: api.RiskHigh}

	require.Equal(t,
		FilterClauses(clauses, combined),
		FilterClauses(FilterClauses(clauses, k1), k2))
}

func TestFilterClausesIsSubsequence(t *testing.T) {
	clauses := leaseClauses()
	got := FilterClauses(clauses, FilterCriteria{Risk: api.RiskHigh})

	// Every result appears in the input, in the same relative order.
	pos := -1
	for _, c := range got {
		found := -1
		for i := pos + 1; i < len(clauses); i++ {
			if clauses[i].ClauseID == c.ClauseID {
				found = i
				break
			}
		}
		require.GreaterOrEqual(t, found, 0, "clause %s out of order or missing", c.ClauseID)
		pos = found
	}
}

func TestFilterClausesDoesNotMutateInput(t *testing.T) {
	clauses := leaseClauses()
	want := ids(clauses)

	FilterClauses(clauses, FilterCriteria{Type: api.ClausePayment})
	require.Equal(t, want, ids(clauses))
}
