package api

import "time"

// Clause types as classified by the backend. "All" is not a clause type, it
// is the filter wildcard understood by core.FilterClauses.
const (
	ClauseTermination     = "Termination"
	ClauseLiability       = "Liability"
	ClauseIndemnity       = "Indemnity"
	ClauseConfidentiality = "Confidentiality"
	ClausePayment         = "Payment"
	ClauseGoverningLaw    = "Governing Law"
	ClauseGeneral         = "General"
)

const (
	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
)

type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	PageCount   int       `json:"page_count"`
	ClauseCount int       `json:"clause_count"`
	IsAnalyzed  bool      `json:"is_analyzed"`
	CreatedAt   time.Time `json:"created_at"`
}

type Clause struct {
	ClauseID     string `json:"clause_id"`
	SectionTitle string `json:"section_title"`
	Text         string `json:"text"`
	Page         int    `json:"page"`
	ClauseType   string `json:"clause_type,omitempty"`
	Importance   string `json:"importance,omitempty"`
	RiskLevel    string `json:"risk_level,omitempty"`
	RiskReason   string `json:"risk_reason,omitempty"`
}

type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageMeta is attached to assistant messages only.
type MessageMeta struct {
	ReferencedClauses []string `json:"referenced_clauses"`
	OverallRisk       string   `json:"overall_risk"`
	Confidence        float64  `json:"confidence"`
}

type ChatMessage struct {
	Role    string       `json:"role"` // "user" or "assistant"
	Content string       `json:"content"`
	Meta    *MessageMeta `json:"meta,omitempty"`
}

type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
	DocID     string `json:"doc_id,omitempty"`
	TopK      int    `json:"top_k"`
}

type ChatAnswer struct {
	SessionID         string   `json:"session_id"`
	Answer            string   `json:"answer"`
	ReferencedClauses []string `json:"referenced_clauses"`
	OverallRisk       string   `json:"overall_risk"`
	Confidence        float64  `json:"confidence"`
}

type RiskyClause struct {
	ClauseID     string `json:"clause_id"`
	SectionTitle string `json:"section_title"`
	ClauseType   string `json:"clause_type"`
	RiskReason   string `json:"risk_reason"`
	DocFilename  string `json:"doc_filename"`
	Page         int    `json:"page"`
}

type Stats struct {
	TotalDocuments    int            `json:"total_documents"`
	AnalyzedDocuments int            `json:"analyzed_documents"`
	TotalClauses      int            `json:"total_clauses"`
	AnalyzedClauses   int            `json:"analyzed_clauses"`
	RiskDistribution  map[string]int `json:"risk_distribution"`
	TopRiskyClauses   []RiskyClause  `json:"top_risky_clauses"`
}
