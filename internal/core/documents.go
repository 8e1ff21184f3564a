package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"redline-cli/internal/api"
	"redline-cli/internal/notify"
)

// AnalysisState is the per-document lifecycle. Analyzed is terminal; a
// failed analysis is retriable.
type AnalysisState string

const (
	StateUnanalyzed     AnalysisState = "unanalyzed"
	StateAnalyzing      AnalysisState = "analyzing"
	StateAnalyzed       AnalysisState = "analyzed"
	StateAnalysisFailed AnalysisState = "analysis-failed"
)

var (
	ErrUnknownDocument   = errors.New("document is not tracked; open or refresh first")
	ErrAnalysisInFlight  = errors.New("an analysis is already running for this document")
	ErrAlreadyAnalyzed   = errors.New("document is already analyzed")
	ErrDocumentNotLoaded = errors.New("document has no loaded clause data")
)

// DocumentAPI is the slice of the backend client the lifecycle needs.
type DocumentAPI interface {
	ListDocuments(ctx context.Context) ([]api.Document, error)
	GetDocument(ctx context.Context, docID string) (*api.Document, error)
	UploadDocument(ctx context.Context, filename string, file io.Reader) (*api.Document, error)
	DeleteDocument(ctx context.Context, docID string) error
	GetClauses(ctx context.Context, docID string) ([]api.Clause, error)
	AnalyzeDocument(ctx context.Context, docID string) ([]api.Clause, error)
	ExportReport(ctx context.Context, docID string) (json.RawMessage, error)
	GetStats(ctx context.Context) (*api.Stats, error)
	DownloadPDF(ctx context.Context, docID string) ([]byte, error)
}

// DocumentCache persists fetched documents for offline listing. Optional.
type DocumentCache interface {
	SaveDocuments(docs []api.Document) error
}

type docEntry struct {
	doc     api.Document
	state   AnalysisState
	clauses []api.Clause
}

// DocumentService tracks every known document's analysis lifecycle and
// mediates all document-scoped backend calls. The backend stays the source
// of truth: local state only ever flips is_analyzed after a successful
// analyze, everything else is re-fetched.
type DocumentService struct {
	api    DocumentAPI
	toasts *notify.Bus
	cache  DocumentCache

	mu   sync.Mutex
	docs map[string]*docEntry
}

func NewDocumentService(backend DocumentAPI, toasts *notify.Bus, cache DocumentCache) *DocumentService {
	return &DocumentService{
		api:    backend,
		toasts: toasts,
		cache:  cache,
		docs:   make(map[string]*docEntry),
	}
}

// Refresh re-fetches the document list and reconciles tracked state. A
// document mid-analysis keeps its analyzing state; everything else derives
// from the backend's is_analyzed flag.
func (s *DocumentService) Refresh(ctx context.Context) ([]api.Document, error) {
	docs, err := s.api.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	s.mu.Lock()
	listed := make(map[string]bool, len(docs))
	for _, doc := range docs {
		listed[doc.ID] = true
		entry, ok := s.docs[doc.ID]
		if !ok {
			s.docs[doc.ID] = &docEntry{doc: doc, state: stateFor(doc)}
			continue
		}
		entry.doc = doc
		if entry.state != StateAnalyzing {
			entry.state = stateFor(doc)
		}
	}
	// Documents gone server-side stop being tracked, except mid-analysis
	// ones whose outcome the stale guard will settle.
	for id, entry := range s.docs {
		if !listed[id] && entry.state != StateAnalyzing {
			delete(s.docs, id)
		}
	}
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SaveDocuments(docs); err != nil {
			log.Printf("Failed to cache document list: %v", err)
		}
	}
	return docs, nil
}

// Open fetches one document together with its clause set and tracks both.
func (s *DocumentService) Open(ctx context.Context, docID string) (*api.Document, []api.Clause, error) {
	doc, err := s.api.GetDocument(ctx, docID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load document: %w", err)
	}
	clauses, err := s.api.GetClauses(ctx, docID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load clauses: %w", err)
	}

	s.mu.Lock()
	entry, ok := s.docs[doc.ID]
	if !ok {
		entry = &docEntry{state: stateFor(*doc)}
		s.docs[doc.ID] = entry
	}
	entry.doc = *doc
	entry.clauses = clauses
	if entry.state != StateAnalyzing {
		entry.state = stateFor(*doc)
	}
	s.mu.Unlock()

	return doc, clauses, nil
}

// Upload sends a PDF to the backend. The PDF-only rule is enforced here so
// a wrong file type never reaches the network layer.
func (s *DocumentService) Upload(ctx context.Context, filename string, file io.Reader) (*api.Document, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return nil, &api.ValidationError{Message: "Only PDF files are accepted"}
	}

	doc, err := s.api.UploadDocument(ctx, filename, file)
	if err != nil {
		s.toasts.Error(userMessage(err, "Upload failed"))
		return nil, err
	}

	s.mu.Lock()
	s.docs[doc.ID] = &docEntry{doc: *doc, state: StateUnanalyzed}
	s.mu.Unlock()

	s.toasts.Success(fmt.Sprintf("Uploaded %s (%d pages)", doc.Filename, doc.PageCount))
	return doc, nil
}

// Delete removes a document server-side and stops tracking it. A late
// analyze result for a deleted document is dropped by the stale guard in
// Analyze.
func (s *DocumentService) Delete(ctx context.Context, docID string) error {
	if err := s.api.DeleteDocument(ctx, docID); err != nil {
		s.toasts.Error(userMessage(err, "Failed to delete document"))
		return err
	}

	s.mu.Lock()
	delete(s.docs, docID)
	s.mu.Unlock()

	s.toasts.Success("Document deleted")
	return nil
}

// Analyze runs the long-running classification call. Exactly one analyze may
// be in flight per document; a second request is rejected client-side, never
// dispatched. On success the clause set is replaced wholesale; on failure
// prior clause data stays untouched and the state returns to retriable.
func (s *DocumentService) Analyze(ctx context.Context, docID string) ([]api.Clause, error) {
	s.mu.Lock()
	entry, ok := s.docs[docID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownDocument
	}
	switch entry.state {
	case StateAnalyzing:
		s.mu.Unlock()
		return nil, ErrAnalysisInFlight
	case StateAnalyzed:
		s.mu.Unlock()
		return nil, ErrAlreadyAnalyzed
	}
	entry.state = StateAnalyzing
	s.mu.Unlock()

	clauses, err := s.api.AnalyzeDocument(ctx, docID)

	s.mu.Lock()
	current, stillTracked := s.docs[docID]
	if !stillTracked || current != entry {
		// The document was deleted or replaced while the call was in
		// flight; the result has no target and is ignored.
		s.mu.Unlock()
		log.Printf("Dropping analyze result for untracked document %s", docID)
		if err != nil {
			return nil, err
		}
		return clauses, nil
	}
	if err != nil {
		entry.state = StateAnalysisFailed
		s.mu.Unlock()
		s.toasts.Error(userMessage(err, "Analysis failed"))
		return nil, err
	}
	entry.clauses = clauses
	entry.state = StateAnalyzed
	entry.doc.IsAnalyzed = true
	entry.doc.ClauseCount = len(clauses)
	s.mu.Unlock()

	s.toasts.Success(fmt.Sprintf("Analysis complete: %d clauses classified", len(clauses)))
	return clauses, nil
}

// State reports the lifecycle state for a tracked document.
func (s *DocumentService) State(docID string) AnalysisState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.docs[docID]; ok {
		return entry.state
	}
	return StateUnanalyzed
}

// Clauses returns the last loaded clause set for a tracked document.
func (s *DocumentService) Clauses(docID string) ([]api.Clause, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.docs[docID]
	if !ok {
		return nil, ErrUnknownDocument
	}
	if entry.clauses == nil {
		return nil, ErrDocumentNotLoaded
	}
	out := make([]api.Clause, len(entry.clauses))
	copy(out, entry.clauses)
	return out, nil
}

// Document returns the tracked copy of a document.
func (s *DocumentService) Document(docID string) (*api.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.docs[docID]
	if !ok {
		return nil, ErrUnknownDocument
	}
	doc := entry.doc
	return &doc, nil
}

// Export retrieves the backend's JSON analysis report.
func (s *DocumentService) Export(ctx context.Context, docID string) (json.RawMessage, error) {
	report, err := s.api.ExportReport(ctx, docID)
	if err != nil {
		s.toasts.Error(userMessage(err, "Export failed"))
		return nil, err
	}
	return report, nil
}

// Stats retrieves the aggregate analysis statistics.
func (s *DocumentService) Stats(ctx context.Context) (*api.Stats, error) {
	return s.api.GetStats(ctx)
}

// PDF retrieves the original uploaded binary.
func (s *DocumentService) PDF(ctx context.Context, docID string) ([]byte, error) {
	return s.api.DownloadPDF(ctx, docID)
}

func stateFor(doc api.Document) AnalysisState {
	if doc.IsAnalyzed {
		return StateAnalyzed
	}
	return StateUnanalyzed
}

// userMessage picks the backend-provided detail when one exists, otherwise
// the generic fallback.
func userMessage(err error, fallback string) string {
	var serverErr *api.ServerError
	if errors.As(err, &serverErr) && serverErr.Message != "" {
		return serverErr.Message
	}
	var authErr *api.AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return fallback
}
