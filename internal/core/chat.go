package core

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"redline-cli/internal/api"
	"redline-cli/internal/notify"
)

// Apology is the fixed assistant reply appended when a send fails. The
// optimistic user message is never rolled back; history only grows.
const Apology = "Sorry, something went wrong. Please try again."

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrNoActiveThread = errors.New("no active thread; open a session or start a draft")
	ErrSendInFlight   = errors.New("a send is already in flight for this thread")
)

// Scope is the grounding context of a chat thread: all analyzed documents,
// or one specific document.
type Scope struct {
	docID string
}

func GlobalScope() Scope {
	return Scope{}
}

func DocumentScope(docID string) Scope {
	return Scope{docID: docID}
}

func (s Scope) IsGlobal() bool {
	return s.docID == ""
}

func (s Scope) DocID() string {
	return s.docID
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "document:" + s.docID
}

// Thread is one conversation. A thread without a session id is a draft: it
// has not been persisted by the backend yet. Once the first successful send
// assigns a session id it never changes.
type Thread struct {
	SessionID string
	Scope     Scope
	Messages  []api.ChatMessage

	sending bool
}

func (t *Thread) IsDraft() bool {
	return t.SessionID == ""
}

// ChatAPI is the slice of the backend client the orchestrator needs.
type ChatAPI interface {
	ListSessions(ctx context.Context, docID string) ([]api.ChatSession, error)
	GetSessionMessages(ctx context.Context, sessionID string) ([]api.ChatMessage, error)
	SendChat(ctx context.Context, req api.ChatRequest) (*api.ChatAnswer, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// ChatCache persists session lists and histories for offline review.
// Optional.
type ChatCache interface {
	SaveSessions(scopeDocID string, sessions []api.ChatSession) error
	SaveMessages(sessionID string, messages []api.ChatMessage) error
	DeleteSession(sessionID string) error
}

// ChatOrchestrator multiplexes conversation threads across scopes: it holds
// the known persisted sessions per scope and one active thread (persisted or
// draft), and serializes sends per thread.
type ChatOrchestrator struct {
	api    ChatAPI
	toasts *notify.Bus
	cache  ChatCache
	topK   int

	mu       sync.Mutex
	sessions map[string][]api.ChatSession
	active   *Thread
}

func NewChatOrchestrator(backend ChatAPI, toasts *notify.Bus, cache ChatCache, topK int) *ChatOrchestrator {
	if topK <= 0 {
		topK = 5
	}
	return &ChatOrchestrator{
		api:      backend,
		toasts:   toasts,
		cache:    cache,
		topK:     topK,
		sessions: make(map[string][]api.ChatSession),
	}
}

// ListThreads fetches the persisted sessions for a scope. Backend order is
// preserved; entries are deduplicated by session id so a scope's list never
// holds the same session twice.
func (o *ChatOrchestrator) ListThreads(ctx context.Context, scope Scope) ([]api.ChatSession, error) {
	fetched, err := o.api.ListSessions(ctx, scope.DocID())
	if err != nil {
		return nil, err
	}
	sessions := dedupeSessions(fetched)

	o.mu.Lock()
	o.sessions[scope.String()] = sessions
	o.mu.Unlock()

	if o.cache != nil {
		if err := o.cache.SaveSessions(scope.DocID(), sessions); err != nil {
			log.Printf("Failed to cache sessions for %s: %v", scope, err)
		}
	}

	out := make([]api.ChatSession, len(sessions))
	copy(out, sessions)
	return out, nil
}

// KnownThreads returns the last fetched session list for a scope without a
// network call.
func (o *ChatOrchestrator) KnownThreads(scope Scope) []api.ChatSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	sessions := o.sessions[scope.String()]
	out := make([]api.ChatSession, len(sessions))
	copy(out, sessions)
	return out
}

// OpenThread fetches a persisted session's full history and makes it the
// active thread, replacing any draft.
func (o *ChatOrchestrator) OpenThread(ctx context.Context, scope Scope, sessionID string) (*Thread, error) {
	messages, err := o.api.GetSessionMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	thread := &Thread{SessionID: sessionID, Scope: scope, Messages: messages}
	o.mu.Lock()
	o.active = thread
	o.mu.Unlock()

	if o.cache != nil {
		if err := o.cache.SaveMessages(sessionID, messages); err != nil {
			log.Printf("Failed to cache history for session %s: %v", sessionID, err)
		}
	}
	return thread, nil
}

// StartDraft replaces the active thread with an empty, session-less draft.
func (o *ChatOrchestrator) StartDraft(scope Scope) *Thread {
	thread := &Thread{Scope: scope}
	o.mu.Lock()
	o.active = thread
	o.mu.Unlock()
	return thread
}

// Active returns the current active thread, or nil.
func (o *ChatOrchestrator) Active() *Thread {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Messages returns a snapshot of the active thread's history.
func (o *ChatOrchestrator) Messages() []api.ChatMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	out := make([]api.ChatMessage, len(o.active.Messages))
	copy(out, o.active.Messages)
	return out
}

// Send submits a question on the active thread. The user message is appended
// before the network call resolves; the result, answer or failure, is
// folded in by Reconcile on arrival. A second send while one is in flight is
// rejected, not queued.
func (o *ChatOrchestrator) Send(ctx context.Context, text string) (*api.ChatAnswer, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &api.ValidationError{Message: "message text is required"}
	}

	o.mu.Lock()
	thread := o.active
	if thread == nil {
		o.mu.Unlock()
		return nil, ErrNoActiveThread
	}
	if thread.sending {
		o.mu.Unlock()
		return nil, ErrSendInFlight
	}
	thread.sending = true
	thread.Messages = append(thread.Messages, api.ChatMessage{Role: RoleUser, Content: text})
	wasDraft := thread.IsDraft()
	req := api.ChatRequest{
		SessionID: thread.SessionID,
		Question:  text,
		DocID:     thread.Scope.DocID(),
		TopK:      o.topK,
	}
	o.mu.Unlock()

	answer, err := o.api.SendChat(ctx, req)

	o.mu.Lock()
	thread.sending = false
	thread.Messages = Reconcile(thread.Messages, answer, err)
	if err != nil {
		o.mu.Unlock()
		o.toasts.Error(userMessage(err, "Failed to send message"))
		return nil, err
	}
	if wasDraft && answer.SessionID != "" {
		// The backend-assigned id is permanent from here on.
		thread.SessionID = answer.SessionID
		o.adoptSessionLocked(thread.Scope, api.ChatSession{
			ID:        answer.SessionID,
			Title:     draftTitle(text),
			CreatedAt: time.Now(),
		})
	}
	sessionID := thread.SessionID
	messages := make([]api.ChatMessage, len(thread.Messages))
	copy(messages, thread.Messages)
	stillActive := o.active == thread
	o.mu.Unlock()

	if o.cache != nil && sessionID != "" {
		if err := o.cache.SaveMessages(sessionID, messages); err != nil {
			log.Printf("Failed to cache history for session %s: %v", sessionID, err)
		}
	}
	if wasDraft && stillActive {
		// Refresh so the new session shows up in any session picker. A
		// failure here is not a send failure; the adopted entry above
		// keeps the picker usable until the next successful list.
		if _, err := o.ListThreads(ctx, thread.Scope); err != nil {
			log.Printf("Failed to refresh sessions for %s: %v", thread.Scope, err)
		}
	}
	return answer, nil
}

// DeleteThread removes a persisted session. If it was the active thread the
// view falls back to a fresh draft in the same scope.
func (o *ChatOrchestrator) DeleteThread(ctx context.Context, scope Scope, sessionID string) error {
	if err := o.api.DeleteSession(ctx, sessionID); err != nil {
		o.toasts.Error(userMessage(err, "Failed to delete session"))
		return err
	}

	o.mu.Lock()
	key := scope.String()
	kept := o.sessions[key][:0]
	for _, s := range o.sessions[key] {
		if s.ID != sessionID {
			kept = append(kept, s)
		}
	}
	o.sessions[key] = kept
	if o.active != nil && o.active.SessionID == sessionID {
		o.active = &Thread{Scope: scope}
	}
	o.mu.Unlock()

	if o.cache != nil {
		if err := o.cache.DeleteSession(sessionID); err != nil {
			log.Printf("Failed to drop cached session %s: %v", sessionID, err)
		}
	}
	o.toasts.Success("Session deleted")
	return nil
}

// adoptSessionLocked inserts a newly created session at the head of its
// scope's list, keeping the id-uniqueness invariant. Caller holds o.mu.
func (o *ChatOrchestrator) adoptSessionLocked(scope Scope, session api.ChatSession) {
	key := scope.String()
	for _, s := range o.sessions[key] {
		if s.ID == session.ID {
			return
		}
	}
	o.sessions[key] = append([]api.ChatSession{session}, o.sessions[key]...)
}

// Reconcile folds a send outcome into a thread history. It is pure so the
// append-then-reconcile state machine is testable without a network: the
// same function runs on the success and failure branches, and it only ever
// appends.
func Reconcile(history []api.ChatMessage, answer *api.ChatAnswer, err error) []api.ChatMessage {
	if err != nil || answer == nil {
		return append(history, api.ChatMessage{Role: RoleAssistant, Content: Apology})
	}
	return append(history, api.ChatMessage{
		Role:    RoleAssistant,
		Content: answer.Answer,
		Meta: &api.MessageMeta{
			ReferencedClauses: answer.ReferencedClauses,
			OverallRisk:       answer.OverallRisk,
			Confidence:        answer.Confidence,
		},
	})
}

// draftTitle mirrors the backend's titling rule for a new session so the
// picker has something sensible before the next list refresh.
func draftTitle(question string) string {
	if len(question) > 50 {
		return question[:50] + "..."
	}
	return question
}

func dedupeSessions(sessions []api.ChatSession) []api.ChatSession {
	seen := make(map[string]bool, len(sessions))
	out := make([]api.ChatSession, 0, len(sessions))
	for _, s := range sessions {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}
