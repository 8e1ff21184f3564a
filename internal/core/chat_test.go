package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"redline-cli/internal/api"
	"redline-cli/internal/notify"
)

type fakeChatAPI struct {
	listSessions func(ctx context.Context, docID string) ([]api.ChatSession, error)
	getMessages  func(ctx context.Context, sessionID string) ([]api.ChatMessage, error)
	sendChat     func(ctx context.Context, req api.ChatRequest) (*api.ChatAnswer, error)
	deleteSess   func(ctx context.Context, sessionID string) error
}

func (f *fakeChatAPI) ListSessions(ctx context.Context, docID string) ([]api.ChatSession, error) {
	if f.listSessions == nil {
		return nil, nil
	}
	return f.listSessions(ctx, docID)
}

func (f *fakeChatAPI) GetSessionMessages(ctx context.Context, sessionID string) ([]api.ChatMessage, error) {
	return f.getMessages(ctx, sessionID)
}

func (f *fakeChatAPI) SendChat(ctx context.Context, req api.ChatRequest) (*api.ChatAnswer, error) {
	return f.sendChat(ctx, req)
}

func (f *fakeChatAPI) DeleteSession(ctx context.Context, sessionID string) error {
	return f.deleteSess(ctx, sessionID)
}

func answerFor(req api.ChatRequest) *api.ChatAnswer {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "s1"
	}
	return &api.ChatAnswer{
		SessionID:         sessionID,
		Answer:            "The notice period is 30 days.",
		ReferencedClauses: []string{"c11"},
		OverallRisk:       api.RiskMedium,
		Confidence:        0.82,
	}
}

func TestSendAppendsUserMessageBeforeNetworkResolves(t *testing.T) {
	orch := NewChatOrchestrator(nil, notify.NewBusTTL(time.Hour), nil, 5)

	var seenDuringCall []api.ChatMessage
	backend := &fakeChatAPI{
		sendChat: func(ctx context.Context, req api.ChatRequest) (*api.ChatAnswer, error) {
			seenDuringCall = orch.Messages()
			return answerFor(req), nil
		},
	}
	orch.api = backend
	orch.StartDraft(GlobalScope())

	_, err := orch.Send(context.Background(), "What is the termination notice period?")
	require.NoError(t, err)

	// The optimistic user message was visible while the call was in flight.
	require.Len(t, seenDuringCall, 1)
	require.Equal(t, RoleUser, seenDuringCall[0].Role)
	require.Equal(t, "What is the termination notice period?", seenDuringCall[0].Content)

	messages := orch.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, RoleAssistant, messages[1].Role)
	require.NotNil(t, messages[1].Meta)
	require.Equal(t, api.RiskMedium, messages[1].Meta.OverallRisk)
	require.InDelta(t, 0.82, messages[1].Meta.Confidence, 1e-9)
}

func TestDraftAdoptsSessionIDAndReusesIt(t *testing.T) {
	var requests []api.ChatRequest
	backend := &fakeChatAPI{
		sendChat: func(ctx context.Context, req api.ChatRequest) (*api.ChatAnswer, error) {
			requests = append(requests, req)
			return answerFor(req), nil
		},
		listSessions: func(ctx context.Context, docID string) ([]api.ChatSession, error) {
			return []api.ChatSession{{ID: "s1", Title: "What is the termination notice period?"}}, nil
		},
	}
	orch := NewChatOrchestrator(backend, notify.NewBusTTL(time.Hour), nil, 5)
	thread := orch.StartDraft(GlobalScope())
	require.True(t, thread.IsDraft())

	_, err := orch.Send(context.Background(), "What is the termination notice period?")
	require.NoError(t, err)
	require.Equal(t, "s1", thread.SessionID)

	_, err = orch.Send(context.Background(), "Can it be extended?")
	require.NoError(t, err)

	require.Len(t, requests, 2)
	require.Empty(t, requests[0].SessionID)
	require.Equal(t, "s1", requests[1].SessionID, "second send must reuse s1, not create s2")

	// The persisted session now appears in the scope's thread list.
	known := orch.KnownThreads(GlobalScope())
	require.Len(t, known, 1)
	require.Equal(t, "s1", known[0].ID)
}

func TestSendFailureAppendsApologyAndKeepsUserMessage(t *testing.T) {
	backend := &fakeChatAPI{
		sendChat: func(ctx context.Context, req api.ChatRequest) (*api.ChatAnswer, error) {
			return nil, &api.ServerError{Status: 500, Message: "retrieval index unavailable"}
		},
	}
	bus := notify.NewBusTTL(time.Hour)
	orch := NewChatOrchestrator(backend, bus, nil, 5)
	orch.StartDraft(DocumentScope("doc-1"))

	_, err := orch.Send(context.Background(), "Is the indemnity mutual?")
	require.Error(t, err)

	messages := orch.Messages()
	require.Len(t, messages, 2, "optimistic user message is never rolled back")
	require.Equal(t, RoleUser, messages[0].Role)
	require.Equal(t, RoleAssistant, messages[1].Role)
	require.Equal(t, Apology, messages[1].Content)
	require.Nil(t, messages[1].Meta)

	toasts := bus.Active()
	require.Len(t, toasts, 1)
	require.Equal(t, notify.SeverityError, toasts[0].Severity)
	require.Equal(t, "retrieval index unavailable", toasts[0].Message)

	// The thread stays usable: the failed send is terminal, retry works.
	backend.sendChat = func(ctx context.Context, req api.ChatRequest) (*api.ChatAnswer, error) {
		return answerFor(req), nil
	}
	backend.listSessions = func(ctx context.Context, docID string) ([]api.ChatSession, error) {
		require.Equal(t, "doc-1", docID)
		return []api.ChatSession{{ID: "s1"}}, nil
	}
	_, err = orch.Send(context.Background(), "Is the indemnity mutual?")
	require.NoError(t, err)
	require.Len(t, orch.Messages(), 4)
}

func TestSendRejectsBlankText(t *testing.T) {
	orch := NewChatOrchestrator(&fakeChatAPI{}, notify.NewBusTTL(time.Hour), nil, 5)
	orch.StartDraft(GlobalScope())

	var validationErr *api.ValidationError
	_, err := orch.Send(context.Background(), "   \t\n")
	require.ErrorAs(t, err, &validationErr)
	require.Empty(t, orch.Messages())
}

func TestSendRequiresActiveThread(t *testing.T) {
	orch := NewChatOrchestrator(&fakeChatAPI{}, notify.NewBusTTL(time.Hour), nil, 5)

	_, err := orch.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNoActiveThread)
}

func TestSecondSendWhileInFlightIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeChatAPI{
		sendChat: func(ctx context.Context, req api.ChatRequest) (*api.ChatAnswer, error) {
			close(entered)
			<-release
			return answerFor(req), nil
		},
	}
	orch := NewChatOrchestrator(backend, notify.NewBusTTL(time.Hour), nil, 5)
	orch.StartDraft(GlobalScope())

	done := make(chan error, 1)
	go func() {
		_, err := orch.Send(context.Background(), "first question")
		done <- err
	}()

	<-entered
	_, err := orch.Send(context.Background(), "second question")
	require.ErrorIs(t, err, ErrSendInFlight)

	close(release)
	require.NoError(t, <-done)

	// Only the first exchange made it into history.
	messages := orch.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "first question", messages[0].Content)
}

func TestListThreadsDeduplicatesBySessionID(t *testing.T) {
	backend := &fakeChatAPI{
		listSessions: func(ctx context.Context, docID string) ([]api.ChatSession, error) {
			return []api.ChatSession{
				{ID: "s2", Title: "newer"},
				{ID: "s1", Title: "older"},
				{ID: "s2", Title: "duplicate"},
			}, nil
		},
	}
	orch := NewChatOrchestrator(backend, notify.NewBusTTL(time.Hour), nil, 5)

	sessions, err := orch.ListThreads(context.Background(), GlobalScope())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "s2", sessions[0].ID)
	require.Equal(t, "s1", sessions[1].ID)
}

func TestOpenThreadReplacesDraft(t *testing.T) {
	backend := &fakeChatAPI{
		getMessages: func(ctx context.Context, sessionID string) ([]api.ChatMessage, error) {
			require.Equal(t, "s1", sessionID)
			return []api.ChatMessage{
				{Role: RoleUser, Content: "What about payment terms?"},
				{Role: RoleAssistant, Content: "Net 30.", Meta: &api.MessageMeta{OverallRisk: api.RiskLow, Confidence: 0.9}},
			}, nil
		},
	}
	orch := NewChatOrchestrator(backend, notify.NewBusTTL(time.Hour), nil, 5)

	draft := orch.StartDraft(GlobalScope())
	thread, err := orch.OpenThread(context.Background(), GlobalScope(), "s1")
	require.NoError(t, err)
	require.NotSame(t, draft, thread)
	require.Same(t, thread, orch.Active())
	require.Equal(t, "s1", thread.SessionID)
	require.Len(t, thread.Messages, 2)
}

func TestDeleteThreadClearsActiveAndList(t *testing.T) {
	backend := &fakeChatAPI{
		listSessions: func(ctx context.Context, docID string) ([]api.ChatSession, error) {
			return []api.ChatSession{{ID: "s1"}, {ID: "s2"}}, nil
		},
		getMessages: func(ctx context.Context, sessionID string) ([]api.ChatMessage, error) {
			return nil, nil
		},
		deleteSess: func(ctx context.Context, sessionID string) error {
			require.Equal(t, "s1", sessionID)
			return nil
		},
	}
	orch := NewChatOrchestrator(backend, notify.NewBusTTL(time.Hour), nil, 5)

	_, err := orch.ListThreads(context.Background(), GlobalScope())
	require.NoError(t, err)
	_, err = orch.OpenThread(context.Background(), GlobalScope(), "s1")
	require.NoError(t, err)

	require.NoError(t, orch.DeleteThread(context.Background(), GlobalScope(), "s1"))

	known := orch.KnownThreads(GlobalScope())
	require.Len(t, known, 1)
	require.Equal(t, "s2", known[0].ID)

	active := orch.Active()
	require.NotNil(t, active)
	require.True(t, active.IsDraft(), "deleting the active session falls back to a draft")
}

func TestReconcileIsPureAppendOnly(t *testing.T) {
	history := []api.ChatMessage{{Role: RoleUser, Content: "q"}}

	success := Reconcile(history, &api.ChatAnswer{Answer: "a", OverallRisk: api.RiskLow, Confidence: 0.5}, nil)
	require.Len(t, success, 2)
	require.Equal(t, "a", success[1].Content)
	require.NotNil(t, success[1].Meta)

	failure := Reconcile(history, nil, errors.New("boom"))
	require.Len(t, failure, 2)
	require.Equal(t, Apology, failure[1].Content)
	require.Nil(t, failure[1].Meta)
}

func TestScopeVariants(t *testing.T) {
	require.True(t, GlobalScope().IsGlobal())
	require.Equal(t, "global", GlobalScope().String())

	scope := DocumentScope("doc-9")
	require.False(t, scope.IsGlobal())
	require.Equal(t, "doc-9", scope.DocID())
	require.Equal(t, "document:doc-9", scope.String())
}
