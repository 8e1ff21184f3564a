package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource supplies the current bearer token for outbound requests.
// Implemented by auth.Session; the client only ever reads it.
type TokenSource interface {
	Token() string
}

// Client talks to the RedLine analysis/RAG backend. The backend is treated
// as a black box: the client knows request/response shapes and nothing else.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
	}
}

// Login exchanges credentials for a bearer token. The endpoint is
// form-encoded, unlike the rest of the API.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", responseError(resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	return body.AccessToken, nil
}

// Register creates an account. It does not authenticate it.
func (c *Client) Register(ctx context.Context, username, password string) error {
	payload := map[string]string{"username": username, "password": password}
	return c.doJSON(ctx, http.MethodPost, "/auth/register", payload, nil)
}

func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	if err := c.doJSON(ctx, http.MethodGet, "/documents/", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Client) GetDocument(ctx context.Context, docID string) (*Document, error) {
	var doc Document
	if err := c.doJSON(ctx, http.MethodGet, "/documents/"+docID, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/documents/"+docID, nil, nil)
}

func (c *Client) GetClauses(ctx context.Context, docID string) ([]Clause, error) {
	var clauses []Clause
	if err := c.doJSON(ctx, http.MethodGet, "/documents/"+docID+"/clauses", nil, &clauses); err != nil {
		return nil, err
	}
	return clauses, nil
}

// AnalyzeDocument runs clause classification and risk scoring. One atomic
// long-running call; the only authoritative outcome is the full clause array
// or an error.
func (c *Client) AnalyzeDocument(ctx context.Context, docID string) ([]Clause, error) {
	var clauses []Clause
	if err := c.doJSON(ctx, http.MethodPost, "/documents/"+docID+"/analyze", nil, &clauses); err != nil {
		return nil, err
	}
	return clauses, nil
}

// ExportReport returns the backend's JSON analysis report verbatim.
func (c *Client) ExportReport(ctx context.Context, docID string) (json.RawMessage, error) {
	var report json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/documents/"+docID+"/export", nil, &report); err != nil {
		return nil, err
	}
	return report, nil
}

func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.doJSON(ctx, http.MethodGet, "/documents/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// UploadDocument uploads a PDF as a multipart form. The caller is expected
// to have validated the file extension already.
func (c *Client) UploadDocument(ctx context.Context, filename string, file io.Reader) (*Document, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	// Upload responds with the created document plus its raw clause
	// segmentation; only the document summary matters client-side.
	var body struct {
		DocID     string   `json:"doc_id"`
		Filename  string   `json:"filename"`
		PageCount int      `json:"page_count"`
		Clauses   []Clause `json:"clauses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &Document{
		ID:          body.DocID,
		Filename:    body.Filename,
		PageCount:   body.PageCount,
		ClauseCount: len(body.Clauses),
		IsAnalyzed:  false,
		CreatedAt:   time.Now(),
	}, nil
}

// DownloadPDF fetches the original uploaded binary. Requires the bearer
// token like every other authenticated call.
func (c *Client) DownloadPDF(ctx context.Context, docID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents/"+docID+"/pdf", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pdf request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf body: %w", err)
	}
	return data, nil
}

// ListSessions returns the persisted chat sessions, optionally scoped to one
// document. Backend order is preserved.
func (c *Client) ListSessions(ctx context.Context, docID string) ([]ChatSession, error) {
	path := "/chat/sessions"
	if docID != "" {
		path += "?doc_id=" + url.QueryEscape(docID)
	}
	var sessions []ChatSession
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) GetSessionMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	var messages []ChatMessage
	if err := c.doJSON(ctx, http.MethodGet, "/chat/sessions/"+sessionID+"/messages", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chat/sessions/"+sessionID, nil, nil)
}

// SendChat issues a retrieval-augmented question. When req.SessionID is
// empty the backend creates a session and returns its id in the answer.
func (c *Client) SendChat(ctx context.Context, req ChatRequest) (*ChatAnswer, error) {
	var answer ChatAnswer
	if err := c.doJSON(ctx, http.MethodPost, "/chat/send", req, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// doJSON issues an authenticated JSON request and decodes the response into
// out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// responseError maps a non-2xx response onto the error taxonomy. The backend
// reports failures as {"detail": "..."}.
func responseError(resp *http.Response) error {
	detail := ""
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		detail = body.Detail
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if detail == "" {
			detail = "not authenticated"
		}
		return &AuthError{Message: detail}
	default:
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return &ServerError{Status: resp.StatusCode, Message: detail}
	}
}
