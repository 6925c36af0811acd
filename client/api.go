// Package client talks to a dm-lab server: the JSON API over HTTP and the delivery
// relay over WebSocket. Session ties both to the reconciliation Timeline.
package client

import (
	"bytes"
	"context"
	"dm-lab/auth"
	"dm-lab/domain"
	"dm-lab/errors"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// APIError is a non-2xx answer of the server. It unwraps to the error category
// matching the status so callers branch with errors.Is like on the server side.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return errors.ErrValidation
	case http.StatusUnauthorized:
		return errors.ErrAuth
	case http.StatusForbidden:
		return errors.ErrNotParticipant
	case http.StatusNotFound:
		return errors.ErrNotFound
	case http.StatusConflict:
		return errors.ErrUserAlreadyExists
	default:
		return errors.ErrStorage
	}
}

// API is a thin JSON client of the HTTP endpoints. Register and Login store the
// session token used by every later call.
type API struct {
	baseURL string
	http    *http.Client

	mu      sync.RWMutex
	session auth.Session
}

// NewAPI targets baseURL (e.g. http://localhost:8080). httpClient may be nil.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (a *API) Register(ctx context.Context, req auth.RegisterRequest) (auth.Session, error) {
	var session auth.Session
	if err := a.do(ctx, http.MethodPost, "/api/auth/register", req, &session); err != nil {
		return auth.Session{}, err
	}
	a.SetSession(session)
	return session, nil
}

func (a *API) Login(ctx context.Context, req auth.LoginRequest) (auth.Session, error) {
	var session auth.Session
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", req, &session); err != nil {
		return auth.Session{}, err
	}
	a.SetSession(session)
	return session, nil
}

func (a *API) SetSession(session auth.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = session
}

func (a *API) Session() auth.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *API) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var summaries []domain.ConversationSummary
	err := a.do(ctx, http.MethodGet, "/api/conversations", nil, &summaries)
	return summaries, err
}

func (a *API) StartConversation(ctx context.Context, userID string) (domain.ConversationSummary, error) {
	var summary domain.ConversationSummary
	err := a.do(ctx, http.MethodPost, "/api/conversations", map[string]string{"userId": userID}, &summary)
	return summary, err
}

func (a *API) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]domain.MessageView, error) {
	var messages []domain.MessageView
	path := "/api/conversations/" + conversationID.String() + "/messages"
	err := a.do(ctx, http.MethodGet, path, nil, &messages)
	return messages, err
}

func (a *API) SendMessage(ctx context.Context, conversationID domain.ConversationID, content, clientMsgID string) (domain.MessageView, error) {
	var message domain.MessageView
	err := a.do(ctx, http.MethodPost, "/api/messages/send", map[string]string{
		"content":        content,
		"conversationId": conversationID.String(),
		"clientMsgId":    clientMsgID,
	}, &message)
	return message, err
}

func (a *API) ListUsers(ctx context.Context, query string) ([]domain.User, error) {
	var users []domain.User
	path := "/api/users"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	err := a.do(ctx, http.MethodGet, path, nil, &users)
	return users, err
}

// SocketURL is the relay endpoint for the current session.
func (a *API) SocketURL() string {
	base := a.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws?token=" + url.QueryEscape(a.Session().Token)
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	request, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := a.Session().Token; token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := a.http.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(response.Body).Decode(&payload)
		return &APIError{Status: response.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
