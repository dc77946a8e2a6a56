package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type APIClient struct {
	serverURL  string
	httpClient *http.Client
}

type AuthResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	ExpiresAt string `json:"expires_at"`
}

type apiError struct {
	Error string `json:"error"`
}

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return "server: " + e.Message
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type HistorySender struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s HistorySender) displayName() string {
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if name == "" {
		return "unknown"
	}
	return name
}

type HistoryMessage struct {
	Sender    HistorySender `json:"sender"`
	Text      *string       `json:"text"`
	Media     *string       `json:"media"`
	CreatedAt string        `json:"created_at"`
	Read      bool          `json:"read"`
}

type ConversationSummary struct {
	Name      string `json:"name"`
	PeerID    string `json:"peer_id"`
	Peer      string `json:"peer"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func NewAPIClient(serverURL string) *APIClient {
	return &APIClient{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *APIClient) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", "", credentials{username, password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) Logout(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

// History fetches the conversation with peer, creating it server-side on
// first contact.
func (c *APIClient) History(ctx context.Context, token, peer string) ([]HistoryMessage, error) {
	var resp []HistoryMessage
	if err := c.doJSON(ctx, http.MethodGet, "/message/"+url.PathEscape(peer)+"/", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *APIClient) Conversations(ctx context.Context, token string) ([]ConversationSummary, error) {
	var resp []ConversationSummary
	if err := c.doJSON(ctx, http.MethodGet, "/conversations/", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
