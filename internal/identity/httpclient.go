package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

// Client talks to a hosted GoTrue-compatible identity service. Like the
// hosted SDKs, it holds the current session client-side and emits auth events
// from its own operations; GetCurrentSession and the event stream are
// therefore independent channels that can both surface the same session.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client

	mu      sync.Mutex
	current *Identity

	events broadcaster
}

// ClientOption customizes the HTTP provider client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// NewClient builds a provider client for the given base URL and API key.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sessionPayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	User        userPayload `json:"user"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type errorPayload struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Message     string `json:"msg"`
}

func (c *Client) GetCurrentSession(ctx context.Context) (*Identity, error) {
	c.mu.Lock()
	current := c.current.Clone()
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}
	if time.Now().Before(current.ExpiresAt) {
		return current, nil
	}

	// Token expired locally; confirm against the provider before dropping it.
	ident, err := c.GetCurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
	}
	return ident, nil
}

func (c *Client) GetCurrentUser(ctx context.Context) (*Identity, error) {
	c.mu.Lock()
	current := c.current.Clone()
	c.mu.Unlock()
	if current == nil {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	c.decorate(req, current.AccessToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch current user: %w", sentinel.ErrUnavailable)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, providerError(resp)
	}

	var user userPayload
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}
	userID, err := domain.ParseUserID(user.ID)
	if err != nil {
		return nil, fmt.Errorf("provider returned invalid user id: %w", err)
	}

	current.ID = userID
	current.Email = user.Email
	return current, nil
}

func (c *Client) SubscribeAuthEvents(h EventHandler) func() {
	return c.events.subscribe(h)
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	body := map[string]string{"email": email, "password": password}
	var payload sessionPayload
	status, err := c.post(ctx, "/token?grant_type=password", body, &payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		return nil, fmt.Errorf("credentials rejected: %w", sentinel.ErrUnauthorized)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("sign-in failed with status %d: %w", status, sentinel.ErrUnavailable)
	}

	ident, err := c.adoptSession(payload)
	if err != nil {
		return nil, err
	}
	c.events.emit(Event{Type: EventSignedIn, Identity: ident.Clone()})
	return ident, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string, meta SignupMetadata) (*Identity, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data": map[string]string{
			"first_name": meta.FirstName,
			"last_name":  meta.LastName,
			"role":       meta.Role,
			"tenant_id":  meta.TenantID,
		},
	}
	var payload sessionPayload
	status, err := c.post(ctx, "/signup", body, &payload)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return nil, fmt.Errorf("account already exists: %w", sentinel.ErrConflict)
	case status != http.StatusOK:
		return nil, fmt.Errorf("sign-up failed with status %d: %w", status, sentinel.ErrUnavailable)
	}

	// No access token means the provider wants a confirmation step first.
	if payload.AccessToken == "" {
		return nil, nil
	}

	ident, err := c.adoptSession(payload)
	if err != nil {
		return nil, err
	}
	c.events.emit(Event{Type: EventSignedIn, Identity: ident.Clone()})
	return ident, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.current.Clone()
	c.mu.Unlock()
	if current == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	c.decorate(req, current.AccessToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("revoke session: %w", sentinel.ErrUnavailable)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return providerError(resp)
	}

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	c.events.emit(Event{Type: EventSignedOut})
	return nil
}

func (c *Client) adoptSession(payload sessionPayload) (*Identity, error) {
	userID, err := domain.ParseUserID(payload.User.ID)
	if err != nil {
		return nil, fmt.Errorf("provider returned invalid user id: %w", err)
	}

	fallback := time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	ident := &Identity{
		ID:          userID,
		Email:       payload.User.Email,
		AccessToken: payload.AccessToken,
		ExpiresAt:   TokenExpiry(payload.AccessToken, fallback),
	}

	c.mu.Lock()
	c.current = ident
	c.mu.Unlock()
	return ident.Clone(), nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req, "")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("identity provider unreachable: %w", sentinel.ErrUnavailable)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	} else {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
	}
	return resp.StatusCode, nil
}

func (c *Client) decorate(req *http.Request, bearer string) {
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
}

func providerError(resp *http.Response) error {
	var payload errorPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		msg := payload.Description
		if msg == "" {
			msg = payload.Message
		}
		if msg == "" {
			msg = payload.Error
		}
		if msg != "" {
			return fmt.Errorf("provider error (%d): %s: %w", resp.StatusCode, msg, sentinel.ErrUnavailable)
		}
	}
	return fmt.Errorf("provider error (%d): %w", resp.StatusCode, sentinel.ErrUnavailable)
}
