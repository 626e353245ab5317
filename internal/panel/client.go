package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"vpn-billing-api/internal/config"
	"vpn-billing-api/pkg/logging"
)

// Panel account statuses.
const (
	UserStatusActive   = "active"
	UserStatusOnHold   = "on_hold"
	UserStatusDisabled = "disabled"
)

// PanelError is returned after the retry policy is exhausted or the panel
// rejects a request outright.
type PanelError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *PanelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("panel %s failed: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("panel %s failed: %s", e.Op, e.Message)
}

// CreateUserRequest describes a panel account to provision.
type CreateUserRequest struct {
	Username string
	// ExpireAt is a unix timestamp; 0 means no expiry yet.
	ExpireAt  int64
	Status    string
	Note      string
	DataLimit int64
}

// UserProfile is the panel's view of an account.
type UserProfile struct {
	ID              string   `json:"-"`
	Username        string   `json:"username"`
	Status          string   `json:"status"`
	ExpireAt        int64    `json:"expire"`
	Links           []string `json:"links"`
	SubscriptionURL string   `json:"subscription_url"`
}

// UserPatch carries the fields of a partial account update. Nil fields are
// left untouched by the panel.
type UserPatch struct {
	Status    *string
	ExpireAt  *int64
	DataLimit *int64
}

type adminToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Client talks to a Marzban-style VPN panel.
type Client struct {
	baseURL  string
	username string
	password string

	httpClient *http.Client
	retry      RetryPolicy

	// mu guards token; the one client is shared across handlers.
	mu    sync.Mutex
	token string

	// Always sent on create so the panel never provisions an account
	// without proxies.
	defaultInbounds map[string][]string
	defaultProxies  map[string]map[string]interface{}
}

// NewClient creates a panel client with the given retry policy.
func NewClient(cfg config.PanelConfig, retry RetryPolicy) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry:           retry,
		defaultInbounds: map[string][]string{"vless": {"vless-reality"}},
		defaultProxies: map[string]map[string]interface{}{
			"vless": {"flow": "xtls-rprx-vision"},
		},
	}
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return &PanelError{Op: "login", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &PanelError{Op: "login", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &PanelError{Op: "login", StatusCode: resp.StatusCode, Message: truncate(string(body))}
	}

	var token adminToken
	if err := json.Unmarshal(body, &token); err != nil {
		return &PanelError{Op: "login", Message: "invalid token response"}
	}
	if token.AccessToken == "" {
		return &PanelError{Op: "login", Message: "access_token missing in response"}
	}
	c.setToken(token.AccessToken)
	return nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) clearToken() {
	c.setToken("")
}

// request runs one authenticated call under the retry policy. Network errors
// and 5xx responses are retried with backoff; 401/403 drops the cached token
// and retries; other 4xx responses fail immediately.
func (c *Client) request(ctx context.Context, op, method, path string, payload interface{}) ([]byte, error) {
	var lastErr *PanelError

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		token := c.currentToken()
		if token == "" {
			if err := c.login(ctx); err != nil {
				var perr *PanelError
				if pe, ok := err.(*PanelError); ok {
					perr = pe
				} else {
					perr = &PanelError{Op: op, Message: err.Error()}
				}
				if perr.StatusCode == http.StatusUnauthorized || perr.StatusCode == http.StatusForbidden {
					return nil, perr
				}
				lastErr = perr
				c.retry.wait(attempt)
				continue
			}
			token = c.currentToken()
		}

		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, &PanelError{Op: op, Message: err.Error()}
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, &PanelError{Op: op, Message: err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &PanelError{Op: op, Message: err.Error()}
			logging.Warnf("Panel %s attempt %d/%d failed: %v", op, attempt, c.retry.MaxAttempts, err)
			c.retry.wait(attempt)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			lastErr = &PanelError{Op: op, StatusCode: resp.StatusCode, Message: truncate(string(respBody))}
			logging.Warnf("Panel %s auth error attempt %d/%d, re-login", op, attempt, c.retry.MaxAttempts)
			c.clearToken()
			c.retry.wait(attempt)
			continue
		case resp.StatusCode >= 500:
			lastErr = &PanelError{Op: op, StatusCode: resp.StatusCode, Message: truncate(string(respBody))}
			logging.Warnf("Panel %s temporary error attempt %d/%d: status %d", op, attempt, c.retry.MaxAttempts, resp.StatusCode)
			c.retry.wait(attempt)
			continue
		case resp.StatusCode >= 400:
			return nil, &PanelError{Op: op, StatusCode: resp.StatusCode, Message: truncate(string(respBody))}
		}

		return respBody, nil
	}

	if lastErr == nil {
		lastErr = &PanelError{Op: op, Message: "request failed after retries"}
	}
	return nil, lastErr
}

// CreateUser provisions a panel account. A 409 from the panel is treated as
// success: the account already exists under that username.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*UserProfile, error) {
	payload := map[string]interface{}{
		"username": req.Username,
		"status":   req.Status,
		"inbounds": c.defaultInbounds,
		"proxies":  c.defaultProxies,
	}
	if req.ExpireAt != 0 {
		payload["expire"] = req.ExpireAt
	}
	if req.DataLimit != 0 {
		payload["data_limit"] = req.DataLimit
		payload["data_limit_reset_strategy"] = "no_reset"
	}
	if req.Note != "" {
		payload["note"] = req.Note
	}

	body, err := c.request(ctx, "create_user", http.MethodPost, "/api/user", payload)
	if err != nil {
		var perr *PanelError
		if pe, ok := err.(*PanelError); ok {
			perr = pe
		}
		if perr != nil && perr.StatusCode == http.StatusConflict {
			logging.Infof("Panel user %s already exists, reusing", req.Username)
			return &UserProfile{Username: req.Username, Status: req.Status, ExpireAt: req.ExpireAt}, nil
		}
		return nil, err
	}

	return decodeProfile(body, req.Username)
}

// UpdateUser applies a partial update to an existing panel account.
func (c *Client) UpdateUser(ctx context.Context, username string, patch UserPatch) error {
	payload := map[string]interface{}{}
	if patch.Status != nil {
		payload["status"] = *patch.Status
	}
	if patch.ExpireAt != nil {
		payload["expire"] = *patch.ExpireAt
	}
	if patch.DataLimit != nil {
		payload["data_limit"] = *patch.DataLimit
	}
	if len(payload) == 0 {
		return nil
	}

	_, err := c.request(ctx, "update_user", http.MethodPut, "/api/user/"+url.PathEscape(username), payload)
	return err
}

// GetUser fetches a panel account; a 404 yields (nil, nil).
func (c *Client) GetUser(ctx context.Context, username string) (*UserProfile, error) {
	body, err := c.request(ctx, "get_user", http.MethodGet, "/api/user/"+url.PathEscape(username), nil)
	if err != nil {
		if pe, ok := err.(*PanelError); ok && pe.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return decodeProfile(body, username)
}

// RevokeSubscription invalidates the account's connection links so the next
// config fetch issues fresh ones.
func (c *Client) RevokeSubscription(ctx context.Context, username string) error {
	_, err := c.request(ctx, "revoke_subscription", http.MethodPost, "/api/user/"+url.PathEscape(username)+"/revoke_sub", nil)
	return err
}

func decodeProfile(body []byte, username string) (*UserProfile, error) {
	var raw struct {
		ID              json.Number `json:"id"`
		Username        string      `json:"username"`
		Status          string      `json:"status"`
		Expire          int64       `json:"expire"`
		Links           []string    `json:"links"`
		SubscriptionURL string      `json:"subscription_url"`
	}
	if len(body) == 0 {
		return &UserProfile{Username: username}, nil
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PanelError{Op: "decode", Message: err.Error()}
	}
	profile := &UserProfile{
		ID:              raw.ID.String(),
		Username:        raw.Username,
		Status:          raw.Status,
		ExpireAt:        raw.Expire,
		Links:           raw.Links,
		SubscriptionURL: raw.SubscriptionURL,
	}
	if profile.Username == "" {
		profile.Username = username
	}
	return profile, nil
}

func truncate(s string) string {
	if len(s) > 300 {
		return s[:300]
	}
	return s
}
