package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config carries the project URL and the two API keys: the service-role key
// for the admin endpoints and the anon key for the password grant.
type Config struct {
	URL            string
	ServiceRoleKey string
	AnonKey        string
	Timeout        time.Duration
}

// Client talks to the Supabase auth (GoTrue) REST API. Only the calls the VK
// login flow needs are implemented.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         *User  `json:"user"`
}

type CreateUserParams struct {
	Email        string                 `json:"email"`
	Password     string                 `json:"password"`
	EmailConfirm bool                   `json:"email_confirm"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
}

type UpdateUserParams struct {
	Password     string                 `json:"password,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
}

type apiError struct {
	StatusCode int
	Msg        string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("supabase: status %d: %s", e.StatusCode, e.Msg)
}

// IsAlreadyRegistered reports whether err is GoTrue's duplicate-user
// rejection on admin user creation. GoTrue's wording varies between
// versions, so this matches on the message text.
func IsAlreadyRegistered(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already registered") ||
		strings.Contains(msg, "already been registered")
}

// CreateUser provisions a user through the admin API.
func (c *Client) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodPost, "/auth/v1/admin/users", c.cfg.ServiceRoleKey, params, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail returns the first admin-API match for email, or nil.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var result struct {
		Users []User `json:"users"`
	}
	path := "/auth/v1/admin/users?page=1&per_page=1&email=" + url.QueryEscape(email)
	if err := c.do(ctx, http.MethodGet, path, c.cfg.ServiceRoleKey, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Users) == 0 {
		return nil, nil
	}
	return &result.Users[0], nil
}

func (c *Client) UpdateUser(ctx context.Context, userID string, params UpdateUserParams) error {
	return c.do(ctx, http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(userID), c.cfg.ServiceRoleKey, params, nil)
}

// SignInWithPassword performs the password grant with the anon key and
// returns the minted session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	var session Session
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", c.cfg.AnonKey, body, &session); err != nil {
		return nil, err
	}
	if session.AccessToken == "" {
		return nil, &apiError{StatusCode: http.StatusInternalServerError, Msg: "no session in response"}
	}
	return &session, nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("supabase: marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, reqBody)
	if err != nil {
		return fmt.Errorf("supabase: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("supabase request failed", "error", err, "path", path)
		return fmt.Errorf("supabase: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("supabase: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := extractErrorMessage(respBody)
		c.logger.Error("supabase API returned error", "status", resp.StatusCode, "msg", msg, "path", path)
		return &apiError{StatusCode: resp.StatusCode, Msg: msg}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("supabase: unmarshal response: %w", err)
		}
	}
	return nil
}

func extractErrorMessage(body []byte) string {
	var payload struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, m := range []string{payload.Msg, payload.Message, payload.ErrorDescription} {
			if m != "" {
				return m
			}
		}
	}
	return string(body)
}
