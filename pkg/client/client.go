package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// APIError is a structured error returned by the server's JSON envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// tokenPayload mirrors the token response from login and refresh endpoints.
type tokenPayload struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// Client is an HTTP client for the LMS auth API. It attaches the bearer token
// to every request and transparently refreshes it through a single-flight
// Coordinator when the server reports expiry.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	coordinator *Coordinator
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCoordinatorOptions forwards options to the refresh Coordinator.
func WithCoordinatorOptions(opts ...CoordinatorOption) Option {
	return func(c *Client) {
		for _, opt := range opts {
			opt(c.coordinator)
		}
	}
}

// New builds a Client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	c.coordinator = NewCoordinator(RefresherFunc(c.refreshCall))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Coordinator exposes the client's refresh coordinator.
func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

// Login authenticates with email and password and stores the issued tokens.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}

	var data struct {
		Tokens tokenPayload `json:"tokens"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/auth/login", body, "", &data); err != nil {
		return err
	}

	c.coordinator.SetTokens(Tokens{
		AccessToken:     data.Tokens.AccessToken,
		RefreshToken:    data.Tokens.RefreshToken,
		AccessExpiresAt: data.Tokens.AccessExpiresAt,
	})
	return nil
}

// Logout revokes the held refresh token and clears local state. Clearing
// happens regardless of the server outcome.
func (c *Client) Logout(ctx context.Context) error {
	tokens := c.coordinator.Tokens()
	defer c.coordinator.Clear()

	if tokens.RefreshToken == "" {
		return nil
	}

	body := map[string]string{"refresh_token": tokens.RefreshToken}
	return c.call(ctx, http.MethodPost, "/api/auth/logout", body, "", nil)
}

// Do performs an authenticated request. When the server answers 401
// TOKEN_EXPIRED the access token is refreshed once and the request replayed.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	token := c.coordinator.AccessToken()

	err := c.call(ctx, method, path, body, token, out)
	if !isTokenExpired(err) {
		return err
	}

	refreshed, refreshErr := c.coordinator.Refresh(ctx)
	if refreshErr != nil {
		return refreshErr
	}

	return c.call(ctx, method, path, body, refreshed, out)
}

// refreshCall is the Coordinator's network hook.
func (c *Client) refreshCall(ctx context.Context, refreshToken string) (Tokens, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var data tokenPayload
	if err := c.call(ctx, http.MethodPost, "/api/auth/refresh", body, "", &data); err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:     data.AccessToken,
		RefreshToken:    data.RefreshToken,
		AccessExpiresAt: data.AccessExpiresAt,
	}, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, token string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: "UNPARSEABLE", Message: string(payload)}
	}

	if !env.Success || resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: "request failed"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
	}
	return nil
}

func isTokenExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "TOKEN_EXPIRED"
}
