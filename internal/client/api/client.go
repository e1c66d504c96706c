// Package api is the HTTP client the dashboard uses to talk to the lead
// service. Error responses are mapped back onto the common sentinels;
// failures to reach the service at all wrap common.ErrTransport.
package api

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

	"github.com/gorilla/websocket"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/models"
	ws "github.com/isdelr/leadboard-be/internal/websocket"
)

// Error is a non-2xx response from the service.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap exposes the sentinel matching the response code.
func (e *Error) Unwrap() error {
	return common.FromCode(e.Code)
}

// Client calls the lead service REST API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
}

// New creates a Client for the service at baseURL. A nil httpClient uses a
// client with a 30 second timeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: u,
		http:    httpClient,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, models.User, error) {
	var out loginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", "", loginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return "", models.User{}, err
	}
	return out.Token, out.User, nil
}

// Logout revokes token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// Me returns the identity token resolves to.
func (c *Client) Me(ctx context.Context, token string) (models.User, error) {
	var user models.User
	err := c.do(ctx, http.MethodGet, "/api/auth/me", token, nil, &user)
	return user, err
}

// ListLeads returns the caller's leads, newest first.
func (c *Client) ListLeads(ctx context.Context, token string) ([]models.Lead, error) {
	leads := []models.Lead{}
	err := c.do(ctx, http.MethodGet, "/api/leads", token, nil, &leads)
	return leads, err
}

// GetLead fetches a single lead.
func (c *Client) GetLead(ctx context.Context, token, id string) (models.Lead, error) {
	var lead models.Lead
	err := c.do(ctx, http.MethodGet, "/api/leads/"+url.PathEscape(id), token, nil, &lead)
	return lead, err
}

// CreateLead submits a new lead. An empty token makes a public submission.
func (c *Client) CreateLead(ctx context.Context, token string, input models.LeadInput) (models.Lead, error) {
	var lead models.Lead
	err := c.do(ctx, http.MethodPost, "/api/leads", token, input, &lead)
	return lead, err
}

// UpdateLead applies patch and returns the server's version of the lead.
func (c *Client) UpdateLead(ctx context.Context, token, id string, patch models.LeadPatch) (models.Lead, error) {
	var lead models.Lead
	err := c.do(ctx, http.MethodPut, "/api/leads/"+url.PathEscape(id), token, patch, &lead)
	return lead, err
}

// DeleteLead removes a lead.
func (c *Client) DeleteLead(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/leads/"+url.PathEscape(id), token, nil, nil)
}

// Watch streams push messages for the caller's leads to fn until ctx is
// done or the connection drops.
func (c *Client) Watch(ctx context.Context, token string, fn func(ws.Message)) error {
	u := *c.baseURL
	u.Scheme = "ws"
	if c.baseURL.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path += "/api/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", common.ErrTransport, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("%w: %v", common.ErrTransport, err)
		}
		fn(msg)
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", common.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", common.ErrInternal, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		apiErr.Code, apiErr.Message = body.Code, body.Error
		return apiErr
	}
	apiErr.Code, apiErr.Message = codeForStatus(resp.StatusCode), strings.TrimSpace(string(data))
	return apiErr
}

// codeForStatus covers responses that did not come from the service, such
// as a proxy error page.
func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return common.CodeInvalidToken
	case http.StatusForbidden:
		return common.CodeForbidden
	case http.StatusNotFound:
		return common.CodeNotFound
	case http.StatusConflict:
		return common.CodeConflict
	case http.StatusTooManyRequests:
		return common.CodeRateLimited
	case http.StatusBadRequest:
		return common.CodeValidation
	default:
		return common.CodeInternal
	}
}
