// Package graph integrates Microsoft Teams chats via the Microsoft
// Graph API: OAuth code exchange and refresh, chat listing, and a sync
// job that mirrors chat messages into the messaging store.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for Graph API failures.
var (
	// ErrTokenRejected indicates the code or refresh token was rejected.
	ErrTokenRejected = errors.New("graph: token rejected")

	// ErrUnauthorized indicates the access token expired or was revoked.
	ErrUnauthorized = errors.New("graph: unauthorized")

	// ErrRequestFailed is any other non-2xx response.
	ErrRequestFailed = errors.New("graph: request failed")
)

const maxResponseBody = 8 * 1024 * 1024

// tokenScope is the delegated permission set requested for chat sync.
const tokenScope = "offline_access Chat.Read User.Read"

// Token is one OAuth token pair.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Chat is one Teams chat thread.
type Chat struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

// ChatMessage is one Teams chat message.
type ChatMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Config carries the app registration for the OAuth flow.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Client talks to the Microsoft identity platform and the Graph API.
type Client struct {
	cfg        Config
	loginBase  string
	graphBase  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithBaseURLs overrides the login and Graph endpoints. Tests only.
func WithBaseURLs(login, graph string) Option {
	return func(cl *Client) {
		cl.loginBase = strings.TrimSuffix(login, "/")
		cl.graphBase = strings.TrimSuffix(graph, "/")
	}
}

// NewClient creates a Graph client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		loginBase:  "https://login.microsoftonline.com",
		graphBase:  "https://graph.microsoft.com/v1.0",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Token, error) {
	return c.token(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.cfg.RedirectURI},
	})
}

// Refresh trades a refresh token for a fresh pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	return c.token(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (c *Client) token(ctx context.Context, form url.Values) (Token, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("scope", tokenScope)

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginBase, c.cfg.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Token{}, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := string(raw)
		if len(detail) > 200 {
			detail = detail[:200] + "..."
		}
		return Token{}, fmt.Errorf("%w (status %d): %s", ErrTokenRejected, resp.StatusCode, detail)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Token{}, fmt.Errorf("decoding token response: %w", err)
	}
	if body.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: empty access token", ErrTokenRejected)
	}

	return Token{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

// ListChats returns the signed-in user's chats.
func (c *Client) ListChats(ctx context.Context, accessToken string) ([]Chat, error) {
	var body struct {
		Value []struct {
			ID    string  `json:"id"`
			Topic *string `json:"topic"`
		} `json:"value"`
	}
	if err := c.get(ctx, accessToken, "/me/chats", &body); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}

	chats := make([]Chat, 0, len(body.Value))
	for _, v := range body.Value {
		chat := Chat{ID: v.ID}
		if v.Topic != nil {
			chat.Topic = *v.Topic
		}
		if chat.Topic == "" {
			chat.Topic = "Teams chat"
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// ListMessages returns a chat's messages created after since, oldest
// first. Non-text bodies are flattened to their raw content.
func (c *Client) ListMessages(ctx context.Context, accessToken, chatID string, since time.Time) ([]ChatMessage, error) {
	var body struct {
		Value []struct {
			ID   string `json:"id"`
			From *struct {
				User *struct {
					DisplayName string `json:"displayName"`
				} `json:"user"`
			} `json:"from"`
			Body struct {
				Content string `json:"content"`
			} `json:"body"`
			CreatedDateTime time.Time `json:"createdDateTime"`
		} `json:"value"`
	}
	path := "/me/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.get(ctx, accessToken, path, &body); err != nil {
		return nil, fmt.Errorf("listing chat messages: %w", err)
	}

	var msgs []ChatMessage
	for _, v := range body.Value {
		if !since.IsZero() && !v.CreatedDateTime.After(since) {
			continue
		}
		msg := ChatMessage{
			ID:        v.ID,
			Body:      v.Body.Content,
			CreatedAt: v.CreatedDateTime,
		}
		if v.From != nil && v.From.User != nil {
			msg.From = v.From.User.DisplayName
		}
		msgs = append(msgs, msg)
	}

	// Graph returns newest first; the store wants insertion order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphBase+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		detail := string(raw)
		if len(detail) > 200 {
			detail = detail[:200] + "..."
		}
		return fmt.Errorf("%w (status %d): %s", ErrRequestFailed, resp.StatusCode, detail)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
