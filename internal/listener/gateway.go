package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGatewayURL is where the conversation gateway listens by default.
const DefaultGatewayURL = "http://127.0.0.1:18789"

// ErrUnauthorized is returned when the gateway rejects the token. It aborts
// the current poll cycle only.
var ErrUnauthorized = errors.New("gateway rejected credentials")

// Session is a conversation known to the gateway.
type Session struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Active reports whether the conversation is live.
func (s Session) Active() bool { return s.State == "active" }

// Message is one turn of a conversation.
type Message struct {
	ID      int64  `json:"ID"`
	Role    string `json:"Role"`
	Content string `json:"Content"`
	Channel string `json:"Channel"`
}

// Gateway lists conversations and their messages.
type Gateway interface {
	Sessions(ctx context.Context) ([]Session, error)
	Messages(ctx context.Context, session string) ([]Message, error)
}

// HTTPGateway talks to the gateway's REST API with a bearer token.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client. A zero timeout means 10s.
func NewHTTPGateway(baseURL, token string, timeout time.Duration) *HTTPGateway {
	if baseURL == "" {
		baseURL = DefaultGatewayURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Sessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := g.get(ctx, "/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *HTTPGateway) Messages(ctx context.Context, session string) ([]Message, error) {
	var out []Message
	if err := g.get(ctx, "/sessions/"+url.PathEscape(session)+"/messages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *HTTPGateway) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrUnauthorized, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("gateway %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("gateway %s: decode: %w", path, err)
	}
	return nil
}
