package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ewilliams-labs/pulselight/internal/core/ports"
	"github.com/ewilliams-labs/pulselight/internal/platform/metrics"
)

// DefaultBaseURL is the Spotify Web API root.
const DefaultBaseURL = "https://api.spotify.com/v1"

// Scopes needed to read playback state and the queue.
var Scopes = []string{"user-read-currently-playing", "user-read-playback-state"}

// Endpoint is Spotify's OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.spotify.com/authorize",
	TokenURL: "https://accounts.spotify.com/api/token",
}

// Client is an HTTP client for the Spotify adapter.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	maxRetries  int
	baseBackoff time.Duration
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// compile-time interface assertion
var _ ports.PlaybackProvider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the retry budget and base backoff.
func WithRetry(maxRetries int, baseBackoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseBackoff = baseBackoff
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log.Named("spotify")
		}
	}
}

// WithMetrics counts requests per endpoint and status.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// OAuthConfig builds the authorization-code config for the given app.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     Endpoint,
	}
}

// NewClient constructs a new Spotify client. httpClient must add authorization.
func NewClient(httpClient *http.Client, baseURL string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOAuthClient returns a client whose access token is refreshed from refreshToken.
func NewOAuthClient(ctx context.Context, cfg *oauth2.Config, refreshToken, baseURL string, opts ...Option) *Client {
	httpClient := cfg.Client(ctx, &oauth2.Token{RefreshToken: refreshToken})
	httpClient.Timeout = 10 * time.Second
	return NewClient(httpClient, baseURL, opts...)
}

// getJSON performs a GET with retry and decodes a 200 body into out.
// It reports false, without error, for 204 No Content.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, out any) (bool, error) {
	resp, err := c.get(ctx, endpoint, c.baseURL+path)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return false, nil
	default:
		return false, fmt.Errorf("spotify adapter: %w", ports.StatusError{Endpoint: endpoint, Status: resp.StatusCode})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("spotify adapter: %s decode error: %w", endpoint, err)
	}
	return true, nil
}
