// Package youtube wraps the YouTube Data and Analytics APIs.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/ytdash/internal/model"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
	"google.golang.org/api/youtubeanalytics/v2"
)

var (
	// ErrRateLimited covers quota exhaustion and other 403/429 answers.
	ErrRateLimited = errors.New("youtube: rate limited or forbidden")
	// ErrUnauthorized means the bearer token was rejected.
	ErrUnauthorized    = errors.New("youtube: not authorized")
	ErrChannelNotFound = errors.New("youtube: channel not found")
	ErrNoAPIKey        = errors.New("youtube: no API key configured")
)

// FetchError is any failed provider call.
type FetchError struct {
	Op        string
	ChannelID model.ChannelID
	Err       error
}

func (e *FetchError) Error() string {
	if e.ChannelID != "" {
		return fmt.Sprintf("youtube: %s %s: %v", e.Op, e.ChannelID, e.Err)
	}
	return fmt.Sprintf("youtube: %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Client struct {
	http       *http.Client
	defaultKey string
	dataURL    string
	reportsURL string
	logger     *zap.Logger
}

type Option func(*Client)

// WithEndpoints replaces the Data and Analytics API base URLs.
func WithEndpoints(dataURL, reportsURL string) Option {
	return func(c *Client) {
		c.dataURL = dataURL
		c.reportsURL = reportsURL
	}
}

func New(httpClient *http.Client, defaultAPIKey string, logger *zap.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{http: httpClient, defaultKey: defaultAPIKey, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasKey reports whether a public-data call can be made with apiKey or the
// configured default.
func (c *Client) HasKey(apiKey string) bool {
	return apiKey != "" || c.defaultKey != ""
}

func (c *Client) dataService(ctx context.Context, apiKey string) (*youtube.Service, error) {
	if apiKey == "" {
		apiKey = c.defaultKey
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	hc := &http.Client{
		Transport: &transport.APIKey{Key: apiKey, Transport: c.http.Transport},
		Timeout:   c.http.Timeout,
	}
	return youtube.NewService(ctx, c.options(hc, c.dataURL)...)
}

func (c *Client) authedDataService(ctx context.Context, tok *oauth2.Token) (*youtube.Service, error) {
	return youtube.NewService(ctx, c.options(c.bearer(ctx, tok), c.dataURL)...)
}

func (c *Client) reportsService(ctx context.Context, tok *oauth2.Token) (*youtubeanalytics.Service, error) {
	return youtubeanalytics.NewService(ctx, c.options(c.bearer(ctx, tok), c.reportsURL)...)
}

func (c *Client) bearer(ctx context.Context, tok *oauth2.Token) *http.Client {
	hc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.http), oauth2.StaticTokenSource(tok))
	hc.Timeout = c.http.Timeout
	return hc
}

func (c *Client) options(hc *http.Client, endpoint string) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrChannelNotFound, err)
		}
	}
	return err
}

func fetchErr(op string, id model.ChannelID, err error) error {
	return &FetchError{Op: op, ChannelID: id, Err: classify(err)}
}
