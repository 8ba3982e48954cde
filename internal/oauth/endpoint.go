// Package oauth drives the Google authorization-code flow that links a
// YouTube channel to the dashboard.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"
	"google.golang.org/api/youtubeanalytics/v2"
)

const CallbackPath = "/api/auth/callback"

var (
	ErrMissingCode    = errors.New("oauth: callback carries no authorization code")
	ErrExchangeFailed = errors.New("oauth: code exchange failed")
	ErrNoChannelFound = errors.New("oauth: account has no YouTube channel")
	ErrInvalidState   = errors.New("oauth: invalid or expired state")
	ErrFlowComplete   = errors.New("oauth: flow already complete")
)

// Scopes requested on every authorization.
var Scopes = []string{
	youtube.YoutubeReadonlyScope,
	youtubeanalytics.YtAnalyticsReadonlyScope,
}

// CallbackURL builds the redirect URL from a public base URL. Login and
// callback must both derive it from the same base.
func CallbackURL(base string) string {
	return strings.TrimRight(base, "/") + CallbackPath
}

// Endpoint talks to the provider's authorization and token endpoints.
type Endpoint struct {
	config oauth2.Config
	client *http.Client
}

type EndpointOption func(*Endpoint)

// WithProviderEndpoint points the flow at another provider, mostly for tests.
func WithProviderEndpoint(ep oauth2.Endpoint) EndpointOption {
	return func(e *Endpoint) { e.config.Endpoint = ep }
}

func NewEndpoint(clientID, clientSecret string, client *http.Client, opts ...EndpointOption) *Endpoint {
	if client == nil {
		client = http.DefaultClient
	}
	e := &Endpoint{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
		client: client,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Configured reports whether client credentials are present.
func (e *Endpoint) Configured() bool {
	return e.config.ClientID != "" && e.config.ClientSecret != ""
}

func (e *Endpoint) with(redirectURL string) *oauth2.Config {
	cfg := e.config
	cfg.RedirectURL = redirectURL
	return &cfg
}

func (e *Endpoint) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.client)
}

// AuthCodeURL asks for offline access and forces the consent screen so a
// refresh token is issued even on re-authorization.
func (e *Endpoint) AuthCodeURL(redirectURL, state string) string {
	return e.with(redirectURL).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"))
}

func (e *Endpoint) Exchange(ctx context.Context, code, redirectURL string) (*oauth2.Token, error) {
	tok, err := e.with(redirectURL).Exchange(e.ctx(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	return tok, nil
}

// Refresh runs a refresh-token grant.
func (e *Endpoint) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := e.config.TokenSource(e.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh grant: %w", err)
	}
	return tok, nil
}
