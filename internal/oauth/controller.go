package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/ytdash/internal/model"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ChannelResolver looks up the channel owned by the token's account. It
// returns nil, nil when the account has none.
type ChannelResolver interface {
	OwnChannel(ctx context.Context, tok *oauth2.Token) (*model.ChannelInfo, error)
}

// CredentialSaver persists the tokens of a completed flow.
type CredentialSaver interface {
	Upsert(ctx context.Context, info model.ChannelInfo, accessToken, refreshToken string, expiry *time.Time) (*model.Channel, error)
}

type FlowState int

const (
	AwaitingRedirect FlowState = iota
	AwaitingExchange
	Complete
)

func (s FlowState) String() string {
	switch s {
	case AwaitingRedirect:
		return "awaiting-redirect"
	case AwaitingExchange:
		return "awaiting-exchange"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("FlowState(%d)", int(s))
}

type Controller struct {
	endpoint *Endpoint
	states   *StateSigner
	resolver ChannelResolver
	saver    CredentialSaver
	logger   *zap.Logger
}

func NewController(endpoint *Endpoint, states *StateSigner, resolver ChannelResolver, saver CredentialSaver, logger *zap.Logger) *Controller {
	return &Controller{
		endpoint: endpoint,
		states:   states,
		resolver: resolver,
		saver:    saver,
		logger:   logger,
	}
}

// Configured reports whether the provider client credentials are set.
func (c *Controller) Configured() bool { return c.endpoint.Configured() }

// Start opens a fresh authorization round.
func (c *Controller) Start(callbackBase string) *Flow {
	return &Flow{c: c, redirectURL: CallbackURL(callbackBase), state: AwaitingRedirect}
}

// Resume picks up a round whose user has been redirected back. The round's
// state travels in the callback request, not in the controller.
func (c *Controller) Resume(callbackBase string) *Flow {
	return &Flow{c: c, redirectURL: CallbackURL(callbackBase), state: AwaitingExchange}
}

// Flow is one single-use authorization round.
type Flow struct {
	c           *Controller
	redirectURL string

	mu    sync.Mutex
	state FlowState
}

func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// BeginAuthorization returns the provider URL to send the user to.
func (f *Flow) BeginAuthorization() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case Complete:
		return "", ErrFlowComplete
	case AwaitingExchange:
		return "", errors.New("oauth: authorization already started")
	}
	state, err := f.c.states.Sign(f.redirectURL)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	f.state = AwaitingExchange
	return f.c.endpoint.AuthCodeURL(f.redirectURL, state), nil
}

// HandleCallback exchanges the code, finds the account's channel and stores
// the credential. The flow is complete only when every step succeeded.
func (f *Flow) HandleCallback(ctx context.Context, code, state string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Complete {
		return nil, ErrFlowComplete
	}

	signedRedirect, err := f.c.states.Verify(state)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrMissingCode
	}
	redirectURL := f.redirectURL
	if signedRedirect != "" && signedRedirect != redirectURL {
		f.c.logger.Warn("callback base differs from login, using the signed redirect URL",
			zap.String("login", signedRedirect), zap.String("callback", redirectURL))
		redirectURL = signedRedirect
	}

	tok, err := f.c.endpoint.Exchange(ctx, code, redirectURL)
	if err != nil {
		f.c.logger.Warn("authorization code exchange failed", zap.Error(err))
		return nil, err
	}

	info, err := f.c.resolver.OwnChannel(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("look up own channel: %w", err)
	}
	if info == nil || info.ID == "" {
		return nil, ErrNoChannelFound
	}

	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		expiry = &tok.Expiry
	}
	rec, err := f.c.saver.Upsert(ctx, *info, tok.AccessToken, tok.RefreshToken, expiry)
	if err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	f.state = Complete
	f.c.logger.Info("channel authorized",
		zap.String("channel_id", string(rec.ChannelID)),
		zap.Bool("refresh_token_issued", tok.RefreshToken != ""))
	return rec, nil
}
