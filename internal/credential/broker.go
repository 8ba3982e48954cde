package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ytdash/internal/model"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const defaultExpirySkew = 10 * time.Second

// Refresher performs a refresh-token grant against the token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type BrokerOption func(*Broker)

func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// WithExpirySkew treats tokens expiring within d as already expired.
func WithExpirySkew(d time.Duration) BrokerOption {
	return func(b *Broker) { b.skew = d }
}

// Broker turns a channel id into a bearer token that can be used right now.
// It never starts an interactive authorization.
type Broker struct {
	store     *Store
	refresher Refresher
	now       func() time.Time
	skew      time.Duration
	logger    *zap.Logger
	group     singleflight.Group
}

func NewBroker(store *Store, refresher Refresher, logger *zap.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		store:     store,
		refresher: refresher,
		now:       time.Now,
		skew:      defaultExpirySkew,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resolve returns a usable token for the channel or an error matching
// ErrNoCredential. Concurrent calls for one channel share a single refresh.
// The shared refresh outlives any one caller; a caller whose ctx ends stops
// waiting for it.
func (b *Broker) Resolve(ctx context.Context, id model.ChannelID) (*oauth2.Token, error) {
	shared := context.WithoutCancel(ctx)
	ch := b.group.DoChan(string(id), func() (any, error) {
		return b.resolve(shared, id)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNoCredential, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

func (b *Broker) resolve(ctx context.Context, id model.ChannelID) (*oauth2.Token, error) {
	rec, err := b.store.GetByChannel(ctx, id)
	if err != nil {
		b.logger.Error("loading channel credential", zap.String("channel_id", string(id)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: channel %s was never authorized", ErrNoCredential, id)
	}

	access, refresh, err := b.store.Reveal(rec)
	if err != nil {
		b.logger.Warn("stored credential is unreadable, re-authorization required",
			zap.String("channel_id", string(id)))
		return nil, err
	}

	if access != "" && !b.expired(rec.Expiry) {
		tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer", RefreshToken: refresh}
		if rec.Expiry != nil {
			tok.Expiry = *rec.Expiry
		}
		return tok, nil
	}
	if refresh == "" {
		return nil, fmt.Errorf("%w: channel %s has no refresh token, re-authorization required", ErrNoCredential, id)
	}

	start := b.now()
	tok, err := b.refresher.Refresh(ctx, refresh)
	if err != nil {
		b.logger.Warn("token refresh failed",
			zap.String("channel_id", string(id)),
			zap.Duration("took", b.now().Sub(start)),
			zap.Error(err))
		return nil, errors.Join(ErrRefreshFailed, err)
	}
	b.logger.Info("refreshed access token", zap.String("channel_id", string(id)))

	b.writeBack(ctx, rec, tok)
	if tok.RefreshToken == "" {
		tok.RefreshToken = refresh
	}
	return tok, nil
}

// writeBack persists a refreshed token. Failures are logged, not returned.
func (b *Broker) writeBack(ctx context.Context, rec *model.Channel, tok *oauth2.Token) {
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		expiry = &tok.Expiry
	}
	ok, err := b.store.UpdateTokens(ctx, rec, tok.AccessToken, tok.RefreshToken, expiry)
	switch {
	case err != nil:
		b.logger.Error("persisting refreshed token", zap.String("channel_id", string(rec.ChannelID)), zap.Error(err))
	case !ok:
		b.logger.Info("credential changed during refresh, keeping the newer record",
			zap.String("channel_id", string(rec.ChannelID)))
	}
}

func (b *Broker) expired(expiry *time.Time) bool {
	if expiry == nil {
		return false
	}
	return !b.now().Add(b.skew).Before(*expiry)
}
