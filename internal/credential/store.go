// Package credential persists per-channel OAuth tokens and hands out usable
// access tokens, refreshing them when they expire.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ytdash/internal/model"
	"github.com/example/ytdash/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrNoCredential means no usable token exists for a channel. Callers
	// fall back to cached data.
	ErrNoCredential = errors.New("credential: no usable credential")
	// ErrDecryptFailed is a stored token that no longer opens under the
	// current key. It matches ErrNoCredential.
	ErrDecryptFailed = fmt.Errorf("%w: stored token cannot be decrypted", ErrNoCredential)
	// ErrRefreshFailed is a rejected or failed refresh exchange. It matches
	// ErrNoCredential.
	ErrRefreshFailed = fmt.Errorf("%w: token refresh failed", ErrNoCredential)
)

// Repository is the persistence the store needs.
type Repository interface {
	GetChannel(ctx context.Context, id model.ChannelID) (*model.Channel, error)
	UpsertChannel(ctx context.Context, w storage.ChannelWrite) (*model.Channel, error)
	UpdateTokens(ctx context.Context, u storage.TokenUpdate) (bool, error)
	ListChannels(ctx context.Context) ([]*model.Channel, error)
}

type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Store is the only writer of token ciphertext.
type Store struct {
	repo   Repository
	sealer Sealer
	now    func() time.Time
	logger *zap.Logger
}

func NewStore(repo Repository, sealer Sealer, logger *zap.Logger) *Store {
	return &Store{repo: repo, sealer: sealer, now: time.Now, logger: logger}
}

// GetByChannel returns nil, nil when the channel has no record.
func (s *Store) GetByChannel(ctx context.Context, id model.ChannelID) (*model.Channel, error) {
	return s.repo.GetChannel(ctx, id)
}

func (s *Store) List(ctx context.Context) ([]*model.Channel, error) {
	return s.repo.ListChannels(ctx)
}

// Upsert encrypts and stores the tokens of a completed authorization. An
// empty refresh token leaves a previously stored one in place.
func (s *Store) Upsert(ctx context.Context, info model.ChannelInfo, accessToken, refreshToken string, expiry *time.Time) (*model.Channel, error) {
	accessEnc, refreshEnc, err := s.seal(accessToken, refreshToken)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.UpsertChannel(ctx, storage.ChannelWrite{
		ChannelID:       info.ID,
		Title:           info.Title,
		ThumbnailURL:    info.ThumbnailURL,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		Expiry:          utcPtr(expiry),
		At:              s.now().UTC(),
	})
	if err != nil {
		return nil, &storage.StorageError{Op: "upsert", Entity: "channel", ID: string(info.ID), Err: err}
	}
	s.logger.Info("stored channel credential",
		zap.String("channel_id", string(info.ID)),
		zap.Bool("refresh_token_issued", refreshToken != ""),
		zap.Bool("has_refresh_token", rec.HasRefreshToken()))
	return rec, nil
}

// UpdateTokens writes refreshed tokens only if rec is still the current
// version of the record. It reports false when a newer write got there first.
func (s *Store) UpdateTokens(ctx context.Context, rec *model.Channel, accessToken, refreshToken string, expiry *time.Time) (bool, error) {
	accessEnc, refreshEnc, err := s.seal(accessToken, refreshToken)
	if err != nil {
		return false, err
	}
	ok, err := s.repo.UpdateTokens(ctx, storage.TokenUpdate{
		ChannelID:       rec.ChannelID,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		Expiry:          utcPtr(expiry),
		Version:         rec.Version,
		At:              s.now().UTC(),
	})
	if err != nil {
		return false, &storage.StorageError{Op: "update", Entity: "channel", ID: string(rec.ChannelID), Err: err}
	}
	return ok, nil
}

// Reveal decrypts the tokens of rec. An unreadable access token yields
// ErrDecryptFailed. An unreadable refresh token is dropped, so the access
// token stays usable until it expires.
func (s *Store) Reveal(rec *model.Channel) (accessToken, refreshToken string, err error) {
	if accessToken, err = s.sealer.Decrypt(rec.AccessTokenEnc); err != nil {
		return "", "", ErrDecryptFailed
	}
	if refreshToken, err = s.sealer.Decrypt(rec.RefreshTokenEnc); err != nil {
		s.logger.Warn("stored refresh token cannot be decrypted, ignoring it",
			zap.String("channel_id", string(rec.ChannelID)))
		return accessToken, "", nil
	}
	return accessToken, refreshToken, nil
}

func (s *Store) seal(accessToken, refreshToken string) (string, string, error) {
	accessEnc, err := s.sealer.Encrypt(accessToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := s.sealer.Encrypt(refreshToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return accessEnc, refreshEnc, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
