package model

import "time"

type ChannelID string

// Channel is the persisted credential record for one YouTube channel.
// Token fields always hold ciphertext.
type Channel struct {
	ChannelID       ChannelID
	Title           string
	ThumbnailURL    string
	AccessTokenEnc  string
	RefreshTokenEnc string // empty when the grant never issued one
	Expiry          *time.Time
	Version         int64
	LastUpdated     time.Time
	CreatedAt       time.Time
}

// HasRefreshToken reports whether the record can be renewed without a new
// authorization round.
func (c *Channel) HasRefreshToken() bool {
	return c.RefreshTokenEnc != ""
}

// ChannelInfo is the display metadata the provider returns for a channel.
type ChannelInfo struct {
	ID           ChannelID
	Title        string
	ThumbnailURL string
}

// ChannelStats is the public summary shown in the dashboard header.
type ChannelStats struct {
	ChannelTitle string        `json:"channelTitle"`
	ChannelID    string        `json:"channelId"`
	Avatar       string        `json:"avatar,omitempty"`
	Stats        ChannelCounts `json:"stats"`
}

type ChannelCounts struct {
	Subscribers int64 `json:"subscribers"`
	Views       int64 `json:"views"`
	Videos      int64 `json:"videos"`
}
