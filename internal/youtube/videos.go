package youtube

import (
	"context"
	"time"

	"github.com/example/ytdash/internal/model"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/youtube/v3"
)

const pageSize = 50

// FetchVideoList walks the channel's uploads playlist and returns per-video
// statistics, newest uploads first as the playlist orders them.
func (c *Client) FetchVideoList(ctx context.Context, channelID model.ChannelID, apiKey string) ([]model.Video, error) {
	svc, err := c.dataService(ctx, apiKey)
	if err != nil {
		return nil, &FetchError{Op: "videos", ChannelID: channelID, Err: err}
	}

	ch, err := svc.Channels.List([]string{"contentDetails"}).Id(string(channelID)).Context(ctx).Do()
	if err != nil {
		return nil, fetchErr("channels.list", channelID, err)
	}
	if len(ch.Items) == 0 || ch.Items[0].ContentDetails == nil || ch.Items[0].ContentDetails.RelatedPlaylists == nil {
		return nil, &FetchError{Op: "channels.list", ChannelID: channelID, Err: ErrChannelNotFound}
	}
	uploads := ch.Items[0].ContentDetails.RelatedPlaylists.Uploads

	var videos []model.Video
	pageToken := ""
	for {
		call := svc.PlaylistItems.List([]string{"contentDetails"}).
			PlaylistId(uploads).
			MaxResults(pageSize).
			Context(ctx)
		if pageToken != "" {
			call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fetchErr("playlistItems.list", channelID, err)
		}

		ids := make([]string, 0, len(page.Items))
		for _, item := range page.Items {
			if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
				ids = append(ids, item.ContentDetails.VideoId)
			}
		}
		if len(ids) > 0 {
			stats, err := svc.Videos.List([]string{"snippet", "statistics", "contentDetails"}).Id(ids...).Context(ctx).Do()
			if err != nil {
				return nil, fetchErr("videos.list", channelID, err)
			}
			for _, item := range stats.Items {
				videos = append(videos, toVideo(item))
			}
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	c.logger.Info("fetched video list", zap.String("channel_id", string(channelID)), zap.Int("videos", len(videos)))
	return videos, nil
}

// FetchChannelStats returns the public summary of a channel.
func (c *Client) FetchChannelStats(ctx context.Context, channelID model.ChannelID, apiKey string) (*model.ChannelStats, error) {
	svc, err := c.dataService(ctx, apiKey)
	if err != nil {
		return nil, &FetchError{Op: "channel", ChannelID: channelID, Err: err}
	}
	resp, err := svc.Channels.List([]string{"snippet", "statistics"}).Id(string(channelID)).Context(ctx).Do()
	if err != nil {
		return nil, fetchErr("channels.list", channelID, err)
	}
	if len(resp.Items) == 0 {
		return nil, &FetchError{Op: "channels.list", ChannelID: channelID, Err: ErrChannelNotFound}
	}
	item := resp.Items[0]
	out := &model.ChannelStats{ChannelID: string(channelID)}
	if item.Snippet != nil {
		out.ChannelTitle = item.Snippet.Title
		out.Avatar = thumbnail(item.Snippet.Thumbnails, "default")
	}
	if item.Statistics != nil {
		out.Stats = model.ChannelCounts{
			Subscribers: int64(item.Statistics.SubscriberCount),
			Views:       int64(item.Statistics.ViewCount),
			Videos:      int64(item.Statistics.VideoCount),
		}
	}
	return out, nil
}

// OwnChannel returns the channel of the account behind tok, or nil, nil when
// the account has none.
func (c *Client) OwnChannel(ctx context.Context, tok *oauth2.Token) (*model.ChannelInfo, error) {
	svc, err := c.authedDataService(ctx, tok)
	if err != nil {
		return nil, &FetchError{Op: "channels.list mine", Err: err}
	}
	resp, err := svc.Channels.List([]string{"snippet", "id"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fetchErr("channels.list mine", "", err)
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	item := resp.Items[0]
	info := &model.ChannelInfo{ID: model.ChannelID(item.Id)}
	if item.Snippet != nil {
		info.Title = item.Snippet.Title
		info.ThumbnailURL = thumbnail(item.Snippet.Thumbnails, "default")
	}
	return info, nil
}

func toVideo(item *youtube.Video) model.Video {
	v := model.Video{VideoID: item.Id}
	if item.Snippet != nil {
		v.Title = item.Snippet.Title
		v.ThumbnailURL = thumbnail(item.Snippet.Thumbnails, "medium")
		if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			v.PublishedAt = t.UTC()
		}
	}
	if item.ContentDetails != nil {
		v.Duration = item.ContentDetails.Duration
	}
	if item.Statistics != nil {
		v.Views = int64(item.Statistics.ViewCount)
		v.Likes = int64(item.Statistics.LikeCount)
		v.Comments = int64(item.Statistics.CommentCount)
	}
	return v
}

func thumbnail(t *youtube.ThumbnailDetails, size string) string {
	if t == nil {
		return ""
	}
	var d *youtube.Thumbnail
	switch size {
	case "medium":
		d = t.Medium
	default:
		d = t.Default
	}
	if d == nil {
		d = t.Default
	}
	if d == nil {
		return ""
	}
	return d.Url
}
