package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/ytdash/internal/model"
	_ "modernc.org/sqlite"
)

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; one connection keeps writes serialized
	// and makes ":memory:" databases usable.
	d.SetMaxOpenConns(1)
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			thumbnail_url TEXT,
			access_token_enc TEXT,
			refresh_token_enc TEXT,
			token_expiry TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			last_updated TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_metrics (
			channel_id TEXT NOT NULL,
			day TEXT NOT NULL,
			views INTEGER NOT NULL DEFAULT 0,
			likes INTEGER NOT NULL DEFAULT 0,
			comments INTEGER NOT NULL DEFAULT 0,
			subscribers INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (channel_id, day)
		);`,
		`CREATE TABLE IF NOT EXISTS videos (
			channel_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			video_id TEXT NOT NULL,
			title TEXT NOT NULL,
			published_at TEXT,
			thumbnail_url TEXT,
			duration TEXT,
			views INTEGER NOT NULL DEFAULT 0,
			likes INTEGER NOT NULL DEFAULT 0,
			comments INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (channel_id, position)
		);`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			channel_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			written_at TEXT NOT NULL,
			PRIMARY KEY (channel_id, kind)
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

const sqliteChannelColumns = `channel_id,title,thumbnail_url,access_token_enc,refresh_token_enc,token_expiry,version,last_updated,created_at`

func (s *SQLiteDB) GetChannel(ctx context.Context, id model.ChannelID) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteChannelColumns+` FROM channels WHERE channel_id = ?`, string(id))
	c, err := scanSQLiteChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (s *SQLiteDB) UpsertChannel(ctx context.Context, w ChannelWrite) (*model.Channel, error) {
	at := formatTime(w.At)
	_, err := s.db.ExecContext(ctx, `INSERT INTO channels(`+sqliteChannelColumns+`)
		VALUES(?,?,?,?,?,?,1,?,?)
		ON CONFLICT(channel_id) DO UPDATE SET
			title = excluded.title,
			thumbnail_url = excluded.thumbnail_url,
			access_token_enc = excluded.access_token_enc,
			refresh_token_enc = COALESCE(excluded.refresh_token_enc, channels.refresh_token_enc),
			token_expiry = excluded.token_expiry,
			version = channels.version + 1,
			last_updated = excluded.last_updated`,
		string(w.ChannelID), w.Title, w.ThumbnailURL, w.AccessTokenEnc, nullString(w.RefreshTokenEnc),
		nullTime(w.Expiry), at, at)
	if err != nil {
		return nil, err
	}
	return s.GetChannel(ctx, w.ChannelID)
}

func (s *SQLiteDB) UpdateTokens(ctx context.Context, u TokenUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE channels SET
			access_token_enc = ?,
			refresh_token_enc = COALESCE(?, refresh_token_enc),
			token_expiry = ?,
			version = version + 1,
			last_updated = ?
		WHERE channel_id = ? AND version = ?`,
		u.AccessTokenEnc, nullString(u.RefreshTokenEnc), nullTime(u.Expiry), formatTime(u.At),
		string(u.ChannelID), u.Version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteDB) ListChannels(ctx context.Context) ([]*model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteChannelColumns+` FROM channels ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Channel
	for rows.Next() {
		c, err := scanSQLiteChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) ReplaceVideos(ctx context.Context, id model.ChannelID, videos []model.Video, writtenAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE channel_id = ?`, string(id)); err != nil {
		return err
	}
	for i, v := range videos {
		if _, err := tx.ExecContext(ctx, `INSERT INTO videos(channel_id,position,video_id,title,published_at,thumbnail_url,duration,views,likes,comments)
			VALUES(?,?,?,?,?,?,?,?,?,?)`,
			string(id), i, v.VideoID, v.Title, formatTime(v.PublishedAt), v.ThumbnailURL, v.Duration, v.Views, v.Likes, v.Comments); err != nil {
			return err
		}
	}
	if err := s.touch(ctx, tx, id, kindVideos, writtenAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDB) GetVideos(ctx context.Context, id model.ChannelID) ([]model.Video, *time.Time, error) {
	at, err := s.writtenAt(ctx, id, kindVideos)
	if err != nil || at == nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT video_id,title,published_at,thumbnail_url,duration,views,likes,comments
		FROM videos WHERE channel_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var out []model.Video
	for rows.Next() {
		var v model.Video
		var published, thumb, duration sql.NullString
		if err := rows.Scan(&v.VideoID, &v.Title, &published, &thumb, &duration, &v.Views, &v.Likes, &v.Comments); err != nil {
			return nil, nil, err
		}
		if published.Valid {
			if v.PublishedAt, err = parseTime(published.String); err != nil {
				return nil, nil, err
			}
		}
		v.ThumbnailURL = thumb.String
		v.Duration = duration.String
		out = append(out, v)
	}
	return out, at, rows.Err()
}

func (s *SQLiteDB) UpsertDailyMetrics(ctx context.Context, id model.ChannelID, rows []model.DailyMetric, writtenAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO daily_metrics(channel_id,day,views,likes,comments,subscribers)
			VALUES(?,?,?,?,?,?)
			ON CONFLICT(channel_id, day) DO UPDATE SET
				views = excluded.views,
				likes = excluded.likes,
				comments = excluded.comments,
				subscribers = excluded.subscribers`,
			string(id), model.Day(r.Day).Format(model.DateLayout), r.Views, r.Likes, r.Comments, r.Subscribers); err != nil {
			return err
		}
	}
	if err := s.touch(ctx, tx, id, kindDailyMetrics, writtenAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDB) GetDailyMetrics(ctx context.Context, id model.ChannelID) ([]model.DailyMetric, *time.Time, error) {
	at, err := s.writtenAt(ctx, id, kindDailyMetrics)
	if err != nil || at == nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT day,views,likes,comments,subscribers
		FROM daily_metrics WHERE channel_id = ? ORDER BY day`, string(id))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var out []model.DailyMetric
	for rows.Next() {
		var m model.DailyMetric
		var day string
		if err := rows.Scan(&day, &m.Views, &m.Likes, &m.Comments, &m.Subscribers); err != nil {
			return nil, nil, err
		}
		if m.Day, err = model.ParseDay(day); err != nil {
			return nil, nil, err
		}
		out = append(out, m)
	}
	return out, at, rows.Err()
}

func (s *SQLiteDB) touch(ctx context.Context, tx *sql.Tx, id model.ChannelID, kind string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cache_entries(channel_id,kind,written_at) VALUES(?,?,?)
		ON CONFLICT(channel_id, kind) DO UPDATE SET written_at = excluded.written_at`,
		string(id), kind, formatTime(at))
	return err
}

func (s *SQLiteDB) writtenAt(ctx context.Context, id model.ChannelID, kind string) (*time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT written_at FROM cache_entries WHERE channel_id = ? AND kind = ?`, string(id), kind).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t, err := parseTime(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// lifecycle helpers
func (s *SQLiteDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteDB) Close() error                   { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteChannel(row scanner) (*model.Channel, error) {
	var c model.Channel
	var id string
	var thumb, access, refresh, expiry sql.NullString
	var lastUpdated, created string
	if err := row.Scan(&id, &c.Title, &thumb, &access, &refresh, &expiry, &c.Version, &lastUpdated, &created); err != nil {
		return nil, err
	}
	c.ChannelID = model.ChannelID(id)
	c.ThumbnailURL = thumb.String
	c.AccessTokenEnc = access.String
	c.RefreshTokenEnc = refresh.String
	var err error
	if expiry.Valid {
		t, err := parseTime(expiry.String)
		if err != nil {
			return nil, fmt.Errorf("token_expiry: %w", err)
		}
		c.Expiry = &t
	}
	if c.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, fmt.Errorf("last_updated: %w", err)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
