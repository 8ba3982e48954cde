package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/example/ytdash/internal/model"
	_ "github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

const pgChannelColumns = `channel_id,title,thumbnail_url,access_token_enc,refresh_token_enc,token_expiry,version,last_updated,created_at`

func (p *PostgresDB) GetChannel(ctx context.Context, id model.ChannelID) (*model.Channel, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+pgChannelColumns+` FROM channels WHERE channel_id = $1`, string(id))
	c, err := scanPostgresChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (p *PostgresDB) UpsertChannel(ctx context.Context, w ChannelWrite) (*model.Channel, error) {
	row := p.db.QueryRowContext(ctx, `INSERT INTO channels(`+pgChannelColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,1,$7,$7)
		ON CONFLICT(channel_id) DO UPDATE SET
			title = EXCLUDED.title,
			thumbnail_url = EXCLUDED.thumbnail_url,
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = COALESCE(EXCLUDED.refresh_token_enc, channels.refresh_token_enc),
			token_expiry = EXCLUDED.token_expiry,
			version = channels.version + 1,
			last_updated = EXCLUDED.last_updated
		RETURNING `+pgChannelColumns,
		string(w.ChannelID), w.Title, w.ThumbnailURL, w.AccessTokenEnc, nullString(w.RefreshTokenEnc),
		w.Expiry, w.At.UTC())
	return scanPostgresChannel(row)
}

func (p *PostgresDB) UpdateTokens(ctx context.Context, u TokenUpdate) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE channels SET
			access_token_enc = $1,
			refresh_token_enc = COALESCE($2, refresh_token_enc),
			token_expiry = $3,
			version = version + 1,
			last_updated = $4
		WHERE channel_id = $5 AND version = $6`,
		u.AccessTokenEnc, nullString(u.RefreshTokenEnc), u.Expiry, u.At.UTC(), string(u.ChannelID), u.Version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresDB) ListChannels(ctx context.Context) ([]*model.Channel, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+pgChannelColumns+` FROM channels ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Channel
	for rows.Next() {
		c, err := scanPostgresChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresDB) ReplaceVideos(ctx context.Context, id model.ChannelID, videos []model.Video, writtenAt time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Serializes replacements of one channel across processes.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "videos:"+string(id)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE channel_id = $1`, string(id)); err != nil {
		return err
	}
	for i, v := range videos {
		var published *time.Time
		if !v.PublishedAt.IsZero() {
			t := v.PublishedAt.UTC()
			published = &t
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO videos(channel_id,position,video_id,title,published_at,thumbnail_url,duration,views,likes,comments)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			string(id), i, v.VideoID, v.Title, published, v.ThumbnailURL, v.Duration, v.Views, v.Likes, v.Comments); err != nil {
			return err
		}
	}
	if err := touchPostgres(ctx, tx, id, kindVideos, writtenAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresDB) GetVideos(ctx context.Context, id model.ChannelID) ([]model.Video, *time.Time, error) {
	at, err := p.writtenAt(ctx, id, kindVideos)
	if err != nil || at == nil {
		return nil, nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT video_id,title,published_at,thumbnail_url,duration,views,likes,comments
		FROM videos WHERE channel_id = $1 ORDER BY position`, string(id))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var out []model.Video
	for rows.Next() {
		var v model.Video
		var published sql.NullTime
		var thumb, duration sql.NullString
		if err := rows.Scan(&v.VideoID, &v.Title, &published, &thumb, &duration, &v.Views, &v.Likes, &v.Comments); err != nil {
			return nil, nil, err
		}
		if published.Valid {
			v.PublishedAt = published.Time.UTC()
		}
		v.ThumbnailURL = thumb.String
		v.Duration = duration.String
		out = append(out, v)
	}
	return out, at, rows.Err()
}

func (p *PostgresDB) UpsertDailyMetrics(ctx context.Context, id model.ChannelID, rows []model.DailyMetric, writtenAt time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO daily_metrics(channel_id,day,views,likes,comments,subscribers)
			VALUES($1,$2::date,$3,$4,$5,$6)
			ON CONFLICT(channel_id, day) DO UPDATE SET
				views = EXCLUDED.views,
				likes = EXCLUDED.likes,
				comments = EXCLUDED.comments,
				subscribers = EXCLUDED.subscribers`,
			string(id), model.Day(r.Day).Format(model.DateLayout), r.Views, r.Likes, r.Comments, r.Subscribers); err != nil {
			return err
		}
	}
	if err := touchPostgres(ctx, tx, id, kindDailyMetrics, writtenAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresDB) GetDailyMetrics(ctx context.Context, id model.ChannelID) ([]model.DailyMetric, *time.Time, error) {
	at, err := p.writtenAt(ctx, id, kindDailyMetrics)
	if err != nil || at == nil {
		return nil, nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT to_char(day, 'YYYY-MM-DD'),views,likes,comments,subscribers
		FROM daily_metrics WHERE channel_id = $1 ORDER BY day`, string(id))
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

func (p *PostgresDB) writtenAt(ctx context.Context, id model.ChannelID, kind string) (*time.Time, error) {
	var t time.Time
	err := p.db.QueryRowContext(ctx, `SELECT written_at FROM cache_entries WHERE channel_id = $1 AND kind = $2`, string(id), kind).Scan(&t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresDB) Close() error                   { return p.db.Close() }

func touchPostgres(ctx context.Context, tx *sql.Tx, id model.ChannelID, kind string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cache_entries(channel_id,kind,written_at) VALUES($1,$2,$3)
		ON CONFLICT(channel_id, kind) DO UPDATE SET written_at = EXCLUDED.written_at`,
		string(id), kind, at.UTC())
	return err
}

func scanPostgresChannel(row scanner) (*model.Channel, error) {
	var c model.Channel
	var id string
	var thumb, access, refresh sql.NullString
	var expiry sql.NullTime
	if err := row.Scan(&id, &c.Title, &thumb, &access, &refresh, &expiry, &c.Version, &c.LastUpdated, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ChannelID = model.ChannelID(id)
	c.ThumbnailURL = thumb.String
	c.AccessTokenEnc = access.String
	c.RefreshTokenEnc = refresh.String
	if expiry.Valid {
		t := expiry.Time.UTC()
		c.Expiry = &t
	}
	c.LastUpdated = c.LastUpdated.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
