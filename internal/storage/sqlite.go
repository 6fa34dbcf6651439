package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"newsbot/internal/model"
	"newsbot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// restoreTables lists the tables copied by Restore, with their columns.
var restoreTables = []struct {
	name    string
	columns string
}{
	{"feedcache", "id, title, summary, link, source, created_at"},
	{"channels", "channel_id, creator_username"},
	{"admins", "channel_id, username"},
	{"config", "key, value"},
	{"errors", "id, message, link, created_at"},
}

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases consistent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveChannel binds a channel and makes its creator the first admin.
func (s *SQLite) SaveChannel(ctx context.Context, channelID, creator string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE channel_id = ?`, channelID).Scan(&n); err != nil {
		return fmt.Errorf("check channel: %w", err)
	}
	if n > 0 {
		return ErrAlreadyBound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channels (channel_id, creator_username) VALUES (?, ?)`, channelID, creator,
	); err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO admins (channel_id, username) VALUES (?, ?)`, channelID, creator,
	); err != nil {
		return fmt.Errorf("insert creator admin: %w", err)
	}
	return tx.Commit()
}

// ListChannels returns every bound channel.
func (s *SQLite) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, creator_username FROM channels ORDER BY rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		var c model.Channel
		if err := rows.Scan(&c.ID, &c.Creator); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// ChannelByAdmin returns the channel the user administers.
func (s *SQLite) ChannelByAdmin(ctx context.Context, username string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id FROM admins WHERE username = ? ORDER BY rowid LIMIT 1`, username,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query admin channel: %w", err)
	}
	return id, nil
}

// ChannelCreator returns the username that bound the channel.
func (s *SQLite) ChannelCreator(ctx context.Context, channelID string) (string, error) {
	return channelCreator(ctx, s.db, channelID)
}

// Admins returns the admin usernames of a channel, creator first.
func (s *SQLite) Admins(ctx context.Context, channelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.username FROM admins a
		 LEFT JOIN channels c ON c.channel_id = a.channel_id AND c.creator_username = a.username
		 WHERE a.channel_id = ?
		 ORDER BY c.channel_id IS NULL, a.rowid`, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var admins []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		admins = append(admins, u)
	}
	return admins, rows.Err()
}

// AddAdmin grants admin rights on a channel. Only existing admins may do so.
func (s *SQLite) AddAdmin(ctx context.Context, channelID, username, requester string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := isAdmin(ctx, tx, channelID, requester)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAdmin
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO admins (channel_id, username) VALUES (?, ?)`, channelID, username,
	); err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	return tx.Commit()
}

// RemoveAdmin revokes admin rights. The creator can never be removed.
func (s *SQLite) RemoveAdmin(ctx context.Context, channelID, username, requester string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := isAdmin(ctx, tx, channelID, requester)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAdmin
	}

	creator, err := channelCreator(ctx, tx, channelID)
	if err != nil {
		return err
	}
	if username == creator {
		return ErrCreatorProtected
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM admins WHERE channel_id = ? AND username = ?`, channelID, username,
	)
	if err != nil {
		return fmt.Errorf("delete admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// GetConfig returns a runtime config value.
func (s *SQLite) GetConfig(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query config %s: %w", key, err)
	}
	return v, nil
}

// SetConfig stores a runtime config value, replacing the previous one.
func (s *SQLite) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value,
	)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// Prompt returns the summarization prompt template.
func (s *SQLite) Prompt(ctx context.Context) (string, error) {
	v, err := s.GetConfig(ctx, model.ConfigPrompt)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Model returns the selected LLM model identifier.
func (s *SQLite) Model(ctx context.Context) (string, error) {
	v, err := s.GetConfig(ctx, model.ConfigModel)
	if errors.Is(err, ErrNotFound) || (err == nil && v == "") {
		return model.DefaultModel, nil
	}
	return v, err
}

// ErrorNotifications reports whether errors are broadcast to channels.
func (s *SQLite) ErrorNotifications(ctx context.Context) (bool, error) {
	v, err := s.GetConfig(ctx, model.ConfigErrorNotifications)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "on", nil
}

// IsCached checks whether an article link has already been published.
func (s *SQLite) IsCached(ctx context.Context, link string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feedcache WHERE id = ?`, CacheKey(link),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check cache: %w", err)
	}
	return count > 0, nil
}

// SaveCacheEntry records a published article. An entry with the same link
// is overwritten.
func (s *SQLite) SaveCacheEntry(ctx context.Context, e *model.CacheEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	now := created.UTC().Format(timeLayout)
	id := CacheKey(e.Link)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO feedcache (id, title, summary, link, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, e.Title, e.Summary, e.Link, e.Source, now,
	)
	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	e.ID = id
	e.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListCache returns all cache entries, oldest first.
func (s *SQLite) ListCache(ctx context.Context) ([]model.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, summary, link, source, created_at FROM feedcache ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.CacheEntry
	for rows.Next() {
		var e model.CacheEntry
		var created string
		if err := rows.Scan(&e.ID, &e.Title, &e.Summary, &e.Link, &e.Source, &created); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountCache returns the number of cache entries.
func (s *SQLite) CountCache(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedcache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache: %w", err)
	}
	return n, nil
}

// ClearCache removes every cache entry.
func (s *SQLite) ClearCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM feedcache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// InsertError appends an entry to the error log.
func (s *SQLite) InsertError(ctx context.Context, message, link string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO errors (message, link, created_at) VALUES (?, ?, ?)`, message, link, now,
	)
	if err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

// RecentErrors returns up to limit error log entries, newest first.
func (s *SQLite) RecentErrors(ctx context.Context, limit int) ([]model.ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, link, created_at FROM errors ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.ErrorRecord
	for rows.Next() {
		var r model.ErrorRecord
		var created string
		if err := rows.Scan(&r.ID, &r.Message, &r.Link, &created); err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Backup writes a consistent copy of the database to dest, which must not exist.
func (s *SQLite) Backup(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup destination %s already exists", dest)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}

// Restore replaces the contents of every table with the rows of the
// database file at src.
func (s *SQLite) Restore(ctx context.Context, src string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("restore source: %w", err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS src`, src); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), `DETACH DATABASE src`) }()

	var n int
	if err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM src.sqlite_master
		 WHERE type = 'table' AND name IN ('feedcache', 'channels', 'admins', 'config', 'errors')`,
	).Scan(&n); err != nil {
		return fmt.Errorf("inspect source: %w", err)
	}
	if n != len(restoreTables) {
		return fmt.Errorf("source database is missing tables: found %d of %d", n, len(restoreTables))
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range restoreTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM main.`+t.name); err != nil {
			return fmt.Errorf("clear %s: %w", t.name, err)
		}
		q := fmt.Sprintf(`INSERT INTO main.%s (%s) SELECT %s FROM src.%s`, t.name, t.columns, t.columns, t.name)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("copy %s: %w", t.name, err)
		}
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isAdmin(ctx context.Context, q queryer, channelID, username string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admins WHERE channel_id = ? AND username = ?`, channelID, username,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return count > 0, nil
}

func channelCreator(ctx context.Context, q queryer, channelID string) (string, error) {
	var creator string
	err := q.QueryRowContext(ctx,
		`SELECT creator_username FROM channels WHERE channel_id = ?`, channelID,
	).Scan(&creator)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query creator: %w", err)
	}
	return creator, nil
}
