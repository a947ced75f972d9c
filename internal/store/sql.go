package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	d := dialectSQLite
	if driver == "pgx" {
		d = dialectPostgres
	}
	memory := strings.HasPrefix(dsn, ":memory:")
	if memory {
		// every connection to ":memory:" would open its own empty database
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if d == dialectSQLite {
		// enable foreign keys for SQLite
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			// Ignore error for remote TursoDB (may not support PRAGMA)
			_ = err
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// returns the database connection for migrations and tests
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rebind rewrites ? placeholders for drivers that expect $n.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// --- Account operations ---

func (s *SQLStore) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, email, auth_provider, provider_subject, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		account.ID,
		account.Email,
		account.AuthProvider,
		account.ProviderSubject,
		account.CreatedAt.Format(time.RFC3339),
		account.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := `
		SELECT id, email, auth_provider, provider_subject, created_at, updated_at
		FROM accounts WHERE email = ?
	`
	return scanAccount(s.queryRow(ctx, query, email))
}

func (s *SQLStore) GetAccountByID(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT id, email, auth_provider, provider_subject, created_at, updated_at
		FROM accounts WHERE id = ?
	`
	return scanAccount(s.queryRow(ctx, query, id))
}

func (s *SQLStore) GetAccountByProvider(ctx context.Context, provider, subject string) (*Account, error) {
	query := `
		SELECT id, email, auth_provider, provider_subject, created_at, updated_at
		FROM accounts WHERE auth_provider = ? AND provider_subject = ?
	`
	return scanAccount(s.queryRow(ctx, query, provider, subject))
}

func scanAccount(row *sql.Row) (*Account, error) {
	var account Account
	var createdAt, updatedAt string
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.AuthProvider,
		&account.ProviderSubject,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	account.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	account.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &account, nil
}

// --- Podcast operations ---

const podcastColumns = `id, source, source_id, name, description, author, author_url, genres, image, feed_url, source_link, created_at, updated_at`

// UpsertPodcast inserts the podcast or refreshes its metadata. Another
// podcast already holding the same source id yields ErrAlreadyExists.
func (s *SQLStore) UpsertPodcast(ctx context.Context, podcast *Podcast) error {
	genres := podcast.Genres
	if genres == nil {
		genres = []string{}
	}
	genresJSON, err := json.Marshal(genres)
	if err != nil {
		return fmt.Errorf("marshal genres: %w", err)
	}

	query := `
		INSERT INTO podcasts (` + podcastColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			author = excluded.author,
			author_url = excluded.author_url,
			genres = excluded.genres,
			image = excluded.image,
			feed_url = excluded.feed_url,
			source_link = excluded.source_link,
			updated_at = excluded.updated_at
	`
	_, err = s.exec(ctx, query,
		podcast.ID,
		podcast.Source,
		podcast.SourceID,
		podcast.Name,
		podcast.Description,
		podcast.Author,
		podcast.AuthorURL,
		string(genresJSON),
		podcast.Image,
		podcast.FeedURL,
		podcast.SourceLink,
		podcast.CreatedAt.Format(time.RFC3339),
		podcast.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("upsert podcast: %w", err)
	}
	return nil
}

func (s *SQLStore) GetPodcast(ctx context.Context, id string) (*Podcast, error) {
	query := `SELECT ` + podcastColumns + ` FROM podcasts WHERE id = ?`
	rows, err := s.query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query podcast: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query podcast: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanPodcast(rows)
}

// GetPodcasts returns the podcasts that exist, in the order of ids.
func (s *SQLStore) GetPodcasts(ctx context.Context, ids []string) ([]Podcast, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + podcastColumns + ` FROM podcasts WHERE id IN (` + placeholders(len(ids)) + `)`
	found, err := s.queryPodcasts(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Podcast, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	out := make([]Podcast, 0, len(found))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s *SQLStore) GetPodcastsBySourceIDs(ctx context.Context, source string, sourceIDs []int64) ([]Podcast, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(sourceIDs)+1)
	args = append(args, source)
	for _, id := range sourceIDs {
		args = append(args, id)
	}
	query := `SELECT ` + podcastColumns + ` FROM podcasts WHERE source = ? AND source_id IN (` + placeholders(len(sourceIDs)) + `)`
	return s.queryPodcasts(ctx, query, args...)
}

func (s *SQLStore) ListPodcastIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT id FROM podcasts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query podcast ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan podcast id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) queryPodcasts(ctx context.Context, query string, args ...any) ([]Podcast, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query podcasts: %w", err)
	}
	defer rows.Close()

	var podcasts []Podcast
	for rows.Next() {
		p, err := scanPodcast(rows)
		if err != nil {
			return nil, err
		}
		podcasts = append(podcasts, *p)
	}
	return podcasts, rows.Err()
}

func scanPodcast(rows *sql.Rows) (*Podcast, error) {
	var p Podcast
	var genresJSON string
	var createdAt, updatedAt string

	err := rows.Scan(
		&p.ID,
		&p.Source,
		&p.SourceID,
		&p.Name,
		&p.Description,
		&p.Author,
		&p.AuthorURL,
		&genresJSON,
		&p.Image,
		&p.FeedURL,
		&p.SourceLink,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan podcast: %w", err)
	}

	if err := json.Unmarshal([]byte(genresJSON), &p.Genres); err != nil {
		return nil, fmt.Errorf("unmarshal genres: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// --- Follow operations ---

// followAttempts bounds retries when a concurrent batch for the same account
// claimed the same follow timestamps first.
const followAttempts = 5

func (s *SQLStore) CreateFollows(ctx context.Context, accountID string, podcastIDs []string, now time.Time) ([]Follow, error) {
	if len(podcastIDs) == 0 {
		return nil, nil
	}

	var err error
	for attempt := 0; attempt < followAttempts; attempt++ {
		var created []Follow
		created, err = s.createFollows(ctx, accountID, podcastIDs, now)
		if err == nil || !isUniqueConstraintError(err) {
			return created, err
		}
	}
	return nil, fmt.Errorf("create follows: timestamps kept colliding: %w", err)
}

func (s *SQLStore) createFollows(ctx context.Context, accountID string, podcastIDs []string, now time.Time) ([]Follow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin follow tx: %w", err)
	}
	defer tx.Rollback()

	args := append([]any{accountID}, stringArgs(podcastIDs)...)
	rows, err := tx.QueryContext(ctx, s.rebind(`
		SELECT podcast_id FROM follows
		WHERE account_id = ? AND podcast_id IN (`+placeholders(len(podcastIDs))+`)
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("query existing follows: %w", err)
	}
	followed := make(map[string]bool, len(podcastIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan follow: %w", err)
		}
		followed[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query existing follows: %w", err)
	}

	// keep timestamps strictly increasing even when two batches share a
	// coarse timestamp
	var newest sql.NullInt64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT MAX(follow_ts) FROM follows WHERE account_id = ?`), accountID).Scan(&newest)
	if err != nil {
		return nil, fmt.Errorf("query newest follow: %w", err)
	}
	base := FollowTimestamp(now, 0)
	if newest.Valid && newest.Int64 >= base {
		base = newest.Int64 + 1
	}

	insert := s.rebind(`
		INSERT INTO follows (account_id, podcast_id, follow_ts)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, podcast_id) DO NOTHING
	`)
	var created []Follow
	for _, id := range podcastIDs {
		if followed[id] {
			continue
		}
		followed[id] = true
		f := Follow{AccountID: accountID, PodcastID: id, FollowTimestamp: base + int64(len(created))}
		if _, err := tx.ExecContext(ctx, insert, f.AccountID, f.PodcastID, f.FollowTimestamp); err != nil {
			return nil, fmt.Errorf("insert follow: %w", err)
		}
		created = append(created, f)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit follows: %w", err)
	}
	return created, nil
}

func (s *SQLStore) DeleteFollow(ctx context.Context, accountID, podcastID string) error {
	result, err := s.exec(ctx, `DELETE FROM follows WHERE account_id = ? AND podcast_id = ?`, accountID, podcastID)
	if err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListFollows(ctx context.Context, accountID string, olderThan *int64, limit int) ([]Follow, error) {
	query := `SELECT account_id, podcast_id, follow_ts FROM follows WHERE account_id = ?`
	args := []any{accountID}
	if olderThan != nil {
		query += ` AND follow_ts < ?`
		args = append(args, *olderThan)
	}
	query += ` ORDER BY follow_ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query follows: %w", err)
	}
	defer rows.Close()

	var follows []Follow
	for rows.Next() {
		var f Follow
		if err := rows.Scan(&f.AccountID, &f.PodcastID, &f.FollowTimestamp); err != nil {
			return nil, fmt.Errorf("scan follow: %w", err)
		}
		follows = append(follows, f)
	}
	return follows, rows.Err()
}

func (s *SQLStore) FollowedSubset(ctx context.Context, accountID string, podcastIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(podcastIDs))
	if len(podcastIDs) == 0 {
		return out, nil
	}
	args := append([]any{accountID}, stringArgs(podcastIDs)...)
	rows, err := s.query(ctx, `
		SELECT podcast_id FROM follows
		WHERE account_id = ? AND podcast_id IN (`+placeholders(len(podcastIDs))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query followed subset: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan follow: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *SQLStore) CountFollows(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM follows WHERE account_id = ?`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count follows: %w", err)
	}
	return count, nil
}

// --- Clip operations ---

const clipColumns = `episode_id, account_id, clip_index, created_ts, start_time, end_time, title, notes`

func (s *SQLStore) CreateClip(ctx context.Context, clip *Clip) error {
	_, err := s.exec(ctx, `
		INSERT INTO clips (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		clip.EpisodeID,
		clip.AccountID,
		clip.Index,
		clip.CreatedTimestamp,
		clip.StartTime,
		clip.EndTime,
		clip.Title,
		clip.Notes,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert clip: %w", err)
	}
	return nil
}

func (s *SQLStore) GetClip(ctx context.Context, episodeID, accountID string, index int64) (*Clip, error) {
	clips, err := s.queryClips(ctx, `
		SELECT `+clipColumns+` FROM clips
		WHERE episode_id = ? AND account_id = ? AND clip_index = ?
	`, episodeID, accountID, index)
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, ErrNotFound
	}
	return &clips[0], nil
}

// UpdateClip rewrites the title and notes of an existing clip.
func (s *SQLStore) UpdateClip(ctx context.Context, clip *Clip) error {
	result, err := s.exec(ctx, `
		UPDATE clips SET title = ?, notes = ?
		WHERE episode_id = ? AND account_id = ? AND clip_index = ?
	`, clip.Title, clip.Notes, clip.EpisodeID, clip.AccountID, clip.Index)
	if err != nil {
		return fmt.Errorf("update clip: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListClipsByAccount(ctx context.Context, accountID string, olderThan *int64, limit int) ([]Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE account_id = ?`
	args := []any{accountID}
	if olderThan != nil {
		query += ` AND created_ts < ?`
		args = append(args, *olderThan)
	}
	query += ` ORDER BY created_ts DESC LIMIT ?`
	args = append(args, limit)
	return s.queryClips(ctx, query, args...)
}

func (s *SQLStore) ListClipsByEpisode(ctx context.Context, accountID, episodeID string, belowIndex *int64, limit int) ([]Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE account_id = ? AND episode_id = ?`
	args := []any{accountID, episodeID}
	if belowIndex != nil {
		query += ` AND clip_index < ?`
		args = append(args, *belowIndex)
	}
	query += ` ORDER BY clip_index DESC LIMIT ?`
	args = append(args, limit)
	return s.queryClips(ctx, query, args...)
}

func (s *SQLStore) NewestClipTimestamp(ctx context.Context, accountID string) (int64, bool, error) {
	var newest sql.NullInt64
	err := s.queryRow(ctx, `SELECT MAX(created_ts) FROM clips WHERE account_id = ?`, accountID).Scan(&newest)
	if err != nil {
		return 0, false, fmt.Errorf("query newest clip: %w", err)
	}
	return newest.Int64, newest.Valid, nil
}

func (s *SQLStore) queryClips(ctx context.Context, query string, args ...any) ([]Clip, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()

	var clips []Clip
	for rows.Next() {
		var c Clip
		if err := rows.Scan(&c.EpisodeID, &c.AccountID, &c.Index, &c.CreatedTimestamp, &c.StartTime, &c.EndTime, &c.Title, &c.Notes); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
