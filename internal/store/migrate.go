package store

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		auth_provider TEXT,
		provider_subject TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_provider ON accounts(auth_provider, provider_subject)`,
	`CREATE TABLE IF NOT EXISTS podcasts (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		source_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		author_url TEXT NOT NULL DEFAULT '',
		genres TEXT NOT NULL DEFAULT '[]',
		image TEXT NOT NULL DEFAULT '',
		feed_url TEXT NOT NULL,
		source_link TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (source, source_id)
	)`,
	`CREATE TABLE IF NOT EXISTS follows (
		account_id TEXT NOT NULL,
		podcast_id TEXT NOT NULL,
		follow_ts BIGINT NOT NULL,
		PRIMARY KEY (account_id, podcast_id)
	)`,
	`DROP INDEX IF EXISTS idx_follows_account_ts`,
	// follow_ts is a per-account paging key
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_follows_account_ts_unique ON follows(account_id, follow_ts)`,
	`CREATE TABLE IF NOT EXISTS clips (
		episode_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		clip_index BIGINT NOT NULL,
		created_ts BIGINT NOT NULL,
		start_time BIGINT NOT NULL,
		end_time BIGINT NOT NULL,
		title TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (episode_id, account_id, clip_index)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_clips_account_ts ON clips(account_id, created_ts)`,
}

// Migrate creates the tables if they do not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
