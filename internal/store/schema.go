package store

import (
	"fmt"
	"log/slog"
	"strings"
)

// pkToken stands in for the auto-incrementing integer primary key
// declaration, rewritten per driver: SQLite's INTEGER PRIMARY KEY rowid alias doesn't
// exist on Postgres, which needs GENERATED ALWAYS AS IDENTITY instead.
const pkToken = "__PK__"

// commonMigrations lists DDL shared between SQLite and PostgreSQL, modulo the
// __PK__ token rewritten by Migrate. New migrations are appended here;
// driver-specific error tolerance lives in Migrate.
var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS actors (
		id               __PK__,
		uri              TEXT NOT NULL UNIQUE,
		username         TEXT NOT NULL,
		domain           TEXT,
		type             TEXT NOT NULL DEFAULT 'Person',
		inbox_uri        TEXT NOT NULL,
		outbox_uri       TEXT NOT NULL DEFAULT '',
		shared_inbox_uri TEXT,
		display_name     TEXT,
		summary          TEXT,
		icon_url         TEXT,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS actors_local_username ON actors(username) WHERE domain IS NULL`,
	`CREATE INDEX IF NOT EXISTS actors_domain ON actors(domain)`,

	`CREATE TABLE IF NOT EXISTS actor_keys (
		actor_id        INTEGER NOT NULL PRIMARY KEY,
		key_id          TEXT NOT NULL UNIQUE,
		public_key_pem  TEXT NOT NULL,
		private_key_pem TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS objects (
		id               __PK__,
		uri              TEXT NOT NULL UNIQUE,
		type             TEXT NOT NULL DEFAULT 'Note',
		actor_id         INTEGER NOT NULL,
		content_html     TEXT,
		content_text     TEXT NOT NULL DEFAULT '',
		summary          TEXT,
		in_reply_to_uri  TEXT,
		visibility       TEXT NOT NULL DEFAULT 'Public',
		published_at     TEXT NOT NULL,
		updated_at       TEXT,
		deleted_at       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS objects_actor ON objects(actor_id)`,
	`CREATE INDEX IF NOT EXISTS objects_visibility ON objects(visibility, deleted_at)`,

	`CREATE TABLE IF NOT EXISTS activities (
		id            __PK__,
		uri           TEXT NOT NULL,
		type          TEXT NOT NULL,
		actor_uri     TEXT NOT NULL,
		object_uri    TEXT,
		target_uri    TEXT,
		raw           TEXT NOT NULL,
		local         INTEGER NOT NULL DEFAULT 0,
		processed_at  TEXT,
		created_at    TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS activities_type_uri ON activities(type, uri)`,
	`CREATE INDEX IF NOT EXISTS activities_actor ON activities(actor_uri)`,

	`CREATE TABLE IF NOT EXISTS follows (
		id           __PK__,
		follower_id  INTEGER NOT NULL,
		following_id INTEGER NOT NULL,
		uri          TEXT NOT NULL,
		accepted     INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		UNIQUE(follower_id, following_id)
	)`,
	`CREATE INDEX IF NOT EXISTS follows_following ON follows(following_id)`,

	`CREATE TABLE IF NOT EXISTS likes (
		actor_id   INTEGER NOT NULL,
		object_id  INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(actor_id, object_id)
	)`,
	`CREATE TABLE IF NOT EXISTS announces (
		actor_id   INTEGER NOT NULL,
		object_id  INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(actor_id, object_id)
	)`,

	`CREATE TABLE IF NOT EXISTS domain_blocks (
		blocked_domain TEXT NOT NULL UNIQUE,
		created_at     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS deliveries (
		id               __PK__,
		activity_id      INTEGER NOT NULL,
		inbox_uri        TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'Queued',
		attempts         INTEGER NOT NULL DEFAULT 0,
		next_retry_at    TEXT NOT NULL,
		last_attempt_at  TEXT,
		last_status_code INTEGER,
		last_error       TEXT,
		created_at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS deliveries_claim ON deliveries(status, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS deliveries_activity ON deliveries(activity_id)`,

	`CREATE TABLE IF NOT EXISTS actor_stats (
		actor_id  INTEGER PRIMARY KEY,
		followers INTEGER NOT NULL DEFAULT 0,
		following INTEGER NOT NULL DEFAULT 0,
		posts     INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		ts     TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_ts ON audit_log(ts)`,
}

// Migrate runs every pending migration. Idempotent: safe to call on every
// startup.
func (s *Store) Migrate() error {
	slog.Info("running database migrations")

	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "postgres" {
		pk = "BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
	}

	for _, m := range commonMigrations {
		stmt := strings.ReplaceAll(m, pkToken, pk)
		if _, err := s.db.Exec(stmt); err != nil {
			if s.driver == "postgres" && strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	slog.Info("migrations complete")
	return nil
}
