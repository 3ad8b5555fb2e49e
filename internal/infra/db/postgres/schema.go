package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Schema is the reference session-store DDL, applied by cmd/seed.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL DEFAULT '',
    role          TEXT NOT NULL DEFAULT '',
    sub_active    BOOLEAN NOT NULL DEFAULT FALSE,
    sub_renews_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS chat_sessions (
    id          TEXT PRIMARY KEY,
    identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
    title       TEXT NOT NULL DEFAULT '',
    region      TEXT NOT NULL DEFAULT '',
    country     TEXT NOT NULL DEFAULT '',
    is_favorite BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chat_sessions_identity
    ON chat_sessions (identity_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS chat_messages (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    encrypted  BOOLEAN NOT NULL DEFAULT FALSE,
    is_error   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session
    ON chat_messages (session_id, id);

CREATE TABLE IF NOT EXISTS preferences (
    identity_id  TEXT PRIMARY KEY REFERENCES identities(id) ON DELETE CASCADE,
    remember     BOOLEAN NOT NULL DEFAULT FALSE,
    region       TEXT NOT NULL DEFAULT '',
    country      TEXT NOT NULL DEFAULT '',
    language     TEXT NOT NULL DEFAULT '',
    font_size    INT NOT NULL DEFAULT 0,
    short_answer BOOLEAN NOT NULL DEFAULT FALSE
);
`

// ApplySchema creates the reference tables if they do not exist.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
