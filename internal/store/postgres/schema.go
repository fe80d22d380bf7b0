package postgres

// schema creates the tables. The UNIQUE constraint on conversations.student_id
// is what makes find-or-create race free.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id    TEXT PRIMARY KEY REFERENCES users(id),
		role       TEXT NOT NULL CHECK (role IN ('student', 'admin')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL UNIQUE REFERENCES users(id),
		full_name  TEXT NOT NULL,
		avatar_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id                TEXT PRIMARY KEY,
		student_id        TEXT NOT NULL UNIQUE REFERENCES users(id),
		admin_id          TEXT REFERENCES users(id),
		last_message      TEXT,
		last_message_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		unread_by_admin   INTEGER NOT NULL DEFAULT 0,
		unread_by_student INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_id       TEXT NOT NULL REFERENCES users(id),
		content         TEXT NOT NULL,
		is_read         BOOLEAN NOT NULL DEFAULT false,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx ON messages (conversation_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS problems (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		description  TEXT NOT NULL,
		category     TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_progress', 'resolved')),
		is_urgent    BOOLEAN NOT NULL DEFAULT false,
		submitted_by TEXT NOT NULL REFERENCES users(id),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS problems_submitted_by_idx ON problems (submitted_by, created_at DESC)`,
}
