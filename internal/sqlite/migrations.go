package sqlite

func (s Storage) RunMigrations() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR NOT NULL PRIMARY KEY,
		email VARCHAR NOT NULL DEFAULT '',
		timezone VARCHAR NOT NULL DEFAULT '',
		created_at VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS calendars (
		id VARCHAR NOT NULL PRIMARY KEY,
		owner_id VARCHAR NOT NULL,
		platform VARCHAR NOT NULL,
		external_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL DEFAULT '',
		permission VARCHAR NOT NULL DEFAULT 'read_only',
		is_default BOOLEAN NOT NULL DEFAULT 0,
		last_synced_at VARCHAR NULL DEFAULT NULL,
		UNIQUE (owner_id, platform, external_id),
		FOREIGN KEY (owner_id) REFERENCES users (id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id VARCHAR NOT NULL PRIMARY KEY,
		owner_id VARCHAR NOT NULL,
		calendar_id VARCHAR NULL DEFAULT NULL,
		external_id VARCHAR NOT NULL DEFAULT '',
		title VARCHAR NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location VARCHAR NOT NULL DEFAULT '',
		start_at VARCHAR NOT NULL,
		start_ts INTEGER NOT NULL,
		end_at VARCHAR NULL DEFAULT NULL,
		end_ts INTEGER NULL DEFAULT NULL,
		all_day BOOLEAN NOT NULL DEFAULT 0,
		timezone VARCHAR NOT NULL DEFAULT '',
		category VARCHAR NOT NULL DEFAULT 'other',
		recurrence_rule VARCHAR NOT NULL DEFAULT '',
		labels TEXT NOT NULL DEFAULT '[]',
		original_input TEXT NOT NULL DEFAULT '',
		confidence REAL NULL DEFAULT NULL,
		parsed_elements TEXT NULL DEFAULT NULL,
		status VARCHAR NOT NULL,
		idempotency_key VARCHAR NOT NULL DEFAULT '',
		external_payload TEXT NULL DEFAULT NULL,
		created_at VARCHAR NOT NULL,
		updated_at VARCHAR NOT NULL,
		confirmed_at VARCHAR NULL DEFAULT NULL,
		last_synced_at VARCHAR NULL DEFAULT NULL,
		FOREIGN KEY (owner_id) REFERENCES users (id) ON DELETE CASCADE,
		FOREIGN KEY (calendar_id) REFERENCES calendars (id) ON DELETE SET NULL
	)`,
	// Concurrent confirms of the same logical event race on this index.
	`CREATE UNIQUE INDEX IF NOT EXISTS events_idempotency_key
		ON events (owner_id, idempotency_key)
		WHERE idempotency_key != '' AND status != 'cancelled'`,
	`CREATE INDEX IF NOT EXISTS events_calendar_range
		ON events (owner_id, calendar_id, start_ts, end_ts)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		id VARCHAR NOT NULL PRIMARY KEY,
		owner_id VARCHAR NOT NULL,
		platform VARCHAR NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		token_type VARCHAR NOT NULL DEFAULT 'Bearer',
		scope VARCHAR NOT NULL DEFAULT '',
		expires_at VARCHAR NULL DEFAULT NULL,
		created_at VARCHAR NOT NULL,
		updated_at VARCHAR NOT NULL,
		UNIQUE (owner_id, platform),
		FOREIGN KEY (owner_id) REFERENCES users (id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS parse_cache (
		key VARCHAR NOT NULL PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}
