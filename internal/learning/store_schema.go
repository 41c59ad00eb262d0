package learning

// migrate creates the tables and indexes that don't exist yet.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pattern_schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM pattern_schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Patterns},
		{2, migrationV2AppendOnly},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return err
		}

		if _, err := tx.Exec("INSERT INTO pattern_schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

const migrationV1Patterns = `
CREATE TABLE IF NOT EXISTS patterns (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL CHECK (kind IN ('success', 'failure')),
	signature TEXT NOT NULL,
	patch TEXT NOT NULL,
	failures TEXT NOT NULL DEFAULT '',
	before_score REAL NOT NULL,
	after_score REAL NOT NULL,
	delta REAL NOT NULL,
	metadata TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patterns_signature ON patterns(signature);
CREATE INDEX IF NOT EXISTS idx_patterns_kind ON patterns(kind);
CREATE INDEX IF NOT EXISTS idx_patterns_created_at ON patterns(created_at);

-- Full-text search on signature, patch, and failure descriptions
CREATE VIRTUAL TABLE IF NOT EXISTS patterns_fts USING fts5(
	signature,
	patch,
	failures,
	content='patterns',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS patterns_ai AFTER INSERT ON patterns BEGIN
	INSERT INTO patterns_fts(rowid, signature, patch, failures)
	VALUES (NEW.rowid, NEW.signature, NEW.patch, NEW.failures);
END;
`

const migrationV2AppendOnly = `
CREATE TRIGGER IF NOT EXISTS patterns_no_update BEFORE UPDATE ON patterns BEGIN
	SELECT RAISE(ABORT, 'patterns are append-only');
END;

CREATE TRIGGER IF NOT EXISTS patterns_no_delete BEFORE DELETE ON patterns BEGIN
	SELECT RAISE(ABORT, 'patterns are append-only');
END;
`
