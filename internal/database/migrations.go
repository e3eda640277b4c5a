package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Migrator applies schema migrations.
type Migrator interface {
	// Migrate applies all pending migrations.
	Migrate(ctx context.Context) error

	// CurrentVersion returns the current schema version.
	CurrentVersion(ctx context.Context) (int, error)

	// Rollback rolls back to a target version.
	Rollback(ctx context.Context, targetVersion int) error
}

type migration struct {
	version int
	name    string
	up      string
	down    string
}

type migrator struct {
	db         *DB
	migrations []migration
}

// NewMigrator creates a migrator for db.
func NewMigrator(db *DB) Migrator {
	return &migrator{db: db, migrations: migrations}
}

var migrations = []migration{
	{
		version: 1,
		name:    "custom_exclusions",
		up: `
CREATE TABLE IF NOT EXISTS custom_exclusions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	match_config TEXT NOT NULL,
	scope_chain TEXT NOT NULL DEFAULT '',
	scope_project TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_custom_exclusions_enabled ON custom_exclusions(enabled);

CREATE TRIGGER IF NOT EXISTS update_custom_exclusions_timestamp
AFTER UPDATE ON custom_exclusions
FOR EACH ROW
WHEN NEW.updated_at = OLD.updated_at
BEGIN
	UPDATE custom_exclusions SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;
`,
		down: `
DROP TRIGGER IF EXISTS update_custom_exclusions_timestamp;
DROP INDEX IF EXISTS idx_custom_exclusions_enabled;
DROP TABLE IF EXISTS custom_exclusions;
`,
	},
	{
		version: 2,
		name:    "rule_state",
		up: `
-- enable flag overrides for built-in rules
CREATE TABLE IF NOT EXISTS rule_overrides (
	rule_id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- cumulative trigger counters for every rule, built-in or custom
CREATE TABLE IF NOT EXISTS rule_triggers (
	rule_id TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0,
	last_triggered_at TIMESTAMP
);
`,
		down: `
DROP TABLE IF EXISTS rule_triggers;
DROP TABLE IF EXISTS rule_overrides;
`,
	},
}

// Migrate applies pending migrations in order.
func (m *migrator) Migrate(ctx context.Context) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	for _, mig := range m.migrations {
		if mig.version <= current {
			continue
		}
		if err := m.apply(ctx, mig.version, mig.name, mig.up, true); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", mig.version, mig.name, err)
		}
	}
	return nil
}

// CurrentVersion returns the highest applied migration version.
func (m *migrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}
	var version int
	err := m.db.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query current version: %w", err)
	}
	return version, nil
}

// Rollback reverts applied migrations above targetVersion.
func (m *migrator) Rollback(ctx context.Context, targetVersion int) error {
	if targetVersion < 0 {
		return fmt.Errorf("invalid target version: %d", targetVersion)
	}
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if targetVersion > current {
		return fmt.Errorf("cannot rollback to future version %d (current: %d)", targetVersion, current)
	}
	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if mig.version <= targetVersion {
			break
		}
		if mig.version > current {
			continue
		}
		if err := m.apply(ctx, mig.version, mig.name, mig.down, false); err != nil {
			return fmt.Errorf("failed to rollback migration %d (%s): %w", mig.version, mig.name, err)
		}
	}
	return nil
}

func (m *migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.conn.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// apply runs script in one transaction and records (up) or forgets (down)
// the version.
func (m *migrator) apply(ctx context.Context, version int, name, script string, up bool) error {
	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range splitSQL(removeComments(script)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute statement: %w\nStatement: %s", err, stmt)
			}
		}
		var err error
		if up {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO migrations (version, name, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
				version, name)
		} else {
			_, err = tx.ExecContext(ctx, "DELETE FROM migrations WHERE version = ?", version)
		}
		return err
	})
}

// splitSQL splits a script on semicolons outside string literals and
// BEGIN...END trigger bodies.
func splitSQL(script string) []string {
	var (
		statements []string
		current    strings.Builder
		word       strings.Builder
		inString   bool
		quote      rune
		depth      int
	)

	flushWord := func() {
		switch strings.ToUpper(word.String()) {
		case "BEGIN":
			depth++
		case "END":
			depth--
		}
		word.Reset()
	}

	for _, ch := range script {
		switch {
		case ch == '\'' || ch == '"':
			if !inString {
				inString, quote = true, ch
			} else if ch == quote {
				inString = false
			}
			current.WriteRune(ch)
		case !inString && (ch == ' ' || ch == '\n' || ch == '\t' || ch == ';'):
			flushWord()
			if ch == ';' && depth == 0 {
				if stmt := strings.TrimSpace(current.String()); stmt != "" {
					statements = append(statements, stmt)
				}
				current.Reset()
				continue
			}
			current.WriteRune(ch)
		default:
			current.WriteRune(ch)
			if !inString {
				word.WriteRune(ch)
			}
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// removeComments strips -- line comments.
func removeComments(script string) string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		if strings.TrimSpace(line) != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
