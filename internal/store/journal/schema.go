package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SchemaVersion is the journal layout this binary reads and writes.
const SchemaVersion = 1

// ErrSchemaAhead is returned when the database was written by a newer binary.
var ErrSchemaAhead = errors.New("journal schema is newer than this binary")

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS journal_meta (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dispatches (
		dispatch_id  TEXT NOT NULL,
		bot          TEXT NOT NULL,
		message_id   TEXT NOT NULL,
		channel_id   TEXT NOT NULL,
		guild_id     TEXT NOT NULL,
		trigger_name TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		stage        TEXT NOT NULL,
		error        TEXT NOT NULL,
		identity_us  BIGINT NOT NULL,
		render_us    BIGINT NOT NULL,
		delivery_us  BIGINT NOT NULL,
		total_us     BIGINT NOT NULL,
		created_at   BIGINT NOT NULL,
		PRIMARY KEY (dispatch_id, bot)
	)`,
	`CREATE INDEX IF NOT EXISTS dispatches_created_at ON dispatches (created_at)`,
}

// migrate creates the tables and checks the stored schema version.
func (j *Journal) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("journal: create schema: %w", err)
		}
	}

	version, err := j.schemaVersion(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = j.db.ExecContext(ctx, j.rebind(`INSERT INTO journal_meta (version) VALUES (?)`), SchemaVersion)
		if err != nil {
			return fmt.Errorf("journal: record schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("journal: read schema version: %w", err)
	case version > SchemaVersion:
		return fmt.Errorf("%w: database %d, binary %d", ErrSchemaAhead, version, SchemaVersion)
	}
	return nil
}

func (j *Journal) schemaVersion(ctx context.Context) (int, error) {
	var v int
	err := j.db.QueryRowContext(ctx, `SELECT version FROM journal_meta LIMIT 1`).Scan(&v)
	return v, err
}
