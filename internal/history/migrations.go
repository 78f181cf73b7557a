package history

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	origin       TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL,
	dry_run      INTEGER NOT NULL DEFAULT 0,
	rules        INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	mutated      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	rule         TEXT NOT NULL,
	source       TEXT NOT NULL,
	matched      INTEGER NOT NULL,
	mutated      INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
