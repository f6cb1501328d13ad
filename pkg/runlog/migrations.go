package runlog

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE run(
			id TEXT PRIMARY KEY,
			started_at INT NOT NULL,
			config TEXT
		);

		CREATE TABLE scalar(
			id INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			step INT NOT NULL,
			value REAL NOT NULL,
			wall_time INT NOT NULL
		);
		CREATE INDEX idx_scalar_run_tag_step ON scalar (run_id, tag, step);
	`))

	return migs
}
