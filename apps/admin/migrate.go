package main

import (
	"context"

	"github.com/trezcool/masomo-live/storage/database"
)

var runMigrationFunc = database.Run // mockable

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	return runMigrationFunc(ctx, cli.db.DB, cli.conf.Database.Engine, args[0], args[1:]...)
}
