package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/classroom"
	"github.com/trezcool/masomo-live/core/user"
	emailsvc "github.com/trezcool/masomo-live/services/email"
	logsvc "github.com/trezcool/masomo-live/services/logger"
	"github.com/trezcool/masomo-live/storage/database"
	sqlxrepos "github.com/trezcool/masomo-live/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewStdoutLogger("ADMIN", conf)
	logger.Enable(!conf.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	defer db.Close()
	if err = database.Ping(ctx, db); err != nil {
		logger.Fatal("pinging database", err)
	}

	// set up services
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	usrRepo := sqlxrepos.NewUserRepository(db)
	mailSvc := emailsvc.NewConsoleService(conf, logger)
	usrSvc := user.NewService(conf, usrRepo, mailSvc, logger)

	// start CLI
	cli := commandLine{
		conf:    conf,
		db:      db,
		usrRepo: usrRepo,
		clsSvc:  classroom.NewService(sqlxrepos.NewDocumentStore(db), usrSvc, mailSvc, validate, logger),
		logger:  logger,
		out:     os.Stdout,
	}
	if err = cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			logger.Error("command failed", err)
		}
		stop()
		_ = db.Close()
		os.Exit(1)
	}
}
