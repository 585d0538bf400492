package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/classroom"
	"github.com/trezcool/masomo-live/core/user"
	emailsvc "github.com/trezcool/masomo-live/services/email"
	logsvc "github.com/trezcool/masomo-live/services/logger"
	"github.com/trezcool/masomo-live/services/realtime"
	sqlxrepos "github.com/trezcool/masomo-live/storage/database/sqlx"
	testutil "github.com/trezcool/masomo-live/tests"
)

// syncBuffer is written by store watchers while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testCLI struct {
	*commandLine
	out      *syncBuffer
	usrSvc   *user.Service
	validate *validator.Validate
	mailSvc  core.EmailService
}

func setup(t *testing.T) *testCLI {
	t.Helper()

	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(io.Discard, "TEST", conf)
	logger.Enable(false)

	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())

	// set up DB & repos
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(conf, usrRepo, mailSvc, logger)

	out := new(syncBuffer)
	return &testCLI{
		commandLine: &commandLine{
			conf:    conf,
			db:      db,
			usrRepo: usrRepo,
			clsSvc:  classroom.NewService(sqlxrepos.NewDocumentStore(db), usrSvc, mailSvc, validate, logger),
			logger:  logger,
			out:     out,
		},
		out:      out,
		usrSvc:   usrSvc,
		validate: validate,
		mailSvc:  mailSvc,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func mockReadPassword(t *testing.T, pwd string) {
	orig := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	orig := runMigrationFunc
	t.Cleanup(func() { runMigrationFunc = orig })
	runMigrationFunc = func(_ context.Context, _ *sql.DB, engine, command string, args ...string) error {
		if engine != cli.conf.Database.Engine {
			return fmt.Errorf("unexpected engine %q", engine)
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(context.Background(), args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantErrStr, err.Error())
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, cli.usrRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			var pwd string
			if e, ok := tt.extra.(extra); ok {
				pwd = e.pwd
			}
			mockReadPassword(t, pwd)

			err := cli.run(context.Background(), args)
			if tt.wantErr != nil {
				require.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)

			refreshedUsr, err := cli.usrRepo.GetUserByID(context.Background(), usr.ID)
			require.NoError(t, err)
			require.NoError(t, refreshedUsr.CheckPassword(pwd))
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	mockReadPassword(t, "")
	require.Equal(t, errHelp, cli.run(ctx, []string{"admin", "adduser", "-username", "boss", "-email", "boss@test.cd"}))
	require.Equal(t, errHelp, cli.run(ctx, []string{"admin", "adduser", "-username", "boss"}))

	mockReadPassword(t, "B0ss-Pass")
	require.Error(t, cli.run(ctx, []string{"admin", "adduser", "-username", "boss", "-email", "boss@test.cd", "-role", "lol"}))

	require.NoError(t, cli.run(ctx, []string{"admin", "adduser", "-name", "The Boss", "-username", " Boss ", "-email", "BOSS@test.cd"}))
	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, "boss")
	require.NoError(t, err)
	require.Equal(t, "The Boss", usr.Name)
	require.Equal(t, "boss@test.cd", usr.Email)
	require.True(t, usr.IsActive)
	require.True(t, usr.IsAdmin())
	require.NoError(t, usr.CheckPassword("B0ss-Pass"))

	// existing users are updated, found by email too
	mockReadPassword(t, "N3w-Pass")
	require.NoError(t, cli.run(ctx, []string{"admin", "adduser", "-username", "lol", "-email", "boss@test.cd", "-role", "teacher"}))
	updated, err := cli.usrRepo.GetUserByID(ctx, usr.ID)
	require.NoError(t, err)
	require.Equal(t, "boss", updated.Username)
	require.Equal(t, "The Boss", updated.Name)
	require.False(t, updated.IsAdmin())
	require.True(t, updated.IsTeacher())
	require.NoError(t, updated.CheckPassword("N3w-Pass"))

	users, err := cli.usrRepo.QueryUsers(ctx, user.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func Test_commandLine_watch(t *testing.T) {
	cli := setup(t)
	admin := testutil.CreateUser(t, cli.usrRepo, "Admin", "admin", "admin@test.cd", "", user.AllRoles, true)
	student := testutil.CreateUser(t, cli.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)

	// the API side: writes publish to the hub, served over a WebSocket
	hub := realtime.NewHub(cli.logger)
	t.Cleanup(hub.Close)
	docs := realtime.NewPublishingStore(sqlxrepos.NewDocumentStore(cli.db), hub)
	apiSvc := classroom.NewService(docs, cli.usrSvc, cli.mailSvc, cli.validate, cli.logger)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/realtime/"), "/")
		_ = hub.ServeWS(w, r, core.ChannelName(parts[0], parts[1]))
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/realtime"

	ctx := context.Background()
	cls, err := apiSvc.CreateClassroom(ctx, admin, classroom.NewClassroom{Name: "6e A", StudentIDs: []string{student.ID}})
	require.NoError(t, err)
	_, err = apiSvc.PostMessage(ctx, student, cls.ID, classroom.NewChatMessage{Body: "first"})
	require.NoError(t, err)

	t.Run("errors", func(t *testing.T) {
		require.Equal(t, errHelp, cli.run(ctx, []string{"admin", "watch"}))
		require.Error(t, cli.run(ctx, []string{"admin", "watch", "-classroom", "lol", "-url", wsURL}))
		require.Error(t, cli.run(ctx, []string{"admin", "watch", "-classroom", cls.ID, "-collection", "lol", "-url", wsURL}))
	})

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- cli.run(watchCtx, []string{"admin", "watch", "-classroom", cls.ID, "-as", "hero", "-url", wsURL})
	}()

	channel := core.ChannelName(classroom.CollectionMessages, cls.ID)
	require.Eventually(t, func() bool { return hub.Subscribers(channel) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(cli.out.String(), "== 6e A / messages (1)") &&
			strings.Contains(cli.out.String(), "Hero: first")
	}, 2*time.Second, 10*time.Millisecond)

	_, err = apiSvc.PostMessage(ctx, admin, cls.ID, classroom.NewChatMessage{Body: "Mbote!"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(cli.out.String(), "== 6e A / messages (2)") &&
			strings.Contains(cli.out.String(), "Admin: Mbote!")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	require.Eventually(t, func() bool { return hub.Subscribers(channel) == 0 }, 2*time.Second, 10*time.Millisecond)
}
