package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-live/apps/api/echo"
	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/classroom"
	"github.com/trezcool/masomo-live/core/user"
	emailsvc "github.com/trezcool/masomo-live/services/email"
	logsvc "github.com/trezcool/masomo-live/services/logger"
	"github.com/trezcool/masomo-live/services/realtime"
	"github.com/trezcool/masomo-live/storage/blob"
	sqlxrepos "github.com/trezcool/masomo-live/storage/database/sqlx"
	testutil "github.com/trezcool/masomo-live/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	conf    *core.Config
	server  *echoapi.Server
	usrRepo user.Repository
	usrSvc  *user.Service
	board   *classroom.Board
	hub     *realtime.Hub
	mailSvc *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T) *testApp {
	t.Helper()

	conf := core.NewTestConfig()
	conf.Blob.Dir = t.TempDir()

	logger := logsvc.NewRollbarLogger(io.Discard, "TEST", conf)
	logger.Enable(false)
	core.ParseEmailTemplates(core.Getwd(), true, logger)
	user.LoadCommonPasswords(core.Getwd(), logger)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// set up DB & repos
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	hub := realtime.NewHub(logger)
	t.Cleanup(hub.Close)
	docs := realtime.NewPublishingStore(sqlxrepos.NewDocumentStore(db), hub)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(conf, usrRepo, mailSvc, logger)
	clsSvc := classroom.NewService(docs, usrSvc, mailSvc, validate, logger)
	board := classroom.NewBoard(clsSvc, hub, conf.Cache.ListTTL)
	blobs, err := blob.NewFileStore(conf)
	require.NoError(t, err)

	// set up server
	server := echoapi.NewServer(echoapi.Options{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		UserSvc:    usrSvc,
		Board:      board,
		Blobs:      blobs,
		Hub:        hub,
	})
	return &testApp{
		conf:    conf,
		server:  server,
		usrRepo: usrRepo,
		usrSvc:  usrSvc,
		board:   board,
		hub:     hub,
		mailSvc: mailSvc,
	}
}

func (app *testApp) createUser(t *testing.T, name, uname, pwd string, roles []string, isActive bool) user.User {
	return testutil.CreateUser(t, app.usrRepo, name, uname, uname+"@test.cd", pwd, roles, isActive)
}

func (app *testApp) createClassroom(t *testing.T, admin user.User, name string, teachers, students []user.User) classroom.Classroom {
	t.Helper()
	nc := classroom.NewClassroom{Name: name}
	for _, usr := range teachers {
		nc.TeacherIDs = append(nc.TeacherIDs, usr.ID)
	}
	for _, usr := range students {
		nc.StudentIDs = append(nc.StudentIDs, usr.ID)
	}
	cls, err := app.board.Service().CreateClassroom(context.Background(), admin, nc)
	require.NoError(t, err)
	return cls
}

func (app *testApp) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newRequest(method, path string, data ...[]byte) *http.Request {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	t.Helper()
	token, err := echoapi.NewToken(conf, usr)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "body: %s", rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := app.serve(newAuthRequest(tt.method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}
}

// decodeIDs returns the ids of a JSON list of objects, in order.
func decodeIDs(t *testing.T, body []byte) []string {
	t.Helper()
	var objs []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &objs))
	ids := make([]string, 0, len(objs))
	for _, o := range objs {
		ids = append(ids, o.ID)
	}
	return ids
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func ids(users ...user.User) []string {
	res := make([]string, 0, len(users))
	for _, usr := range users {
		res = append(res, usr.ID)
	}
	return res
}

var tomorrow = time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
