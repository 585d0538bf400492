package echoapi_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core/classroom"
	"github.com/trezcool/masomo-live/core/user"
)

func Test_classroomApi_classrooms(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "Admin", "admin", "", []string{user.RoleAdmin}, true)
	teacher := app.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	student := app.createUser(t, "Hero", "hero", "", []string{user.RoleStudent}, true)
	outsider := app.createUser(t, "Other", "other", "", []string{user.RoleStudent}, true)

	cls := app.createClassroom(t, admin, "6e A", []user.User{teacher}, []user.User{student})
	adminToken := getToken(t, app.conf, admin)

	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", method: http.MethodGet, path: "/v1/classrooms", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required to create", method: http.MethodPost, path: "/v1/classrooms", token: getToken(t, app.conf, teacher),
			body: []byte(`{"name":"5e B"}`), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "blank name", method: http.MethodPost, path: "/v1/classrooms", token: adminToken,
			body: []byte(`{"name":"  "}`), wantCode: http.StatusBadRequest, wantData: []byte(`{"name":"this field cannot be blank"}`),
		},
		{
			name: "students must be students", method: http.MethodPost, path: "/v1/classrooms", token: adminToken,
			body: []byte(fmt.Sprintf(`{"name":"5e B","student_ids":[%q]}`, teacher.ID)), wantCode: http.StatusBadRequest,
		},
		{name: "created", method: http.MethodPost, path: "/v1/classrooms", token: adminToken, body: []byte(`{"name":"5e B"}`), wantCode: http.StatusCreated},
		{name: "members read", method: http.MethodGet, path: "/v1/classrooms/" + cls.ID, token: getToken(t, app.conf, student), wantCode: http.StatusOK},
		{
			name: "outsiders do not", method: http.MethodGet, path: "/v1/classrooms/" + cls.ID, token: getToken(t, app.conf, outsider),
			wantCode: http.StatusForbidden,
		},
		{
			name: "unknown", method: http.MethodGet, path: "/v1/classrooms/lol", token: adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "renamed", method: http.MethodPut, path: "/v1/classrooms/" + cls.ID, token: adminToken,
			body: []byte(`{"name":"6e A bis"}`), wantCode: http.StatusOK,
		},
	})

	t.Run("list", func(t *testing.T) {
		rec := app.serve(newAuthRequest(http.MethodGet, "/v1/classrooms", getToken(t, app.conf, student)))
		require.Equal(t, http.StatusOK, rec.Code)
		var list []classroom.Classroom
		decode(t, rec, &list)
		require.Len(t, list, 1)
		require.Equal(t, "6e A bis", list[0].Name)
		require.Equal(t, []string{teacher.ID}, list[0].TeacherIDs)

		rec = app.serve(newAuthRequest(http.MethodGet, "/v1/classrooms", adminToken))
		require.Len(t, decodeIDs(t, rec.Body.Bytes()), 2)

		rec = app.serve(newAuthRequest(http.MethodGet, "/v1/classrooms", getToken(t, app.conf, outsider)))
		require.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("delete", func(t *testing.T) {
		rec := app.serve(newAuthRequest(http.MethodDelete, "/v1/classrooms/"+cls.ID, getToken(t, app.conf, teacher)))
		require.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.serve(newAuthRequest(http.MethodDelete, "/v1/classrooms/"+cls.ID, adminToken))
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = app.serve(newAuthRequest(http.MethodGet, "/v1/classrooms/"+cls.ID, adminToken))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_classroomApi_assignments(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "Admin", "admin", "", []string{user.RoleAdmin}, true)
	teacher := app.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	student := app.createUser(t, "Hero", "hero", "", []string{user.RoleStudent}, true)
	outsider := app.createUser(t, "Other", "other", "", []string{user.RoleStudent}, true)

	cls := app.createClassroom(t, admin, "6e A", []user.User{teacher}, []user.User{student})
	path := "/v1/classrooms/" + cls.ID + "/assignments"
	teacherToken := getToken(t, app.conf, teacher)
	studentToken := getToken(t, app.conf, student)

	runHTTPTests(t, app, []httpTest{
		{name: "outsiders cannot list", method: http.MethodGet, path: path, token: getToken(t, app.conf, outsider), wantCode: http.StatusForbidden},
		{name: "empty list", method: http.MethodGet, path: path, token: studentToken, wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{
			name: "students cannot publish", method: http.MethodPost, path: path, token: studentToken,
			body: []byte(`{"title":"Homework"}`), wantCode: http.StatusForbidden,
		},
		{
			name: "title required", method: http.MethodPost, path: path, token: teacherToken,
			body: []byte(`{"title":" "}`), wantCode: http.StatusBadRequest, wantData: []byte(`{"title":"this field cannot be blank"}`),
		},
	})

	// an empty list is tagged too
	rec := app.serve(newAuthRequest(http.MethodGet, path, studentToken))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	body := fmt.Sprintf(`{"title":"Homework","instructions":"p. 12","due_at":%q}`, tomorrow.Format(time.RFC3339))
	rec = app.serve(newAuthRequest(http.MethodPost, path, teacherToken, []byte(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var asgmt classroom.Assignment
	decode(t, rec, &asgmt)
	require.Equal(t, cls.ID, asgmt.ClassroomID)
	require.Equal(t, teacher.ID, asgmt.AuthorID)
	require.True(t, asgmt.DueAt.Time.Equal(tomorrow))

	// the student got an email
	sent := app.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	require.Equal(t, student.Email, sent[0].To[0].Address)

	t.Run("etag", func(t *testing.T) {
		req := newAuthRequest(http.MethodGet, path, studentToken)
		req.Header.Set("If-None-Match", etag)
		rec := app.serve(req)
		require.Equal(t, http.StatusOK, rec.Code, "list changed")
		require.Equal(t, []string{asgmt.ID}, decodeIDs(t, rec.Body.Bytes()))

		newTag := rec.Header().Get("ETag")
		require.NotEqual(t, etag, newTag)

		req = newAuthRequest(http.MethodGet, path, studentToken)
		req.Header.Set("If-None-Match", `"lol", `+newTag)
		rec = app.serve(req)
		require.Equal(t, http.StatusNotModified, rec.Code)
		require.Empty(t, rec.Body.String())
	})

	runHTTPTests(t, app, []httpTest{
		{
			name: "update", method: http.MethodPut, path: path + "/" + asgmt.ID, token: teacherToken,
			body: []byte(`{"title":" Homework v2 "}`), wantCode: http.StatusOK,
		},
		{
			name: "students cannot update", method: http.MethodPut, path: path + "/" + asgmt.ID, token: studentToken,
			body: []byte(`{"title":"lol"}`), wantCode: http.StatusForbidden,
		},
		{name: "update unknown", method: http.MethodPut, path: path + "/lol", token: teacherToken, body: []byte(`{"title":"x"}`), wantCode: http.StatusNotFound},
	})

	rec = app.serve(newAuthRequest(http.MethodGet, path, studentToken))
	var list []classroom.Assignment
	decode(t, rec, &list)
	require.Len(t, list, 1)
	require.Equal(t, "Homework v2", list[0].Title)
	require.True(t, list[0].DueAt.Valid)
	require.Equal(t, "p. 12", list[0].Instructions)

	rec = app.serve(newAuthRequest(http.MethodDelete, path+"/"+asgmt.ID, teacherToken))
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = app.serve(newAuthRequest(http.MethodGet, path, studentToken))
	require.JSONEq(t, `[]`, rec.Body.String())

	stats := app.board.CacheStats()
	require.NotZero(t, stats.Hits+stats.Misses)
}

func Test_classroomApi_schedule(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "Admin", "admin", "", []string{user.RoleAdmin}, true)
	teacher := app.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	student := app.createUser(t, "Hero", "hero", "", []string{user.RoleStudent}, true)

	cls := app.createClassroom(t, admin, "6e A", []user.User{teacher}, []user.User{student})
	path := "/v1/classrooms/" + cls.ID + "/schedule"
	teacherToken := getToken(t, app.conf, teacher)

	item := func(title string, startsIn time.Duration) []byte {
		start := tomorrow.Add(startsIn)
		return []byte(fmt.Sprintf(`{"title":%q,"starts_at":%q,"ends_at":%q,"location":"B12"}`,
			title, start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339)))
	}
	runHTTPTests(t, app, []httpTest{
		{name: "maths", method: http.MethodPost, path: path, token: teacherToken, body: item("Maths", 2*time.Hour), wantCode: http.StatusCreated},
		{name: "french", method: http.MethodPost, path: path, token: teacherToken, body: item("French", 0), wantCode: http.StatusCreated},
		{
			name: "ends before start", method: http.MethodPost, path: path, token: teacherToken,
			body: []byte(fmt.Sprintf(`{"title":"Lol","starts_at":%q,"ends_at":%q}`,
				tomorrow.Format(time.RFC3339), tomorrow.Add(-time.Hour).Format(time.RFC3339))),
			wantCode: http.StatusBadRequest,
		},
	})

	rec := app.serve(newAuthRequest(http.MethodGet, path, getToken(t, app.conf, student)))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []classroom.ScheduleItem
	decode(t, rec, &list)
	require.Len(t, list, 2)
	require.Equal(t, "French", list[0].Title)
	require.Equal(t, "Maths", list[1].Title)

	// move French after Maths
	moved := tomorrow.Add(5 * time.Hour)
	rec = app.serve(newAuthRequest(http.MethodPut, path+"/"+list[0].ID, teacherToken, []byte(fmt.Sprintf(
		`{"starts_at":%q,"ends_at":%q}`, moved.Format(time.RFC3339), moved.Add(time.Hour).Format(time.RFC3339),
	))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.serve(newAuthRequest(http.MethodGet, path, teacherToken))
	decode(t, rec, &list)
	require.Equal(t, "Maths", list[0].Title)
	require.Equal(t, "French", list[1].Title)

	rec = app.serve(newAuthRequest(http.MethodDelete, path+"/"+list[0].ID, teacherToken))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func Test_classroomApi_messages(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "Admin", "admin", "", []string{user.RoleAdmin}, true)
	teacher := app.createUser(t, "Teacher", "teacher", "", []string{user.RoleTeacher}, true)
	student := app.createUser(t, "Hero", "hero", "", []string{user.RoleStudent}, true)
	classmate := app.createUser(t, "Mate", "classmate", "", []string{user.RoleStudent}, true)

	cls := app.createClassroom(t, admin, "6e A", []user.User{teacher}, []user.User{student, classmate})
	path := "/v1/classrooms/" + cls.ID + "/messages"
	studentToken := getToken(t, app.conf, student)

	rec := app.serve(newAuthRequest(http.MethodPost, path, studentToken, []byte(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"body":"this field is required"}`, rec.Body.String())

	rec = app.serve(newAuthRequest(http.MethodPost, path, studentToken, []byte(`{"body":"Mbote!"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg classroom.ChatMessage
	decode(t, rec, &msg)
	require.Equal(t, "Hero", msg.AuthorName)

	runHTTPTests(t, app, []httpTest{
		{name: "list", method: http.MethodGet, path: path, token: getToken(t, app.conf, classmate), wantCode: http.StatusOK},
		{name: "classmates cannot delete", method: http.MethodDelete, path: path + "/" + msg.ID, token: getToken(t, app.conf, classmate), wantCode: http.StatusForbidden},
		{name: "teachers moderate", method: http.MethodDelete, path: path + "/" + msg.ID, token: getToken(t, app.conf, teacher), wantCode: http.StatusNoContent},
		{name: "gone", method: http.MethodDelete, path: path + "/" + msg.ID, token: studentToken, wantCode: http.StatusNotFound},
	})
}
