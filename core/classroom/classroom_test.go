package classroom_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/classroom"
	"github.com/trezcool/masomo-live/core/user"
	emailsvc "github.com/trezcool/masomo-live/services/email"
	logsvc "github.com/trezcool/masomo-live/services/logger"
	"github.com/trezcool/masomo-live/services/realtime"
	inmemdb "github.com/trezcool/masomo-live/storage/database/inmem"
	testutil "github.com/trezcool/masomo-live/tests"
)

// countingStore counts the List calls per collection.
type countingStore struct {
	core.DocumentStore

	mu    sync.Mutex
	lists map[string]int
}

func (s *countingStore) List(ctx context.Context, collection string, filters ...core.Filter) ([]core.Document, error) {
	s.mu.Lock()
	s.lists[collection]++
	s.mu.Unlock()
	return s.DocumentStore.List(ctx, collection, filters...)
}

func (s *countingStore) listed(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists[collection]
}

type fixture struct {
	svc     *classroom.Service
	board   *classroom.Board
	hub     *realtime.Hub
	store   *countingStore
	mailSvc *emailsvc.ConsoleServiceMock

	admin, teacher, student, outsider user.User
	cls                               classroom.Classroom
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(io.Discard, "TEST", conf)
	logger.Enable(false)
	core.ParseEmailTemplates(core.Getwd(), true, logger)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(conf, usrRepo, mailSvc, logger)

	hub := realtime.NewHub(logger)
	store := &countingStore{
		DocumentStore: realtime.NewPublishingStore(inmemdb.NewDocumentStore(db), hub),
		lists:         make(map[string]int),
	}
	svc := classroom.NewService(store, usrSvc, mailSvc, validate, logger)

	f := &fixture{
		svc:      svc,
		board:    classroom.NewBoard(svc, hub, time.Minute),
		hub:      hub,
		store:    store,
		mailSvc:  mailSvc,
		admin:    testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true),
		teacher:  testutil.CreateUser(t, usrRepo, "Mr Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true),
		student:  testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "", []string{user.RoleStudent}, true),
		outsider: testutil.CreateUser(t, usrRepo, "Outsider", "outsider", "outsider@test.cd", "", []string{user.RoleStudent}, true),
	}

	cls, err := svc.CreateClassroom(ctx, f.admin, classroom.NewClassroom{
		Name:       " 6e A ",
		TeacherIDs: []string{f.teacher.ID},
		StudentIDs: []string{f.student.ID, f.student.ID, ""},
	})
	require.NoError(t, err)
	f.cls = cls
	return f
}

func requireValidationErr(t *testing.T, err error) {
	t.Helper()
	var verrs validator.ValidationErrors
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verrs) || errors.As(err, &verr), "want a validation error, got %v", err)
}

func TestService_Classrooms(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	require.Equal(t, "6e A", f.cls.Name)
	require.Equal(t, []string{f.student.ID}, f.cls.StudentIDs)
	require.NotEmpty(t, f.cls.ID)

	t.Run("create", func(t *testing.T) {
		_, err := f.svc.CreateClassroom(ctx, f.teacher, classroom.NewClassroom{Name: "5e B"})
		require.Equal(t, core.ErrPermissionDenied, err)

		_, err = f.svc.CreateClassroom(ctx, f.admin, classroom.NewClassroom{Name: "  "})
		requireValidationErr(t, err)

		_, err = f.svc.CreateClassroom(ctx, f.admin, classroom.NewClassroom{Name: "5e B", TeacherIDs: []string{f.student.ID}})
		var verr *core.ValidationError
		require.True(t, errors.As(err, &verr))
		require.Equal(t, "teacher_ids", verr.Fields[0].Field)
	})

	t.Run("read", func(t *testing.T) {
		other, err := f.svc.CreateClassroom(ctx, f.admin, classroom.NewClassroom{Name: "5e B", StudentIDs: []string{f.outsider.ID}})
		require.NoError(t, err)

		all, err := f.svc.ListClassrooms(ctx, f.admin)
		require.NoError(t, err)
		require.Len(t, all, 2)

		mine, err := f.svc.ListClassrooms(ctx, f.student)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		require.Equal(t, f.cls.ID, mine[0].ID)

		got, err := f.svc.GetClassroom(ctx, f.teacher, f.cls.ID)
		require.NoError(t, err)
		require.Equal(t, f.cls, got)

		_, err = f.svc.GetClassroom(ctx, f.outsider, f.cls.ID)
		require.Equal(t, core.ErrPermissionDenied, err)
		_, err = f.svc.GetClassroom(ctx, f.admin, other.ID+"x")
		require.True(t, core.IsNotFound(err))
	})

	t.Run("update", func(t *testing.T) {
		name := "6e A (2026)"
		students := []string{f.student.ID, f.outsider.ID}
		got, err := f.svc.UpdateClassroom(ctx, f.admin, f.cls.ID, classroom.UpdateClassroom{Name: &name, StudentIDs: &students})
		require.NoError(t, err)
		require.Equal(t, name, got.Name)
		require.Equal(t, students, got.StudentIDs)
		require.Equal(t, f.cls.TeacherIDs, got.TeacherIDs)

		_, err = f.svc.UpdateClassroom(ctx, f.teacher, f.cls.ID, classroom.UpdateClassroom{Name: &name})
		require.Equal(t, core.ErrPermissionDenied, err)
	})

	t.Run("delete", func(t *testing.T) {
		_, err := f.board.CreateAssignment(ctx, f.teacher, f.cls.ID, classroom.NewAssignment{Title: "Fractions"})
		require.NoError(t, err)
		_, err = f.board.PostMessage(ctx, f.student, f.cls.ID, classroom.NewChatMessage{Body: "hi"})
		require.NoError(t, err)

		require.Equal(t, core.ErrPermissionDenied, f.board.DeleteClassroom(ctx, f.teacher, f.cls.ID))
		require.NoError(t, f.board.DeleteClassroom(ctx, f.admin, f.cls.ID))

		asgmts, err := f.svc.FetchAssignments(ctx, f.cls.ID)
		require.NoError(t, err)
		require.Empty(t, asgmts)
		msgs, err := f.svc.FetchMessages(ctx, f.cls.ID)
		require.NoError(t, err)
		require.Empty(t, msgs)

		_, err = f.svc.GetClassroom(ctx, f.admin, f.cls.ID)
		require.True(t, core.IsNotFound(err))
	})
}

func TestBoard_Assignments(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	cid := f.cls.ID

	_, err := f.board.CreateAssignment(ctx, f.student, cid, classroom.NewAssignment{Title: "Fractions"})
	require.Equal(t, core.ErrPermissionDenied, err)
	_, err = f.board.CreateAssignment(ctx, f.teacher, cid, classroom.NewAssignment{Title: " "})
	requireValidationErr(t, err)

	due := time.Date(2026, 11, 2, 8, 0, 0, 0, time.UTC)
	a1, err := f.board.CreateAssignment(ctx, f.teacher, cid, classroom.NewAssignment{
		Title:       " Fractions ",
		DueAt:       null.TimeFrom(due),
		Attachments: []string{"b1", "b1"},
	})
	require.NoError(t, err)
	require.Equal(t, "Fractions", a1.Title)
	require.Equal(t, cid, a1.ClassroomID)
	require.Equal(t, f.teacher.ID, a1.AuthorID)
	require.Equal(t, []string{"b1"}, a1.Attachments)
	require.True(t, a1.DueAt.Time.Equal(due))

	t.Run("students are notified", func(t *testing.T) {
		sent := f.mailSvc.SentMessages()
		require.Len(t, sent, 1)
		require.Equal(t, f.student.Email, sent[0].To[0].Address)
		require.Contains(t, sent[0].TextContent, `"Fractions" was published in 6e A`)
		require.Contains(t, sent[0].TextContent, "It is due on Mon, 02 Nov 2026 08:00 UTC.")
	})

	t.Run("outsiders cannot read", func(t *testing.T) {
		_, err := f.board.ListAssignments(ctx, f.outsider, cid)
		require.Equal(t, core.ErrPermissionDenied, err)
	})

	// the first read fetches, the next ones are served from the cache
	got, err := f.board.ListAssignments(ctx, f.student, cid)
	require.NoError(t, err)
	require.Equal(t, []classroom.Assignment{a1}, got)
	require.Equal(t, 1, f.store.listed(classroom.CollectionAssignments))

	got, err = f.board.ListAssignments(ctx, f.teacher, cid)
	require.NoError(t, err)
	require.Equal(t, []classroom.Assignment{a1}, got)
	require.Equal(t, 1, f.store.listed(classroom.CollectionAssignments))
	require.Equal(t, uint64(1), f.board.CacheStats().Hits)

	// writes drop the cached scope when nobody holds it
	title := "Fractions & decimals"
	noDue := null.Time{}
	a1, err = f.board.UpdateAssignment(ctx, f.teacher, cid, a1.ID, classroom.UpdateAssignment{Title: &title, DueAt: &noDue})
	require.NoError(t, err)
	require.Equal(t, title, a1.Title)
	require.False(t, a1.DueAt.Valid)

	got, err = f.board.ListAssignments(ctx, f.student, cid)
	require.NoError(t, err)
	require.Equal(t, []classroom.Assignment{a1}, got)
	require.Equal(t, 2, f.store.listed(classroom.CollectionAssignments))

	_, err = f.board.UpdateAssignment(ctx, f.teacher, cid, "unknown", classroom.UpdateAssignment{Title: &title})
	require.True(t, core.IsNotFound(err))

	require.NoError(t, f.board.DeleteAssignment(ctx, f.teacher, cid, a1.ID))
	got, err = f.board.ListAssignments(ctx, f.student, cid)
	require.NoError(t, err)
	require.Empty(t, got)
	require.True(t, core.IsNotFound(f.board.DeleteAssignment(ctx, f.teacher, cid, a1.ID)))
}

func TestBoard_HeldStoreFollowsWrites(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	cid := f.cls.ID

	view, err := f.board.Messages.Mount(ctx, cid)
	require.NoError(t, err)
	defer view.Close()
	require.Equal(t, 1, f.hub.Subscribers(core.ChannelName(classroom.CollectionMessages, cid)))

	var snapshots [][]classroom.ChatMessage
	cancel := view.Store().Watch(func(msgs []classroom.ChatMessage) { snapshots = append(snapshots, msgs) })
	defer cancel()

	// the create event and the optimistic add converge on one record
	m1, err := f.board.PostMessage(ctx, f.student, cid, classroom.NewChatMessage{Body: "Hello"})
	require.NoError(t, err)
	require.Equal(t, []classroom.ChatMessage{m1}, view.Store().Snapshot())
	require.Equal(t, "Student", m1.AuthorName)
	require.Len(t, snapshots, 2)

	m2, err := f.board.PostMessage(ctx, f.teacher, cid, classroom.NewChatMessage{Attachment: "blob-1"})
	require.NoError(t, err)

	_, err = f.board.PostMessage(ctx, f.student, cid, classroom.NewChatMessage{})
	requireValidationErr(t, err)
	_, err = f.board.PostMessage(ctx, f.outsider, cid, classroom.NewChatMessage{Body: "let me in"})
	require.Equal(t, core.ErrPermissionDenied, err)

	// reads are served by the held store and its cache entry
	listed := f.store.listed(classroom.CollectionMessages)
	got, err := f.board.ListMessages(ctx, f.student, cid)
	require.NoError(t, err)
	require.Equal(t, []classroom.ChatMessage{m1, m2}, got)
	require.Equal(t, listed, f.store.listed(classroom.CollectionMessages))

	require.Equal(t, core.ErrPermissionDenied, f.board.DeleteMessage(ctx, f.student, cid, m2.ID), "not the author")
	require.NoError(t, f.board.DeleteMessage(ctx, f.teacher, cid, m1.ID), "managers delete any message")
	require.Equal(t, []classroom.ChatMessage{m2}, view.Store().Snapshot())

	require.NoError(t, view.Close())
	require.Zero(t, f.hub.Subscribers(core.ChannelName(classroom.CollectionMessages, cid)))
}

func TestBoard_Schedule(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	cid := f.cls.ID

	monday := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	later, err := f.board.CreateScheduleItem(ctx, f.teacher, cid, classroom.NewScheduleItem{
		Title: "Maths", StartsAt: monday.Add(2 * time.Hour), EndsAt: monday.Add(3 * time.Hour), Location: "Room 4",
	})
	require.NoError(t, err)
	earlier, err := f.board.CreateScheduleItem(ctx, f.teacher, cid, classroom.NewScheduleItem{
		Title: "French", StartsAt: monday, EndsAt: monday.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = f.board.CreateScheduleItem(ctx, f.teacher, cid, classroom.NewScheduleItem{
		Title: "Backwards", StartsAt: monday, EndsAt: monday.Add(-time.Hour),
	})
	requireValidationErr(t, err)

	got, err := f.board.ListSchedule(ctx, f.student, cid)
	require.NoError(t, err)
	require.Equal(t, []classroom.ScheduleItem{earlier, later}, got)

	// moving the start after the current end is rejected
	start := monday.Add(4 * time.Hour)
	_, err = f.board.UpdateScheduleItem(ctx, f.teacher, cid, later.ID, classroom.UpdateScheduleItem{StartsAt: &start})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))

	end := monday.Add(5 * time.Hour)
	moved, err := f.board.UpdateScheduleItem(ctx, f.teacher, cid, later.ID, classroom.UpdateScheduleItem{StartsAt: &start, EndsAt: &end})
	require.NoError(t, err)
	require.True(t, moved.StartsAt.Equal(start))
	require.Equal(t, "Room 4", moved.Location)

	_, err = f.board.UpdateScheduleItem(ctx, f.student, cid, later.ID, classroom.UpdateScheduleItem{StartsAt: &start})
	require.Equal(t, core.ErrPermissionDenied, err)

	require.NoError(t, f.board.DeleteScheduleItem(ctx, f.admin, cid, earlier.ID))
	got, err = f.board.ListSchedule(ctx, f.student, cid)
	require.NoError(t, err)
	require.Equal(t, []classroom.ScheduleItem{moved}, got)
}
