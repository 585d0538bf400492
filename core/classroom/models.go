package classroom

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/core/user"
)

// Collections
const (
	CollectionClassrooms  = "classrooms"
	CollectionAssignments = "assignments"
	CollectionSchedule    = "schedule"
	CollectionMessages    = "messages"
)

// Collections lists the collections scoped by a classroom.
var Collections = []string{CollectionAssignments, CollectionSchedule, CollectionMessages}

type Classroom struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	TeacherIDs []string  `json:"teacher_ids"`
	StudentIDs []string  `json:"student_ids"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c Classroom) HasTeacher(userID string) bool { return contains(c.TeacherIDs, userID) }
func (c Classroom) HasStudent(userID string) bool { return contains(c.StudentIDs, userID) }

// CanManage reports whether usr may manage the classroom's assignments and schedule.
func (c Classroom) CanManage(usr user.User) bool {
	return usr.IsAdmin() || c.HasTeacher(usr.ID)
}

// IsMember reports whether usr may read the classroom and post in its chat.
func (c Classroom) IsMember(usr user.User) bool {
	return c.CanManage(usr) || c.HasStudent(usr.ID)
}

type Assignment struct {
	ID           string    `json:"id"`
	ClassroomID  string    `json:"classroom_id"`
	Title        string    `json:"title"`
	Instructions string    `json:"instructions"`
	DueAt        null.Time `json:"due_at"`
	Attachments  []string  `json:"attachments"` // blob ids
	AuthorID     string    `json:"author_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a Assignment) RecordID() string    { return a.ID }
func (a Assignment) RecordScope() string { return a.ClassroomID }

type ScheduleItem struct {
	ID          string    `json:"id"`
	ClassroomID string    `json:"classroom_id"`
	Title       string    `json:"title"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Location    string    `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s ScheduleItem) RecordID() string    { return s.ID }
func (s ScheduleItem) RecordScope() string { return s.ClassroomID }

type ChatMessage struct {
	ID          string    `json:"id"`
	ClassroomID string    `json:"classroom_id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Body        string    `json:"body"`
	Attachment  string    `json:"attachment"` // blob id
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (m ChatMessage) RecordID() string    { return m.ID }
func (m ChatMessage) RecordScope() string { return m.ClassroomID }

var (
	_ live.Record = Assignment{}
	_ live.Record = ScheduleItem{}
	_ live.Record = ChatMessage{}
)

// NewClassroom contains information needed to create a new Classroom.
type NewClassroom struct {
	Name       string   `json:"name" validate:"notblank,max=100"`
	TeacherIDs []string `json:"teacher_ids"`
	StudentIDs []string `json:"student_ids"`
}

func (nc *NewClassroom) Clean() {
	nc.Name = core.CleanString(nc.Name)
	nc.TeacherIDs = uniq(nc.TeacherIDs)
	nc.StudentIDs = uniq(nc.StudentIDs)
}

// UpdateClassroom defines what information may be provided to modify an existing Classroom.
// nil fields are left untouched.
type UpdateClassroom struct {
	Name       *string   `json:"name,omitempty" validate:"omitempty,notblank,max=100"`
	TeacherIDs *[]string `json:"teacher_ids,omitempty"`
	StudentIDs *[]string `json:"student_ids,omitempty"`
}

func (uc *UpdateClassroom) Clean() {
	if uc.Name != nil {
		name := core.CleanString(*uc.Name)
		uc.Name = &name
	}
	if uc.TeacherIDs != nil {
		ids := uniq(*uc.TeacherIDs)
		uc.TeacherIDs = &ids
	}
	if uc.StudentIDs != nil {
		ids := uniq(*uc.StudentIDs)
		uc.StudentIDs = &ids
	}
}

type NewAssignment struct {
	Title        string    `json:"title" validate:"notblank,max=200"`
	Instructions string    `json:"instructions"`
	DueAt        null.Time `json:"due_at"`
	Attachments  []string  `json:"attachments"`
}

// UpdateAssignment is a partial update; a null due_at clears the due date.
type UpdateAssignment struct {
	Title        *string    `json:"title,omitempty" validate:"omitempty,notblank,max=200"`
	Instructions *string    `json:"instructions,omitempty"`
	DueAt        *null.Time `json:"due_at,omitempty"`
	Attachments  *[]string  `json:"attachments,omitempty"`
}

type NewScheduleItem struct {
	Title    string    `json:"title" validate:"notblank,max=200"`
	StartsAt time.Time `json:"starts_at" validate:"required"`
	EndsAt   time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
	Location string    `json:"location" validate:"max=200"`
}

type UpdateScheduleItem struct {
	Title    *string    `json:"title,omitempty" validate:"omitempty,notblank,max=200"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
	Location *string    `json:"location,omitempty" validate:"omitempty,max=200"`
}

type NewChatMessage struct {
	Body       string `json:"body" validate:"required_without=Attachment,max=2000"`
	Attachment string `json:"attachment"`
}

func contains(ids []string, id string) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

// uniq drops blank and duplicate ids, keeping the first occurrence.
func uniq(ids []string) []string {
	res := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = core.CleanString(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, id)
	}
	return res
}
