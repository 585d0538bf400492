package classroom

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/user"
)

var errEndsBeforeStart = errors.New("ends_at must be after starts_at")

// Service reads and writes the classroom collections through a core.DocumentStore.
// Every method taking an actor checks the actor's permissions first.
type Service struct {
	docs     core.DocumentStore
	usrSvc   *user.Service
	mailSvc  core.EmailService
	validate *validator.Validate
	logger   core.Logger
}

func NewService(
	docs core.DocumentStore,
	usrSvc *user.Service,
	mailSvc core.EmailService,
	validate *validator.Validate,
	logger core.Logger,
) *Service {
	return &Service{
		docs:     docs,
		usrSvc:   usrSvc,
		mailSvc:  mailSvc,
		validate: validate,
		logger:   logger,
	}
}

// Classrooms

func (svc *Service) getClassroom(ctx context.Context, id string) (Classroom, error) {
	doc, err := svc.docs.Get(ctx, CollectionClassrooms, id)
	if err != nil {
		return Classroom{}, err
	}
	return fromDocument[Classroom](doc)
}

// GetClassroom returns the classroom if actor is one of its members (or an admin).
func (svc *Service) GetClassroom(ctx context.Context, actor user.User, id string) (Classroom, error) {
	cls, err := svc.getClassroom(ctx, id)
	if err != nil {
		return Classroom{}, err
	}
	if !cls.IsMember(actor) {
		return Classroom{}, core.ErrPermissionDenied
	}
	return cls, nil
}

// ListClassrooms returns every classroom for admins, the actor's classrooms otherwise.
func (svc *Service) ListClassrooms(ctx context.Context, actor user.User) ([]Classroom, error) {
	docs, err := svc.docs.List(ctx, CollectionClassrooms)
	if err != nil {
		return nil, errors.Wrap(err, "listing classrooms")
	}
	all, err := fromDocuments[Classroom](docs)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		return all, nil
	}
	res := make([]Classroom, 0)
	for _, cls := range all {
		if cls.IsMember(actor) {
			res = append(res, cls)
		}
	}
	return res, nil
}

func (svc *Service) CreateClassroom(ctx context.Context, actor user.User, nc NewClassroom) (Classroom, error) {
	if !actor.IsAdmin() {
		return Classroom{}, core.ErrPermissionDenied
	}
	nc.Clean()
	if err := svc.validate.Struct(nc); err != nil {
		return Classroom{}, err
	}
	if err := svc.checkMembers(ctx, nc.TeacherIDs, user.RoleTeacher, "teacher_ids"); err != nil {
		return Classroom{}, err
	}
	if err := svc.checkMembers(ctx, nc.StudentIDs, user.RoleStudent, "student_ids"); err != nil {
		return Classroom{}, err
	}

	data, err := encodeData(Classroom{Name: nc.Name, TeacherIDs: nc.TeacherIDs, StudentIDs: nc.StudentIDs})
	if err != nil {
		return Classroom{}, err
	}
	doc, err := svc.docs.Create(ctx, CollectionClassrooms, core.Document{Data: data})
	if err != nil {
		return Classroom{}, errors.Wrap(err, "creating classroom")
	}
	return fromDocument[Classroom](doc)
}

func (svc *Service) UpdateClassroom(ctx context.Context, actor user.User, id string, uc UpdateClassroom) (Classroom, error) {
	if !actor.IsAdmin() {
		return Classroom{}, core.ErrPermissionDenied
	}
	uc.Clean()
	if err := svc.validate.Struct(uc); err != nil {
		return Classroom{}, err
	}
	if uc.TeacherIDs != nil {
		if err := svc.checkMembers(ctx, *uc.TeacherIDs, user.RoleTeacher, "teacher_ids"); err != nil {
			return Classroom{}, err
		}
	}
	if uc.StudentIDs != nil {
		if err := svc.checkMembers(ctx, *uc.StudentIDs, user.RoleStudent, "student_ids"); err != nil {
			return Classroom{}, err
		}
	}

	patch, err := encodeData(uc)
	if err != nil {
		return Classroom{}, err
	}
	doc, err := svc.docs.Update(ctx, CollectionClassrooms, id, patch)
	if err != nil {
		return Classroom{}, errors.Wrap(err, "updating classroom")
	}
	return fromDocument[Classroom](doc)
}

// DeleteClassroom deletes the classroom and everything scoped by it.
func (svc *Service) DeleteClassroom(ctx context.Context, actor user.User, id string) error {
	if !actor.IsAdmin() {
		return core.ErrPermissionDenied
	}
	if _, err := svc.getClassroom(ctx, id); err != nil {
		return err
	}
	for _, collection := range Collections {
		docs, err := svc.docs.List(ctx, collection, core.ScopeFilter(id))
		if err != nil {
			return errors.Wrapf(err, "listing %s", collection)
		}
		for _, doc := range docs {
			if err = svc.docs.Delete(ctx, collection, doc.ID); err != nil && !core.IsNotFound(err) {
				return errors.Wrapf(err, "deleting %s %s", collection, doc.ID)
			}
		}
	}
	return svc.docs.Delete(ctx, CollectionClassrooms, id)
}

// checkMembers checks that ids are existing, active users holding role.
func (svc *Service) checkMembers(ctx context.Context, ids []string, role, field string) error {
	if len(ids) == 0 {
		return nil
	}
	users, err := svc.usrSvc.GetByIDs(ctx, ids...)
	if err != nil {
		return errors.Wrap(err, "finding members")
	}
	valid := make(map[string]bool, len(users))
	for _, usr := range users {
		if usr.IsActive && usr.RoleStartsWith(role) {
			valid[usr.ID] = true
		}
	}
	for _, id := range ids {
		if !valid[id] {
			return core.NewValidationError(
				errors.Errorf("invalid member %s", id),
				core.FieldError{Field: field, Error: fmt.Sprintf("%s is not an active %s", id, role[:len(role)-1])},
			)
		}
	}
	return nil
}

// Assignments

// FetchAssignments lists a classroom's assignments, oldest first.
func (svc *Service) FetchAssignments(ctx context.Context, classroomID string) ([]Assignment, error) {
	docs, err := svc.docs.List(ctx, CollectionAssignments, core.ScopeFilter(classroomID))
	if err != nil {
		return nil, errors.Wrap(err, "listing assignments")
	}
	return fromDocuments[Assignment](docs)
}

// CreateAssignment publishes an assignment and emails the classroom's students about it.
func (svc *Service) CreateAssignment(ctx context.Context, actor user.User, classroomID string, na NewAssignment) (Assignment, error) {
	cls, err := svc.getClassroom(ctx, classroomID)
	if err != nil {
		return Assignment{}, err
	}
	if !cls.CanManage(actor) {
		return Assignment{}, core.ErrPermissionDenied
	}
	na.Title = core.CleanString(na.Title)
	na.Attachments = uniq(na.Attachments)
	if err = svc.validate.Struct(na); err != nil {
		return Assignment{}, err
	}
	if na.DueAt.Valid {
		na.DueAt.Time = na.DueAt.Time.UTC()
	}

	data, err := encodeData(Assignment{
		Title:        na.Title,
		Instructions: na.Instructions,
		DueAt:        na.DueAt,
		Attachments:  na.Attachments,
		AuthorID:     actor.ID,
	})
	if err != nil {
		return Assignment{}, err
	}
	doc, err := svc.docs.Create(ctx, CollectionAssignments, core.Document{ScopeID: cls.ID, Data: data})
	if err != nil {
		return Assignment{}, errors.Wrap(err, "creating assignment")
	}
	asgmt, err := fromDocument[Assignment](doc)
	if err != nil {
		return Assignment{}, err
	}

	svc.notifyStudents(ctx, cls, asgmt)
	return asgmt, nil
}

func (svc *Service) UpdateAssignment(ctx context.Context, actor user.User, classroomID, id string, ua UpdateAssignment) (Assignment, error) {
	if err := svc.checkManage(ctx, actor, classroomID, CollectionAssignments, id); err != nil {
		return Assignment{}, err
	}
	if ua.Title != nil {
		title := core.CleanString(*ua.Title)
		ua.Title = &title
	}
	if ua.Attachments != nil {
		ids := uniq(*ua.Attachments)
		ua.Attachments = &ids
	}
	if err := svc.validate.Struct(ua); err != nil {
		return Assignment{}, err
	}

	patch, err := encodeData(ua)
	if err != nil {
		return Assignment{}, err
	}
	doc, err := svc.docs.Update(ctx, CollectionAssignments, id, patch)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "updating assignment")
	}
	return fromDocument[Assignment](doc)
}

func (svc *Service) DeleteAssignment(ctx context.Context, actor user.User, classroomID, id string) error {
	if err := svc.checkManage(ctx, actor, classroomID, CollectionAssignments, id); err != nil {
		return err
	}
	return svc.docs.Delete(ctx, CollectionAssignments, id)
}

func (svc *Service) notifyStudents(ctx context.Context, cls Classroom, asgmt Assignment) {
	students, err := svc.usrSvc.GetByIDs(ctx, cls.StudentIDs...)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("finding students of classroom %s: %v", cls.ID, err), err)
		return
	}

	var dueAt string
	if asgmt.DueAt.Valid {
		dueAt = asgmt.DueAt.Time.Format("Mon, 02 Jan 2006 15:04 MST")
	}
	msgs := make([]*core.EmailMessage, 0, len(students))
	for _, std := range students {
		if !std.IsActive || std.Email == "" {
			continue
		}
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: std.Name, Address: std.Email}},
			Subject:      "New assignment: " + asgmt.Title,
			TemplateName: "assignment_published",
			TemplateData: map[string]interface{}{
				"Title":         asgmt.Title,
				"ClassroomName": cls.Name,
				"ClassroomID":   cls.ID,
				"AssignmentID":  asgmt.ID,
				"DueAt":         dueAt,
			},
		})
	}
	if len(msgs) > 0 {
		svc.mailSvc.SendMessages(msgs...)
	}
}

// Schedule

// FetchSchedule lists a classroom's schedule items in creation order.
func (svc *Service) FetchSchedule(ctx context.Context, classroomID string) ([]ScheduleItem, error) {
	docs, err := svc.docs.List(ctx, CollectionSchedule, core.ScopeFilter(classroomID))
	if err != nil {
		return nil, errors.Wrap(err, "listing schedule")
	}
	return fromDocuments[ScheduleItem](docs)
}

func (svc *Service) CreateScheduleItem(ctx context.Context, actor user.User, classroomID string, ns NewScheduleItem) (ScheduleItem, error) {
	cls, err := svc.getClassroom(ctx, classroomID)
	if err != nil {
		return ScheduleItem{}, err
	}
	if !cls.CanManage(actor) {
		return ScheduleItem{}, core.ErrPermissionDenied
	}
	ns.Title = core.CleanString(ns.Title)
	ns.Location = core.CleanString(ns.Location)
	if err = svc.validate.Struct(ns); err != nil {
		return ScheduleItem{}, err
	}

	data, err := encodeData(ScheduleItem{
		Title:    ns.Title,
		StartsAt: ns.StartsAt.UTC(),
		EndsAt:   ns.EndsAt.UTC(),
		Location: ns.Location,
	})
	if err != nil {
		return ScheduleItem{}, err
	}
	doc, err := svc.docs.Create(ctx, CollectionSchedule, core.Document{ScopeID: cls.ID, Data: data})
	if err != nil {
		return ScheduleItem{}, errors.Wrap(err, "creating schedule item")
	}
	return fromDocument[ScheduleItem](doc)
}

func (svc *Service) UpdateScheduleItem(ctx context.Context, actor user.User, classroomID, id string, us UpdateScheduleItem) (ScheduleItem, error) {
	if err := svc.checkManage(ctx, actor, classroomID, CollectionSchedule, id); err != nil {
		return ScheduleItem{}, err
	}
	if us.Title != nil {
		title := core.CleanString(*us.Title)
		us.Title = &title
	}
	if err := svc.validate.Struct(us); err != nil {
		return ScheduleItem{}, err
	}

	// the new bounds must still make a valid interval
	if us.StartsAt != nil || us.EndsAt != nil {
		doc, err := svc.docs.Get(ctx, CollectionSchedule, id)
		if err != nil {
			return ScheduleItem{}, err
		}
		curr, err := fromDocument[ScheduleItem](doc)
		if err != nil {
			return ScheduleItem{}, err
		}
		if us.StartsAt != nil {
			curr.StartsAt = us.StartsAt.UTC()
			us.StartsAt = &curr.StartsAt
		}
		if us.EndsAt != nil {
			curr.EndsAt = us.EndsAt.UTC()
			us.EndsAt = &curr.EndsAt
		}
		if !curr.EndsAt.After(curr.StartsAt) {
			return ScheduleItem{}, core.NewValidationError(
				errEndsBeforeStart,
				core.FieldError{Field: "ends_at", Error: errEndsBeforeStart.Error()},
			)
		}
	}

	patch, err := encodeData(us)
	if err != nil {
		return ScheduleItem{}, err
	}
	doc, err := svc.docs.Update(ctx, CollectionSchedule, id, patch)
	if err != nil {
		return ScheduleItem{}, errors.Wrap(err, "updating schedule item")
	}
	return fromDocument[ScheduleItem](doc)
}

func (svc *Service) DeleteScheduleItem(ctx context.Context, actor user.User, classroomID, id string) error {
	if err := svc.checkManage(ctx, actor, classroomID, CollectionSchedule, id); err != nil {
		return err
	}
	return svc.docs.Delete(ctx, CollectionSchedule, id)
}

// Chat

// FetchMessages lists a classroom's chat messages, oldest first.
func (svc *Service) FetchMessages(ctx context.Context, classroomID string) ([]ChatMessage, error) {
	docs, err := svc.docs.List(ctx, CollectionMessages, core.ScopeFilter(classroomID))
	if err != nil {
		return nil, errors.Wrap(err, "listing messages")
	}
	return fromDocuments[ChatMessage](docs)
}

func (svc *Service) PostMessage(ctx context.Context, actor user.User, classroomID string, nm NewChatMessage) (ChatMessage, error) {
	cls, err := svc.getClassroom(ctx, classroomID)
	if err != nil {
		return ChatMessage{}, err
	}
	if !cls.IsMember(actor) {
		return ChatMessage{}, core.ErrPermissionDenied
	}
	nm.Body = core.CleanString(nm.Body)
	nm.Attachment = core.CleanString(nm.Attachment)
	if err = svc.validate.Struct(nm); err != nil {
		return ChatMessage{}, err
	}

	data, err := encodeData(ChatMessage{
		AuthorID:   actor.ID,
		AuthorName: actor.Name,
		Body:       nm.Body,
		Attachment: nm.Attachment,
	})
	if err != nil {
		return ChatMessage{}, err
	}
	doc, err := svc.docs.Create(ctx, CollectionMessages, core.Document{ScopeID: cls.ID, Data: data})
	if err != nil {
		return ChatMessage{}, errors.Wrap(err, "posting message")
	}
	return fromDocument[ChatMessage](doc)
}

// DeleteMessage deletes a chat message; authors may delete their own messages, managers any.
func (svc *Service) DeleteMessage(ctx context.Context, actor user.User, classroomID, id string) error {
	cls, err := svc.getClassroom(ctx, classroomID)
	if err != nil {
		return err
	}
	msg, err := svc.getScoped(ctx, CollectionMessages, classroomID, id)
	if err != nil {
		return err
	}
	m, err := fromDocument[ChatMessage](msg)
	if err != nil {
		return err
	}
	if !(cls.CanManage(actor) || (cls.IsMember(actor) && m.AuthorID == actor.ID)) {
		return core.ErrPermissionDenied
	}
	return svc.docs.Delete(ctx, CollectionMessages, id)
}

// checkManage checks that actor manages the classroom and that the document belongs to it.
func (svc *Service) checkManage(ctx context.Context, actor user.User, classroomID, collection, id string) error {
	cls, err := svc.getClassroom(ctx, classroomID)
	if err != nil {
		return err
	}
	if !cls.CanManage(actor) {
		return core.ErrPermissionDenied
	}
	_, err = svc.getScoped(ctx, collection, classroomID, id)
	return err
}

// getScoped gets a document, hiding documents of other classrooms behind core.ErrNotFound.
func (svc *Service) getScoped(ctx context.Context, collection, classroomID, id string) (core.Document, error) {
	doc, err := svc.docs.Get(ctx, collection, id)
	if err != nil {
		return core.Document{}, err
	}
	if doc.ScopeID != classroomID {
		return core.Document{}, errors.Wrapf(core.ErrNotFound, "%s %s", collection, id)
	}
	return doc, nil
}
