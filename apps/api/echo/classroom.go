package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"github.com/trezcool/masomo-live/core/classroom"
	"github.com/trezcool/masomo-live/core/user"
)

type classroomApi struct {
	auth  *authenticator
	board *classroom.Board
}

func registerClassroomAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, board *classroom.Board) {
	api := classroomApi{auth: auth, board: board}

	cg := g.Group("/classrooms", jwt, activeUserMiddleware(auth))
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.GET("/:cid", api.retrieve)
	cg.PUT("/:cid", api.update)
	cg.DELETE("/:cid", api.destroy)

	cg.GET("/:cid/assignments", api.listAssignments)
	cg.POST("/:cid/assignments", api.createAssignment)
	cg.PUT("/:cid/assignments/:id", api.updateAssignment)
	cg.DELETE("/:cid/assignments/:id", api.destroyAssignment)

	cg.GET("/:cid/schedule", api.listSchedule)
	cg.POST("/:cid/schedule", api.createScheduleItem)
	cg.PUT("/:cid/schedule/:id", api.updateScheduleItem)
	cg.DELETE("/:cid/schedule/:id", api.destroyScheduleItem)

	cg.GET("/:cid/messages", api.listMessages)
	cg.POST("/:cid/messages", api.postMessage)
	cg.DELETE("/:cid/messages/:id", api.destroyMessage)
}

func (api *classroomApi) actor(ctx echo.Context) (user.User, error) {
	usr, err := api.auth.contextUser(ctx)
	return usr, errors.Wrap(err, "getting context user")
}

// writeList writes a collection with an ETag; a matching If-None-Match gets a 304 without body.
func writeList(ctx echo.Context, list interface{}) error {
	body, err := json.Marshal(list)
	if err != nil {
		return errors.Wrap(err, "encoding list")
	}
	etag := fmt.Sprintf(`"%016x"`, xxh3.Hash(body))

	header := ctx.Response().Header()
	header.Set("ETag", etag)
	header.Set("Cache-Control", "private, no-cache")
	if matchesETag(ctx.Request().Header.Get("If-None-Match"), etag) {
		return ctx.NoContent(http.StatusNotModified)
	}
	return ctx.JSONBlob(http.StatusOK, body)
}

func matchesETag(ifNoneMatch, etag string) bool {
	for _, tag := range strings.Split(ifNoneMatch, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if tag == etag || tag == "*" {
			return true
		}
	}
	return false
}

// Classrooms

func (api *classroomApi) query(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	classrooms, err := api.board.Service().ListClassrooms(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "listing classrooms")
	}
	return writeList(ctx, classrooms)
}

func (api *classroomApi) create(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	var data classroom.NewClassroom
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClassroom")
	}
	cls, err := api.board.Service().CreateClassroom(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating classroom")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *classroomApi) retrieve(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	cls, err := api.board.Service().GetClassroom(ctx.Request().Context(), actor, ctx.Param("cid"))
	if err != nil {
		return errors.Wrap(err, "getting classroom")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classroomApi) update(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	var data classroom.UpdateClassroom
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClassroom")
	}
	cls, err := api.board.Service().UpdateClassroom(ctx.Request().Context(), actor, ctx.Param("cid"), data)
	if err != nil {
		return errors.Wrap(err, "updating classroom")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classroomApi) destroy(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	if err = api.board.DeleteClassroom(ctx.Request().Context(), actor, ctx.Param("cid")); err != nil {
		return errors.Wrap(err, "deleting classroom")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Assignments

func (api *classroomApi) listAssignments(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	list, err := api.board.ListAssignments(ctx.Request().Context(), actor, ctx.Param("cid"))
	if err != nil {
		return errors.Wrap(err, "listing assignments")
	}
	if list == nil {
		list = []classroom.Assignment{}
	}
	return writeList(ctx, list)
}

func (api *classroomApi) createAssignment(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	var data classroom.NewAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}
	asgmt, err := api.board.CreateAssignment(ctx.Request().Context(), actor, ctx.Param("cid"), data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, asgmt)
}

func (api *classroomApi) updateAssignment(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	var data classroom.UpdateAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAssignment")
	}
	asgmt, err := api.board.UpdateAssignment(ctx.Request().Context(), actor, ctx.Param("cid"), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating assignment")
	}
	return ctx.JSON(http.StatusOK, asgmt)
}

func (api *classroomApi) destroyAssignment(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	if err = api.board.DeleteAssignment(ctx.Request().Context(), actor, ctx.Param("cid"), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Schedule

func (api *classroomApi) listSchedule(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	list, err := api.board.ListSchedule(ctx.Request().Context(), actor, ctx.Param("cid"))
	if err != nil {
		return errors.Wrap(err, "listing schedule")
	}
	if list == nil {
		list = []classroom.ScheduleItem{}
	}
	return writeList(ctx, list)
}

func (api *classroomApi) createScheduleItem(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	var data classroom.NewScheduleItem
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewScheduleItem")
	}
	item, err := api.board.CreateScheduleItem(ctx.Request().Context(), actor, ctx.Param("cid"), data)
	if err != nil {
		return errors.Wrap(err, "creating schedule item")
	}
	return ctx.JSON(http.StatusCreated, item)
}

func (api *classroomApi) updateScheduleItem(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	var data classroom.UpdateScheduleItem
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateScheduleItem")
	}
	item, err := api.board.UpdateScheduleItem(ctx.Request().Context(), actor, ctx.Param("cid"), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating schedule item")
	}
	return ctx.JSON(http.StatusOK, item)
}

func (api *classroomApi) destroyScheduleItem(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	if err = api.board.DeleteScheduleItem(ctx.Request().Context(), actor, ctx.Param("cid"), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting schedule item")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Chat

func (api *classroomApi) listMessages(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	list, err := api.board.ListMessages(ctx.Request().Context(), actor, ctx.Param("cid"))
	if err != nil {
		return errors.Wrap(err, "listing messages")
	}
	if list == nil {
		list = []classroom.ChatMessage{}
	}
	return writeList(ctx, list)
}

func (api *classroomApi) postMessage(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	var data classroom.NewChatMessage
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewChatMessage")
	}
	msg, err := api.board.PostMessage(ctx.Request().Context(), actor, ctx.Param("cid"), data)
	if err != nil {
		return errors.Wrap(err, "posting message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *classroomApi) destroyMessage(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	if err = api.board.DeleteMessage(ctx.Request().Context(), actor, ctx.Param("cid"), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting message")
	}
	return ctx.NoContent(http.StatusNoContent)
}
