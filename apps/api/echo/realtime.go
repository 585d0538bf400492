package echoapi

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/classroom"
	"github.com/trezcool/masomo-live/services/realtime"
)

type realtimeApi struct {
	auth   *authenticator
	board  *classroom.Board
	hub    *realtime.Hub
	logger core.Logger
}

// registerRealtimeAPI serves the change feed of a classroom collection over a WebSocket.
// Browsers cannot set headers on WebSocket requests so the token is read from `?token=`.
func registerRealtimeAPI(g *echo.Group, auth *authenticator, board *classroom.Board, hub *realtime.Hub, logger core.Logger) {
	api := realtimeApi{auth: auth, board: board, hub: hub, logger: logger}

	jwt := middleware.JWTWithConfig(auth.queryJWTConfig())
	g.GET("/realtime/:collection/:cid", api.serve, jwt, activeUserMiddleware(auth))
}

func isFeedCollection(collection string) bool {
	for _, c := range classroom.Collections {
		if c == collection {
			return true
		}
	}
	return false
}

func (api *realtimeApi) serve(ctx echo.Context) error {
	collection, cid := ctx.Param("collection"), ctx.Param("cid")
	if !isFeedCollection(collection) {
		return errHttpNotFound
	}

	actor, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if _, err = api.board.Service().GetClassroom(ctx.Request().Context(), actor, cid); err != nil {
		return errors.Wrap(err, "getting classroom")
	}

	channel := core.ChannelName(collection, cid)
	if err = api.hub.ServeWS(ctx.Response(), ctx.Request(), channel); err != nil {
		if ctx.Response().Committed {
			// the upgrader has answered already
			api.logger.Warn(fmt.Sprintf("realtime: %s: %v", channel, err), err, actor)
			return nil
		}
		return errors.Wrap(err, "serving realtime feed")
	}
	return nil
}
