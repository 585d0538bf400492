package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/user"
)

const targetUserKey = "targetUser"

var (
	errNoTargetUser   = errors.New("target user not loaded")
	errRolesTooHigh   = "not enough rights to set these roles"
	resetRequestedMsg = "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."
	resetDoneMsg = "Password has been reset with the new password."
)

// accounts serves sign-in, profiles and the user directory of the portal.
type accounts struct {
	auth     *authenticator
	svc      *user.Service
	validate *validator.Validate
}

func registerUserAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth *authenticator,
	svc *user.Service,
	validate *validator.Validate,
) {
	acc := &accounts{auth: auth, svc: svc, validate: validate}
	ug := g.Group("/users")

	// TODO: rate limit the sign-in and password reset endpoints
	ug.POST("/login", acc.signIn)
	ug.POST("/password-reset", acc.requestReset)
	ug.POST("/password-reset-confirm", acc.confirmReset)

	ag := ug.Group("", jwt)
	ag.POST("/token-refresh", acc.renewToken)
	ag.GET("/me", acc.profile, activeUserMiddleware(auth))
	ag.POST("/register", acc.register, adminMiddleware())
	ag.GET("", acc.directory, staffMiddleware())

	dg := ag.Group("/:id", acc.loadTarget)
	dg.GET("", acc.show)
	dg.PUT("", acc.edit)
	dg.DELETE("", acc.remove, adminMiddleware())
}

// actor is the authenticated user issuing the request.
func (acc *accounts) actor(ctx echo.Context) (user.User, error) {
	usr, err := acc.auth.contextUser(ctx)
	return usr, errors.Wrap(err, "getting context user")
}

func target(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(targetUserKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, errNoTargetUser
}

// checkGrant rejects roles ranking above everything the actor holds.
func checkGrant(actor user.User, roles []string) error {
	if user.MaxRolePriority(roles) > user.MaxRolePriority(actor.Roles) {
		return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: errRolesTooHigh})
	}
	return nil
}

func (acc *accounts) signIn(ctx echo.Context) error {
	var creds Credentials
	if err := ctx.Bind(&creds); err != nil {
		return errors.Wrap(err, "binding to Credentials")
	}
	if err := creds.Validate(acc.validate); err != nil {
		return err
	}

	claims, err := acc.auth.authenticate(ctx.Request().Context(), creds.Username, creds.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := acc.auth.generateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (acc *accounts) renewToken(ctx echo.Context) error {
	token, err := acc.auth.refreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (acc *accounts) requestReset(ctx echo.Context) error {
	var req PasswordResetRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := req.Validate(acc.validate); err != nil {
		return err
	}

	// the answer is the same whether the address is known or not
	if err := acc.svc.RequestPasswordReset(ctx.Request().Context(), req.Email); err != nil && errors.Cause(err) != user.ErrNotFound {
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, Notice{Success: resetRequestedMsg})
}

func (acc *accounts) confirmReset(ctx echo.Context) error {
	var req user.ResetUserPassword
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := req.Validate(acc.validate); err != nil {
		return err
	}
	if err := acc.svc.ResetPassword(ctx.Request().Context(), req); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, Notice{Success: resetDoneMsg})
}

func (acc *accounts) profile(ctx echo.Context) error {
	me, err := acc.actor(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, me)
}

func (acc *accounts) register(ctx echo.Context) error {
	rctx := ctx.Request().Context()

	var nu user.NewUser
	if err := ctx.Bind(&nu); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := nu.Validate(rctx, acc.validate, acc.svc); err != nil {
		return err
	}
	actor, err := acc.actor(ctx)
	if err != nil {
		return err
	}
	if err = checkGrant(actor, nu.Roles); err != nil {
		return err
	}

	usr, err := acc.svc.Create(rctx, nu)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

// directory lists users for admins; teachers only see active students, to fill their rosters.
func (acc *accounts) directory(ctx echo.Context) error {
	var filter user.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()

	actor, err := acc.actor(ctx)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		active := true
		filter.Roles = user.StudentRoles
		filter.IsActive = &active
	}

	users, err := acc.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	ord := new(Ordering)
	ord.Bind(ctx)
	ord.SortUsers(users)
	return ctx.JSON(http.StatusOK, users)
}

// loadTarget resolves :id for its owner or an admin; anybody else gets a 404.
func (acc *accounts) loadTarget(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := acc.actor(ctx)
		if err != nil {
			return err
		}
		id := ctx.Param("id")
		if id != actor.ID && !actor.IsAdmin() {
			return errHttpNotFound
		}

		usr, err := acc.svc.GetByID(ctx.Request().Context(), id)
		switch {
		case errors.Cause(err) == user.ErrNotFound:
			return errHttpNotFound
		case err != nil:
			return errors.Wrap(err, "finding user by ID")
		}
		ctx.Set(targetUserKey, usr)
		return next(ctx)
	}
}

func (acc *accounts) show(ctx echo.Context) error {
	usr, err := target(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (acc *accounts) edit(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	usr, err := target(ctx)
	if err != nil {
		return err
	}
	actor, err := acc.actor(ctx)
	if err != nil {
		return err
	}

	var uu user.UpdateUser
	if err = ctx.Bind(&uu); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	// account status, roles and identifiers are managed by admins
	if !actor.IsAdmin() && (uu.IsActive != nil || uu.Roles != nil || uu.Username != "" || uu.Email != "") {
		return errHttpForbidden
	}
	if err = uu.Validate(rctx, usr, acc.validate, acc.svc); err != nil {
		return err
	}
	if err = checkGrant(actor, uu.Roles); err != nil {
		return err
	}

	usr, err = acc.svc.Update(rctx, usr, uu)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

// remove deletes the target; admins cannot delete themselves or a higher ranked user.
func (acc *accounts) remove(ctx echo.Context) error {
	usr, err := target(ctx)
	if err != nil {
		return err
	}
	actor, err := acc.actor(ctx)
	if err != nil {
		return err
	}
	if usr.ID == actor.ID || user.MaxRolePriority(usr.Roles) > user.MaxRolePriority(actor.Roles) {
		return errHttpForbidden
	}

	if err = acc.svc.Delete(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type (
	Credentials struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	Notice struct {
		Success string `json:"success"`
	}
)

func (c *Credentials) Validate(validate *validator.Validate) error {
	c.Username = core.CleanString(c.Username, true /* lower */)
	return validate.Struct(c)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
