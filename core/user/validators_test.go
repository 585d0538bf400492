package user_test

import (
	"io"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/user"
	logsvc "github.com/trezcool/masomo-live/services/logger"
)

func newValidator(t *testing.T) (*validator.Validate, func(error) map[string]string) {
	t.Helper()

	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(io.Discard, "TEST", conf)
	logger.Enable(false)
	user.LoadCommonPasswords(core.Getwd(), logger)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// field -> translated message
	translate := func(err error) map[string]string {
		var verrs validator.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		msgs := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			msgs[fe.Field()] = fe.Translate(translator)
		}
		return msgs
	}
	return validate, translate
}

func TestNewUser_Validation(t *testing.T) {
	validate, translate := newValidator(t)

	valid := func() user.NewUser {
		return user.NewUser{
			Name:            "Jean Kabasele",
			Username:        "kabasele",
			Email:           "jean@test.cd",
			Password:        "Tr0ub4dor&3",
			PasswordConfirm: "Tr0ub4dor&3",
			Roles:           []string{user.RoleTeacher},
		}
	}

	tests := []struct {
		name   string
		modify func(nu *user.NewUser)
		want   map[string]string
	}{
		{name: "valid", modify: func(nu *user.NewUser) {}},
		{name: "email only", modify: func(nu *user.NewUser) { nu.Username = "" }},
		{
			name:   "name required",
			modify: func(nu *user.NewUser) { nu.Name = "" },
			want:   map[string]string{"name": "this field is required"},
		},
		{
			name:   "username or email",
			modify: func(nu *user.NewUser) { nu.Username, nu.Email = "", "" },
			want: map[string]string{
				"username": "one of username or email is required",
				"email":    "one of username or email is required",
			},
		},
		{
			name:   "username charset",
			modify: func(nu *user.NewUser) { nu.Username = "jean-k.b" },
			want:   map[string]string{"username": "only alphanumeric characters and underscores are allowed"},
		},
		{
			name:   "unknown role",
			modify: func(nu *user.NewUser) { nu.Roles = []string{user.RoleStudent, "janitor:"} },
			want:   map[string]string{"roles": "invalid roles"},
		},
		{
			name: "password too short",
			modify: func(nu *user.NewUser) {
				nu.Password, nu.PasswordConfirm = "Ab1!", "Ab1!"
			},
			want: map[string]string{"password": "password must contain at least 8 characters"},
		},
		{
			name: "password with space",
			modify: func(nu *user.NewUser) {
				nu.Password, nu.PasswordConfirm = "Tr0ub 4dor&3", "Tr0ub 4dor&3"
			},
			want: map[string]string{"password": "password must not contain whitespace"},
		},
		{
			name: "numeric password",
			modify: func(nu *user.NewUser) {
				nu.Password, nu.PasswordConfirm = "1234567890", "1234567890"
			},
			want: map[string]string{"password": "password cannot be entirely numeric"},
		},
		{
			name: "simple password",
			modify: func(nu *user.NewUser) {
				nu.Password, nu.PasswordConfirm = "troubadour3", "troubadour3"
			},
			want: map[string]string{"password": "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"},
		},
		{
			name: "password similar to username",
			modify: func(nu *user.NewUser) {
				nu.Password, nu.PasswordConfirm = "Kabasele1!", "Kabasele1!"
			},
			want: map[string]string{"password": "password cannot be similar to user attributes"},
		},
		{
			name: "common password",
			modify: func(nu *user.NewUser) {
				nu.Password, nu.PasswordConfirm = "P@ssw0rd", "P@ssw0rd"
			},
			want: map[string]string{"password": "password is too common"},
		},
		{
			name:   "confirmation mismatch",
			modify: func(nu *user.NewUser) { nu.PasswordConfirm = "Tr0ub4dor&4" },
			want:   map[string]string{"password_confirm": "password_confirm must be equal to Password"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := valid()
			tt.modify(&nu)
			err := validate.Struct(nu)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.Equal(t, tt.want, translate(err))
		})
	}
}

func TestUpdateUser_Validation(t *testing.T) {
	validate, translate := newValidator(t)

	// nothing set
	require.NoError(t, validate.Struct(user.UpdateUser{}))

	err := validate.Struct(user.UpdateUser{Password: "Tr0ub4dor&3"})
	require.Equal(t, map[string]string{"password_confirm": "this field is required"}, translate(err))

	err = validate.Struct(user.UpdateUser{Name: "Jean", Password: "short", PasswordConfirm: "short"})
	require.Equal(t, map[string]string{"password": "password must contain at least 8 characters"}, translate(err))
}
