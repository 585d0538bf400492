package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/masomo-live/apps/api/echo"
	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/classroom"
	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/core/user"
	"github.com/trezcool/masomo-live/services/realtime"
)

type watchOptions struct {
	classroomID string
	collection  string
	as          string // username or email
	url         string
}

// watcher returns the user the feed is opened for.
func (cli *commandLine) watcher(ctx context.Context, uname string) (user.User, error) {
	if uname != "" {
		return cli.usrRepo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
	}
	active := true
	admins, err := cli.usrRepo.QueryUsers(ctx, user.QueryFilter{Roles: []string{user.RoleAdmin}, IsActive: &active})
	if err != nil {
		return user.User{}, err
	}
	if len(admins) == 0 {
		return user.User{}, errors.New("no active admin found, use -as")
	}
	return admins[0], nil
}

// watch prints the records of a classroom collection, then a new listing after every change
// pushed by the API, until ctx is done.
func (cli *commandLine) watch(ctx context.Context, opts watchOptions) error {
	usr, err := cli.watcher(ctx, opts.as)
	if err != nil {
		return errors.Wrap(err, "finding watcher")
	}
	cls, err := cli.clsSvc.GetClassroom(ctx, usr, opts.classroomID)
	if err != nil {
		return errors.Wrap(err, "getting classroom")
	}
	token, err := echoapi.NewToken(cli.conf, usr)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	feed := realtime.NewWSFeed(opts.url, token, cli.logger)

	switch opts.collection {
	case classroom.CollectionAssignments:
		reg := live.NewRegistry(opts.collection, live.Source[classroom.Assignment]{
			Fetch: cli.clsSvc.FetchAssignments, Feed: feed, Decode: classroom.DecodeAssignmentEvent,
		})
		return watchScope(ctx, reg, cls, cli.out, formatAssignment)
	case classroom.CollectionSchedule:
		reg := live.NewRegistry(opts.collection, live.Source[classroom.ScheduleItem]{
			Fetch: cli.clsSvc.FetchSchedule, Feed: feed, Decode: classroom.DecodeScheduleEvent,
		})
		return watchScope(ctx, reg, cls, cli.out, formatScheduleItem)
	case classroom.CollectionMessages:
		reg := live.NewRegistry(opts.collection, live.Source[classroom.ChatMessage]{
			Fetch: cli.clsSvc.FetchMessages, Feed: feed, Decode: classroom.DecodeMessageEvent,
		})
		return watchScope(ctx, reg, cls, cli.out, formatMessage)
	default:
		return errors.Errorf("unknown collection %q", opts.collection)
	}
}

func watchScope[T live.Record](
	ctx context.Context,
	reg *live.Registry[T],
	cls classroom.Classroom,
	out io.Writer,
	format func(T) string,
) error {
	view, err := reg.Mount(ctx, cls.ID)
	if err != nil {
		return errors.Wrapf(err, "mounting %s", core.ChannelName(reg.Collection(), cls.ID))
	}
	defer view.Close()

	show := func(records []T) {
		var b strings.Builder
		fmt.Fprintf(&b, "== %s / %s (%d)\n", cls.Name, reg.Collection(), len(records))
		for _, rec := range records {
			b.WriteString("  " + format(rec) + "\n")
		}
		_, _ = io.WriteString(out, b.String())
	}
	cancel := view.Store().Watch(show)
	defer cancel()
	show(view.Store().Snapshot())

	<-ctx.Done()
	return nil
}

func formatAssignment(a classroom.Assignment) string {
	due := "no due date"
	if a.DueAt.Valid {
		due = "due " + a.DueAt.Time.Format(time.RFC822)
	}
	return fmt.Sprintf("%s  %s (%s)", a.ID, a.Title, due)
}

func formatScheduleItem(s classroom.ScheduleItem) string {
	return fmt.Sprintf("%s  %s - %s  %s %s", s.ID, s.StartsAt.Format(time.RFC822), s.EndsAt.Format("15:04"), s.Title, s.Location)
}

func formatMessage(m classroom.ChatMessage) string {
	return fmt.Sprintf("%s  %s: %s", m.CreatedAt.Format(time.Kitchen), m.AuthorName, m.Body)
}
