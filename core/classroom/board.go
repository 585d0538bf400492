package classroom

import (
	"context"
	"time"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/cache"
	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/core/user"
)

// Board serves the classroom collections through the live layer: one shared store per
// classroom and collection, fed by the feed and backed by a TTL cache. Reads of a fresh
// scope do not query the document store.
type Board struct {
	svc *Service

	assignmentsCache *cache.Cache[[]Assignment]
	scheduleCache    *cache.Cache[[]ScheduleItem]
	messagesCache    *cache.Cache[[]ChatMessage]

	Assignments *live.Registry[Assignment]
	Schedule    *live.Registry[ScheduleItem]
	Messages    *live.Registry[ChatMessage]
}

// NewBoard wires the registries; feed may be nil (no live updates, cache TTL only).
func NewBoard(svc *Service, feed core.Feed, ttl time.Duration) *Board {
	b := &Board{
		svc:              svc,
		assignmentsCache: cache.New[[]Assignment](),
		scheduleCache:    cache.New[[]ScheduleItem](),
		messagesCache:    cache.New[[]ChatMessage](),
	}
	b.Assignments = live.NewRegistry(
		CollectionAssignments,
		live.Source[Assignment]{Fetch: svc.FetchAssignments, Feed: feed, Decode: DecodeAssignmentEvent},
		live.WithCache(b.assignmentsCache, ttl), live.PersistMutations[Assignment](),
	)
	b.Schedule = live.NewRegistry(
		CollectionSchedule,
		live.Source[ScheduleItem]{Fetch: svc.FetchSchedule, Feed: feed, Decode: DecodeScheduleEvent},
		live.WithCache(b.scheduleCache, ttl), live.PersistMutations[ScheduleItem](),
	)
	b.Messages = live.NewRegistry(
		CollectionMessages,
		live.Source[ChatMessage]{Fetch: svc.FetchMessages, Feed: feed, Decode: DecodeMessageEvent},
		live.WithCache(b.messagesCache, ttl), live.PersistMutations[ChatMessage](),
	)
	return b
}

func (b *Board) Service() *Service { return b.svc }

// CacheStats sums the hit/miss counters of the collection caches.
func (b *Board) CacheStats() cache.Stats {
	var total cache.Stats
	for _, s := range []cache.Stats{b.assignmentsCache.Stats(), b.scheduleCache.Stats(), b.messagesCache.Stats()} {
		total.Hits += s.Hits
		total.Misses += s.Misses
	}
	return total
}

// Assignments

// ListAssignments returns a classroom's assignments, oldest first.
func (b *Board) ListAssignments(ctx context.Context, actor user.User, classroomID string) ([]Assignment, error) {
	if _, err := b.svc.GetClassroom(ctx, actor, classroomID); err != nil {
		return nil, err
	}
	return list(ctx, b.Assignments, classroomID)
}

func (b *Board) CreateAssignment(ctx context.Context, actor user.User, classroomID string, na NewAssignment) (Assignment, error) {
	asgmt, err := b.svc.CreateAssignment(ctx, actor, classroomID, na)
	if err != nil {
		return Assignment{}, err
	}
	created(b.Assignments, asgmt)
	return asgmt, nil
}

func (b *Board) UpdateAssignment(ctx context.Context, actor user.User, classroomID, id string, ua UpdateAssignment) (Assignment, error) {
	asgmt, err := b.svc.UpdateAssignment(ctx, actor, classroomID, id, ua)
	if err != nil {
		return Assignment{}, err
	}
	updated(b.Assignments, asgmt)
	return asgmt, nil
}

func (b *Board) DeleteAssignment(ctx context.Context, actor user.User, classroomID, id string) error {
	if err := b.svc.DeleteAssignment(ctx, actor, classroomID, id); err != nil {
		return err
	}
	deleted(b.Assignments, classroomID, id)
	return nil
}

// Schedule

// ListSchedule returns a classroom's schedule ordered by start time.
func (b *Board) ListSchedule(ctx context.Context, actor user.User, classroomID string) ([]ScheduleItem, error) {
	if _, err := b.svc.GetClassroom(ctx, actor, classroomID); err != nil {
		return nil, err
	}
	view, err := b.Schedule.Mount(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	defer view.Close()

	return view.Store().Sorted(func(i, j ScheduleItem) bool {
		return i.StartsAt.Before(j.StartsAt)
	}), nil
}

func (b *Board) CreateScheduleItem(ctx context.Context, actor user.User, classroomID string, ns NewScheduleItem) (ScheduleItem, error) {
	item, err := b.svc.CreateScheduleItem(ctx, actor, classroomID, ns)
	if err != nil {
		return ScheduleItem{}, err
	}
	created(b.Schedule, item)
	return item, nil
}

func (b *Board) UpdateScheduleItem(ctx context.Context, actor user.User, classroomID, id string, us UpdateScheduleItem) (ScheduleItem, error) {
	item, err := b.svc.UpdateScheduleItem(ctx, actor, classroomID, id, us)
	if err != nil {
		return ScheduleItem{}, err
	}
	updated(b.Schedule, item)
	return item, nil
}

func (b *Board) DeleteScheduleItem(ctx context.Context, actor user.User, classroomID, id string) error {
	if err := b.svc.DeleteScheduleItem(ctx, actor, classroomID, id); err != nil {
		return err
	}
	deleted(b.Schedule, classroomID, id)
	return nil
}

// Chat

// ListMessages returns a classroom's chat messages, oldest first.
func (b *Board) ListMessages(ctx context.Context, actor user.User, classroomID string) ([]ChatMessage, error) {
	if _, err := b.svc.GetClassroom(ctx, actor, classroomID); err != nil {
		return nil, err
	}
	return list(ctx, b.Messages, classroomID)
}

func (b *Board) PostMessage(ctx context.Context, actor user.User, classroomID string, nm NewChatMessage) (ChatMessage, error) {
	msg, err := b.svc.PostMessage(ctx, actor, classroomID, nm)
	if err != nil {
		return ChatMessage{}, err
	}
	created(b.Messages, msg)
	return msg, nil
}

func (b *Board) DeleteMessage(ctx context.Context, actor user.User, classroomID, id string) error {
	if err := b.svc.DeleteMessage(ctx, actor, classroomID, id); err != nil {
		return err
	}
	deleted(b.Messages, classroomID, id)
	return nil
}

// DeleteClassroom deletes the classroom and drops its cached collections.
func (b *Board) DeleteClassroom(ctx context.Context, actor user.User, id string) error {
	if err := b.svc.DeleteClassroom(ctx, actor, id); err != nil {
		return err
	}
	b.Assignments.Invalidate(id)
	b.Schedule.Invalidate(id)
	b.Messages.Invalidate(id)
	return nil
}

func list[T live.Record](ctx context.Context, reg *live.Registry[T], scopeID string) ([]T, error) {
	view, err := reg.Mount(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	defer view.Close()
	return view.Store().Snapshot(), nil
}

// created adds rec to its scope's store when some consumer holds it (the create event
// may arrive before or after). Without a held store, the cached scope is dropped instead.
func created[T live.Record](reg *live.Registry[T], rec T) {
	if store, ok := reg.Lookup(rec.RecordScope()); ok {
		store.AddOptimistic(rec)
		return
	}
	reg.Invalidate(rec.RecordScope())
}

func updated[T live.Record](reg *live.Registry[T], rec T) {
	if store, ok := reg.Lookup(rec.RecordScope()); ok {
		store.ApplyEvent(live.Updated(rec))
		return
	}
	reg.Invalidate(rec.RecordScope())
}

func deleted[T live.Record](reg *live.Registry[T], scopeID, id string) {
	if store, ok := reg.Lookup(scopeID); ok {
		store.ApplyEvent(live.Deleted[T](id))
		return
	}
	reg.Invalidate(scopeID)
}
