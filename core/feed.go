package core

import (
	"encoding/json"
	"strings"
)

// EventType is the kind of change pushed by a Feed.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

type (
	// FeedEvent is one change notification. Delete events carry the last known document.
	FeedEvent struct {
		Type     EventType `json:"type"`
		Channel  string    `json:"channel"`
		Document Document  `json:"document"`
	}

	// Subscription is an open feed subscription. It must be closed by its owner.
	Subscription interface {
		Close() error
	}

	// Feed pushes create/update/delete events for a channel.
	// No ordering or exactly-once delivery is guaranteed.
	Feed interface {
		Subscribe(channel string, handler func(FeedEvent)) (Subscription, error)
	}
)

// ChannelName is the feed channel of one scoped collection, e.g. "assignments:<classroomID>".
func ChannelName(collection, scopeID string) string {
	return collection + ":" + scopeID
}

// SplitChannelName is the inverse of ChannelName.
func SplitChannelName(channel string) (collection, scopeID string, ok bool) {
	i := strings.Index(channel, ":")
	if i <= 0 || i == len(channel)-1 {
		return "", "", false
	}
	return channel[:i], channel[i+1:], true
}

func (evt FeedEvent) Marshal() ([]byte, error) {
	return json.Marshal(evt)
}
