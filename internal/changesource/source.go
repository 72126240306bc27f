// Package changesource provides subscriptions to directory-content change
// notifications. A subscription first enumerates the directory and emits one
// EventGatheringFinished, then emits EventUpdated whenever the observed set
// changes, and EventError for provider failures. Two sources are provided:
// LocalSource watches a provider-synchronized directory with fsnotify, and
// WebSocketSource consumes a provider's push notification stream.
package changesource

import (
	"context"
	"time"

	"github.com/tonimelisma/cloudmon/internal/container"
)

// EventKind identifies the type of a change-source event.
type EventKind int

// Event kinds.
const (
	EventGatheringFinished EventKind = iota + 1
	EventUpdated
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventGatheringFinished:
		return "gathering_finished"
	case EventUpdated:
		return "updated"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the download state of an observed item.
type Status string

// Item download states.
const (
	StatusCurrent       Status = "current"
	StatusNotDownloaded Status = "not_downloaded"
)

// Item is the metadata of one observed file. Path is relative to the watched
// directory, slash-separated and NFC-normalized.
type Item struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Status  Status    `json:"status"`
}

// Delta describes how the observed set changed between two deliveries.
type Delta struct {
	Added    []Item
	Modified []Item
	Removed  []Item
}

// Empty reports whether the delta contains no changes.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// Event is one notification from a subscription. Items holds the full
// current set (sorted by path) for gathering and update events; Delta is set
// for update events; Err is set for error events, typically a
// *syncerr.ProviderError.
type Event struct {
	Kind  EventKind
	Items []Item
	Delta Delta
	Err   error
}

// Query scopes a subscription.
type Query struct {
	ContainerID string
	Dir         string
	FileType    container.FileType
}

// Source creates subscriptions.
type Source interface {
	Subscribe(ctx context.Context, q Query) (Subscription, error)
}

// Subscription is a live change feed. Events is closed when the
// subscription ends, either through Close or because the provider
// terminated it. Close is idempotent; after it returns no further events
// are sent.
type Subscription interface {
	Events() <-chan Event
	Close() error
}
