package ports

import (
	"context"
	"time"

	"github.com/castpoint/castpoint/pkg/cast"
)

// Broker publishes commands and reads retained presence and device lists.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, nodeID string, cmd cast.CommandEnvelope) (cast.ReplyEnvelope, error)
	ListPresence(ctx context.Context) ([]cast.Presence, error)
	GetDeviceList(ctx context.Context, nodeID string) (cast.DeviceListReply, error)
	WatchEvents(ctx context.Context, nodeID string) (<-chan cast.Event, <-chan error)
}

// Clock returns the current unix time in seconds.
type Clock interface {
	NowUnix() int64
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}

// FeedResolver resolves the latest playable item from a feed.
type FeedResolver interface {
	Latest(ctx context.Context, feedURL string) (FeedItem, error)
}

// FeedItem is a playable entry resolved from a feed.
type FeedItem struct {
	Title     string
	URL       string
	MimeType  string
	Published time.Time
}
