package core

import (
	"github.com/castpoint/castpoint/internal/ports"
	"github.com/castpoint/castpoint/pkg/cast"
)

// NodesResult holds a list of presence records.
type NodesResult struct {
	Nodes []cast.Presence
}

// DevicesResult holds a node's discovered devices.
type DevicesResult struct {
	NodeID  string
	Devices []cast.DeviceSnapshot
}

// SearchResult reports discovery lifecycle state after a search command.
type SearchResult struct {
	NodeID string
	State  cast.SearchStateReply
}

// CastResult reports what was loaded where.
type CastResult struct {
	NodeID   string
	DeviceID string
	Device   string
	URI      string
	Title    string
	Feed     *ports.FeedItem
}

// StatusResult holds the live player state for one device.
type StatusResult struct {
	NodeID   string
	DeviceID string
	State    cast.PlayerState
}

// RawResult holds arbitrary JSON data for output.
type RawResult struct {
	Data any
}
