package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/castpoint/castpoint/internal/ports"
	"github.com/castpoint/castpoint/pkg/cast"
)

// Service orchestrates castpoint CLI use cases.
type Service struct {
	Broker ports.Broker
	Feeds  ports.FeedResolver
	Clock  ports.Clock
	IDGen  ports.IDGen
	Config Config
}

func (s Service) resolver() Resolver {
	return Resolver{Broker: s.Broker, Config: s.Config}
}

// ListNodes returns the online castpoint nodes.
func (s Service) ListNodes(ctx context.Context) (NodesResult, error) {
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return NodesResult{}, WrapError(ExitRuntime, "list nodes", err)
	}
	return NodesResult{Nodes: nodes}, nil
}

// Devices returns the devices a node currently knows about.
func (s Service) Devices(ctx context.Context, nodeSel string) (DevicesResult, error) {
	node, err := s.resolver().ResolveNode(ctx, nodeSel)
	if err != nil {
		return DevicesResult{}, err
	}
	reply, err := s.command(ctx, node.NodeID, "device.list", struct{}{})
	if err != nil {
		return DevicesResult{}, err
	}
	var body cast.DeviceListReply
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		return DevicesResult{}, WrapError(ExitRuntime, "decode device list", err)
	}
	return DevicesResult{NodeID: node.NodeID, Devices: body.Devices}, nil
}

// SearchStart asks a node to begin an SSDP search.
func (s Service) SearchStart(ctx context.Context, nodeSel string, timeout time.Duration) (SearchResult, error) {
	node, err := s.resolver().ResolveNode(ctx, nodeSel)
	if err != nil {
		return SearchResult{}, err
	}
	reply, err := s.command(ctx, node.NodeID, "search.start", cast.SearchStartBody{TimeoutMS: timeout.Milliseconds()})
	if err != nil {
		return SearchResult{}, err
	}
	var body cast.SearchStateReply
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		return SearchResult{}, WrapError(ExitRuntime, "decode search reply", err)
	}
	return SearchResult{NodeID: node.NodeID, State: body}, nil
}

// SearchStop cancels an in-flight search on a node.
func (s Service) SearchStop(ctx context.Context, nodeSel string) (SearchResult, error) {
	node, err := s.resolver().ResolveNode(ctx, nodeSel)
	if err != nil {
		return SearchResult{}, err
	}
	reply, err := s.command(ctx, node.NodeID, "search.stop", struct{}{})
	if err != nil {
		return SearchResult{}, err
	}
	var body cast.SearchStateReply
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		return SearchResult{}, WrapError(ExitRuntime, "decode search reply", err)
	}
	return SearchResult{NodeID: node.NodeID, State: body}, nil
}

// Cast loads a URI (or the newest enclosure of a feed) onto a device.
func (s Service) Cast(ctx context.Context, nodeSel, deviceSel, uri, feedURL string, play bool) (CastResult, error) {
	node, err := s.resolver().ResolveNode(ctx, nodeSel)
	if err != nil {
		return CastResult{}, err
	}
	device, err := s.resolver().ResolveDevice(ctx, node.NodeID, deviceSel)
	if err != nil {
		return CastResult{}, err
	}

	result := CastResult{
		NodeID:   node.NodeID,
		DeviceID: device.ID,
		Device:   device.Name,
		URI:      uri,
	}

	metadata := ""
	if feedURL != "" {
		if s.Feeds == nil {
			return CastResult{}, &CLIError{Code: ExitRuntime, Msg: "feed resolution not configured"}
		}
		item, err := s.Feeds.Latest(ctx, feedURL)
		if err != nil {
			return CastResult{}, WrapError(ExitRuntime, "resolve feed", err)
		}
		result.URI = item.URL
		result.Title = item.Title
		result.Feed = &item
		metadata = didlLite(item.Title, item.URL, item.MimeType)
	}
	if result.URI == "" {
		return CastResult{}, &CLIError{Code: ExitUsage, Msg: "a media URI or feed URL is required"}
	}

	body := cast.CastLoadBody{
		DeviceID: device.ID,
		URI:      result.URI,
		Metadata: metadata,
		Play:     play,
	}
	if _, err := s.command(ctx, node.NodeID, "cast.load", body); err != nil {
		return CastResult{}, err
	}
	return result, nil
}

// Play resumes playback on a device.
func (s Service) Play(ctx context.Context, nodeSel, deviceSel string) error {
	return s.control(ctx, nodeSel, deviceSel, "playback.play", cast.ActionPlay, "")
}

// Pause pauses playback on a device.
func (s Service) Pause(ctx context.Context, nodeSel, deviceSel string) error {
	return s.control(ctx, nodeSel, deviceSel, "playback.pause", cast.ActionPause, "")
}

// Stop stops playback on a device.
func (s Service) Stop(ctx context.Context, nodeSel, deviceSel string) error {
	return s.control(ctx, nodeSel, deviceSel, "playback.stop", cast.ActionStop, "")
}

// Seek jumps to a position given as seconds, mm:ss or hh:mm:ss.
func (s Service) Seek(ctx context.Context, nodeSel, deviceSel, target string) error {
	if strings.TrimSpace(target) == "" {
		return &CLIError{Code: ExitUsage, Msg: "seek target required"}
	}
	return s.control(ctx, nodeSel, deviceSel, "playback.seek", cast.ActionSeek, target)
}

// SetVolume sets the absolute volume 0-100.
func (s Service) SetVolume(ctx context.Context, nodeSel, deviceSel string, volume int) error {
	if volume < 0 || volume > 100 {
		return &CLIError{Code: ExitUsage, Msg: "volume must be between 0 and 100"}
	}
	return s.control(ctx, nodeSel, deviceSel, "volume.set", cast.ActionSetVolume, strconv.Itoa(volume))
}

// SetMute mutes or unmutes a device.
func (s Service) SetMute(ctx context.Context, nodeSel, deviceSel string, mute bool) error {
	return s.control(ctx, nodeSel, deviceSel, "mute.set", cast.ActionSetMute, strconv.FormatBool(mute))
}

// Status queries the live player state for a device.
func (s Service) Status(ctx context.Context, nodeSel, deviceSel string) (StatusResult, error) {
	node, err := s.resolver().ResolveNode(ctx, nodeSel)
	if err != nil {
		return StatusResult{}, err
	}
	device, err := s.resolver().ResolveDevice(ctx, node.NodeID, deviceSel)
	if err != nil {
		return StatusResult{}, err
	}
	reply, err := s.command(ctx, node.NodeID, "player.state", cast.PlayerStateBody{DeviceID: device.ID})
	if err != nil {
		return StatusResult{}, err
	}
	var state cast.PlayerState
	if err := json.Unmarshal(reply.Body, &state); err != nil {
		return StatusResult{}, WrapError(ExitRuntime, "decode player state", err)
	}
	return StatusResult{NodeID: node.NodeID, DeviceID: device.ID, State: state}, nil
}

// WatchEvents streams device events from a node.
func (s Service) WatchEvents(ctx context.Context, nodeSel string) (<-chan cast.Event, <-chan error, error) {
	node, err := s.resolver().ResolveNode(ctx, nodeSel)
	if err != nil {
		return nil, nil, err
	}
	events, errs := s.Broker.WatchEvents(ctx, node.NodeID)
	return events, errs, nil
}

func (s Service) control(ctx context.Context, nodeSel, deviceSel, cmdType string, action cast.Action, value string) error {
	node, err := s.resolver().ResolveNode(ctx, nodeSel)
	if err != nil {
		return err
	}
	device, err := s.resolver().ResolveDevice(ctx, node.NodeID, deviceSel)
	if err != nil {
		return err
	}
	body := cast.ControlBody{DeviceID: device.ID, Action: action, Value: value}
	_, err = s.command(ctx, node.NodeID, cmdType, body)
	return err
}

func (s Service) command(ctx context.Context, nodeID string, cmdType string, body any) (cast.ReplyEnvelope, error) {
	cmd, err := cast.NewCommand(cmdType, body)
	if err != nil {
		return cast.ReplyEnvelope{}, WrapError(ExitRuntime, "build command", err)
	}
	cmd.ID = s.IDGen.NewID()
	cmd.TS = s.Clock.NowUnix()
	cmd.From = s.Config.Identity
	cmd.ReplyTo = s.Broker.ReplyTopic()

	reply, err := s.Broker.PublishCommand(ctx, nodeID, cmd)
	if err != nil {
		return cast.ReplyEnvelope{}, WrapError(ExitRuntime, "publish command", err)
	}
	if reply.Err != nil {
		return cast.ReplyEnvelope{}, ErrorForReplyCode(reply.Err.Code, reply.Err.Message)
	}
	return reply, nil
}

// didlLite wraps a single item in the minimal DIDL-Lite envelope renderers
// expect as CurrentURIMetaData.
func didlLite(title, uri, mimeType string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">`+
		`<item id="0" parentID="-1" restricted="1">`+
		`<dc:title>%s</dc:title>`+
		`<upnp:class>object.item.audioItem</upnp:class>`+
		`<res protocolInfo="http-get:*:%s:*">%s</res>`+
		`</item></DIDL-Lite>`,
		xmlEscape(title), mimeType, xmlEscape(uri))
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(s)
}
