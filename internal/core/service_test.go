package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/castpoint/castpoint/internal/ports"
	"github.com/castpoint/castpoint/pkg/cast"
)

type stubClock struct{}

func (stubClock) NowUnix() int64 { return 100 }

type stubIDGen struct{}

func (stubIDGen) NewID() string { return "id-1" }

type stubBroker struct {
	presence   []cast.Presence
	devices    map[string]cast.DeviceListReply
	replies    map[string]cast.ReplyEnvelope
	lastNode   string
	lastCmd    cast.CommandEnvelope
	replyTopic string
}

func (s *stubBroker) ReplyTopic() string { return s.replyTopic }

func (s *stubBroker) PublishCommand(ctx context.Context, nodeID string, cmd cast.CommandEnvelope) (cast.ReplyEnvelope, error) {
	s.lastNode = nodeID
	s.lastCmd = cmd
	if reply, ok := s.replies[cmd.Type]; ok {
		return reply, nil
	}
	return cast.ReplyEnvelope{ID: cmd.ID, Type: "ack", OK: true, TS: 101}, nil
}

func (s *stubBroker) ListPresence(ctx context.Context) ([]cast.Presence, error) {
	return s.presence, nil
}

func (s *stubBroker) GetDeviceList(ctx context.Context, nodeID string) (cast.DeviceListReply, error) {
	return s.devices[nodeID], nil
}

func (s *stubBroker) WatchEvents(ctx context.Context, nodeID string) (<-chan cast.Event, <-chan error) {
	eventCh := make(chan cast.Event)
	errCh := make(chan error)
	close(eventCh)
	close(errCh)
	return eventCh, errCh
}

type stubFeeds struct {
	item ports.FeedItem
}

func (s stubFeeds) Latest(ctx context.Context, feedURL string) (ports.FeedItem, error) {
	return s.item, nil
}

func newTestService(broker *stubBroker) Service {
	return Service{
		Broker: broker,
		Clock:  stubClock{},
		IDGen:  stubIDGen{},
		Config: Config{Identity: "tester"},
	}
}

func singleNodeBroker() *stubBroker {
	return &stubBroker{
		presence:   []cast.Presence{{NodeID: "office", Kind: "controlpoint", Name: "Office"}},
		replyTopic: "castpoint/v1/clients/test/replies",
		devices: map[string]cast.DeviceListReply{
			"office": {Devices: []cast.DeviceSnapshot{
				{ID: "uuid:dev-1", Name: "Living Room", Renderer: true},
			}},
		},
	}
}

func TestDevicesSendsDeviceList(t *testing.T) {
	broker := singleNodeBroker()
	body, err := json.Marshal(cast.DeviceListReply{Devices: []cast.DeviceSnapshot{{ID: "uuid:dev-1", Name: "Living Room"}}})
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	broker.replies = map[string]cast.ReplyEnvelope{
		"device.list": {ID: "id-1", Type: "ack", OK: true, TS: 101, Body: body},
	}

	service := newTestService(broker)
	result, err := service.Devices(context.Background(), "")
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if broker.lastNode != "office" {
		t.Fatalf("expected command on office node, got %s", broker.lastNode)
	}
	if broker.lastCmd.Type != "device.list" {
		t.Fatalf("expected device.list command, got %s", broker.lastCmd.Type)
	}
	if len(result.Devices) != 1 || result.Devices[0].Name != "Living Room" {
		t.Fatalf("unexpected devices: %+v", result.Devices)
	}
}

func TestCommandEnvelopeDecorated(t *testing.T) {
	broker := singleNodeBroker()
	service := newTestService(broker)

	if err := service.Play(context.Background(), "", "Living Room"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	cmd := broker.lastCmd
	if cmd.ID != "id-1" {
		t.Fatalf("expected generated ID, got %q", cmd.ID)
	}
	if cmd.TS != 100 {
		t.Fatalf("expected clock timestamp, got %d", cmd.TS)
	}
	if cmd.From != "tester" {
		t.Fatalf("expected identity, got %q", cmd.From)
	}
	if cmd.ReplyTo != broker.replyTopic {
		t.Fatalf("expected reply topic, got %q", cmd.ReplyTo)
	}

	var body cast.ControlBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.DeviceID != "uuid:dev-1" || body.Action != cast.ActionPlay {
		t.Fatalf("unexpected control body: %+v", body)
	}
}

func TestCastWithFeedResolvesEnclosure(t *testing.T) {
	broker := singleNodeBroker()
	service := newTestService(broker)
	service.Feeds = stubFeeds{item: ports.FeedItem{
		Title:    "Episode 42",
		URL:      "http://cdn.example/ep42.mp3",
		MimeType: "audio/mpeg",
	}}

	result, err := service.Cast(context.Background(), "", "uuid:dev-1", "", "http://feeds.example/pod.xml", true)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if result.URI != "http://cdn.example/ep42.mp3" {
		t.Fatalf("expected feed enclosure URI, got %s", result.URI)
	}
	if result.Title != "Episode 42" {
		t.Fatalf("expected feed title, got %s", result.Title)
	}

	var body cast.CastLoadBody
	if err := json.Unmarshal(broker.lastCmd.Body, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if !body.Play {
		t.Fatalf("expected play flag set")
	}
	if body.Metadata == "" {
		t.Fatalf("expected DIDL-Lite metadata for feed item")
	}
}

func TestCastRequiresURIOrFeed(t *testing.T) {
	broker := singleNodeBroker()
	service := newTestService(broker)

	_, err := service.Cast(context.Background(), "", "uuid:dev-1", "", "", false)
	if err == nil {
		t.Fatal("expected error for missing URI")
	}
	if ExitCode(err) != ExitUsage {
		t.Fatalf("expected usage exit code, got %d", ExitCode(err))
	}
}

func TestSetVolumeRejectsOutOfRange(t *testing.T) {
	broker := singleNodeBroker()
	service := newTestService(broker)

	if err := service.SetVolume(context.Background(), "", "uuid:dev-1", 150); err == nil {
		t.Fatal("expected error for volume > 100")
	}
	if err := service.SetVolume(context.Background(), "", "uuid:dev-1", 50); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if broker.lastCmd.Type != "volume.set" {
		t.Fatalf("expected volume.set command, got %s", broker.lastCmd.Type)
	}
}

func TestReplyErrorMapsToExitCode(t *testing.T) {
	broker := singleNodeBroker()
	broker.replies = map[string]cast.ReplyEnvelope{
		"playback.pause": {ID: "id-1", Type: "error", OK: false, Err: &cast.ReplyError{
			Code:    string(cast.CategoryDeviceConnection),
			Message: "device is gone",
		}},
	}
	service := newTestService(broker)

	err := service.Pause(context.Background(), "", "uuid:dev-1")
	if err == nil {
		t.Fatal("expected error reply to surface")
	}
	if ExitCode(err) != ExitNotFound {
		t.Fatalf("expected not-found exit code, got %d", ExitCode(err))
	}
}

func TestStatusDecodesPlayerState(t *testing.T) {
	broker := singleNodeBroker()
	body, err := json.Marshal(cast.PlayerState{Connected: true, TransportState: "PLAYING", Volume: 30})
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	broker.replies = map[string]cast.ReplyEnvelope{
		"player.state": {ID: "id-1", Type: "ack", OK: true, Body: body},
	}
	service := newTestService(broker)

	result, err := service.Status(context.Background(), "", "Living Room")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !result.State.Connected || result.State.TransportState != "PLAYING" {
		t.Fatalf("unexpected state: %+v", result.State)
	}
}
