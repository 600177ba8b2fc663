// Package bridge exposes a UPnP control point over MQTT: it discovers
// AVTransport renderers, keeps a retained device list, and serves the
// castpoint command surface for casting and playback control.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/castpoint/castpoint/internal/adapters/mqttserver"
	"github.com/castpoint/castpoint/internal/adapters/store"
	"github.com/castpoint/castpoint/internal/controlpoint"
	"github.com/castpoint/castpoint/pkg/cast"
)

// Config configures the control-point bridge.
type Config struct {
	TopicBase      string
	NodeID         string
	Name           string
	BindAddr       string
	InterfaceName  string
	SearchTarget   string
	SearchTimeout  time.Duration
	DeviceTTL      time.Duration
	StorePath      string
	CommandTimeout time.Duration
	SearchOnStart  bool
}

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Module bridges MQTT commands to the UPnP control point.
type Module struct {
	log    *zap.Logger
	client mqttClient
	stack  *controlpoint.Stack
	db     *store.Store
	config Config

	cmdTopic string

	mu     sync.Mutex
	runCtx context.Context
}

// NewModule creates a bridge module.
func NewModule(log *zap.Logger, client *mqttserver.Client, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = cast.BaseTopic
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("node id required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = cfg.NodeID
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}

	m := &Module{
		log:      log,
		client:   client,
		config:   cfg,
		cmdTopic: cast.TopicCommands(cfg.TopicBase, cfg.NodeID),
		runCtx:   context.Background(),
	}

	opts := []controlpoint.Option{}
	if strings.TrimSpace(cfg.StorePath) != "" {
		db, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		m.db = db
		opts = append(opts, controlpoint.WithDescriptorStore(db))
	}

	m.stack = controlpoint.NewStack(controlpoint.Config{
		BindAddr:      cfg.BindAddr,
		InterfaceName: cfg.InterfaceName,
		SearchTarget:  cfg.SearchTarget,
		SearchTimeout: cfg.SearchTimeout,
		DeviceTTL:     cfg.DeviceTTL,
		OnError: func(err error) {
			log.Warn("discovery error", zap.Error(err))
		},
	}, log, opts...)
	m.stack.Registry.AddListener(&deviceListener{module: m})

	return m, nil
}

// WillTopic returns the presence topic for the broker will message.
func (m *Module) WillTopic() string {
	return cast.TopicPresence(m.config.TopicBase, m.config.NodeID)
}

// Run starts the control point and serves commands until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	if err := m.stack.Start(); err != nil {
		return err
	}
	defer func() {
		if err := m.stack.Close(); err != nil {
			m.log.Warn("stack close failed", zap.Error(err))
		}
	}()

	if err := m.publishPresence(); err != nil {
		return err
	}
	m.publishDeviceList(m.stack.Devices())

	if err := m.client.Subscribe(m.cmdTopic, 1, m.handleMessage); err != nil {
		return err
	}
	defer func() {
		if err := m.client.Unsubscribe(m.cmdTopic); err != nil {
			m.log.Debug("unsubscribe failed", zap.Error(err))
		}
	}()

	if m.config.SearchOnStart {
		if err := m.stack.Search(m.config.SearchTimeout); err != nil {
			m.log.Warn("initial search failed", zap.Error(err))
		}
	}

	m.log.Info("bridge running",
		zap.String("node", m.config.NodeID),
		zap.String("topic", m.cmdTopic))
	<-ctx.Done()
	return nil
}

func (m *Module) handleMessage(_ paho.Client, msg paho.Message) {
	var cmd cast.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Warn("invalid command payload", zap.Error(err))
		return
	}
	if err := cast.ValidateCommandEnvelope(cmd); err != nil {
		m.log.Warn("invalid command envelope", zap.Error(err))
		return
	}

	m.mu.Lock()
	parent := m.runCtx
	m.mu.Unlock()
	ctx, cancel := context.WithTimeout(parent, m.config.CommandTimeout)
	defer cancel()

	reply := m.dispatch(ctx, cmd)
	if cmd.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		m.log.Warn("marshal reply failed", zap.Error(err))
		return
	}
	if err := m.client.Publish(cmd.ReplyTo, 1, false, payload); err != nil {
		m.log.Warn("publish reply failed", zap.String("topic", cmd.ReplyTo), zap.Error(err))
	}
}

func (m *Module) dispatch(ctx context.Context, cmd cast.CommandEnvelope) cast.ReplyEnvelope {
	m.log.Debug("command received", zap.String("type", cmd.Type), zap.String("id", cmd.ID), zap.String("from", cmd.From))

	switch cmd.Type {
	case "device.list":
		return m.okReply(cmd, cast.DeviceListReply{Devices: m.stack.Devices(), TS: time.Now().Unix()})

	case "search.start":
		var body cast.SearchStartBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil {
			return m.errReply(cmd, cast.WrapErr(cast.CategoryInvalidParameter, "decode search body", err))
		}
		timeout := m.config.SearchTimeout
		if body.TimeoutMS > 0 {
			timeout = time.Duration(body.TimeoutMS) * time.Millisecond
		}
		if err := m.stack.Search(timeout); err != nil {
			return m.errReply(cmd, err)
		}
		return m.okReply(cmd, m.searchState())

	case "search.stop":
		m.stack.StopSearch()
		return m.okReply(cmd, m.searchState())

	case "cast.load":
		var body cast.CastLoadBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil {
			return m.errReply(cmd, cast.WrapErr(cast.CategoryInvalidParameter, "decode load body", err))
		}
		if strings.TrimSpace(body.DeviceID) == "" || strings.TrimSpace(body.URI) == "" {
			return m.errReply(cmd, cast.Errf(cast.CategoryInvalidParameter, "deviceId and uri are required"))
		}
		result, err := m.stack.Load(ctx, body.DeviceID, body.URI, body.Metadata, body.Play)
		if err != nil {
			return m.errReply(cmd, err)
		}
		return m.okReply(cmd, cast.ControlReply{Result: result})

	case "playback.play", "playback.pause", "playback.stop", "playback.seek", "volume.set", "mute.set":
		var body cast.ControlBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil {
			return m.errReply(cmd, cast.WrapErr(cast.CategoryInvalidParameter, "decode control body", err))
		}
		if strings.TrimSpace(body.DeviceID) == "" {
			return m.errReply(cmd, cast.Errf(cast.CategoryInvalidParameter, "deviceId is required"))
		}
		action, err := actionForCommand(cmd.Type, body.Action)
		if err != nil {
			return m.errReply(cmd, err)
		}
		result, err := m.stack.Control(ctx, body.DeviceID, action, body.Value)
		if err != nil {
			return m.errReply(cmd, err)
		}
		if msg, failed := result[controlpoint.ErrorKey]; failed {
			return m.errReply(cmd, cast.Errf(cast.CategoryControl, "%s", msg))
		}
		return m.okReply(cmd, cast.ControlReply{Result: result})

	case "player.state":
		var body cast.PlayerStateBody
		if err := json.Unmarshal(cmd.Body, &body); err != nil {
			return m.errReply(cmd, cast.WrapErr(cast.CategoryInvalidParameter, "decode state body", err))
		}
		if strings.TrimSpace(body.DeviceID) == "" {
			return m.errReply(cmd, cast.Errf(cast.CategoryInvalidParameter, "deviceId is required"))
		}
		state, err := m.stack.PlayerState(ctx, body.DeviceID)
		if err != nil {
			return m.errReply(cmd, err)
		}
		return m.okReply(cmd, state)

	default:
		return m.errReply(cmd, cast.Errf(cast.CategoryInvalidParameter, "unknown command %q", cmd.Type))
	}
}

func actionForCommand(cmdType string, declared cast.Action) (cast.Action, error) {
	var action cast.Action
	switch cmdType {
	case "playback.play":
		action = cast.ActionPlay
	case "playback.pause":
		action = cast.ActionPause
	case "playback.stop":
		action = cast.ActionStop
	case "playback.seek":
		action = cast.ActionSeek
	case "volume.set":
		action = cast.ActionSetVolume
	case "mute.set":
		action = cast.ActionSetMute
	}
	if declared != "" && declared != action {
		return "", cast.Errf(cast.CategoryInvalidParameter, "action %q does not match command %q", declared, cmdType)
	}
	return action, nil
}

func (m *Module) searchState() cast.SearchStateReply {
	return cast.SearchStateReply{
		Searching: m.stack.Router.IsSearching(),
		Running:   m.stack.Router.IsRunning(),
	}
}

func (m *Module) okReply(cmd cast.CommandEnvelope, body any) cast.ReplyEnvelope {
	payload, err := json.Marshal(body)
	if err != nil {
		return m.errReply(cmd, cast.WrapErr(cast.CategoryUnknown, "marshal reply body", err))
	}
	return cast.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "ack",
		OK:   true,
		TS:   time.Now().Unix(),
		Body: payload,
	}
}

func (m *Module) errReply(cmd cast.CommandEnvelope, err error) cast.ReplyEnvelope {
	m.log.Debug("command failed", zap.String("type", cmd.Type), zap.String("id", cmd.ID), zap.Error(err))
	return cast.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   time.Now().Unix(),
		Err: &cast.ReplyError{
			Code:    string(cast.CategoryOf(err)),
			Message: err.Error(),
		},
	}
}

func (m *Module) publishPresence() error {
	presence := cast.Presence{
		NodeID: m.config.NodeID,
		Kind:   "controlpoint",
		Name:   m.config.Name,
		Caps: map[string]any{
			"cast":   true,
			"seek":   true,
			"volume": true,
		},
		TS: time.Now().Unix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(m.WillTopic(), 1, true, payload)
}

func (m *Module) publishDeviceList(devices []cast.DeviceSnapshot) {
	list := cast.DeviceListReply{Devices: devices, TS: time.Now().Unix()}
	payload, err := json.Marshal(list)
	if err != nil {
		m.log.Warn("marshal device list failed", zap.Error(err))
		return
	}
	topic := cast.TopicDevices(m.config.TopicBase, m.config.NodeID)
	if err := m.client.Publish(topic, 1, true, payload); err != nil {
		m.log.Warn("publish device list failed", zap.Error(err))
	}
}

func (m *Module) publishEvent(eventType string, deviceID string) {
	evt := cast.Event{Type: eventType, DeviceID: deviceID, TS: time.Now().Unix()}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	topic := cast.TopicEvents(m.config.TopicBase, m.config.NodeID)
	if err := m.client.Publish(topic, 1, false, payload); err != nil {
		m.log.Debug("publish event failed", zap.Error(err))
	}
}

// deviceListener fans registry changes out to MQTT. Callbacks run under the
// registry lock, so the network work happens on fresh goroutines.
type deviceListener struct {
	module *Module
}

func (l *deviceListener) OnDeviceAdded(snap cast.DeviceSnapshot) {
	go l.module.publishEvent("device.added", snap.ID)
}

func (l *deviceListener) OnDeviceUpdated(snap cast.DeviceSnapshot) {
	go l.module.publishEvent("device.updated", snap.ID)
}

func (l *deviceListener) OnDeviceRemoved(snap cast.DeviceSnapshot) {
	go l.module.publishEvent("device.removed", snap.ID)
}

func (l *deviceListener) OnDeviceListUpdated(snaps []cast.DeviceSnapshot) {
	go l.module.publishDeviceList(snaps)
}
