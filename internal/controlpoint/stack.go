package controlpoint

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/castpoint/castpoint/pkg/cast"
)

// Config configures a Stack.
type Config struct {
	BindAddr       string
	InterfaceName  string
	SearchTarget   string
	SearchTimeout  time.Duration
	DeviceTTL      time.Duration
	TombstoneGrace time.Duration
	HTTPTimeout    time.Duration
	OnError        func(error)
}

// Stack is the top-level control-point context: it constructs and owns the
// cache, registry, router and factory, and is passed by reference to every
// collaborator. There is no global state; multiple stacks can coexist.
type Stack struct {
	Cache    *Cache
	Registry *Registry
	Router   *Router
	Factory  *Factory

	http  *http.Client
	store DescriptorStore
	log   *zap.Logger
}

// Option customizes stack construction.
type Option func(*options)

type options struct {
	store DescriptorStore
}

// WithDescriptorStore persists device records across restarts.
func WithDescriptorStore(store DescriptorStore) Option {
	return func(o *options) { o.store = store }
}

// NewStack wires a complete control point.
func NewStack(cfg Config, log *zap.Logger, opts ...Option) *Stack {
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}

	client := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}

	s := &Stack{http: client, store: o.store, log: log}
	// Expiry flows through the registry so listeners (including controller
	// release) observe it like any other removal.
	s.Cache = NewCache(cfg.DeviceTTL, cfg.TombstoneGrace, func(dev Device) {
		s.Registry.expireDevice(dev)
	})
	s.Registry = NewRegistry(s.Cache, o.store, log.With(zap.String("component", "registry")))
	s.Router = NewRouter(RouterConfig{
		BindAddr:      cfg.BindAddr,
		InterfaceName: cfg.InterfaceName,
		SearchTarget:  cfg.SearchTarget,
		SearchTimeout: cfg.SearchTimeout,
		OnError:       cfg.OnError,
	}, s.Registry, client, log.With(zap.String("component", "discovery")))
	s.Factory = NewFactory(s.Registry, s.Router, client, log.With(zap.String("component", "factory")))
	s.Registry.AddListener(&removalListener{factory: s.Factory})
	return s
}

// Start acquires the discovery transport and loads persisted devices.
func (s *Stack) Start() error {
	if err := s.Router.Startup(); err != nil {
		return err
	}
	if err := s.Registry.LoadPersisted(); err != nil {
		s.log.Warn("persisted device load failed", zap.Error(err))
	}
	return nil
}

// Search triggers a discovery session (see Router.Search).
func (s *Stack) Search(timeout time.Duration) error {
	return s.Router.Search(timeout)
}

// StopSearch cancels any in-flight discovery session.
func (s *Stack) StopSearch() {
	s.Router.StopSearch()
}

// Devices returns the current device snapshot list.
func (s *Stack) Devices() []cast.DeviceSnapshot {
	return s.Registry.Snapshots()
}

// Load binds media to a device and optionally starts playback.
func (s *Stack) Load(ctx context.Context, deviceID string, uri string, metadata string, play bool) (map[string]string, error) {
	ctrl, err := s.controllerFor(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	ctrl.execMu.Lock()
	defer ctrl.execMu.Unlock()
	result, err := ctrl.handler.SetURI(ctx, uri, metadata)
	if err != nil {
		return nil, err
	}
	if play {
		if result, err = ctrl.handler.Play(ctx); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Control executes one logical action against a device.
func (s *Stack) Control(ctx context.Context, deviceID string, action cast.Action, value string) (map[string]string, error) {
	if !action.Valid() {
		return nil, cast.Errf(cast.CategoryInvalidParameter, "unsupported action %q", action)
	}
	ctrl, err := s.controllerFor(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return ctrl.Execute(ctx, action, value), nil
}

// PlayerState answers the synchronous state query for a device.
func (s *Stack) PlayerState(ctx context.Context, deviceID string) (cast.PlayerState, error) {
	ctrl, err := s.controllerFor(ctx, deviceID)
	if err != nil {
		return cast.PlayerState{TransportState: string(StateUnknown)}, err
	}
	return ctrl.State(ctx), nil
}

// Close tears the stack down: discovery, controllers, cache and store. A
// stuck controller release cannot block teardown of the rest.
func (s *Stack) Close() error {
	s.Router.Shutdown()
	s.Factory.ClearAll()
	s.Cache.Close()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Stack) controllerFor(ctx context.Context, deviceID string) (*Controller, error) {
	dev, err := s.Factory.DeviceByUSN(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s.Factory.Controller(dev)
}

// removalListener drops a device's controller when the registry removes it.
type removalListener struct {
	factory *Factory
}

func (l *removalListener) OnDeviceAdded(cast.DeviceSnapshot)         {}
func (l *removalListener) OnDeviceUpdated(cast.DeviceSnapshot)       {}
func (l *removalListener) OnDeviceListUpdated([]cast.DeviceSnapshot) {}

func (l *removalListener) OnDeviceRemoved(snap cast.DeviceSnapshot) {
	// Off the registry's mutating goroutine; Release touches the network.
	go l.factory.Release(snap.ID)
}
