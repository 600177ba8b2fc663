package controlpoint

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castpoint/castpoint/internal/upnp/soap"
	"github.com/castpoint/castpoint/pkg/cast"
)

// Controller binds one device to one executor/handler pair plus its state
// managers. Transport exchanges on one controller are one-at-a-time:
// Execute serializes them explicitly instead of racing at the transport
// layer.
type Controller struct {
	device    Device
	handler   *ActionHandler
	transport *TransportManager
	position  *PositionManager
	avt       SoapCaller
	rc        SoapCaller
	log       *zap.Logger

	execMu   sync.Mutex
	released bool
	relMu    sync.Mutex
}

// Device returns a copy of the bound device.
func (c *Controller) Device() Device {
	return c.device.Clone()
}

// Execute runs one logical action, serialized per controller.
func (c *Controller) Execute(ctx context.Context, action cast.Action, value string) map[string]string {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	return c.handler.Execute(ctx, action, value)
}

// State polls the device and assembles the synchronous state query view.
func (c *Controller) State(ctx context.Context) cast.PlayerState {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	state := c.handler.TransportInfo(ctx)
	info := c.handler.PositionInfo(ctx)
	volume, mute := c.handler.VolumeMute(ctx)
	snap := c.device.Snapshot()
	return cast.PlayerState{
		Connected:      state != StateIdle && state != StateUnknown,
		Device:         &snap,
		TransportState: string(state),
		Position:       info.Snapshot(),
		Volume:         volume,
		Mute:           mute,
		TS:             time.Now().Unix(),
	}
}

// Release frees the controller's pooled transport resources. Idempotent.
func (c *Controller) Release() {
	c.relMu.Lock()
	defer c.relMu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.avt.Release()
	if c.rc != nil {
		c.rc.Release()
	}
	c.transport.Reset()
	c.position.Reset()
}

// Factory resolves device handles to controllers, creating and caching one
// controller per live device identifier.
type Factory struct {
	registry *Registry
	router   *Router
	http     *http.Client
	log      *zap.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

// Retry tuning for the device-not-yet-visible recovery path.
const (
	resolveRetrySearch = 3 * time.Second
	resolveRetryGrace  = 500 * time.Millisecond
)

// NewFactory creates a controller factory.
func NewFactory(registry *Registry, router *Router, client *http.Client, log *zap.Logger) *Factory {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Factory{
		registry:    registry,
		router:      router,
		http:        client,
		log:         log,
		controllers: map[string]*Controller{},
	}
}

// Controller returns the single live controller for the device identity,
// creating it on first request. Concurrent requests for the same identity
// never create two controllers.
func (f *Factory) Controller(dev Device) (*Controller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.controllers[dev.ID]; ok {
		return existing, nil
	}

	avtURL, avtService, ok := dev.ControlURL("avtransport")
	if !ok {
		return nil, cast.Errf(cast.CategoryCompatibility, "device %s has no AVTransport service", dev.ID)
	}
	avt := soap.NewExecutor(avtURL, avtService, f.http, f.log.With(zap.String("device_id", dev.ID)))

	var rc SoapCaller
	if rcURL, rcService, ok := dev.ControlURL("renderingcontrol"); ok {
		rc = soap.NewExecutor(rcURL, rcService, f.http, f.log.With(zap.String("device_id", dev.ID)))
	}

	transport := NewTransportManager(f.log.With(zap.String("device_id", dev.ID)))
	position := NewPositionManager()
	ctrl := &Controller{
		device:    dev.Clone(),
		handler:   NewActionHandler(avt, rc, transport, position, f.log.With(zap.String("device_id", dev.ID))),
		transport: transport,
		position:  position,
		avt:       avt,
		rc:        rc,
		log:       f.log,
	}
	f.controllers[dev.ID] = ctrl
	return ctrl, nil
}

// DeviceByUSN resolves a device identifier to its current registry entry.
// When the device is not yet visible it re-triggers discovery once, waits a
// short grace period, and retries before surfacing a final error.
func (f *Factory) DeviceByUSN(ctx context.Context, id string) (Device, error) {
	if dev, ok := f.registry.DeviceByID(id); ok {
		return dev, nil
	}

	if f.router != nil {
		if err := f.router.Search(resolveRetrySearch); err != nil {
			f.log.Debug("rediscovery for unresolved device failed", zap.String("device_id", id), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return Device{}, cast.WrapErr(cast.CategoryDeviceConnection, "device resolution cancelled", ctx.Err())
		case <-time.After(resolveRetryGrace):
		}
		if dev, ok := f.registry.DeviceByID(id); ok {
			return dev, nil
		}
	}
	return Device{}, cast.Errf(cast.CategoryDeviceConnection, "device %s not found", id)
}

// Release drops and frees the controller for one identity, if any.
func (f *Factory) Release(id string) {
	f.mu.Lock()
	ctrl, ok := f.controllers[id]
	delete(f.controllers, id)
	f.mu.Unlock()
	if ok {
		ctrl.Release()
	}
}

// ClearAll releases every live controller. Used on full shutdown.
func (f *Factory) ClearAll() {
	f.mu.Lock()
	controllers := f.controllers
	f.controllers = map[string]*Controller{}
	f.mu.Unlock()
	for _, ctrl := range controllers {
		ctrl.Release()
	}
}
