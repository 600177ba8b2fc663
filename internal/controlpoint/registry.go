package controlpoint

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castpoint/castpoint/pkg/cast"
)

// Listener receives registry change notifications. Notifications run on the
// mutating goroutine with the registry lock held: implementations must be
// quick and must not call back into the registry.
type Listener interface {
	OnDeviceAdded(cast.DeviceSnapshot)
	OnDeviceUpdated(cast.DeviceSnapshot)
	OnDeviceRemoved(cast.DeviceSnapshot)
	OnDeviceListUpdated([]cast.DeviceSnapshot)
}

// DescriptorStore persists device records across restarts.
type DescriptorStore interface {
	Save(Device) error
	Delete(id string) error
	Load() ([]Device, error)
	Close() error
}

// Registry is the authoritative, thread-safe set of currently-known
// devices. All mutation is atomic with respect to concurrent snapshot
// reads. Storage is delegated to the Cache; persistence, when configured,
// to a DescriptorStore.
type Registry struct {
	mu        sync.Mutex
	cache     *Cache
	store     DescriptorStore
	listeners []Listener
	log       *zap.Logger
	now       func() time.Time
}

// NewRegistry creates a registry over the given cache. store may be nil.
func NewRegistry(cache *Cache, store DescriptorStore, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		cache: cache,
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// AddListener registers a listener. Adding the same listener twice does not
// duplicate notifications.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listeners {
		if existing == l {
			return
		}
	}
	r.listeners = append(r.listeners, l)
}

// RemoveListener deregisters a listener; removing an unregistered listener
// is a no-op.
func (r *Registry) RemoveListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// AddDevice inserts or refreshes a device. Returns true when the identity
// was newly inserted, false when an existing entry was updated (metadata
// replaced, identity preserved). Fires added-or-updated, then list-updated.
func (r *Registry) AddDevice(dev Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := r.addLocked(dev)
	r.notifyListUpdated()
	return added
}

// RemoveDevice removes a device by identity. Returns false when already
// absent. Fires removed, then list-updated.
func (r *Registry) RemoveDevice(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.removeLocked(id) {
		return false
	}
	r.notifyListUpdated()
	return true
}

// DeviceByID returns a copy of the device, or false if absent or
// tombstoned.
func (r *Registry) DeviceByID(id string) (Device, bool) {
	return r.cache.Get(id)
}

// DeviceByLocation returns a copy of the device keyed by descriptor URL.
func (r *Registry) DeviceByLocation(location string) (Device, bool) {
	return r.cache.GetByLocation(location)
}

// AllDevices returns a point-in-time copy of every known device, sorted by
// identity. Safe to iterate while mutation continues.
func (r *Registry) AllDevices() []Device {
	devices := r.cache.All()
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// Snapshots returns facade views of AllDevices.
func (r *Registry) Snapshots() []cast.DeviceSnapshot {
	devices := r.AllDevices()
	out := make([]cast.DeviceSnapshot, 0, len(devices))
	for _, dev := range devices {
		out = append(out, dev.Snapshot())
	}
	return out
}

// UpdateDeviceList bulk-replaces membership: devices absent from the new
// list are removed, the rest added or updated, with per-item events
// matching the single-item operations and one final list-updated event.
func (r *Registry) UpdateDeviceList(devices []Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	incoming := make(map[string]bool, len(devices))
	for _, dev := range devices {
		incoming[dev.ID] = true
	}
	for _, current := range r.cache.All() {
		if !incoming[current.ID] {
			r.removeLocked(current.ID)
		}
	}
	for _, dev := range devices {
		r.addLocked(dev)
	}
	r.notifyListUpdated()
}

// ClearDevices removes every device, firing one removed event per device
// and then a single list-updated event with the empty snapshot.
func (r *Registry) ClearDevices() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dev := range r.cache.All() {
		r.removeLocked(dev.ID)
	}
	r.notifyListUpdated()
}

// LoadPersisted seeds the registry from the descriptor store, marking
// entries stale (LastSeen preserved) until discovery re-validates them.
func (r *Registry) LoadPersisted() error {
	if r.store == nil {
		return nil
	}
	devices, err := r.store.Load()
	if err != nil {
		return cast.WrapErr(cast.CategoryResource, "load persisted devices", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dev := range devices {
		r.addLocked(dev)
	}
	if len(devices) > 0 {
		r.notifyListUpdated()
	}
	return nil
}

// expireDevice handles cache TTL expiry: the entry is already gone from the
// cache, so only events and persistence remain.
func (r *Registry) expireDevice(dev Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Debug("device expired", zap.String("device_id", dev.ID), zap.String("name", dev.FriendlyName))
	if r.store != nil {
		if err := r.store.Delete(dev.ID); err != nil {
			r.log.Warn("descriptor store delete failed", zap.String("device_id", dev.ID), zap.Error(err))
		}
	}
	snap := dev.Snapshot()
	for _, l := range r.listeners {
		l.OnDeviceRemoved(snap)
	}
	r.notifyListUpdated()
}

func (r *Registry) addLocked(dev Device) bool {
	dev.LastSeen = r.now()
	added := r.cache.Put(dev.Clone(), dev.MaxAge)
	if r.store != nil {
		if err := r.store.Save(dev); err != nil {
			r.log.Warn("descriptor store save failed", zap.String("device_id", dev.ID), zap.Error(err))
		}
	}
	snap := dev.Snapshot()
	if added {
		r.log.Info("device added",
			zap.String("device_id", dev.ID),
			zap.String("name", dev.FriendlyName),
			zap.String("location", dev.Location))
		for _, l := range r.listeners {
			l.OnDeviceAdded(snap)
		}
	} else {
		r.log.Debug("device updated", zap.String("device_id", dev.ID), zap.String("name", dev.FriendlyName))
		for _, l := range r.listeners {
			l.OnDeviceUpdated(snap)
		}
	}
	return added
}

func (r *Registry) removeLocked(id string) bool {
	dev, ok := r.cache.Remove(id)
	if !ok {
		return false
	}
	if r.store != nil {
		if err := r.store.Delete(id); err != nil {
			r.log.Warn("descriptor store delete failed", zap.String("device_id", id), zap.Error(err))
		}
	}
	r.log.Info("device removed", zap.String("device_id", id), zap.String("name", dev.FriendlyName))
	snap := dev.Snapshot()
	for _, l := range r.listeners {
		l.OnDeviceRemoved(snap)
	}
	return true
}

func (r *Registry) notifyListUpdated() {
	snaps := r.Snapshots()
	for _, l := range r.listeners {
		l.OnDeviceListUpdated(snaps)
	}
}
