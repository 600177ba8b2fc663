package controlpoint

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultDeviceTTL      = 60 * time.Second
	defaultTombstoneGrace = 30 * time.Second
)

// Cache is the keyed store for device records: primary index by device ID,
// secondary index by descriptor location. Entries expire when no refresh
// arrives within their TTL, and removed entries leave a tombstone for a
// grace period so "recently removed" is distinguishable from "never seen".
type Cache struct {
	devices    *ttlcache.Cache[string, Device]
	tombstones *ttlcache.Cache[string, struct{}]
	deviceTTL  time.Duration

	mu         sync.Mutex
	byLocation map[string]string // descriptor URL -> device ID

	onExpire func(Device)
}

// NewCache creates a cache. onExpire, if non-nil, is invoked (on its own
// goroutine) when a device ages out without a refresh.
func NewCache(deviceTTL time.Duration, tombstoneGrace time.Duration, onExpire func(Device)) *Cache {
	if deviceTTL <= 0 {
		deviceTTL = defaultDeviceTTL
	}
	if tombstoneGrace <= 0 {
		tombstoneGrace = defaultTombstoneGrace
	}
	c := &Cache{
		devices: ttlcache.New[string, Device](
			ttlcache.WithTTL[string, Device](deviceTTL),
			ttlcache.WithDisableTouchOnHit[string, Device](),
		),
		tombstones: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](tombstoneGrace),
		),
		deviceTTL:  deviceTTL,
		byLocation: map[string]string{},
		onExpire:   onExpire,
	}
	c.devices.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, Device]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		dev := item.Value()
		c.noteRemoved(dev)
		if c.onExpire != nil {
			go c.onExpire(dev)
		}
	})
	go c.devices.Start()
	go c.tombstones.Start()
	return c
}

// Put inserts or refreshes a device under both keys. A tombstone for the
// same identity is cleared: re-adding revives the device. Returns true when
// the identity was not previously present. The effective TTL is the larger
// of the advertised freshness window and the configured device TTL, so a
// device advertising a tiny max-age never expires before the floor.
func (c *Cache) Put(dev Device, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	} else if ttl < c.deviceTTL {
		ttl = c.deviceTTL
	}
	existed := c.devices.Has(dev.ID)
	c.tombstones.Delete(dev.ID)
	c.devices.Set(dev.ID, dev, ttl)

	c.mu.Lock()
	// Location can change across refreshes (DHCP); drop any stale mapping.
	for loc, id := range c.byLocation {
		if id == dev.ID && loc != dev.Location {
			delete(c.byLocation, loc)
		}
	}
	c.byLocation[dev.Location] = dev.ID
	c.mu.Unlock()
	return !existed
}

// Get returns a copy of the device by identity. Tombstoned or expired
// entries never satisfy a lookup.
func (c *Cache) Get(id string) (Device, bool) {
	if c.tombstones.Has(id) {
		return Device{}, false
	}
	item := c.devices.Get(id)
	if item == nil {
		return Device{}, false
	}
	return item.Value().Clone(), true
}

// GetByLocation returns a copy of the device by descriptor URL.
func (c *Cache) GetByLocation(location string) (Device, bool) {
	c.mu.Lock()
	id, ok := c.byLocation[location]
	c.mu.Unlock()
	if !ok {
		return Device{}, false
	}
	return c.Get(id)
}

// Remove deletes a device, leaving a tombstone. Returns the removed copy.
func (c *Cache) Remove(id string) (Device, bool) {
	item := c.devices.Get(id)
	if item == nil {
		return Device{}, false
	}
	dev := item.Value()
	c.devices.Delete(id)
	c.noteRemoved(dev)
	return dev.Clone(), true
}

// Tombstoned reports whether the identity was removed within the grace
// window (distinct from never seen).
func (c *Cache) Tombstoned(id string) bool {
	return c.tombstones.Has(id)
}

// All returns copies of every live device.
func (c *Cache) All() []Device {
	items := c.devices.Items()
	out := make([]Device, 0, len(items))
	for _, item := range items {
		if item.IsExpired() {
			continue
		}
		out = append(out, item.Value().Clone())
	}
	return out
}

// Len returns the number of live devices.
func (c *Cache) Len() int {
	return c.devices.Len()
}

// Close stops the expiry loops and drops all entries.
func (c *Cache) Close() {
	c.devices.Stop()
	c.tombstones.Stop()
	c.devices.DeleteAll()
	c.tombstones.DeleteAll()
	c.mu.Lock()
	c.byLocation = map[string]string{}
	c.mu.Unlock()
}

func (c *Cache) noteRemoved(dev Device) {
	c.tombstones.Set(dev.ID, struct{}{}, ttlcache.DefaultTTL)
	c.mu.Lock()
	if id, ok := c.byLocation[dev.Location]; ok && id == dev.ID {
		delete(c.byLocation, dev.Location)
	}
	c.mu.Unlock()
}
