// Package controlpoint implements the UPnP control-point core: device
// registry and cache, SSDP discovery routing, per-device controllers and
// transport/position state tracking.
package controlpoint

import (
	"net/url"
	"strings"
	"time"

	"github.com/castpoint/castpoint/internal/upnp/describe"
	"github.com/castpoint/castpoint/pkg/cast"
)

// Device is the canonical record for a discovered device. Identity (ID) is
// immutable once created; metadata may be refreshed in place by the
// registry. External callers receive copies, never the canonical entry.
type Device struct {
	ID           string // UDN without the uuid: prefix
	Location     string // descriptor URL
	DeviceType   string
	FriendlyName string
	Manufacturer string
	Model        string
	Services     map[string]string // service type -> absolute control URL
	LastSeen     time.Time
	MaxAge       time.Duration // advertised freshness window, 0 = unknown
}

// DeviceFromDescription builds a Device from a fetched descriptor.
func DeviceFromDescription(location string, desc *describe.Description, maxAge time.Duration) Device {
	return Device{
		ID:           desc.UDN(),
		Location:     location,
		DeviceType:   desc.Device.DeviceType,
		FriendlyName: desc.Device.FriendlyName,
		Manufacturer: desc.Device.Manufacturer,
		Model:        desc.Device.ModelName,
		Services:     desc.ServiceControlURLs(location),
		MaxAge:       maxAge,
	}
}

// Clone returns a deep copy safe to hand outside the registry.
func (d Device) Clone() Device {
	out := d
	if d.Services != nil {
		out.Services = make(map[string]string, len(d.Services))
		for k, v := range d.Services {
			out.Services[k] = v
		}
	}
	return out
}

// Snapshot converts the device to its immutable facade view.
func (d Device) Snapshot() cast.DeviceSnapshot {
	snap := cast.DeviceSnapshot{
		ID:           d.ID,
		Name:         d.FriendlyName,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		DeviceType:   d.DeviceType,
		Location:     d.Location,
		Address:      d.Address(),
		Renderer:     d.IsRenderer(),
		LastSeen:     d.LastSeen.Unix(),
	}
	if len(d.Services) > 0 {
		snap.Services = make(map[string]string, len(d.Services))
		for k, v := range d.Services {
			snap.Services[k] = v
		}
	}
	return snap
}

// Address returns the device host extracted from the descriptor URL.
func (d Device) Address() string {
	u, err := url.Parse(d.Location)
	if err != nil {
		return ""
	}
	return u.Host
}

// IsRenderer reports whether the device advertises an AVTransport service.
func (d Device) IsRenderer() bool {
	_, _, ok := d.ControlURL("avtransport")
	return ok
}

// ControlURL finds the control URL and full service type for a service
// matched by keyword (case-insensitive substring, e.g. "avtransport").
func (d Device) ControlURL(keyword string) (controlURL string, serviceType string, ok bool) {
	keyword = strings.ToLower(keyword)
	for svc, u := range d.Services {
		if strings.Contains(strings.ToLower(svc), keyword) {
			return u, svc, true
		}
	}
	return "", "", false
}
