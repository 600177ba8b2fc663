package controlpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castpoint/castpoint/pkg/cast"
)

func newTestFactory(t *testing.T) (*Factory, *Registry) {
	t.Helper()
	cache := NewCache(time.Minute, time.Minute, nil)
	t.Cleanup(cache.Close)
	reg := NewRegistry(cache, nil, nil)
	return NewFactory(reg, nil, nil, nil), reg
}

func TestFactoryControllerSingleton(t *testing.T) {
	f, _ := newTestFactory(t)
	dev := testDevice("a", "http://10.0.0.1/d.xml")

	first, err := f.Controller(dev)
	require.NoError(t, err)
	second, err := f.Controller(dev)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestFactoryControllerRequiresAVTransport(t *testing.T) {
	f, _ := newTestFactory(t)
	dev := testDevice("a", "http://10.0.0.1/d.xml")
	dev.Services = map[string]string{
		"urn:schemas-upnp-org:service:ContentDirectory:1": "http://10.0.0.1/cd",
	}

	_, err := f.Controller(dev)
	require.Error(t, err)
	require.Equal(t, cast.CategoryCompatibility, cast.CategoryOf(err))
}

func TestFactoryRelease(t *testing.T) {
	f, _ := newTestFactory(t)
	dev := testDevice("a", "http://10.0.0.1/d.xml")

	first, err := f.Controller(dev)
	require.NoError(t, err)

	f.Release("a")
	// Releasing a never-created identity is a no-op.
	f.Release("zzz")

	again, err := f.Controller(dev)
	require.NoError(t, err)
	require.NotSame(t, first, again)
}

func TestFactoryDeviceByUSN(t *testing.T) {
	f, reg := newTestFactory(t)
	reg.AddDevice(testDevice("a", "http://10.0.0.1/d.xml"))

	dev, err := f.DeviceByUSN(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "a", dev.ID)

	_, err = f.DeviceByUSN(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, cast.CategoryDeviceConnection, cast.CategoryOf(err))
}

func TestControllerReleaseIdempotent(t *testing.T) {
	avt := newFakeCaller()
	rc := newFakeCaller()
	transport := NewTransportManager(nil)
	position := NewPositionManager()
	ctrl := &Controller{
		device:    testDevice("a", "http://10.0.0.1/d.xml"),
		handler:   NewActionHandler(avt, rc, transport, position, nil),
		transport: transport,
		position:  position,
		avt:       avt,
		rc:        rc,
	}
	transport.coerce(StatePlaying)

	ctrl.Release()
	ctrl.Release()
	require.Equal(t, 1, avt.released)
	require.Equal(t, 1, rc.released)
	require.Equal(t, StateIdle, transport.State())
}

func TestControllerState(t *testing.T) {
	avt := newFakeCaller()
	avt.results["GetTransportInfo"] = map[string]string{"CurrentTransportState": "PLAYING"}
	avt.results["GetPositionInfo"] = map[string]string{
		"Track":         "1",
		"TrackDuration": "00:04:00",
		"RelTime":       "00:00:30",
		"TrackURI":      "http://example.com/a.mp3",
	}
	rc := newFakeCaller()
	rc.results["GetVolume"] = map[string]string{"CurrentVolume": "55"}
	rc.results["GetMute"] = map[string]string{"CurrentMute": "0"}

	transport := NewTransportManager(nil)
	position := NewPositionManager()
	ctrl := &Controller{
		device:    testDevice("a", "http://10.0.0.1/d.xml"),
		handler:   NewActionHandler(avt, rc, transport, position, nil),
		transport: transport,
		position:  position,
		avt:       avt,
		rc:        rc,
	}

	state := ctrl.State(context.Background())
	require.True(t, state.Connected)
	require.Equal(t, "PLAYING", state.TransportState)
	require.Equal(t, int64(30000), state.Position.PositionMS)
	require.Equal(t, 55, state.Volume)
	require.False(t, state.Mute)
	require.NotNil(t, state.Device)
	require.Equal(t, "a", state.Device.ID)
}
