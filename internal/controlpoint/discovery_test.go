package controlpoint

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castpoint/castpoint/internal/upnp/describe"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// fakeSocket feeds canned datagrams to the router and records sends/joins.
type fakeSocket struct {
	mu       sync.Mutex
	datagram chan []byte
	sent     [][]byte
	joins    int
	leaves   int
	closed   bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{datagram: make(chan []byte, 16)}
}

func (s *fakeSocket) JoinGroup(*net.Interface) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins++
	return nil
}

func (s *fakeSocket) LeaveGroup(*net.Interface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves++
}

func (s *fakeSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, data)
	return nil
}

func (s *fakeSocket) SetReadDeadline(time.Time) error { return nil }

func (s *fakeSocket) Read(buf []byte) (int, *net.UDPAddr, error) {
	select {
	case data := <-s.datagram:
		n := copy(buf, data)
		return n, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1900}, nil
	case <-time.After(10 * time.Millisecond):
		return 0, nil, timeoutErr{}
	}
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) stats() (joins, leaves, sends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joins, s.leaves, len(s.sent)
}

func ssdpResponse(udn, location string) []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"CACHE-CONTROL: max-age=1800\r\n"+
			"LOCATION: %s\r\n"+
			"ST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n"+
			"USN: uuid:%s::urn:schemas-upnp-org:device:MediaRenderer:1\r\n"+
			"\r\n", location, udn))
}

func ssdpByebye(udn string) []byte {
	return []byte(fmt.Sprintf(
		"NOTIFY * HTTP/1.1\r\n"+
			"NT: urn:schemas-upnp-org:device:MediaRenderer:1\r\n"+
			"NTS: ssdp:byebye\r\n"+
			"USN: uuid:%s::urn:schemas-upnp-org:device:MediaRenderer:1\r\n"+
			"\r\n", udn))
}

func newTestRouter(t *testing.T, sock *fakeSocket) (*Router, *Registry) {
	t.Helper()
	cache := NewCache(time.Minute, time.Minute, nil)
	t.Cleanup(cache.Close)
	reg := NewRegistry(cache, nil, nil)
	r := NewRouter(RouterConfig{SearchTimeout: 2 * time.Second}, reg, nil, nil)
	r.openSocket = func() (ssdpSocket, error) { return sock, nil }
	r.describeFn = func(_ context.Context, location string) (*describe.Description, error) {
		desc := &describe.Description{}
		desc.Device.UDN = "uuid:test-udn"
		desc.Device.FriendlyName = "Test Renderer"
		desc.Device.DeviceType = "urn:schemas-upnp-org:device:MediaRenderer:1"
		return desc, nil
	}
	t.Cleanup(r.Shutdown)
	return r, reg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRouterSearchRequiresStartup(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSocket())
	require.Error(t, r.Search(time.Second))
}

func TestRouterSearchDiscoversDevice(t *testing.T) {
	sock := newFakeSocket()
	r, reg := newTestRouter(t, sock)
	require.NoError(t, r.Startup())
	require.True(t, r.IsRunning())

	require.NoError(t, r.Search(time.Second))
	require.True(t, r.IsSearching())
	sock.datagram <- ssdpResponse("test-udn", "http://10.0.0.1/desc.xml")

	waitFor(t, func() bool {
		_, ok := reg.DeviceByID("test-udn")
		return ok
	})
	dev, _ := reg.DeviceByID("test-udn")
	require.Equal(t, "Test Renderer", dev.FriendlyName)
	require.Equal(t, 1800*time.Second, dev.MaxAge)

	r.StopSearch()
	require.False(t, r.IsSearching())

	joins, leaves, sends := sock.stats()
	require.Equal(t, 1, joins)
	require.Equal(t, 1, leaves)
	require.GreaterOrEqual(t, sends, 1)
}

func TestRouterSearchSingleInFlight(t *testing.T) {
	sock := newFakeSocket()
	r, _ := newTestRouter(t, sock)
	require.NoError(t, r.Startup())

	require.NoError(t, r.Search(time.Second))
	require.NoError(t, r.Search(time.Second))
	joins, _, _ := sock.stats()
	require.Equal(t, 1, joins)
	r.StopSearch()
}

func TestRouterByebyeRemovesDevice(t *testing.T) {
	sock := newFakeSocket()
	r, reg := newTestRouter(t, sock)
	reg.AddDevice(testDevice("udn-a", "http://10.0.0.1/desc.xml"))
	reg.AddDevice(testDevice("udn-b", "http://10.0.0.2/desc.xml"))
	listener := &testListener{}
	reg.AddListener(listener)
	require.NoError(t, r.Startup())
	require.NoError(t, r.Search(time.Second))

	sock.datagram <- ssdpByebye("udn-a")
	waitFor(t, func() bool {
		_, ok := reg.DeviceByID("udn-a")
		return !ok
	})
	r.StopSearch()

	_, ok := reg.DeviceByID("udn-b")
	require.True(t, ok)
	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Equal(t, []string{"udn-a"}, listener.removed)
	require.Equal(t, [][]string{{"udn-b"}}, listener.lists)
}

func TestRouterDropsMalformedDatagram(t *testing.T) {
	sock := newFakeSocket()
	r, reg := newTestRouter(t, sock)
	require.NoError(t, r.Startup())
	require.NoError(t, r.Search(time.Second))

	sock.datagram <- []byte("garbage\r\n\r\n")
	sock.datagram <- ssdpResponse("test-udn", "http://10.0.0.1/desc.xml")

	waitFor(t, func() bool {
		_, ok := reg.DeviceByID("test-udn")
		return ok
	})
	r.StopSearch()
}

func TestRouterRefreshSkipsDescriptorFetch(t *testing.T) {
	sock := newFakeSocket()
	r, reg := newTestRouter(t, sock)
	var fetches int
	var mu sync.Mutex
	r.describeFn = func(_ context.Context, _ string) (*describe.Description, error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		desc := &describe.Description{}
		desc.Device.UDN = "uuid:test-udn"
		return desc, nil
	}
	require.NoError(t, r.Startup())
	require.NoError(t, r.Search(time.Second))

	sock.datagram <- ssdpResponse("test-udn", "http://10.0.0.1/desc.xml")
	waitFor(t, func() bool {
		_, ok := reg.DeviceByID("test-udn")
		return ok
	})

	// Same device, same location: the router refreshes in place.
	sock.datagram <- ssdpResponse("test-udn", "http://10.0.0.1/desc.xml")
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, fetches)
	r.StopSearch()
}

func TestRouterShutdownClosesSocket(t *testing.T) {
	sock := newFakeSocket()
	r, _ := newTestRouter(t, sock)
	require.NoError(t, r.Startup())
	r.Shutdown()
	require.False(t, r.IsRunning())
	require.True(t, sock.closed)
}
