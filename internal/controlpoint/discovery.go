package controlpoint

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/castpoint/castpoint/internal/upnp/describe"
	"github.com/castpoint/castpoint/internal/upnp/ssdp"
	"github.com/castpoint/castpoint/pkg/cast"
)

const (
	defaultSearchTimeout = 30 * time.Second
	defaultSearchMX      = 2
	searchResends        = 3
	resendInterval       = time.Second
	readSlice            = 500 * time.Millisecond
)

// RouterConfig configures the discovery engine.
type RouterConfig struct {
	BindAddr      string
	InterfaceName string // multicast interface, empty for system default
	SearchTarget  string
	SearchTimeout time.Duration
	MX            int
	// OnError receives recoverable discovery failures (degraded multicast,
	// descriptor fetch problems). Optional.
	OnError func(error)
}

// ssdpSocket abstracts the SSDP transport for testing.
type ssdpSocket interface {
	JoinGroup(*net.Interface) error
	LeaveGroup(*net.Interface)
	Send([]byte) error
	SetReadDeadline(time.Time) error
	Read([]byte) (int, *net.UDPAddr, error)
	Close() error
}

// Router owns the multicast discovery lifecycle: it issues search requests,
// ingests responses and advertisements, and forwards them to the registry.
// At most one search is in flight at a time; multicast reception is held
// for the duration of a search session and released on every exit path.
type Router struct {
	cfg      RouterConfig
	registry *Registry
	http     *http.Client
	log      *zap.Logger

	openSocket func() (ssdpSocket, error)
	describeFn func(ctx context.Context, location string) (*describe.Description, error)

	mu        sync.Mutex
	sock      ssdpSocket
	iface     *net.Interface
	running   bool
	searching bool
	cancel    context.CancelFunc
	done      chan struct{}

	inflight sync.Map // location -> struct{}, descriptor fetches in progress
}

// NewRouter creates a discovery router over the given registry.
func NewRouter(cfg RouterConfig, registry *Registry, client *http.Client, log *zap.Logger) *Router {
	if cfg.SearchTarget == "" {
		cfg.SearchTarget = ssdp.MediaRendererTarget
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = defaultSearchTimeout
	}
	if cfg.MX <= 0 {
		cfg.MX = defaultSearchMX
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{
		cfg:      cfg,
		registry: registry,
		http:     client,
		log:      log,
	}
	r.openSocket = func() (ssdpSocket, error) { return ssdp.Open(cfg.BindAddr) }
	r.describeFn = func(ctx context.Context, location string) (*describe.Description, error) {
		return describe.Fetch(ctx, r.http, location)
	}
	return r
}

// Startup acquires the underlying transport once. Calling it when already
// running is a no-op.
func (r *Router) Startup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	sock, err := r.openSocket()
	if err != nil {
		return cast.WrapErr(cast.CategoryDiscovery, "open discovery socket", err)
	}
	if r.cfg.InterfaceName != "" {
		ifi, err := net.InterfaceByName(r.cfg.InterfaceName)
		if err != nil {
			sock.Close()
			return cast.WrapErr(cast.CategoryDiscovery, "resolve multicast interface", err)
		}
		r.iface = ifi
	}
	r.sock = sock
	r.running = true
	return nil
}

// Shutdown stops any in-flight search and releases the transport. Safe to
// call multiple times.
func (r *Router) Shutdown() {
	r.StopSearch()
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	if r.sock != nil {
		r.sock.Close()
		r.sock = nil
	}
}

// IsRunning reports whether the transport is acquired.
func (r *Router) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// IsSearching reports whether a search is in flight.
func (r *Router) IsSearching() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.searching
}

// Search starts a discovery session for up to timeout (the configured
// default when zero). Idempotent: when a search is already in flight it
// returns immediately without starting a second one. The session ends on
// timeout or StopSearch, whichever comes first.
func (r *Router) Search(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = r.cfg.SearchTimeout
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return cast.Errf(cast.CategoryDiscovery, "discovery engine not started")
	}
	if r.searching {
		r.mu.Unlock()
		return nil
	}
	sock := r.sock
	iface := r.iface
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	done := make(chan struct{})
	r.searching = true
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	// Multicast reception is exclusive to this session. Acquisition failure
	// degrades the search to unicast responses; it never aborts the caller.
	joined := false
	if err := sock.JoinGroup(iface); err != nil {
		r.reportError(cast.WrapErr(cast.CategoryDiscovery, "multicast reception unavailable, degrading to unicast", err))
	} else {
		joined = true
	}

	go r.run(ctx, cancel, sock, iface, joined, done)
	return nil
}

// StopSearch cancels the in-flight session and releases the multicast
// resource. Safe to call when not searching.
func (r *Router) StopSearch() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (r *Router) run(ctx context.Context, cancel context.CancelFunc, sock ssdpSocket, iface *net.Interface, joined bool, done chan struct{}) {
	defer func() {
		if joined {
			sock.LeaveGroup(iface)
		}
		cancel()
		r.mu.Lock()
		r.searching = false
		r.cancel = nil
		r.done = nil
		r.mu.Unlock()
		close(done)
	}()

	request := ssdp.BuildMSearch(r.cfg.SearchTarget, r.cfg.MX)
	if err := sock.Send(request); err != nil {
		r.reportError(cast.WrapErr(cast.CategoryDiscovery, "send search request", err))
	}
	resends := 1
	nextResend := time.Now().Add(resendInterval)

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if resends < searchResends && time.Now().After(nextResend) {
			if err := sock.Send(request); err != nil {
				r.reportError(cast.WrapErr(cast.CategoryDiscovery, "resend search request", err))
			}
			resends++
			nextResend = time.Now().Add(resendInterval)
		}

		_ = sock.SetReadDeadline(time.Now().Add(readSlice))
		n, addr, err := sock.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
			default:
				r.reportError(cast.WrapErr(cast.CategoryDiscovery, "discovery read failed", err))
			}
			return
		}
		r.handleDatagram(ctx, buf[:n], addr)
	}
}

// handleDatagram ingests one SSDP packet. A malformed packet is discarded
// individually; it never aborts the search.
func (r *Router) handleDatagram(ctx context.Context, data []byte, addr *net.UDPAddr) {
	msg, err := ssdp.ParseMessage(data)
	if err != nil {
		r.log.Debug("discarding ssdp datagram", zap.Stringer("from", addr), zap.Error(err))
		return
	}

	udn := msg.UDN()
	if msg.Type == ssdp.TypeByebye {
		if r.registry.RemoveDevice(udn) {
			r.log.Debug("byebye removal", zap.String("device_id", udn))
		}
		return
	}

	maxAge := time.Duration(msg.MaxAge) * time.Second
	if existing, ok := r.registry.DeviceByID(udn); ok && existing.Location == msg.Location {
		// Known device, same descriptor: refresh freshness in place.
		existing.MaxAge = maxAge
		r.registry.AddDevice(existing)
		return
	}

	if _, loading := r.inflight.LoadOrStore(msg.Location, struct{}{}); loading {
		return
	}
	go func() {
		defer r.inflight.Delete(msg.Location)
		r.describeAndAdd(ctx, msg.Location, maxAge)
	}()
}

func (r *Router) describeAndAdd(ctx context.Context, location string, maxAge time.Duration) {
	desc, err := r.describeFn(ctx, location)
	if err != nil {
		r.log.Debug("descriptor fetch failed", zap.String("location", location), zap.Error(err))
		return
	}
	dev := DeviceFromDescription(location, desc, maxAge)
	r.registry.AddDevice(dev)
}

func (r *Router) reportError(err error) {
	r.log.Warn("discovery degraded", zap.Error(err))
	if r.cfg.OnError != nil {
		r.cfg.OnError(err)
	}
}
