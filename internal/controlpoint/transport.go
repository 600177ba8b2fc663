package controlpoint

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/castpoint/castpoint/pkg/cast"
)

// TransportState is the tracked playback transport state for a controller.
type TransportState string

// Transport states.
const (
	StateUnknown       TransportState = "UNKNOWN"
	StateIdle          TransportState = "IDLE"
	StateConnecting    TransportState = "CONNECTING"
	StateConnected     TransportState = "CONNECTED"
	StateBuffering     TransportState = "BUFFERING"
	StatePlaying       TransportState = "PLAYING"
	StatePaused        TransportState = "PAUSED"
	StateStopped       TransportState = "STOPPED"
	StateTransitioning TransportState = "TRANSITIONING"
	StateCompleted     TransportState = "COMPLETED"
	StateError         TransportState = "ERROR"
)

// validNext lists the permitted forward edges. UNKNOWN, IDLE and ERROR are
// recovery states and permit transition to anything; a same-state
// transition is always allowed.
var validNext = map[TransportState][]TransportState{
	StateConnecting:    {StateConnected, StateIdle, StateError},
	StateConnected:     {StatePlaying, StateBuffering, StateTransitioning, StateStopped, StateIdle, StateError},
	StateBuffering:     {StatePlaying, StatePaused, StateStopped, StateTransitioning, StateCompleted, StateIdle, StateError},
	StatePlaying:       {StatePaused, StateStopped, StateTransitioning, StateBuffering, StateCompleted, StateIdle, StateError},
	StatePaused:        {StatePlaying, StateStopped, StateError},
	StateStopped:       {StatePlaying, StateConnecting, StateTransitioning, StateBuffering, StateCompleted, StateIdle, StateError},
	StateTransitioning: {StatePlaying, StatePaused, StateStopped, StateError},
	StateCompleted:     {StatePlaying, StateStopped, StateTransitioning, StateIdle, StateError},
}

// ValidTransition reports whether from -> to is a permitted edge.
func ValidTransition(from TransportState, to TransportState) bool {
	if from == to {
		return true
	}
	switch from {
	case StateUnknown, StateIdle, StateError:
		return true
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransportManager owns the transport state for one controller. Local
// transitions are validated and rejected when invalid; device-reported
// states applied via SyncFromDevice are coerced, since the device is
// authoritative for its own transport.
type TransportManager struct {
	mu    sync.Mutex
	state TransportState
	log   *zap.Logger
}

// NewTransportManager creates a manager in the IDLE state.
func NewTransportManager(log *zap.Logger) *TransportManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransportManager{state: StateIdle, log: log}
}

// State returns the current transport state.
func (m *TransportManager) State() TransportState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition applies a validated local state change.
func (m *TransportManager) Transition(to TransportState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ValidTransition(m.state, to) {
		return cast.Errf(cast.CategoryControl, "invalid transport transition %s -> %s", m.state, to)
	}
	if m.state != to {
		m.log.Debug("transport transition", zap.String("from", string(m.state)), zap.String("to", string(to)))
	}
	m.state = to
	return nil
}

// SyncFromDevice applies a device-reported CurrentTransportState value and
// returns the resulting state.
func (m *TransportManager) SyncFromDevice(raw string) TransportState {
	to := mapDeviceState(raw)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != to {
		m.log.Debug("transport synced from device", zap.String("from", string(m.state)), zap.String("to", string(to)), zap.String("reported", raw))
	}
	m.state = to
	return to
}

// coerce sets the state without validation.
func (m *TransportManager) coerce(to TransportState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = to
}

// Reset returns the manager to IDLE.
func (m *TransportManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
}

func mapDeviceState(raw string) TransportState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PLAYING", "RECORDING":
		return StatePlaying
	case "PAUSED_PLAYBACK", "PAUSED_RECORDING":
		return StatePaused
	case "STOPPED":
		return StateStopped
	case "TRANSITIONING":
		return StateTransitioning
	case "NO_MEDIA_PRESENT":
		return StateIdle
	default:
		return StateUnknown
	}
}
