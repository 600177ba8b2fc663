package controlpoint

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/castpoint/castpoint/pkg/cast"
)

// ErrorKey carries a failure message in a handler result map.
const ErrorKey = "Error"

// SoapCaller executes one SOAP action. Satisfied by *soap.Executor.
type SoapCaller interface {
	Execute(ctx context.Context, action string, instanceID string, args map[string]string) (map[string]string, error)
	Release()
}

// ActionHandler maps logical media actions onto SOAP calls and applies
// local state effects on success. Failures never propagate past Execute:
// they come back as a result map carrying an Error entry.
type ActionHandler struct {
	avt        SoapCaller
	rc         SoapCaller // nil when the device has no RenderingControl
	transport  *TransportManager
	position   *PositionManager
	instanceID string
	log        *zap.Logger

	mu     sync.Mutex
	volume int
	mute   bool
}

// NewActionHandler creates a handler bound to one device's executors.
func NewActionHandler(avt SoapCaller, rc SoapCaller, transport *TransportManager, position *PositionManager, log *zap.Logger) *ActionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActionHandler{
		avt:        avt,
		rc:         rc,
		transport:  transport,
		position:   position,
		instanceID: "0",
		log:        log,
	}
}

// Execute runs a logical action. This is the handler boundary: any failure,
// including a panic below it, is converted into an Error result entry.
func (h *ActionHandler) Execute(ctx context.Context, action cast.Action, value string) (result map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("action handler panic", zap.String("action", string(action)), zap.Any("panic", r))
			result = map[string]string{ErrorKey: fmt.Sprintf("internal failure executing %s", action)}
		}
	}()

	var err error
	switch action {
	case cast.ActionPlay:
		result, err = h.Play(ctx)
	case cast.ActionPause:
		result, err = h.Pause(ctx)
	case cast.ActionStop:
		result, err = h.Stop(ctx)
	case cast.ActionSeek:
		result, err = h.Seek(ctx, value)
	case cast.ActionSetURI:
		result, err = h.SetURI(ctx, value, "")
	case cast.ActionGetPositionInfo:
		return h.positionResult(h.PositionInfo(ctx))
	case cast.ActionGetTransportInfo:
		return map[string]string{"CurrentTransportState": string(h.TransportInfo(ctx))}
	case cast.ActionSetVolume:
		result, err = h.SetVolume(ctx, value)
	case cast.ActionSetMute:
		result, err = h.SetMute(ctx, value == "1" || value == "true")
	default:
		err = cast.Errf(cast.CategoryInvalidParameter, "unsupported action %q", action)
	}
	if err != nil {
		h.log.Warn("action failed", zap.String("action", string(action)), zap.Error(err))
		return map[string]string{ErrorKey: err.Error()}
	}
	return result
}

// Play issues Play at speed 1 and moves the transport to PLAYING.
func (h *ActionHandler) Play(ctx context.Context) (map[string]string, error) {
	result, err := h.avt.Execute(ctx, "Play", h.instanceID, map[string]string{"Speed": "1"})
	if err != nil {
		return nil, err
	}
	h.applyState(StatePlaying)
	return result, nil
}

// Pause issues Pause and moves the transport to PAUSED.
func (h *ActionHandler) Pause(ctx context.Context) (map[string]string, error) {
	result, err := h.avt.Execute(ctx, "Pause", h.instanceID, nil)
	if err != nil {
		return nil, err
	}
	h.applyState(StatePaused)
	return result, nil
}

// Stop issues Stop, moves the transport to STOPPED and resets position.
func (h *ActionHandler) Stop(ctx context.Context) (map[string]string, error) {
	result, err := h.avt.Execute(ctx, "Stop", h.instanceID, nil)
	if err != nil {
		return nil, err
	}
	h.applyState(StateStopped)
	h.position.Reset()
	return result, nil
}

// Seek issues a REL_TIME seek and optimistically updates position.
func (h *ActionHandler) Seek(ctx context.Context, value string) (map[string]string, error) {
	target, err := ParseSeekTarget(value)
	if err != nil {
		return nil, err
	}
	result, err := h.avt.Execute(ctx, "Seek", h.instanceID, map[string]string{
		"Unit":   "REL_TIME",
		"Target": FormatClock(target),
	})
	if err != nil {
		return nil, err
	}
	h.position.ApplySeek(target)
	return result, nil
}

// SetURI binds new media to the transport instance.
func (h *ActionHandler) SetURI(ctx context.Context, uri string, metadata string) (map[string]string, error) {
	if uri == "" {
		return nil, cast.Errf(cast.CategoryInvalidParameter, "media uri required")
	}
	result, err := h.avt.Execute(ctx, "SetAVTransportURI", h.instanceID, map[string]string{
		"CurrentURI":         uri,
		"CurrentURIMetaData": metadata,
	})
	if err != nil {
		return nil, err
	}
	if h.transport.State() == StateIdle {
		h.applyState(StateConnecting)
		h.applyState(StateConnected)
	}
	h.position.SetURI(uri, metadata)
	return result, nil
}

// PositionInfo polls GetPositionInfo. Used for display reads: on failure it
// degrades to the last-known position instead of failing the caller.
func (h *ActionHandler) PositionInfo(ctx context.Context) PositionInfo {
	result, err := h.avt.Execute(ctx, "GetPositionInfo", h.instanceID, nil)
	if err != nil {
		h.log.Debug("position poll failed, using last known", zap.Error(err))
		return h.position.Info()
	}
	info := h.position.Info()
	if track, err := strconv.Atoi(result["Track"]); err == nil {
		info.Track = track
	}
	if d, ok := ParseClock(result["TrackDuration"]); ok {
		info.Duration = d
	}
	if d, ok := ParseClock(result["RelTime"]); ok {
		info.RelTime = d
	}
	if d, ok := ParseClock(result["AbsTime"]); ok {
		info.AbsTime = d
	}
	if uri := result["TrackURI"]; uri != "" {
		info.URI = uri
	}
	if meta := result["TrackMetaData"]; meta != "" {
		info.Metadata = meta
	}
	h.position.Update(info)
	return info
}

// TransportInfo polls GetTransportInfo and reconciles the tracked state.
// On failure it degrades to the last-known state.
func (h *ActionHandler) TransportInfo(ctx context.Context) TransportState {
	result, err := h.avt.Execute(ctx, "GetTransportInfo", h.instanceID, nil)
	if err != nil {
		h.log.Debug("transport poll failed, using last known", zap.Error(err))
		return h.transport.State()
	}
	return h.transport.SyncFromDevice(result["CurrentTransportState"])
}

// SetVolume sets the master channel volume (0-100).
func (h *ActionHandler) SetVolume(ctx context.Context, value string) (map[string]string, error) {
	if h.rc == nil {
		return nil, cast.Errf(cast.CategoryCompatibility, "device has no RenderingControl service")
	}
	vol, err := strconv.Atoi(value)
	if err != nil || vol < 0 || vol > 100 {
		return nil, cast.Errf(cast.CategoryInvalidParameter, "bad volume %q", value)
	}
	result, err := h.rc.Execute(ctx, "SetVolume", h.instanceID, map[string]string{
		"Channel":       "Master",
		"DesiredVolume": strconv.Itoa(vol),
	})
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.volume = vol
	h.mu.Unlock()
	return result, nil
}

// SetMute sets the master channel mute flag.
func (h *ActionHandler) SetMute(ctx context.Context, mute bool) (map[string]string, error) {
	if h.rc == nil {
		return nil, cast.Errf(cast.CategoryCompatibility, "device has no RenderingControl service")
	}
	desired := "0"
	if mute {
		desired = "1"
	}
	result, err := h.rc.Execute(ctx, "SetMute", h.instanceID, map[string]string{
		"Channel":     "Master",
		"DesiredMute": desired,
	})
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.mute = mute
	h.mu.Unlock()
	return result, nil
}

// VolumeMute polls the rendering control state, degrading to last-known.
func (h *ActionHandler) VolumeMute(ctx context.Context) (int, bool) {
	h.mu.Lock()
	volume, mute := h.volume, h.mute
	h.mu.Unlock()
	if h.rc == nil {
		return volume, mute
	}
	if result, err := h.rc.Execute(ctx, "GetVolume", h.instanceID, map[string]string{"Channel": "Master"}); err == nil {
		if vol, err := strconv.Atoi(result["CurrentVolume"]); err == nil {
			volume = vol
		}
	}
	if result, err := h.rc.Execute(ctx, "GetMute", h.instanceID, map[string]string{"Channel": "Master"}); err == nil {
		mute = result["CurrentMute"] == "1" || result["CurrentMute"] == "true"
	}
	h.mu.Lock()
	h.volume, h.mute = volume, mute
	h.mu.Unlock()
	return volume, mute
}

// applyState records the local effect of a successful action. The device
// accepted the call, so a validator disagreement is logged and coerced
// rather than rejected.
func (h *ActionHandler) applyState(to TransportState) {
	if err := h.transport.Transition(to); err != nil {
		h.log.Warn("coercing transport state after accepted action", zap.String("to", string(to)), zap.Error(err))
		h.transport.coerce(to)
	}
}

func (h *ActionHandler) positionResult(info PositionInfo) map[string]string {
	return map[string]string{
		"Track":         strconv.Itoa(info.Track),
		"TrackDuration": FormatClock(info.Duration),
		"RelTime":       FormatClock(info.RelTime),
		"AbsTime":       FormatClock(info.AbsTime),
		"TrackURI":      info.URI,
	}
}
