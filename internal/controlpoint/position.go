package controlpoint

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/castpoint/castpoint/pkg/cast"
)

// PositionInfo is the last-known playback position for a controller.
type PositionInfo struct {
	Track    int
	Duration time.Duration
	RelTime  time.Duration
	AbsTime  time.Duration
	URI      string
	Metadata string
}

// Snapshot converts the position to its facade view.
func (p PositionInfo) Snapshot() cast.PositionSnapshot {
	return cast.PositionSnapshot{
		Track:      p.Track,
		DurationMS: p.Duration.Milliseconds(),
		PositionMS: p.RelTime.Milliseconds(),
		URI:        p.URI,
		Metadata:   p.Metadata,
	}
}

// PositionManager holds and reconciles position info for one controller.
type PositionManager struct {
	mu   sync.Mutex
	info PositionInfo
}

// NewPositionManager creates an empty manager.
func NewPositionManager() *PositionManager {
	return &PositionManager{}
}

// Info returns the last-known position.
func (m *PositionManager) Info() PositionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Update replaces the position from a device response.
func (m *PositionManager) Update(info PositionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// ApplySeek optimistically moves the position to the seek target.
func (m *PositionManager) ApplySeek(target time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.RelTime = target
	m.info.AbsTime = target
}

// SetURI binds new media, resetting time markers.
func (m *PositionManager) SetURI(uri string, metadata string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = PositionInfo{URI: uri, Metadata: metadata}
}

// Reset clears all position state.
func (m *PositionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = PositionInfo{}
}

// ParseClock parses an hh:mm:ss[.frac] time marker. Placeholder values such
// as NOT_IMPLEMENTED report ok=false.
func ParseClock(value string) (time.Duration, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	secPart := parts[2]
	if idx := strings.IndexByte(secPart, '.'); idx >= 0 {
		secPart = secPart[:idx]
	}
	s, err3 := strconv.Atoi(secPart)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || s < 0 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, true
}

// FormatClock renders a duration as hh:mm:ss.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// ParseSeekTarget accepts hh:mm:ss, mm:ss or plain seconds.
func ParseSeekTarget(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, cast.Errf(cast.CategoryInvalidParameter, "empty seek target")
	}
	parts := strings.Split(value, ":")
	switch len(parts) {
	case 1:
		secs, err := strconv.Atoi(parts[0])
		if err != nil || secs < 0 {
			return 0, cast.Errf(cast.CategoryInvalidParameter, "bad seek target %q", value)
		}
		return time.Duration(secs) * time.Second, nil
	case 2:
		if d, ok := ParseClock("00:" + value); ok {
			return d, nil
		}
	case 3:
		if d, ok := ParseClock(value); ok {
			return d, nil
		}
	}
	return 0, cast.Errf(cast.CategoryInvalidParameter, "bad seek target %q", value)
}
