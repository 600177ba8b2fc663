package controlpoint

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
		ok    bool
	}{
		{"00:00:00", 0, true},
		{"00:03:25", 3*time.Minute + 25*time.Second, true},
		{"01:02:03", time.Hour + 2*time.Minute + 3*time.Second, true},
		{"00:00:05.500", 5 * time.Second, true},
		{" 00:01:00 ", time.Minute, true},
		{"NOT_IMPLEMENTED", 0, false},
		{"", 0, false},
		{"03:25", 0, false},
		{"aa:bb:cc", 0, false},
		{"-1:00:00", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseClock(tc.value)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseClock(%q) = (%v, %v), want (%v, %v)", tc.value, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFormatClock(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{5 * time.Second, "00:00:05"},
		{3*time.Minute + 25*time.Second, "00:03:25"},
		{2*time.Hour + 3*time.Second, "02:00:03"},
		{-time.Second, "00:00:00"},
	}
	for _, tc := range cases {
		if got := FormatClock(tc.d); got != tc.want {
			t.Errorf("FormatClock(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestFormatClockRoundTrip(t *testing.T) {
	d := time.Hour + 23*time.Minute + 45*time.Second
	got, ok := ParseClock(FormatClock(d))
	if !ok || got != d {
		t.Fatalf("round trip = (%v, %v), want (%v, true)", got, ok, d)
	}
}

func TestParseSeekTarget(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
		ok    bool
	}{
		{"90", 90 * time.Second, true},
		{"0", 0, true},
		{"3:25", 3*time.Minute + 25*time.Second, true},
		{"1:02:03", time.Hour + 2*time.Minute + 3*time.Second, true},
		{"", 0, false},
		{"-5", 0, false},
		{"abc", 0, false},
		{"1:2:3:4", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseSeekTarget(tc.value)
		if tc.ok {
			if err != nil {
				t.Errorf("ParseSeekTarget(%q) error: %v", tc.value, err)
			} else if got != tc.want {
				t.Errorf("ParseSeekTarget(%q) = %v, want %v", tc.value, got, tc.want)
			}
			continue
		}
		if err == nil {
			t.Errorf("ParseSeekTarget(%q) should fail", tc.value)
		}
	}
}

func TestPositionManager(t *testing.T) {
	m := NewPositionManager()

	m.Update(PositionInfo{
		Track:    1,
		Duration: 4 * time.Minute,
		RelTime:  30 * time.Second,
		URI:      "http://example.com/a.mp3",
	})
	if info := m.Info(); info.RelTime != 30*time.Second || info.Track != 1 {
		t.Fatalf("Info after Update = %+v", info)
	}

	m.ApplySeek(90 * time.Second)
	if info := m.Info(); info.RelTime != 90*time.Second || info.AbsTime != 90*time.Second {
		t.Fatalf("Info after ApplySeek = %+v", info)
	}

	m.SetURI("http://example.com/b.mp3", "<meta/>")
	info := m.Info()
	if info.URI != "http://example.com/b.mp3" || info.Metadata != "<meta/>" {
		t.Fatalf("Info after SetURI = %+v", info)
	}
	if info.RelTime != 0 || info.Duration != 0 || info.Track != 0 {
		t.Fatalf("SetURI should reset time markers, got %+v", info)
	}

	m.Reset()
	if info := m.Info(); info != (PositionInfo{}) {
		t.Fatalf("Info after Reset = %+v", info)
	}
}

func TestPositionSnapshot(t *testing.T) {
	info := PositionInfo{
		Track:    2,
		Duration: 4 * time.Minute,
		RelTime:  90 * time.Second,
		URI:      "http://example.com/a.mp3",
	}
	snap := info.Snapshot()
	if snap.DurationMS != 240000 || snap.PositionMS != 90000 || snap.Track != 2 {
		t.Fatalf("Snapshot = %+v", snap)
	}
}
