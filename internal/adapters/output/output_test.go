package output

import (
	"encoding/json"
	"testing"

	"github.com/castpoint/castpoint/pkg/cast"
)

func TestRawBytes(t *testing.T) {
	raw, err := rawBytes(json.RawMessage(`{"a":1}`))
	if err != nil || string(raw) != `{"a":1}` {
		t.Fatalf("rawBytes(RawMessage) = %q, %v", raw, err)
	}

	raw, err = rawBytes([]byte(`{"b":2}`))
	if err != nil || string(raw) != `{"b":2}` {
		t.Fatalf("rawBytes([]byte) = %q, %v", raw, err)
	}

	raw, err = rawBytes(cast.Event{Type: "device.added", DeviceID: "a", TS: 1})
	if err != nil {
		t.Fatal(err)
	}
	var evt cast.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != "device.added" || evt.DeviceID != "a" {
		t.Fatalf("round-tripped event = %+v", evt)
	}
}

func TestFormatPosition(t *testing.T) {
	cases := []struct {
		pos, dur int64
		want     string
	}{
		{0, 0, ""},
		{30000, 0, "0:30"},
		{30000, 240000, "0:30 / 4:00 (12%)"},
		{90000, 90000, "1:30 / 1:30 (100%)"},
	}
	for _, tc := range cases {
		if got := formatPosition(tc.pos, tc.dur); got != tc.want {
			t.Errorf("formatPosition(%d, %d) = %q, want %q", tc.pos, tc.dur, got, tc.want)
		}
	}
}

func TestFormatMS(t *testing.T) {
	if got := formatMS(-1); got != "0:00" {
		t.Errorf("formatMS(-1) = %q", got)
	}
	if got := formatMS(65000); got != "1:05" {
		t.Errorf("formatMS(65000) = %q", got)
	}
}
