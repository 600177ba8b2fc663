package ssdp

import (
	"strings"
	"testing"
)

func TestBuildMSearch(t *testing.T) {
	msg := string(BuildMSearch(MediaRendererTarget, 3))
	if !strings.HasPrefix(msg, "M-SEARCH * HTTP/1.1\r\n") {
		t.Fatalf("bad start line: %q", msg)
	}
	for _, want := range []string{
		"HOST: 239.255.255.250:1900\r\n",
		"MAN: \"ssdp:discover\"\r\n",
		"MX: 3\r\n",
		"ST: " + MediaRendererTarget + "\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in:\n%s", want, msg)
		}
	}
	if !strings.HasSuffix(msg, "\r\n\r\n") {
		t.Error("request must end with a blank line")
	}
}

func TestBuildMSearchDefaultsMX(t *testing.T) {
	msg := string(BuildMSearch(RootDevice, 0))
	if !strings.Contains(msg, "MX: 2\r\n") {
		t.Fatalf("MX should default to 2:\n%s", msg)
	}
}

func TestParseMessageResponse(t *testing.T) {
	data := []byte("HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"LOCATION: http://10.0.0.5:8080/desc.xml\r\n" +
		"SERVER: Linux/5.4 UPnP/1.0 Renderer/1.0\r\n" +
		"ST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
		"USN: uuid:abc-123::urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
		"\r\n")
	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeResponse {
		t.Errorf("Type = %v, want TypeResponse", msg.Type)
	}
	if msg.Location != "http://10.0.0.5:8080/desc.xml" {
		t.Errorf("Location = %q", msg.Location)
	}
	if msg.Target != "urn:schemas-upnp-org:device:MediaRenderer:1" {
		t.Errorf("Target = %q", msg.Target)
	}
	if msg.MaxAge != 1800 {
		t.Errorf("MaxAge = %d, want 1800", msg.MaxAge)
	}
	if msg.UDN() != "abc-123" {
		t.Errorf("UDN = %q, want abc-123", msg.UDN())
	}
}

func TestParseMessageAlive(t *testing.T) {
	data := []byte("NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"CACHE-CONTROL: max-age=100\r\n" +
		"LOCATION: http://10.0.0.5:8080/desc.xml\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:alive\r\n" +
		"USN: uuid:abc-123::upnp:rootdevice\r\n" +
		"\r\n")
	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeAlive {
		t.Errorf("Type = %v, want TypeAlive", msg.Type)
	}
	if msg.Target != "upnp:rootdevice" {
		t.Errorf("Target = %q", msg.Target)
	}
}

func TestParseMessageByebye(t *testing.T) {
	// Byebye carries no LOCATION; that must still parse.
	data := []byte("NOTIFY * HTTP/1.1\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:byebye\r\n" +
		"USN: uuid:abc-123\r\n" +
		"\r\n")
	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeByebye {
		t.Errorf("Type = %v, want TypeByebye", msg.Type)
	}
	if msg.UDN() != "abc-123" {
		t.Errorf("UDN = %q", msg.UDN())
	}
}

func TestParseMessageRejections(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"garbage", "hello world\r\n\r\n"},
		{"msearch", "M-SEARCH * HTTP/1.1\r\nST: upnp:rootdevice\r\n\r\n"},
		{"missing usn", "HTTP/1.1 200 OK\r\nLOCATION: http://x/d.xml\r\n\r\n"},
		{"missing location", "HTTP/1.1 200 OK\r\nUSN: uuid:abc\r\n\r\n"},
	}
	for _, tc := range cases {
		if _, err := ParseMessage([]byte(tc.data)); err == nil {
			t.Errorf("%s: ParseMessage should fail", tc.name)
		}
	}
}

func TestParseMaxAge(t *testing.T) {
	cases := []struct {
		value string
		want  int
	}{
		{"max-age=1800", 1800},
		{"max-age = 120", 120},
		{"no-cache, max-age=60", 60},
		{"MAX-AGE=90", 90},
		{"no-cache", 0},
		{"max-age=-5", 0},
		{"max-age=abc", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseMaxAge(tc.value); got != tc.want {
			t.Errorf("parseMaxAge(%q) = %d, want %d", tc.value, got, tc.want)
		}
	}
}
