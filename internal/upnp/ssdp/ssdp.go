package ssdp

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MulticastAddr is the SSDP multicast group.
const MulticastAddr = "239.255.255.250:1900"

// RootDevice is the catch-all search target.
const RootDevice = "upnp:rootdevice"

// MediaRendererTarget matches DLNA media renderers.
const MediaRendererTarget = "urn:schemas-upnp-org:device:MediaRenderer:1"

// MessageType classifies an SSDP datagram.
type MessageType int

// SSDP message types.
const (
	TypeResponse MessageType = iota
	TypeAlive
	TypeByebye
)

// Message is one parsed SSDP search response or advertisement.
type Message struct {
	Type     MessageType
	USN      string
	Location string
	Server   string
	Target   string // ST for responses, NT for notifications
	MaxAge   int    // seconds, from CACHE-CONTROL
}

// UDN extracts the device identity from the USN header.
// USN is "uuid:<udn>" or "uuid:<udn>::<target>".
func (m Message) UDN() string {
	usn := strings.TrimPrefix(m.USN, "uuid:")
	if idx := strings.Index(usn, "::"); idx >= 0 {
		usn = usn[:idx]
	}
	return usn
}

// BuildMSearch builds an M-SEARCH request for the given search target.
func BuildMSearch(searchTarget string, mx int) []byte {
	if mx <= 0 {
		mx = 2
	}
	return []byte(fmt.Sprintf(
		"M-SEARCH * HTTP/1.1\r\n"+
			"HOST: %s\r\n"+
			"MAN: \"ssdp:discover\"\r\n"+
			"MX: %d\r\n"+
			"ST: %s\r\n"+
			"USER-AGENT: castpoint/1.0 UPnP/1.0\r\n"+
			"\r\n",
		MulticastAddr, mx, searchTarget))
}

// ParseMessage parses an SSDP search response or NOTIFY advertisement.
// Datagrams that are neither are rejected; callers drop them and move on.
func ParseMessage(data []byte) (Message, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return Message{}, errors.New("empty datagram")
	}

	start := strings.TrimSpace(scanner.Text())
	var msg Message
	switch {
	case strings.HasPrefix(start, "HTTP/1.1 200"):
		msg.Type = TypeResponse
	case strings.HasPrefix(start, "NOTIFY"):
		// Type refined below from NTS.
		msg.Type = TypeAlive
	case strings.HasPrefix(start, "M-SEARCH"):
		return Message{}, errors.New("search request, not a response")
	default:
		return Message{}, fmt.Errorf("unrecognized start line %q", start)
	}

	nts := ""
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		switch key {
		case "USN":
			msg.USN = value
		case "LOCATION":
			msg.Location = value
		case "SERVER":
			msg.Server = value
		case "ST", "NT":
			msg.Target = value
		case "NTS":
			nts = value
		case "CACHE-CONTROL":
			msg.MaxAge = parseMaxAge(value)
		}
	}

	if strings.EqualFold(nts, "ssdp:byebye") {
		msg.Type = TypeByebye
	}
	if msg.USN == "" {
		return Message{}, errors.New("missing USN header")
	}
	if msg.Type != TypeByebye && msg.Location == "" {
		return Message{}, errors.New("missing LOCATION header")
	}
	return msg, nil
}

func parseMaxAge(value string) int {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if rest, ok := strings.CutPrefix(part, "max-age"); ok {
			rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "="))
			if age, err := strconv.Atoi(rest); err == nil && age >= 0 {
				return age
			}
		}
	}
	return 0
}
