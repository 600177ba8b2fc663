package cast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix for the protocol.
const BaseTopic = "castpoint/v1"

// CommandEnvelope is the common command envelope for MQTT.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	From    string          `json:"from"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Body    json.RawMessage `json:"body"`
}

// ReplyEnvelope is the response envelope for commands.
type ReplyEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  *ReplyError     `json:"err,omitempty"`
}

// ReplyError describes an error response.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Presence describes a node presence payload.
type Presence struct {
	NodeID string         `json:"nodeId"`
	Kind   string         `json:"kind"`
	Name   string         `json:"name"`
	Caps   map[string]any `json:"caps,omitempty"`
	TS     int64          `json:"ts"`
}

// Event is a generic event payload published on device changes.
type Event struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"deviceId,omitempty"`
	TS       int64           `json:"ts"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// NewCommand builds a command envelope with a JSON body.
func NewCommand(cmdType string, body any) (CommandEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}

	return CommandEnvelope{
		Type: cmdType,
		Body: payload,
	}, nil
}

// ValidateCommandEnvelope validates required envelope fields.
func ValidateCommandEnvelope(cmd CommandEnvelope) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return errors.New("command id required")
	}
	if strings.TrimSpace(cmd.Type) == "" {
		return errors.New("command type required")
	}
	return nil
}

// TopicCommands returns the command topic for a node.
func TopicCommands(base string, nodeID string) string {
	return fmt.Sprintf("%s/nodes/%s/commands", base, nodeID)
}

// TopicReply returns the reply topic for a client.
func TopicReply(base string, clientID string) string {
	return fmt.Sprintf("%s/clients/%s/replies", base, clientID)
}

// TopicPresence returns the retained presence topic for a node.
func TopicPresence(base string, nodeID string) string {
	return fmt.Sprintf("%s/nodes/%s/presence", base, nodeID)
}

// TopicDevices returns the retained device-list topic for a node.
func TopicDevices(base string, nodeID string) string {
	return fmt.Sprintf("%s/nodes/%s/devices", base, nodeID)
}

// TopicState returns the retained player-state topic for a node.
func TopicState(base string, nodeID string) string {
	return fmt.Sprintf("%s/nodes/%s/state", base, nodeID)
}

// TopicEvents returns the event topic for a node.
func TopicEvents(base string, nodeID string) string {
	return fmt.Sprintf("%s/nodes/%s/events", base, nodeID)
}
