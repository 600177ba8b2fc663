package cast

// SearchStartBody starts a discovery search.
type SearchStartBody struct {
	TimeoutMS int64 `json:"timeoutMs,omitempty"`
}

// SearchStateReply reports discovery lifecycle state.
type SearchStateReply struct {
	Searching bool `json:"searching"`
	Running   bool `json:"running"`
}

// DeviceListReply carries the current device snapshot list.
type DeviceListReply struct {
	Devices []DeviceSnapshot `json:"devices"`
	TS      int64            `json:"ts"`
}

// CastLoadBody loads media onto a device.
type CastLoadBody struct {
	DeviceID string `json:"deviceId"`
	URI      string `json:"uri"`
	Metadata string `json:"metadata,omitempty"`
	Play     bool   `json:"play,omitempty"`
}

// ControlBody carries a logical action for a device.
type ControlBody struct {
	DeviceID string `json:"deviceId"`
	Action   Action `json:"action"`
	Value    string `json:"value,omitempty"`
}

// ControlReply carries the flattened action result.
type ControlReply struct {
	Result map[string]string `json:"result,omitempty"`
}

// PlayerStateBody queries state for a device.
type PlayerStateBody struct {
	DeviceID string `json:"deviceId"`
}
