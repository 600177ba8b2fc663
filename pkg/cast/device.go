package cast

// DeviceSnapshot is a point-in-time, immutable view of a discovered device.
type DeviceSnapshot struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Manufacturer string            `json:"manufacturer,omitempty"`
	Model        string            `json:"model,omitempty"`
	DeviceType   string            `json:"deviceType,omitempty"`
	Location     string            `json:"location"`
	Address      string            `json:"address,omitempty"`
	Renderer     bool              `json:"renderer"`
	Services     map[string]string `json:"services,omitempty"`
	LastSeen     int64             `json:"lastSeen"`
}

// PositionSnapshot reports playback position for the active controller.
type PositionSnapshot struct {
	Track      int    `json:"track"`
	DurationMS int64  `json:"durationMs"`
	PositionMS int64  `json:"positionMs"`
	URI        string `json:"uri,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
}

// PlayerState is the synchronous state query payload for one device.
type PlayerState struct {
	Connected      bool             `json:"connected"`
	Device         *DeviceSnapshot  `json:"device,omitempty"`
	TransportState string           `json:"transportState"`
	Position       PositionSnapshot `json:"position"`
	Volume         int              `json:"volume"`
	Mute           bool             `json:"mute"`
	TS             int64            `json:"ts"`
}
