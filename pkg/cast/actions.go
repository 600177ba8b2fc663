package cast

// Action is a logical media action the control surface accepts.
type Action string

// Supported actions.
const (
	ActionPlay             Action = "play"
	ActionPause            Action = "pause"
	ActionStop             Action = "stop"
	ActionSeek             Action = "seek"
	ActionSetURI           Action = "setUri"
	ActionGetPositionInfo  Action = "getPositionInfo"
	ActionGetTransportInfo Action = "getTransportInfo"
	ActionSetVolume        Action = "setVolume"
	ActionSetMute          Action = "setMute"
)

// Valid reports whether the action is known.
func (a Action) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionStop, ActionSeek, ActionSetURI,
		ActionGetPositionInfo, ActionGetTransportInfo, ActionSetVolume, ActionSetMute:
		return true
	}
	return false
}
