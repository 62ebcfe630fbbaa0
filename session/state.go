package session

// State is a step of the submit lifecycle
type State int

const (
	StateIdle State = iota
	StateUserRecorded
	StateBotPending
	StateBotStreaming
	StateFinalizing
	StateCommitted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserRecorded:
		return "user_recorded"
	case StateBotPending:
		return "bot_pending"
	case StateBotStreaming:
		return "bot_streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCommitted:
		return "committed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen without a new query
func (s State) Terminal() bool {
	return s == StateIdle || s == StateCommitted || s == StateErrored
}
