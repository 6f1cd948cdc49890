package stream

import "docker-stats-hub/internal/model"

// State is the supervisor's position in its reconnect cycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
	StateError
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status maps the state onto the wire enum. Idle and stopped report as closed.
func (s State) Status() model.ConnectionStatus {
	switch s {
	case StateConnecting:
		return model.StatusConnecting
	case StateConnected:
		return model.StatusConnected
	case StateError:
		return model.StatusError
	default:
		return model.StatusClosed
	}
}

// canTransition reports whether next is reachable from s. Connected -> connected
// is the liveness refresh triggered by an agent's own status report. Stopped is
// entered only through Supervisor.Stop and never left.
func (s State) canTransition(next State) bool {
	switch s {
	case StateIdle, StateClosed, StateError:
		return next == StateConnecting
	case StateConnecting:
		return next == StateConnected || next == StateClosed || next == StateError
	case StateConnected:
		return next == StateConnected || next == StateClosed || next == StateError
	default:
		return false
	}
}
