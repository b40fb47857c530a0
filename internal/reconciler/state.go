package reconciler

import "github.com/rickgao/tickerboard/internal/session"

// LoadState is the data lifecycle of a reconciler.
type LoadState string

const (
	StateIdle    LoadState = "idle"
	StateLoading LoadState = "loading"
	StateLive    LoadState = "live"
	StateStale   LoadState = "stale"
	StateError   LoadState = "error"
)

// loadMachine tracks LoadState. Error is only reachable before the first
// success.
type loadMachine struct {
	state  LoadState
	loaded bool
}

func newLoadMachine() loadMachine {
	return loadMachine{state: StateIdle}
}

// begin marks a fetch in flight.
func (m *loadMachine) begin() {
	if m.loaded {
		m.state = StateStale
		return
	}
	m.state = StateLoading
}

// succeed records a successful fetch or tick.
func (m *loadMachine) succeed() {
	m.loaded = true
	m.state = StateLive
}

// fail records a failed fetch. The prior value is kept once loaded.
func (m *loadMachine) fail() {
	if m.loaded {
		m.state = StateStale
		return
	}
	m.state = StateError
}

func (m *loadMachine) reset() {
	*m = newLoadMachine()
}

// Mode is how a reconciler receives updates.
type Mode string

const (
	ModePolling   Mode = "polling"
	ModeStreaming Mode = "streaming"
)

// modeMachine derives the update mode from the session and stream health.
type modeMachine struct {
	status       session.Status
	streamFailed bool
}

func (m modeMachine) mode() Mode {
	if m.status == session.StatusOpen && !m.streamFailed {
		return ModeStreaming
	}
	return ModePolling
}

// setSession records a new status. It reports whether the stream should be
// re-initialized, which happens when an open session starts while the stream
// is marked failed. The failure flag is cleared in that case.
func (m *modeMachine) setSession(status session.Status) (reinit bool) {
	entering := status == session.StatusOpen && m.status != session.StatusOpen
	m.status = status
	if entering && m.streamFailed {
		m.streamFailed = false
		return true
	}
	return false
}

func (m *modeMachine) streamFailure() {
	m.streamFailed = true
}
