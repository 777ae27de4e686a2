package client

import "sync"

// State del intento de login.
type State string

const (
	StateIdle             State = "idle"
	StateInitiating       State = "initiating"
	StateAwaitingProvider State = "awaiting_provider"
	StateDeepLinkReceived State = "deep_link_received"
	StatePollingSuccess   State = "polling_success"
	StatePollingError     State = "polling_error"
	StateTimeout          State = "timeout"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// Terminal reporta succeeded o failed.
func (s State) Terminal() bool { return s == StateSucceeded || s == StateFailed }

// machine registra transiciones. Hay exactamente una transición terminal;
// todo evento posterior es un no-op.
type machine struct {
	mu       sync.Mutex
	current  State
	history  []State
	onState  func(State)
	terminal sync.Once
	done     bool
}

func newMachine(onState func(State)) *machine {
	return &machine{current: StateIdle, history: []State{StateIdle}, onState: onState}
}

// to avanza a s salvo que ya haya terminado. Devuelve false si se ignoró.
func (m *machine) to(s State) bool {
	if s.Terminal() {
		applied := false
		m.terminal.Do(func() { applied = m.set(s) })
		return applied
	}
	return m.set(s)
}

func (m *machine) set(s State) bool {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return false
	}
	m.current = s
	m.history = append(m.history, s)
	m.done = s.Terminal()
	cb := m.onState
	m.mu.Unlock()

	if cb != nil {
		cb(s)
	}
	return true
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *machine) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history...)
}

// finish cierra con succeeded si err == nil, si no failed.
func (m *machine) finish(err error) {
	if err == nil {
		m.to(StateSucceeded)
		return
	}
	m.to(StateFailed)
}
