package agentstate

import (
	"encoding/json"
	"fmt"
)

// ToJSON serializes the full session state. The output is a complete,
// field-for-field snapshot: FromJSON on it reconstructs an equivalent
// Manager.
func (m *Manager) ToJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(m.state)
	if err != nil {
		return nil, fmt.Errorf("marshal session %s: %w", m.state.SessionID, err)
	}
	return data, nil
}

// FromJSON reconstructs a Manager from a ToJSON snapshot.
func FromJSON(data []byte, opts ...ManagerOption) (*Manager, error) {
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if state.SessionID == "" {
		return nil, fmt.Errorf("session state has no session id")
	}
	return Restore(state, opts...), nil
}
