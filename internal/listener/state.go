package listener

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// State holds the id of the last consumed message per conversation.
type State struct {
	LastID map[string]int64 `json:"last_id"`
}

func newState() State {
	return State{LastID: map[string]int64{}}
}

// LoadState reads the cursor file. A missing or unreadable document yields
// an empty state.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return newState(), nil
	}
	if err != nil {
		return newState(), fmt.Errorf("listener state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil || st.LastID == nil {
		return newState(), nil
	}
	return st, nil
}

// Save writes the cursor file atomically.
func (s State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("listener state: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("listener state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("listener state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("listener state: %w", err)
	}
	return nil
}

// Sessions returns the tracked conversation names, sorted.
func (s State) Sessions() []string {
	out := make([]string, 0, len(s.LastID))
	for name := range s.LastID {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s State) clone() State {
	c := newState()
	for k, v := range s.LastID {
		c.LastID[k] = v
	}
	return c
}
