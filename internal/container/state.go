package container

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"droidium/internal/device"
)

// State is a deployment's position in the pipeline.
type State string

const (
	StateNone                   State = ""
	StateDeployed               State = "deployed"
	StateResigned               State = "resigned"
	StateServerRebuilt          State = "server_rebuilt"
	StateServerSigned           State = "server_signed"
	StateServerInstalled        State = "server_installed"
	StateInstrumented           State = "instrumented"
	StateInstrumentationRemoved State = "instrumentation_removed"
	StateUndeployed             State = "undeployed"
	StateFailed                 State = "failed"
)

var transitions = map[State][]State{
	StateNone:                   {StateDeployed},
	StateDeployed:               {StateResigned, StateUndeployed},
	StateResigned:               {StateServerRebuilt},
	StateServerRebuilt:          {StateServerSigned},
	StateServerSigned:           {StateServerInstalled},
	StateServerInstalled:        {StateInstrumented},
	StateInstrumented:           {StateInstrumentationRemoved},
	StateInstrumentationRemoved: {StateUndeployed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateUndeployed || s == StateFailed
}

// CanTransition reports whether a deployment may move from one state to
// another. Failed is reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateNone && !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const snapshotVersion = "1.0"

// Snapshot is the persisted view of a container, written to state.json in
// its working directory after every transition.
type Snapshot struct {
	Version     string             `json:"version"`
	Container   string             `json:"container"`
	WorkDir     string             `json:"workdir"`
	Device      *device.Device     `json:"device,omitempty"`
	Stopped     bool               `json:"stopped"`
	Updated     time.Time          `json:"updated"`
	Deployments map[string]*Status `json:"deployments"`
}

// snapshotUnlocked builds a snapshot. Caller must hold at least a read lock.
func (c *Container) snapshotUnlocked() Snapshot {
	s := Snapshot{
		Version:     snapshotVersion,
		Container:   c.name,
		WorkDir:     c.workDir,
		Stopped:     c.stopped,
		Updated:     time.Now(),
		Deployments: make(map[string]*Status, len(c.statuses)),
	}
	if c.device.Serial != "" {
		d := c.device
		s.Device = &d
	}
	for name, st := range c.statuses {
		cp := *st
		s.Deployments[name] = &cp
	}
	return s
}

// saveStateUnlocked persists the snapshot atomically. Caller must hold at
// least a read lock.
func (c *Container) saveStateUnlocked() error {
	if c.statePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(c.snapshotUnlocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tempPath := c.statePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tempPath, c.statePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Snapshot returns the current state of the container.
func (c *Container) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotUnlocked()
}

// LoadSnapshot reads a state.json written by a container.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if s.Deployments == nil {
		s.Deployments = make(map[string]*Status)
	}
	return &s, nil
}
