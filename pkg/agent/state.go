// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package agent

import "fmt"

// State is the lifecycle position of an agent.
type State string

const (
	StateCreated     State = "created"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateTerminated  State = "terminated"
	StateError       State = "error"
)

// mediator validates lifecycle transitions; every state change goes
// through it.
type mediator struct {
	allowed map[State][]State
}

func newMediator() *mediator {
	return &mediator{allowed: map[State][]State{
		StateCreated:     {StateInitialized, StateTerminated, StateError},
		StateInitialized: {StateRunning, StateTerminated, StateError},
		StateRunning:     {StatePaused, StateCompleted, StateTerminated, StateError},
		StatePaused:      {StateRunning, StateTerminated, StateError},
		StateCompleted:   {StateRunning, StateTerminated},
		StateError:       {StateTerminated},
	}}
}

func (m *mediator) validate(from, to State) error {
	for _, s := range m.allowed[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", from, to)
}

// EventKind names the lifecycle events listeners can subscribe to.
type EventKind string

const (
	EventInit         EventKind = "init"
	EventStart        EventKind = "start"
	EventComplete     EventKind = "complete"
	EventError        EventKind = "error"
	EventStateChanged EventKind = "state_changed"
)

// Listener receives lifecycle events synchronously on the transitioning
// goroutine.
type Listener func(kind EventKind, data map[string]interface{})
