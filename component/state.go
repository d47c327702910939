package component

import (
	"fmt"
	"strings"

	"github.com/c360/mediaflow/errors"
)

// State is a lifecycle state.
type State int

const (
	StateInvalid State = iota
	StateUnloaded
	StateLoaded
	StateWaitForResources
	StateIdle
	StateExecuting
	StatePaused
)

var stateNames = [...]string{
	StateInvalid:          "invalid",
	StateUnloaded:         "unloaded",
	StateLoaded:           "loaded",
	StateWaitForResources: "wait_for_resources",
	StateIdle:             "idle",
	StateExecuting:        "executing",
	StatePaused:           "paused",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState is the inverse of State.String, ignoring case.
func ParseState(s string) (State, error) {
	for i, name := range stateNames {
		if strings.EqualFold(name, s) {
			return State(i), nil
		}
	}
	return StateInvalid, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "State", "ParseState",
		"unknown state %q", s)
}

// Processing reports whether buffers may be flowing.
func (s State) Processing() bool {
	return s == StateExecuting || s == StatePaused
}

// AtLeastLoaded reports whether internal resources are allocated.
func (s State) AtLeastLoaded() bool {
	return s >= StateLoaded
}

// transitions lists the single steps SetState may take. INVALID is only
// reachable through Invalidate.
var transitions = map[State][]State{
	StateUnloaded:         {StateLoaded},
	StateLoaded:           {StateUnloaded, StateWaitForResources},
	StateWaitForResources: {StateIdle, StateLoaded},
	StateIdle:             {StateExecuting, StateLoaded},
	StateExecuting:        {StateIdle, StatePaused},
	StatePaused:           {StateExecuting, StateIdle},
}

// CanTransition reports whether to is one legal step from from.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Path returns the shortest sequence of steps from from to to, excluding from.
// ok is false when to cannot be reached.
func Path(from, to State) (path []State, ok bool) {
	if from == to {
		return nil, true
	}
	prev := map[State]State{from: from}
	queue := []State{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				for s := to; s != from; s = prev[s] {
					path = append([]State{s}, path...)
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}
