// Package shard tracks the status and progress of a single shard's worker.
package shard

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a state change would move a shard
// backwards or conflict with an earlier completion.
var ErrInvalidTransition = errors.New("invalid shard state transition")

type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusDone:
		return "DONE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "PENDING":
		*s = StatusPending
	case "ACTIVE":
		*s = StatusActive
	case "DONE":
		*s = StatusDone
	default:
		return fmt.Errorf("unknown shard status: %q", text)
	}
	return nil
}

// State is a value; transitions return a new State and never modify the receiver.
type State struct {
	Status   Status `json:"status"`
	Progress int64  `json:"progress"`
}

func (s State) Done() bool {
	return s.Status == StatusDone
}

// Advance records progress. A pending shard becomes active. Progress never
// decreases. A done shard only accepts progress it already has.
func (s State) Advance(progress int64) (State, error) {
	if s.Status == StatusDone {
		if progress > s.Progress {
			return s, fmt.Errorf("%w: advance done shard from %d to %d", ErrInvalidTransition, s.Progress, progress)
		}
		return s, nil
	}
	return State{Status: StatusActive, Progress: max(s.Progress, progress)}, nil
}

// Complete marks the shard done with the given final progress. Completing an
// already done shard is a no-op when the final progress matches and an error
// otherwise.
func (s State) Complete(final int64) (State, error) {
	if s.Status == StatusDone {
		if final != s.Progress {
			return s, fmt.Errorf("%w: shard already done at %d, got %d", ErrInvalidTransition, s.Progress, final)
		}
		return s, nil
	}
	return State{Status: StatusDone, Progress: max(s.Progress, final)}, nil
}

// Supersedes reports whether s is more advanced than other: a later status
// wins, and equal statuses are ordered by progress.
func (s State) Supersedes(other State) bool {
	if s.Status != other.Status {
		return s.Status > other.Status
	}
	return s.Progress > other.Progress
}

// Latest returns whichever of a and b is more advanced.
func Latest(a, b State) State {
	if b.Supersedes(a) {
		return b
	}
	return a
}

func (s State) String() string {
	return fmt.Sprintf("%s@%d", s.Status, s.Progress)
}
