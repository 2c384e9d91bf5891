// Package session implements the checkpoint/timeout state machine that
// winds a time-boxed conversation down before the hard cutoff.
package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	errEmptySchedule  = errors.New("schedule has no checkpoints")
	errNonMonotonic   = errors.New("checkpoint offsets must be strictly increasing")
	errFinalNotLast   = errors.New("only the last checkpoint may be final")
	errMissingFinal   = errors.New("last checkpoint must be final")
	errFinalOffset    = errors.New("final checkpoint offset must equal total duration")
	errNegativeOffset = errors.New("checkpoint offset must be positive")
	errZeroTotal      = errors.New("total duration must be positive")
)

// Checkpoint is a single elapsed-time threshold in a session.
type Checkpoint struct {
	// Offset is the elapsed time from session start at which the
	// checkpoint fires.
	Offset time.Duration

	// Instruction is silently pushed to the conversation capability
	// when the checkpoint fires. Never surfaced to the end user.
	// Empty means no side-channel update beyond the timing figures.
	Instruction string

	// WrapUp signals the turn loop to start steering the conversation
	// toward closure without mentioning time.
	WrapUp bool

	// Final marks the hard cutoff. Exactly one checkpoint is final and
	// it is always the last.
	Final bool
}

// Schedule is an ordered, immutable set of checkpoints for one session
// variant. Built once from static configuration and validated at
// process start; a malformed schedule is a startup bug, never a
// per-session condition.
type Schedule struct {
	Total       time.Duration
	Checkpoints []Checkpoint
}

// Validate checks the schedule invariants: strictly increasing positive
// offsets, exactly one final checkpoint in last position, and a final
// offset equal to the total duration.
func (s Schedule) Validate() error {
	if s.Total <= 0 {
		return fmt.Errorf("schedule: %w", errZeroTotal)
	}
	if len(s.Checkpoints) == 0 {
		return fmt.Errorf("schedule: %w", errEmptySchedule)
	}

	prev := time.Duration(0)
	for i, cp := range s.Checkpoints {
		if cp.Offset <= 0 {
			return fmt.Errorf("schedule entry %d: %w", i, errNegativeOffset)
		}
		if cp.Offset <= prev && i > 0 {
			return fmt.Errorf("schedule entry %d: %w", i, errNonMonotonic)
		}
		if cp.Final && i != len(s.Checkpoints)-1 {
			return fmt.Errorf("schedule entry %d: %w", i, errFinalNotLast)
		}
		prev = cp.Offset
	}

	last := s.Checkpoints[len(s.Checkpoints)-1]
	if !last.Final {
		return fmt.Errorf("schedule: %w", errMissingFinal)
	}
	if last.Offset != s.Total {
		return fmt.Errorf("schedule: %w (final at %s, total %s)", errFinalOffset, last.Offset, s.Total)
	}
	return nil
}

// Final returns the terminal checkpoint.
func (s Schedule) Final() Checkpoint {
	return s.Checkpoints[len(s.Checkpoints)-1]
}
