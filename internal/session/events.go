package session

import "time"

// Event type and status values on the wire.
const (
	EventTypeCheckpoint = "time_checkpoint"
	EventTypeStatus     = "session_status"

	StatusInProgress = "in_progress"
	StatusEnding     = "ending"

	ReasonCheckpoint = "checkpoint"
	ReasonTimeout    = "timeout"
)

// CheckpointMetadata carries the timing figures attached to a
// checkpoint event. Elapsed and remaining derive from the checkpoint's
// configured offset, so elapsed + remaining always equals the total.
type CheckpointMetadata struct {
	ElapsedSeconds   int  `json:"elapsed_seconds"`
	RemainingSeconds int  `json:"remaining_seconds"`
	CheckpointIndex  int  `json:"checkpoint_index"`
	TotalDuration    int  `json:"total_duration"`
	IsFinal          bool `json:"is_final"`
}

// TimeCheckpointEvent notifies the remote peer that a checkpoint fired.
// Not persisted; exists only on the wire.
type TimeCheckpointEvent struct {
	Type      string             `json:"type"`
	Status    string             `json:"status"`
	Reason    string             `json:"reason"`
	Timestamp string             `json:"timestamp"`
	Metadata  CheckpointMetadata `json:"metadata"`
}

// StatusMetadata carries the payload of the legacy status event.
type StatusMetadata struct {
	DurationSeconds int `json:"duration_seconds"`
}

// SessionStatusEvent is the legacy alias emitted alongside the final
// checkpoint event for peers that predate time_checkpoint.
type SessionStatusEvent struct {
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	Reason    string         `json:"reason"`
	Timestamp string         `json:"timestamp"`
	Metadata  StatusMetadata `json:"metadata"`
}

// NewCheckpointEvent builds the wire event for schedule entry idx.
func NewCheckpointEvent(s Schedule, idx int, now time.Time) TimeCheckpointEvent {
	cp := s.Checkpoints[idx]
	elapsed := int(cp.Offset.Seconds())
	total := int(s.Total.Seconds())

	status := StatusInProgress
	if cp.Final {
		status = StatusEnding
	}

	return TimeCheckpointEvent{
		Type:      EventTypeCheckpoint,
		Status:    status,
		Reason:    ReasonCheckpoint,
		Timestamp: now.UTC().Format(time.RFC3339),
		Metadata: CheckpointMetadata{
			ElapsedSeconds:   elapsed,
			RemainingSeconds: total - elapsed,
			CheckpointIndex:  idx,
			TotalDuration:    total,
			IsFinal:          cp.Final,
		},
	}
}

// NewStatusEvent builds the legacy session_status event sent at the
// final checkpoint only.
func NewStatusEvent(s Schedule, now time.Time) SessionStatusEvent {
	return SessionStatusEvent{
		Type:      EventTypeStatus,
		Status:    StatusEnding,
		Reason:    ReasonTimeout,
		Timestamp: now.UTC().Format(time.RFC3339),
		Metadata:  StatusMetadata{DurationSeconds: int(s.Total.Seconds())},
	}
}
