package session

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewCheckpointEvent(t *testing.T) {
	s := validSchedule()
	// Timer latency must not leak into the metadata: the figures come
	// from the configured offset even when delivery runs a bit late.
	now := time.Date(2025, 1, 1, 0, 3, 1, 0, time.UTC)

	ev := NewCheckpointEvent(s, 0, now)

	if ev.Type != EventTypeCheckpoint {
		t.Errorf("type = %q, want %q", ev.Type, EventTypeCheckpoint)
	}
	if ev.Status != StatusInProgress {
		t.Errorf("status = %q, want %q", ev.Status, StatusInProgress)
	}
	if ev.Reason != ReasonCheckpoint {
		t.Errorf("reason = %q, want %q", ev.Reason, ReasonCheckpoint)
	}
	if ev.Timestamp != "2025-01-01T00:03:01Z" {
		t.Errorf("timestamp = %q", ev.Timestamp)
	}
	md := ev.Metadata
	if md.ElapsedSeconds != 180 || md.RemainingSeconds != 120 {
		t.Errorf("elapsed/remaining = %d/%d, want 180/120", md.ElapsedSeconds, md.RemainingSeconds)
	}
	if md.CheckpointIndex != 0 {
		t.Errorf("checkpoint_index = %d, want 0", md.CheckpointIndex)
	}
	if md.TotalDuration != 300 {
		t.Errorf("total_duration = %d, want 300", md.TotalDuration)
	}
	if md.IsFinal {
		t.Error("is_final = true for intermediate checkpoint")
	}
}

func TestNewCheckpointEventFinal(t *testing.T) {
	s := validSchedule()
	ev := NewCheckpointEvent(s, len(s.Checkpoints)-1, time.Now())

	if ev.Status != StatusEnding {
		t.Errorf("final status = %q, want %q", ev.Status, StatusEnding)
	}
	if !ev.Metadata.IsFinal {
		t.Error("is_final = false for final checkpoint")
	}
	if ev.Metadata.RemainingSeconds != 0 {
		t.Errorf("remaining = %d, want 0", ev.Metadata.RemainingSeconds)
	}
}

func TestCheckpointEventInvariant(t *testing.T) {
	s := validSchedule()
	for i := range s.Checkpoints {
		ev := NewCheckpointEvent(s, i, time.Now())
		sum := ev.Metadata.ElapsedSeconds + ev.Metadata.RemainingSeconds
		if sum != ev.Metadata.TotalDuration {
			t.Errorf("checkpoint %d: elapsed+remaining = %d, want %d", i, sum, ev.Metadata.TotalDuration)
		}
	}
}

func TestCheckpointEventWireShape(t *testing.T) {
	s := validSchedule()
	raw, err := json.Marshal(NewCheckpointEvent(s, 1, time.Date(2025, 1, 1, 0, 4, 30, 0, time.UTC)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "status", "reason", "timestamp", "metadata"} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}
	md, ok := got["metadata"].(map[string]any)
	if !ok {
		t.Fatal("metadata is not an object")
	}
	for _, key := range []string{"elapsed_seconds", "remaining_seconds", "checkpoint_index", "total_duration", "is_final"} {
		if _, ok := md[key]; !ok {
			t.Errorf("missing metadata key %q", key)
		}
	}
}

func TestNewStatusEvent(t *testing.T) {
	s := validSchedule()
	ev := NewStatusEvent(s, time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC))

	if ev.Type != EventTypeStatus {
		t.Errorf("type = %q, want %q", ev.Type, EventTypeStatus)
	}
	if ev.Status != StatusEnding {
		t.Errorf("status = %q, want %q", ev.Status, StatusEnding)
	}
	if ev.Reason != ReasonTimeout {
		t.Errorf("reason = %q, want %q", ev.Reason, ReasonTimeout)
	}
	if ev.Metadata.DurationSeconds != 300 {
		t.Errorf("duration_seconds = %d, want 300", ev.Metadata.DurationSeconds)
	}
}
