package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageTaskStart   Stage = "TASK_START"
	StageTaskDone    Stage = "TASK_DONE"
	StageTaskError   Stage = "TASK_ERROR"
	StageAttemptDone Stage = "ATTEMPT_DONE"
)

func (s Stage) endsRun() bool {
	return s == StageRunDone || s == StageRunError
}

// Event captures a single milestone of a crawl run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the host label of URL ("unknown" for local inputs).
	Site string
	// URL is empty for run-level stages.
	URL   string
	Index int
	// Total is the task count, set on RUN_START.
	Total int
	// Strategy and Outcome describe ATTEMPT_DONE events.
	Strategy string
	Outcome  string
	// Bytes is the markdown length of a finished document.
	Bytes int64
	Dur   time.Duration
	// Note carries low-volume context such as the error kind or message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageTaskStart, StageTaskDone, StageTaskError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageAttemptDone:
		if e.URL == "" || e.Strategy == "" {
			return errors.New("attempt done requires url and strategy")
		}
		if e.Outcome == "" {
			return errors.New("attempt done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a textual run ID into the Event form.
func ParseRunID(raw string) ([16]byte, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
