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
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunAborted Stage = "RUN_ABORTED"
	StageRunError   Stage = "RUN_ERROR"
	StageEntryDone  Stage = "ENTRY_DONE"
	StageWorkerDone Stage = "WORKER_DONE"
)

// Event captures a single milestone of a pipeline run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Step names the pipeline step (fetch, download, summarize, update) for
	// worker and entry events.
	Step string
	EntryID int64
	FeedID  int64
	// Disposition is processed, skipped or failed for ENTRY_DONE events.
	Disposition string
	// Bytes is the size of the content written back.
	Bytes int64
	// Totals carried by terminal run events.
	Processed int64
	Skipped   int64
	Failed    int64
	Dur       time.Duration
	// Note carries low-volume context such as a skip reason or error text.
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
	case StageRunStart, StageRunDone, StageRunAborted, StageRunError:
	case StageEntryDone:
		if e.EntryID == 0 {
			return errors.New("entry done requires entry id")
		}
		switch e.Disposition {
		case "processed", "skipped", "failed":
		default:
			return fmt.Errorf("unknown disposition %q", e.Disposition)
		}
	case StageWorkerDone:
		if e.Step == "" {
			return errors.New("worker done requires step")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a run.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageRunDone, StageRunAborted, StageRunError:
		return true
	default:
		return false
	}
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
