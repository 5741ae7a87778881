// Package remote models the driver's read-side view of remote batch jobs.
package remote

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

// Status is a closed view of a remote job's coarse state. Raw service
// statuses outside the mapping table are rejected rather than treated as
// non-terminal.
type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

var fromBatch = map[types.JobStatus]Status{
	types.JobStatusSubmitted: StatusQueued,
	types.JobStatusPending:   StatusQueued,
	types.JobStatusRunnable:  StatusQueued,
	types.JobStatusStarting:  StatusQueued,
	types.JobStatusRunning:   StatusRunning,
	types.JobStatusSucceeded: StatusSucceeded,
	types.JobStatusFailed:    StatusFailed,
}

// FromBatch maps a raw AWS Batch job status onto the closed Status set.
func FromBatch(raw types.JobStatus) (Status, error) {
	st, ok := fromBatch[raw]
	if !ok {
		return 0, fmt.Errorf("unrecognized remote job status %q", raw)
	}
	return st, nil
}

// Terminal reports whether no further remote progress can occur.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Exit-status sentinels for terminal jobs with incomplete attempt data.
const (
	// ExitUnknown is reported when the final attempt has no exit code, e.g.
	// the instance was reclaimed before the container finished.
	ExitUnknown = -2
	// ExitNoAttempt is reported when a terminal job has no attempt records.
	ExitNoAttempt = -1
)

// Outcome is the terminal result extracted for one job.
type Outcome struct {
	ExitStatus   int
	WallTime     time.Duration
	StatusReason string
}
