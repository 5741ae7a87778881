package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"

	"cumulus/core/remote"
	"cumulus/core/task"
)

var (
	// ErrJobMismatch means DescribeJobs returned a different id set than
	// requested: remote state and local bookkeeping have diverged.
	ErrJobMismatch = errors.New("describe-jobs returned a different job set than requested")
	// ErrRemoteInconsistent means the remote service returned terminal data
	// that violates the driver's assumptions and must not be masked.
	ErrRemoteInconsistent = errors.New("remote job state violates driver invariants")
)

// Completion pairs a task with its terminal outcome.
type Completion struct {
	Task    *task.Task
	Outcome remote.Outcome
}

// FilterCompleted performs a single polling pass over tasks. Every task whose
// remote job has reached a terminal status is cleaned up (logs collected,
// staged script reclaimed), marked succeeded or failed, and returned with its
// outcome in input order. Non-terminal tasks are skipped this pass; call
// again on the next polling cycle.
func (d *Driver) FilterCompleted(ctx context.Context, tasks []*task.Task) ([]Completion, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.JobID == "" {
			return nil, fmt.Errorf("%w: task %s has no remote job id to poll", ErrInvalidTask, t.UID)
		}
		ids = append(ids, t.JobID)
	}
	jobs, err := d.describeJobs(ctx, ids, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.JobDetail, len(jobs))
	for _, job := range jobs {
		byID[aws.ToString(job.JobId)] = job
	}

	var completed []Completion
	for _, t := range tasks {
		job := byID[t.JobID]
		status, err := remote.FromBatch(job.Status)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", t.JobID, err)
		}
		if !status.Terminal() {
			continue
		}

		outcome, err := d.extractOutcome(t, job)
		if err != nil {
			return nil, err
		}

		logStream := ""
		if job.Container != nil {
			logStream = aws.ToString(job.Container.LogStreamName)
		}
		d.log.Info("cleaning up completed task", "task", t.UID, "job_id", t.JobID, "status", status.String())
		if err := d.cleanupTask(ctx, t, logStream, d.cfg.GetLogAttempts, d.cfg.GetLogDelay); err != nil {
			return nil, err
		}

		if status == remote.StatusSucceeded {
			t.Status = task.StatusSucceeded
		} else {
			t.Status = task.StatusFailed
		}
		completed = append(completed, Completion{Task: t, Outcome: outcome})
	}
	return completed, nil
}

// Statuses returns job id -> coarse remote status for progress reporting.
// Jobs the remote service no longer knows about are omitted.
func (d *Driver) Statuses(ctx context.Context, tasks []*task.Task) (map[string]remote.Status, error) {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.JobID != "" {
			ids = append(ids, t.JobID)
		}
	}
	if len(ids) == 0 {
		return map[string]remote.Status{}, nil
	}
	jobs, err := d.describeJobs(ctx, ids, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]remote.Status, len(jobs))
	for _, job := range jobs {
		status, err := remote.FromBatch(job.Status)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", aws.ToString(job.JobId), err)
		}
		out[aws.ToString(job.JobId)] = status
	}
	return out, nil
}

// describeJobs fetches job details in request-limit-sized chunks, preserving
// the input id order. Unless missingOK, every requested id must appear in
// the response and no unrequested id may.
func (d *Driver) describeJobs(ctx context.Context, ids []string, missingOK bool) ([]types.JobDetail, error) {
	unique := make(map[string]bool, len(ids))
	for _, id := range ids {
		if unique[id] {
			return nil, fmt.Errorf("duplicate job id %q in describe request", id)
		}
		unique[id] = true
	}

	var out []types.JobDetail
	for start := 0; start < len(ids); start += describeChunkSize {
		chunk := ids[start:min(start+describeChunkSize, len(ids))]
		resp, err := d.api.Batch.DescribeJobs(ctx, &batch.DescribeJobsInput{Jobs: chunk})
		if err != nil {
			return nil, fmt.Errorf("describe jobs: %w", err)
		}

		requested := make(map[string]bool, len(chunk))
		for _, id := range chunk {
			requested[id] = true
		}
		byID := make(map[string]types.JobDetail, len(resp.Jobs))
		for _, job := range resp.Jobs {
			id := aws.ToString(job.JobId)
			if !requested[id] {
				return nil, fmt.Errorf("%w: unrequested job %s in response", ErrJobMismatch, id)
			}
			byID[id] = job
		}
		for _, id := range chunk {
			job, ok := byID[id]
			if !ok {
				if missingOK {
					continue
				}
				return nil, fmt.Errorf("%w: job %s missing from response", ErrJobMismatch, id)
			}
			out = append(out, job)
		}
	}
	return out, nil
}

// extractOutcome pulls exit status, failure reason, and wall time out of a
// terminal job record.
func (d *Driver) extractOutcome(t *task.Task, job types.JobDetail) (remote.Outcome, error) {
	var (
		exit   int
		reason string
	)
	if len(job.Attempts) == 0 {
		exit = remote.ExitNoAttempt
		reason = "no_attempt"
	} else {
		attempt := job.Attempts[len(job.Attempts)-1]
		reason = aws.ToString(attempt.StatusReason)
		if reason != "" && attempt.Container != nil && attempt.Container.Reason != nil {
			reason += " -- container_reason: " + aws.ToString(attempt.Container.Reason)
		}
		if attempt.Container != nil && attempt.Container.ExitCode != nil {
			exit = int(aws.ToInt32(attempt.Container.ExitCode))
		} else {
			// Exit code can be missing when the instance disappeared, e.g.
			// the compute environment was deleted under a running job.
			exit = remote.ExitUnknown
		}
	}

	if job.Status == types.JobStatusFailed && exit == 0 {
		return remote.Outcome{}, fmt.Errorf("%w: job %s failed but has an exit status of 0", ErrRemoteInconsistent, t.JobID)
	}

	var wall time.Duration
	if job.StartedAt != nil && job.StoppedAt != nil {
		ms := aws.ToInt64(job.StoppedAt) - aws.ToInt64(job.StartedAt)
		wall = time.Duration((ms+500)/1000) * time.Second
	} else {
		d.log.Warn("could not find timing info for job", "job_id", t.JobID, "task", t.UID)
	}

	return remote.Outcome{
		ExitStatus:   exit,
		WallTime:     wall,
		StatusReason: reason,
	}, nil
}
