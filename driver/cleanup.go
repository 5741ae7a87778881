package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"

	"cumulus/core/task"
	"cumulus/pool"
)

const terminateReason = "terminated by cumulus"

// cleanupTask persists the job's logs to the task's stdout capture path and
// deletes the staged script. Pass logAttempts 0 to skip log collection, e.g.
// during a forced kill where logs may never appear. Safe to call from any
// worker; it touches no shared state beyond the task itself.
func (d *Driver) cleanupTask(ctx context.Context, t *task.Task, logStream string, logAttempts int, logDelay time.Duration) error {
	if logAttempts > 0 {
		var (
			logs string
			err  error
		)
		if logStream == "" {
			logs, err = d.FetchLogs(ctx, t.JobID, logAttempts, logDelay)
		} else {
			logs, err = d.fetchLogsFromStream(ctx, logStream, logAttempts, logDelay)
		}
		if err != nil {
			return err
		}
		body := logs + "\nWARNING: this might be truncated. Check the log stream on the AWS console for job: " + t.JobID + "\n"
		if err := os.WriteFile(t.StdoutPath, []byte(body), 0o644); err != nil {
			return fmt.Errorf("write stdout capture: %w", err)
		}
	}

	if t.Exec.KeepStagedScript {
		return nil
	}
	bucket, key, err := SplitURI(t.ScriptURI)
	if err != nil {
		return err
	}
	return d.api.Storage.Delete(ctx, bucket, key)
}

// Kill terminates the task's remote job and reclaims its staged resources.
// Logs are not collected; a killed job may never produce a stream.
func (d *Driver) Kill(ctx context.Context, t *task.Task) error {
	if t.JobID == "" {
		return fmt.Errorf("%w: task %s has no remote job id to kill", ErrInvalidTask, t.UID)
	}
	_, err := d.api.Batch.TerminateJob(ctx, &batch.TerminateJobInput{
		JobId:  aws.String(t.JobID),
		Reason: aws.String(terminateReason),
	})
	if err != nil {
		return fmt.Errorf("terminate job %s: %w", t.JobID, err)
	}
	if err := d.cleanupTask(ctx, t, "", 0, 0); err != nil {
		return err
	}
	t.Status = task.StatusKilled
	return nil
}

// KillTasks kills tasks over the same bounded worker pool used by
// submission. Per-task errors are joined.
func (d *Driver) KillTasks(ctx context.Context, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	d.log.Info("killing tasks", "count", len(tasks))
	errs := make([]error, len(tasks))
	pool.Each(ctx, min(len(tasks), maxPoolWorkers), len(tasks), func(ctx context.Context, i int) {
		errs[i] = d.Kill(ctx, tasks[i])
	})
	return errors.Join(errs...)
}
