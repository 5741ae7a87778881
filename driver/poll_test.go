package driver

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"

	"cumulus/awsapi/fake"
	"cumulus/core/remote"
	"cumulus/core/task"
)

// seedJob registers a remote job record with the fake and wires the task to
// it, as if it had been submitted earlier.
func seedJob(b *fake.Batch, tk *task.Task, jobID string, detail types.JobDetail) {
	detail.JobId = aws.String(jobID)
	b.Jobs[jobID] = detail
	tk.JobID = jobID
	tk.ScriptURI = "s3://test-bucket/tmp/scripts/abc." + tk.UID + ".script"
	tk.Status = task.StatusSubmitted
}

func succeededDetail(exit int32, stream string) types.JobDetail {
	return types.JobDetail{
		Status: types.JobStatusSucceeded,
		Attempts: []types.AttemptDetail{{
			Container: &types.AttemptContainerDetail{ExitCode: aws.Int32(exit)},
		}},
		Container: &types.ContainerDetail{LogStreamName: aws.String(stream)},
		StartedAt: aws.Int64(10_000),
		StoppedAt: aws.Int64(100_000),
	}
}

func TestFilterCompletedYieldsOnlyTerminalTasks(t *testing.T) {
	d, b, l, s := newTestDriver(t)
	l.Pages = [][]string{{"line one", "line two"}}

	done := newTestTask(t, "t1")
	seedJob(b, done, "job-1", succeededDetail(0, "stream-1"))
	running := newTestTask(t, "t2")
	seedJob(b, running, "job-2", types.JobDetail{Status: types.JobStatusRunning})

	completed, err := d.FilterCompleted(context.Background(), []*task.Task{done, running})
	if err != nil {
		t.Fatalf("FilterCompleted: %v", err)
	}
	if len(completed) != 1 || completed[0].Task != done {
		t.Fatalf("expected only the terminal task, got %d completions", len(completed))
	}
	if done.Status != task.StatusSucceeded {
		t.Fatalf("terminal task status %q", done.Status)
	}
	if running.Status != task.StatusSubmitted {
		t.Fatalf("running task status changed to %q", running.Status)
	}

	out := completed[0].Outcome
	if out.ExitStatus != 0 {
		t.Fatalf("exit status %d", out.ExitStatus)
	}
	if out.WallTime.Seconds() != 90 {
		t.Fatalf("wall time %v, want 90s", out.WallTime)
	}

	// Cleanup ran: logs persisted with the truncation warning, staged script
	// reclaimed.
	stdout, err := os.ReadFile(done.StdoutPath)
	if err != nil {
		t.Fatalf("read stdout capture: %v", err)
	}
	if !strings.Contains(string(stdout), "line one\nline two") {
		t.Fatalf("stdout capture missing logs: %q", stdout)
	}
	if !strings.Contains(string(stdout), "WARNING: this might be truncated") {
		t.Fatalf("stdout capture missing truncation warning: %q", stdout)
	}
	if got := len(s.Deleted()); got != 1 {
		t.Fatalf("expected 1 staged-script deletion, got %d", got)
	}
}

func TestFilterCompletedFailureOutcome(t *testing.T) {
	d, b, l, _ := newTestDriver(t)
	l.Pages = [][]string{{"boom"}}

	tk := newTestTask(t, "t1")
	seedJob(b, tk, "job-1", types.JobDetail{
		Status: types.JobStatusFailed,
		Attempts: []types.AttemptDetail{{
			StatusReason: aws.String("Essential container in task exited"),
			Container: &types.AttemptContainerDetail{
				ExitCode: aws.Int32(137),
				Reason:   aws.String("OutOfMemoryError"),
			},
		}},
		Container: &types.ContainerDetail{LogStreamName: aws.String("stream-1")},
		StartedAt: aws.Int64(0),
		StoppedAt: aws.Int64(1_000),
	})

	completed, err := d.FilterCompleted(context.Background(), []*task.Task{tk})
	if err != nil {
		t.Fatalf("FilterCompleted: %v", err)
	}
	if tk.Status != task.StatusFailed {
		t.Fatalf("status %q, want failed", tk.Status)
	}
	out := completed[0].Outcome
	if out.ExitStatus != 137 {
		t.Fatalf("exit status %d", out.ExitStatus)
	}
	if !strings.Contains(out.StatusReason, "Essential container") ||
		!strings.Contains(out.StatusReason, "container_reason: OutOfMemoryError") {
		t.Fatalf("status reason %q", out.StatusReason)
	}
}

func TestFailedJobWithZeroExitRaises(t *testing.T) {
	d, b, _, _ := newTestDriver(t)
	tk := newTestTask(t, "t1")
	detail := succeededDetail(0, "stream-1")
	detail.Status = types.JobStatusFailed
	seedJob(b, tk, "job-1", detail)

	_, err := d.FilterCompleted(context.Background(), []*task.Task{tk})
	if !errors.Is(err, ErrRemoteInconsistent) {
		t.Fatalf("expected ErrRemoteInconsistent, got %v", err)
	}
}

func TestNoAttemptSentinels(t *testing.T) {
	d, b, l, _ := newTestDriver(t)
	l.Pages = [][]string{{}}

	noAttempt := newTestTask(t, "t1")
	seedJob(b, noAttempt, "job-1", types.JobDetail{
		Status:    types.JobStatusFailed,
		Container: &types.ContainerDetail{LogStreamName: aws.String("stream-1")},
		StartedAt: aws.Int64(0),
		StoppedAt: aws.Int64(1_000),
	})
	noExit := newTestTask(t, "t2")
	seedJob(b, noExit, "job-2", types.JobDetail{
		Status: types.JobStatusFailed,
		Attempts: []types.AttemptDetail{{
			StatusReason: aws.String("Host EC2 instance terminated"),
			Container:    &types.AttemptContainerDetail{},
		}},
		Container: &types.ContainerDetail{LogStreamName: aws.String("stream-2")},
		StartedAt: aws.Int64(0),
		StoppedAt: aws.Int64(1_000),
	})

	completed, err := d.FilterCompleted(context.Background(), []*task.Task{noAttempt, noExit})
	if err != nil {
		t.Fatalf("FilterCompleted: %v", err)
	}
	if got := completed[0].Outcome; got.ExitStatus != remote.ExitNoAttempt || got.StatusReason != "no_attempt" {
		t.Fatalf("no-attempt outcome: %+v", got)
	}
	if got := completed[1].Outcome; got.ExitStatus != remote.ExitUnknown {
		t.Fatalf("missing-exit outcome: %+v", got)
	}
}

func TestMissingTimestampsDefaultToZero(t *testing.T) {
	d, b, l, _ := newTestDriver(t)
	l.Pages = [][]string{{}}

	tk := newTestTask(t, "t1")
	detail := succeededDetail(0, "stream-1")
	detail.StartedAt = nil
	detail.StoppedAt = nil
	seedJob(b, tk, "job-1", detail)

	completed, err := d.FilterCompleted(context.Background(), []*task.Task{tk})
	if err != nil {
		t.Fatalf("FilterCompleted: %v", err)
	}
	if completed[0].Outcome.WallTime != 0 {
		t.Fatalf("wall time %v, want 0", completed[0].Outcome.WallTime)
	}
}

func TestMissingJobIsAConsistencyError(t *testing.T) {
	d, _, _, _ := newTestDriver(t)
	tk := newTestTask(t, "t1")
	tk.JobID = "job-unknown"

	_, err := d.FilterCompleted(context.Background(), []*task.Task{tk})
	if !errors.Is(err, ErrJobMismatch) {
		t.Fatalf("expected ErrJobMismatch, got %v", err)
	}
}

func TestFilterCompletedRequiresJobID(t *testing.T) {
	d, _, _, _ := newTestDriver(t)
	tk := newTestTask(t, "t1")

	_, err := d.FilterCompleted(context.Background(), []*task.Task{tk})
	if !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask for missing job id, got %v", err)
	}
}

func TestUnknownRemoteStatusFailsLoudly(t *testing.T) {
	d, b, _, _ := newTestDriver(t)
	tk := newTestTask(t, "t1")
	seedJob(b, tk, "job-1", types.JobDetail{Status: types.JobStatus("HIBERNATING")})

	if _, err := d.FilterCompleted(context.Background(), []*task.Task{tk}); err == nil {
		t.Fatal("expected error for unmapped remote status")
	}
}

func TestStatusesToleratesMissingJobs(t *testing.T) {
	d, b, _, _ := newTestDriver(t)
	known := newTestTask(t, "t1")
	seedJob(b, known, "job-1", types.JobDetail{Status: types.JobStatusRunning})
	gone := newTestTask(t, "t2")
	gone.JobID = "job-gone"

	statuses, err := d.Statuses(context.Background(), []*task.Task{known, gone})
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if len(statuses) != 1 || statuses["job-1"] != remote.StatusRunning {
		t.Fatalf("statuses: %v", statuses)
	}
}

func TestDescribeJobsRejectsDuplicates(t *testing.T) {
	d, _, _, _ := newTestDriver(t)
	if _, err := d.describeJobs(context.Background(), []string{"job-1", "job-1"}, false); err == nil {
		t.Fatal("expected error for duplicate ids")
	}
}
