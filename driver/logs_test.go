package driver

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

func TestReadLogStreamPaginatesUntilTokenRepeats(t *testing.T) {
	d, _, l, _ := newTestDriver(t)
	l.Pages = [][]string{{"a", "b"}, {"c"}}

	text, err := d.readLogStream(context.Background(), "stream-1")
	if err != nil {
		t.Fatalf("readLogStream: %v", err)
	}
	if text != "a\nb\nc" {
		t.Fatalf("text %q", text)
	}
	// Two content pages plus the empty page that repeats the token.
	if got := l.Calls(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestReadLogStreamDropsCarriageReturnNoise(t *testing.T) {
	d, _, l, _ := newTestDriver(t)
	l.Pages = [][]string{{"keep", "progress 42%\rprogress 43%", "also keep"}}

	text, err := d.readLogStream(context.Background(), "stream-1")
	if err != nil {
		t.Fatalf("readLogStream: %v", err)
	}
	if text != "keep\nalso keep" {
		t.Fatalf("text %q", text)
	}
}

func TestReadLogStreamStopsEarlyOnCancellation(t *testing.T) {
	d, _, l, _ := newTestDriver(t)
	l.Pages = [][]string{{"a"}, {"b"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	text, err := d.readLogStream(ctx, "stream-1")
	if err != nil {
		t.Fatalf("readLogStream: %v", err)
	}
	if text != "a" {
		t.Fatalf("expected only the first page, got %q", text)
	}
	if got := l.Calls(); got != 1 {
		t.Fatalf("expected 1 call before stopping, got %d", got)
	}
}

func TestFetchLogsRetriesMissingStream(t *testing.T) {
	d, _, l, _ := newTestDriver(t)
	l.NotFound = 2
	l.Pages = [][]string{{"finally"}}

	text, err := d.fetchLogsFromStream(context.Background(), "stream-1", 3, 0)
	if err != nil {
		t.Fatalf("fetchLogsFromStream: %v", err)
	}
	if text != "finally" {
		t.Fatalf("text %q", text)
	}
}

func TestFetchLogsDegradesToPlaceholder(t *testing.T) {
	d, _, l, _ := newTestDriver(t)
	l.NotFound = 100

	text, err := d.fetchLogsFromStream(context.Background(), "stream-x", 2, 0)
	if err != nil {
		t.Fatalf("fetchLogsFromStream: %v", err)
	}
	if !strings.Contains(text, "log stream not found for log_stream_name: stream-x") {
		t.Fatalf("placeholder %q", text)
	}
	if got := l.Calls(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestFetchLogsWithoutStreamReference(t *testing.T) {
	d, b, l, _ := newTestDriver(t)
	tk := newTestTask(t, "t1")
	seedJob(b, tk, "job-1", types.JobDetail{
		Status:    types.JobStatusSucceeded,
		Container: &types.ContainerDetail{LogStreamName: aws.String("")},
	})

	text, err := d.FetchLogs(context.Background(), "job-1", 3, 0)
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if !strings.Contains(text, "no log stream was available for job: job-1") {
		t.Fatalf("placeholder %q", text)
	}
	if got := l.Calls(); got != 0 {
		t.Fatalf("expected no log service calls, got %d", got)
	}
}

func TestFetchLogsResolvesStreamFromJob(t *testing.T) {
	d, b, l, _ := newTestDriver(t)
	l.Pages = [][]string{{"hello"}}
	tk := newTestTask(t, "t1")
	seedJob(b, tk, "job-1", types.JobDetail{
		Status:    types.JobStatusSucceeded,
		Container: &types.ContainerDetail{LogStreamName: aws.String("stream-1")},
	})

	text, err := d.FetchLogs(context.Background(), "job-1", 3, 0)
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if text != "hello" {
		t.Fatalf("text %q", text)
	}
}
