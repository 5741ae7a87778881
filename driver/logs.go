package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// FetchLogs returns the textual output of a job, resolving its log stream
// from the job record first. If the job has no log stream, or the stream
// never appears within the given attempts, a descriptive placeholder is
// returned instead of an error.
func (d *Driver) FetchLogs(ctx context.Context, jobID string, attempts int, delay time.Duration) (string, error) {
	jobs, err := d.describeJobs(ctx, []string{jobID}, false)
	if err != nil {
		return "", err
	}
	stream := ""
	if jobs[0].Container != nil {
		stream = aws.ToString(jobs[0].Container.LogStreamName)
	}
	if stream == "" {
		return fmt.Sprintf("no log stream was available for job: %s\n", jobID), nil
	}
	return d.fetchLogsFromStream(ctx, stream, attempts, delay)
}

// fetchLogsFromStream reads a stream end to end. A stream that does not
// exist yet is retried up to attempts times with delay in between; once
// attempts are exhausted the placeholder text is returned.
func (d *Driver) fetchLogsFromStream(ctx context.Context, stream string, attempts int, delay time.Duration) (string, error) {
	for {
		text, err := d.readLogStream(ctx, stream)
		if err == nil {
			return text, nil
		}
		var notFound *cwltypes.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return "", err
		}
		attempts--
		if attempts <= 0 {
			return fmt.Sprintf("log stream not found for log_stream_name: %s\n", stream), nil
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// readLogStream pages from the head of the stream until the forward token
// repeats, concatenating message bodies. Messages containing a carriage
// return are dropped; they are progress-bar noise from tools drawing over
// their own output. Cancellation is honored between pages, returning what
// has accumulated so far.
func (d *Driver) readLogStream(ctx context.Context, stream string) (string, error) {
	var (
		token    *string
		messages []string
	)
	for {
		resp, err := d.api.Logs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
			LogGroupName:  aws.String(d.cfg.LogGroup),
			LogStreamName: aws.String(stream),
			StartFromHead: aws.Bool(true),
			NextToken:     token,
		})
		if err != nil {
			return "", fmt.Errorf("get log events for %s: %w", stream, err)
		}
		for _, ev := range resp.Events {
			msg := aws.ToString(ev.Message)
			if strings.ContainsRune(msg, '\r') {
				continue
			}
			messages = append(messages, msg)
		}
		if token != nil && resp.NextForwardToken != nil && *token == *resp.NextForwardToken {
			break
		}
		token = resp.NextForwardToken
		if ctx.Err() != nil {
			break
		}
	}
	return strings.Join(messages, "\n"), nil
}
