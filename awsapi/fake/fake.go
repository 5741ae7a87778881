// Package fake provides configurable in-memory implementations of the awsapi
// interfaces for contract tests.
package fake

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"cumulus/awsapi"
)

// Batch is an in-memory Batch API. DescribeJobs serves whatever details are
// present in Jobs; everything else records its inputs.
type Batch struct {
	mu sync.Mutex

	// Jobs maps job id to the detail DescribeJobs returns for it. Ids not in
	// the map are simply absent from the response.
	Jobs map[string]types.JobDetail

	RegisterErr  error
	SubmitErr    error
	TerminateErr error

	nextJob      int
	registered   []batch.RegisterJobDefinitionInput
	submitted    []batch.SubmitJobInput
	terminated   []batch.TerminateJobInput
	deregistered []string
}

func NewBatch() *Batch {
	return &Batch{Jobs: map[string]types.JobDetail{}}
}

func (b *Batch) SubmitJob(ctx context.Context, in *batch.SubmitJobInput, _ ...func(*batch.Options)) (*batch.SubmitJobOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SubmitErr != nil {
		return nil, b.SubmitErr
	}
	b.nextJob++
	id := "job-" + strconv.Itoa(b.nextJob)
	b.submitted = append(b.submitted, *in)
	return &batch.SubmitJobOutput{
		JobId:   aws.String(id),
		JobName: in.JobName,
	}, nil
}

func (b *Batch) DescribeJobs(ctx context.Context, in *batch.DescribeJobsInput, _ ...func(*batch.Options)) (*batch.DescribeJobsOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := &batch.DescribeJobsOutput{}
	for _, id := range in.Jobs {
		if job, ok := b.Jobs[id]; ok {
			out.Jobs = append(out.Jobs, job)
		}
	}
	return out, nil
}

func (b *Batch) TerminateJob(ctx context.Context, in *batch.TerminateJobInput, _ ...func(*batch.Options)) (*batch.TerminateJobOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.TerminateErr != nil {
		return nil, b.TerminateErr
	}
	b.terminated = append(b.terminated, *in)
	return &batch.TerminateJobOutput{}, nil
}

func (b *Batch) RegisterJobDefinition(ctx context.Context, in *batch.RegisterJobDefinitionInput, _ ...func(*batch.Options)) (*batch.RegisterJobDefinitionOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.RegisterErr != nil {
		return nil, b.RegisterErr
	}
	b.registered = append(b.registered, *in)
	name := aws.ToString(in.JobDefinitionName)
	arn := fmt.Sprintf("arn:aws:batch:us-east-1:000000000000:job-definition/%s:%d", name, len(b.registered))
	return &batch.RegisterJobDefinitionOutput{
		JobDefinitionArn:  aws.String(arn),
		JobDefinitionName: in.JobDefinitionName,
	}, nil
}

func (b *Batch) DeregisterJobDefinition(ctx context.Context, in *batch.DeregisterJobDefinitionInput, _ ...func(*batch.Options)) (*batch.DeregisterJobDefinitionOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deregistered = append(b.deregistered, aws.ToString(in.JobDefinition))
	return &batch.DeregisterJobDefinitionOutput{}, nil
}

func (b *Batch) Registered() []batch.RegisterJobDefinitionInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]batch.RegisterJobDefinitionInput(nil), b.registered...)
}

func (b *Batch) Submitted() []batch.SubmitJobInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]batch.SubmitJobInput(nil), b.submitted...)
}

func (b *Batch) Terminated() []batch.TerminateJobInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]batch.TerminateJobInput(nil), b.terminated...)
}

func (b *Batch) Deregistered() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deregistered...)
}

// Logs serves a fixed sequence of log pages. A request carrying the same
// token that would be returned again signals end-of-stream, mirroring the
// GetLogEvents pagination contract.
type Logs struct {
	mu sync.Mutex

	// Pages holds the messages returned page by page.
	Pages [][]string
	// NotFound makes the first n calls fail with ResourceNotFoundException.
	NotFound int

	calls int
}

func (l *Logs) GetLogEvents(ctx context.Context, in *cloudwatchlogs.GetLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.NotFound > 0 {
		l.NotFound--
		return nil, &cwltypes.ResourceNotFoundException{
			Message: aws.String("The specified log stream does not exist."),
		}
	}

	idx := 0
	if in.NextToken != nil {
		n, err := strconv.Atoi(strings.TrimPrefix(aws.ToString(in.NextToken), "f/"))
		if err != nil {
			return nil, fmt.Errorf("bad fake token %q", aws.ToString(in.NextToken))
		}
		idx = n
	}

	out := &cloudwatchlogs.GetLogEventsOutput{}
	next := idx
	if idx < len(l.Pages) {
		for _, msg := range l.Pages[idx] {
			out.Events = append(out.Events, cwltypes.OutputLogEvent{Message: aws.String(msg)})
		}
		next = idx + 1
	}
	out.NextForwardToken = aws.String("f/" + strconv.Itoa(next))
	return out, nil
}

func (l *Logs) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Storage is an in-memory object store keyed by bucket/key.
type Storage struct {
	mu sync.Mutex

	UploadErr error
	DeleteErr error

	objects map[string][]byte
	deleted []string
}

func NewStorage() *Storage {
	return &Storage{objects: map[string][]byte{}}
}

func (s *Storage) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UploadErr != nil {
		return s.UploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[bucket+"/"+key] = data
	return nil
}

func (s *Storage) Delete(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.objects, bucket+"/"+key)
	s.deleted = append(s.deleted, bucket+"/"+key)
	return nil
}

// Objects returns a copy of the stored objects keyed by bucket/key.
func (s *Storage) Objects() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.objects))
	for k, v := range s.objects {
		out[k] = v
	}
	return out
}

func (s *Storage) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

var _ awsapi.BatchAPI = (*Batch)(nil)
var _ awsapi.LogsAPI = (*Logs)(nil)
var _ awsapi.Storage = (*Storage)(nil)
