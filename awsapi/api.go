// Package awsapi defines the driver's view of the remote AWS services and
// provides production client constructors. The interfaces cover only the
// operations the driver uses so tests can substitute fakes.
package awsapi

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

// BatchAPI is the subset of the AWS Batch client the driver depends on.
type BatchAPI interface {
	SubmitJob(ctx context.Context, in *batch.SubmitJobInput, opts ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
	DescribeJobs(ctx context.Context, in *batch.DescribeJobsInput, opts ...func(*batch.Options)) (*batch.DescribeJobsOutput, error)
	TerminateJob(ctx context.Context, in *batch.TerminateJobInput, opts ...func(*batch.Options)) (*batch.TerminateJobOutput, error)
	RegisterJobDefinition(ctx context.Context, in *batch.RegisterJobDefinitionInput, opts ...func(*batch.Options)) (*batch.RegisterJobDefinitionOutput, error)
	DeregisterJobDefinition(ctx context.Context, in *batch.DeregisterJobDefinitionInput, opts ...func(*batch.Options)) (*batch.DeregisterJobDefinitionOutput, error)
}

// LogsAPI is the subset of the CloudWatch Logs client the driver depends on.
type LogsAPI interface {
	GetLogEvents(ctx context.Context, in *cloudwatchlogs.GetLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// Storage stages command scripts as durable objects and reclaims them.
type Storage interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
	Delete(ctx context.Context, bucket, key string) error
}

// Clients bundles the remote service clients the driver needs. All three are
// safe for concurrent use.
type Clients struct {
	Batch   BatchAPI
	Logs    LogsAPI
	Storage Storage
}
