// Package driver binds workflow-engine tasks to AWS Batch: it stages command
// scripts to S3, registers reusable job definitions, submits jobs, polls them
// to completion, collects their CloudWatch logs, and reclaims staged storage.
package driver

import (
	"fmt"
	"log/slog"
	"os/user"
	"time"

	"cumulus/awsapi"
)

const (
	// maxPoolWorkers bounds concurrent remote calls during bulk submission
	// and termination.
	maxPoolWorkers = 50
	// describeChunkSize is the number of job ids sent per DescribeJobs call.
	describeChunkSize = 50
	// maxJobNameLen is the service-side limit on job and definition names.
	maxJobNameLen = 128
)

// Config carries driver-wide settings. Per-task settings live on
// task.ExecOptions.
type Config struct {
	// Namespace prefixes job names, definition names, and the job_type tag.
	Namespace string
	// Username tags submitted jobs and is part of the derived job name.
	Username string
	// LogGroup is the CloudWatch log group batch jobs write to.
	LogGroup string
	// GetLogAttempts and GetLogDelay bound the retry on "log stream not yet
	// created" during cleanup after normal completion.
	GetLogAttempts int
	GetLogDelay    time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Defaults returns a usable baseline configuration.
func Defaults() Config {
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	return Config{
		Namespace:      "cumulus",
		Username:       username,
		LogGroup:       "/aws/batch/job",
		GetLogAttempts: 3,
	}
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace required")
	}
	if c.Username == "" {
		return fmt.Errorf("username required")
	}
	if c.LogGroup == "" {
		return fmt.Errorf("log group required")
	}
	if c.GetLogAttempts < 0 {
		return fmt.Errorf("log attempts must be >= 0")
	}
	return nil
}

// Driver owns the remote lifecycle of tasks handed to it by a workflow
// engine. All exported methods are safe for concurrent use; the only shared
// mutable state is the job-definition cache.
type Driver struct {
	cfg  Config
	api  awsapi.Clients
	defs *definitionCache
	log  *slog.Logger
}

func New(cfg Config, clients awsapi.Clients) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clients.Batch == nil || clients.Logs == nil || clients.Storage == nil {
		return nil, fmt.Errorf("batch, logs, and storage clients required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:  cfg,
		api:  clients,
		defs: newDefinitionCache(),
		log:  logger,
	}, nil
}
