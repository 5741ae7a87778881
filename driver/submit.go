package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"

	"cumulus/core/task"
	"cumulus/pool"
)

var (
	// ErrInvalidTask marks a task that fails validation before any remote
	// call is made.
	ErrInvalidTask = errors.New("invalid task")
	// ErrInvalidName marks a derived job name outside the service's allowed
	// character set.
	ErrInvalidName = errors.New("invalid job name")
)

// Job names must start alphanumeric; hyphens and underscores are allowed
// after that.
var jobNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// SubmitTasks registers any missing job definitions, then submits every task
// over a bounded worker pool. Each task that the remote service accepts is
// marked submitted with its job id, staged-script URI, and definition ARN
// recorded; a task reached after ctx is cancelled is marked killed without
// any remote call. Per-task errors are joined into the returned error.
func (d *Driver) SubmitTasks(ctx context.Context, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := d.registerBatchDefinitions(ctx, tasks); err != nil {
		return err
	}

	errs := make([]error, len(tasks))
	if len(tasks) == 1 {
		errs[0] = d.submitOne(ctx, tasks[0])
	} else {
		pool.Each(ctx, min(len(tasks), maxPoolWorkers), len(tasks), func(ctx context.Context, i int) {
			errs[i] = d.submitOne(ctx, tasks[i])
		})
	}
	return errors.Join(errs...)
}

// registerBatchDefinitions deduplicates definition registration across the
// batch: one registration per distinct container image, with the first
// task's mounts, volumes, and shared-memory size defining the shape.
func (d *Driver) registerBatchDefinitions(ctx context.Context, tasks []*task.Task) error {
	seen := map[string]bool{}
	for _, t := range tasks {
		image := t.Exec.ContainerImage
		if image == "" || seen[image] {
			continue
		}
		seen[image] = true
		_, err := d.defs.getOrRegister(ctx, d, definitionSpec{
			Image:          image,
			Mounts:         t.MountPoints,
			Volumes:        t.Volumes,
			SharedMemoryMB: t.Exec.SharedMemoryMB,
			NameHint:       t.UID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) submitOne(ctx context.Context, t *task.Task) error {
	// The owner's cancellation is checked per task, not per batch: a signal
	// raised mid-batch still prevents the remaining submissions.
	if ctx.Err() != nil {
		t.Status = task.StatusKilled
		return nil
	}

	if t.Queue == "" {
		return fmt.Errorf("%w: queue not set for task %s", ErrInvalidTask, t.UID)
	}
	if t.CPUReq <= 0 {
		return fmt.Errorf("%w: cpu request not set for task %s", ErrInvalidTask, t.UID)
	}
	if t.MemReqMB <= 0 {
		return fmt.Errorf("%w: memory request not set for task %s", ErrInvalidTask, t.UID)
	}
	if err := t.Exec.Validate(); err != nil {
		return fmt.Errorf("%w: task %s: %v", ErrInvalidTask, t.UID, err)
	}

	name, err := d.jobName(t)
	if err != nil {
		return err
	}
	arn, err := d.defs.getOrRegister(ctx, d, definitionSpec{
		Image:          t.Exec.ContainerImage,
		Mounts:         t.MountPoints,
		Volumes:        t.Volumes,
		SharedMemoryMB: t.Exec.SharedMemoryMB,
		NameHint:       t.UID,
	})
	if err != nil {
		return err
	}

	scriptURI, err := d.stageScript(ctx, t.ScriptPath, t.Exec.ScriptPrefix, name)
	if err != nil {
		return err
	}

	jobID, err := d.submitStagedScript(ctx, t, name, arn, scriptURI)
	if err != nil {
		return err
	}

	t.JobID = jobID
	t.ScriptURI = scriptURI
	t.JobDefinitionARN = arn
	t.Status = task.StatusSubmitted
	return d.writeSubmissionMarkers(t, jobID)
}

// jobName derives a deterministic name from the namespace, user, stage, and
// task uid, truncated to the service limit.
func (d *Driver) jobName(t *task.Task) (string, error) {
	name := d.cfg.Namespace + "__" + d.cfg.Username + "__" +
		sanitizeNamePart(t.StageName) + "__" + sanitizeNamePart(t.UID)
	if len(name) > maxJobNameLen {
		name = name[:maxJobNameLen]
	}
	if !jobNameRE.MatchString(name) {
		return "", fmt.Errorf("%w: %q: the first character must be alphanumeric; letters, numbers, hyphens, and underscores are allowed", ErrInvalidName, name)
	}
	return name, nil
}

func sanitizeNamePart(s string) string {
	s = strings.ReplaceAll(s, "/", "__")
	return strings.ReplaceAll(s, ":", "")
}

// submitStagedScript builds the container overrides and submits the job. The
// container downloads the staged script and executes it.
func (d *Driver) submitStagedScript(ctx context.Context, t *task.Task, name, definitionARN, scriptURI string) (string, error) {
	command := fmt.Sprintf(
		"aws s3 cp --quiet %s command_script && chmod +x command_script && ./command_script",
		scriptURI,
	)

	env := make([]types.KeyValuePair, 0, len(t.Env)+1)
	for k, v := range t.Env {
		env = append(env, keyValue(k, v))
	}
	sort.Slice(env, func(i, j int) bool {
		return aws.ToString(env[i].Name) < aws.ToString(env[j].Name)
	})

	overrides := &types.ContainerOverrides{
		Command:     []string{"bash", "-c", command},
		Environment: env,
		Memory:      aws.Int32(int32(t.MemReqMB)),
		Vcpus:       aws.Int32(int32(t.CPUReq)),
	}
	if t.Exec.InstanceType != "" {
		overrides.InstanceType = aws.String(t.Exec.InstanceType)
	}
	if t.GPUReq > 0 {
		overrides.ResourceRequirements = append(overrides.ResourceRequirements, types.ResourceRequirement{
			Type:  types.ResourceTypeGpu,
			Value: aws.String(strconv.Itoa(t.GPUReq)),
		})
		overrides.Environment = append(overrides.Environment,
			keyValue("CUDA_VISIBLE_DEVICES", visibleDevices(t.GPUReq)))
	}

	cwd, _ := os.Getwd()
	out, err := d.api.Batch.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:            aws.String(name),
		JobQueue:           aws.String(t.Queue),
		JobDefinition:      aws.String(definitionARN),
		ContainerOverrides: overrides,
		PropagateTags:      aws.Bool(true),
		Tags: map[string]string{
			"job_type":   d.cfg.Namespace,
			"username":   d.cfg.Username,
			"stage_name": sanitizeNamePart(t.StageName),
			"cwd":        cwd,
		},
	})
	if err != nil {
		return "", fmt.Errorf("submit job %q: %w", name, err)
	}
	return aws.ToString(out.JobId), nil
}

// writeSubmissionMarkers seeds the capture files: stdout stays empty until
// cleanup collects the real logs, stderr records the job id for quick
// inspection while the job runs.
func (d *Driver) writeSubmissionMarkers(t *task.Task, jobID string) error {
	if err := os.WriteFile(t.StdoutPath, nil, 0o644); err != nil {
		return fmt.Errorf("write stdout marker: %w", err)
	}
	if err := os.WriteFile(t.StderrPath, []byte("job_id: "+jobID+"\n"), 0o644); err != nil {
		return fmt.Errorf("write stderr marker: %w", err)
	}
	return nil
}

func keyValue(name, value string) types.KeyValuePair {
	return types.KeyValuePair{Name: aws.String(name), Value: aws.String(value)}
}

// visibleDevices renders "0,1,...,n-1" for CUDA_VISIBLE_DEVICES.
func visibleDevices(n int) string {
	devices := make([]string, n)
	for i := range devices {
		devices[i] = strconv.Itoa(i)
	}
	return strings.Join(devices, ",")
}
