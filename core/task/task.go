package task

import "fmt"

// Status is the driver-side lifecycle state of a task.
type Status string

const (
	// StatusWaiting is the zero state before the remote service has accepted
	// the task.
	StatusWaiting Status = "waiting"
	// StatusSubmitted means the remote service accepted the job.
	StatusSubmitted Status = "submitted"
	// StatusSucceeded and StatusFailed are set when the poller observes a
	// terminal remote state.
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusKilled means the task was terminated on request, or was never
	// submitted because the owner cancelled mid-batch.
	StatusKilled Status = "killed"
)

// MountPoint maps a volume into the job container.
type MountPoint struct {
	ContainerPath string
	ReadOnly      bool
	SourceVolume  string
}

// Volume is a host path exposed to the job container under a name.
type Volume struct {
	Name           string
	HostSourcePath string
}

// ExecOptions configure how a task's script runs remotely.
type ExecOptions struct {
	// ContainerImage is the image the job definition is registered for.
	ContainerImage string
	// ScriptPrefix is the s3://bucket/prefix under which command scripts are
	// staged. No trailing slash.
	ScriptPrefix string
	// InstanceType optionally pins the job to an instance type.
	InstanceType string
	// SharedMemoryMB overrides the container's shared-memory size when > 0.
	SharedMemoryMB int32
	// KeepStagedScript leaves the staged script in place after cleanup.
	KeepStagedScript bool
}

// Validate ensures the options are usable before any remote call is made.
func (o ExecOptions) Validate() error {
	if o.ContainerImage == "" {
		return fmt.Errorf("container image required")
	}
	if o.ScriptPrefix == "" {
		return fmt.Errorf("script staging prefix required")
	}
	return nil
}

// Task is the driver's view of one unit of work owned by the workflow engine.
// The engine populates the request fields; the driver writes only the
// lifecycle fields at the bottom.
type Task struct {
	UID       string
	StageName string

	Queue    string
	CPUReq   int
	MemReqMB int
	GPUReq   int

	Env         map[string]string
	MountPoints []MountPoint
	Volumes     []Volume
	Exec        ExecOptions

	// ScriptPath is the local command script to stage and run.
	ScriptPath string
	// StdoutPath and StderrPath are local capture files owned by this task.
	StdoutPath string
	StderrPath string

	// Written by the driver.
	JobID            string
	ScriptURI        string
	JobDefinitionARN string
	Status           Status
}
