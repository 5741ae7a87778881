package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"

	"cumulus/core/task"
)

// ErrDefinitionNameCollision marks a registration failure under the shared
// fallback definition name. It means another definition with a conflicting
// shape already owns that name, which is a deployment configuration problem
// the driver cannot work around.
var ErrDefinitionNameCollision = errors.New("job definition name collision")

// definitionSpec is the normalized shape a job definition is registered for.
// The cache is keyed by image only: within one driver lifetime, every task
// using the same image shares one definition.
type definitionSpec struct {
	Image          string
	Mounts         []task.MountPoint
	Volumes        []task.Volume
	SharedMemoryMB int32
	NameHint       string
}

// definitionCache memoizes one registered job definition per container
// image. Registration is guarded per image so concurrent submissions for the
// same image perform exactly one remote call; unrelated images never block
// each other.
type definitionCache struct {
	mu       sync.Mutex
	arns     map[string]string
	inflight map[string]chan struct{}
}

func newDefinitionCache() *definitionCache {
	return &definitionCache{
		arns:     map[string]string{},
		inflight: map[string]chan struct{}{},
	}
}

// getOrRegister returns the cached definition ARN for spec.Image, registering
// it remotely on first use. A failed registration is not cached, so a later
// batch retries it.
func (c *definitionCache) getOrRegister(ctx context.Context, d *Driver, spec definitionSpec) (string, error) {
	for {
		c.mu.Lock()
		if arn, ok := c.arns[spec.Image]; ok {
			c.mu.Unlock()
			return arn, nil
		}
		if ch, ok := c.inflight[spec.Image]; ok {
			c.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			continue
		}
		ch := make(chan struct{})
		c.inflight[spec.Image] = ch
		c.mu.Unlock()

		arn, err := d.registerDefinition(ctx, spec)
		c.mu.Lock()
		delete(c.inflight, spec.Image)
		if err == nil {
			c.arns[spec.Image] = arn
		}
		c.mu.Unlock()
		close(ch)
		return arn, err
	}
}

// snapshot returns the registered image -> ARN pairs.
func (c *definitionCache) snapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.arns))
	for image, arn := range c.arns {
		out[image] = arn
	}
	return out
}

func (d *Driver) registerDefinition(ctx context.Context, spec definitionSpec) (string, error) {
	d.log.Info("registering base job definition", "image", spec.Image)

	// Base scratch mount first, then the caller's mounts and volumes.
	mounts := []types.MountPoint{{
		ContainerPath: aws.String("/scratch"),
		ReadOnly:      aws.Bool(false),
		SourceVolume:  aws.String("scratch"),
	}}
	for _, m := range spec.Mounts {
		mounts = append(mounts, types.MountPoint{
			ContainerPath: aws.String(m.ContainerPath),
			ReadOnly:      aws.Bool(m.ReadOnly),
			SourceVolume:  aws.String(m.SourceVolume),
		})
	}
	volumes := []types.Volume{{
		Name: aws.String("scratch"),
		Host: &types.Host{SourcePath: aws.String("/scratch")},
	}}
	for _, v := range spec.Volumes {
		volumes = append(volumes, types.Volume{
			Name: aws.String(v.Name),
			Host: &types.Host{SourcePath: aws.String(v.HostSourcePath)},
		})
	}

	props := &types.ContainerProperties{
		Image:                aws.String(spec.Image),
		JobRoleArn:           aws.String("ecs_administrator"),
		MountPoints:          mounts,
		Volumes:              volumes,
		ResourceRequirements: []types.ResourceRequirement{},
		// Submission always overrides the command; the definition only needs
		// a placeholder and a minimal resource footprint.
		Command:    []string{"bash", "-c", "user-should-override-this"},
		Memory:     aws.Int32(100),
		Vcpus:      aws.Int32(1),
		Privileged: aws.Bool(true),
	}
	if spec.SharedMemoryMB > 0 {
		props.LinuxParameters = &types.LinuxParameters{
			SharedMemorySize: aws.Int32(spec.SharedMemoryMB),
		}
	}

	name := d.cfg.Namespace + "_base_jobdef_" + spec.NameHint
	shared := false
	if len(name) > maxJobNameLen {
		name = d.cfg.Namespace + "_base_job_definition"
		shared = true
	}

	out, err := d.api.Batch.RegisterJobDefinition(ctx, &batch.RegisterJobDefinitionInput{
		JobDefinitionName:   aws.String(name),
		Type:                types.JobDefinitionTypeContainer,
		ContainerProperties: props,
	})
	if err != nil {
		if shared {
			return "", fmt.Errorf("%w: registering %q for image %s: %v", ErrDefinitionNameCollision, name, spec.Image, err)
		}
		return "", fmt.Errorf("register job definition %q: %w", name, err)
	}
	return aws.ToString(out.JobDefinitionArn), nil
}

// Shutdown deregisters every job definition registered during the driver's
// lifetime. Call it once the owning engine is done with this driver.
func (d *Driver) Shutdown(ctx context.Context) error {
	var errs []error
	for image, arn := range d.defs.snapshot() {
		d.log.Info("deregistering job definition", "image", image)
		_, err := d.api.Batch.DeregisterJobDefinition(ctx, &batch.DeregisterJobDefinitionInput{
			JobDefinition: aws.String(arn),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("deregister %s: %w", arn, err))
		}
	}
	return errors.Join(errs...)
}
