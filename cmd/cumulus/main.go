package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"cumulus/awsapi"
	"cumulus/core/task"
	"cumulus/driver"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "kill":
		err = killCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "cumulus:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cumulus run [flags] <script>")
	fmt.Fprintln(os.Stderr, "       cumulus kill -job-id <id> [-script-uri <s3://...>]")
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		queue        = fs.String("queue", "", "batch job queue (required)")
		image        = fs.String("image", "", "container image (required)")
		prefix       = fs.String("s3-prefix", "", "s3://bucket/prefix for staged scripts, no trailing slash (required)")
		cpu          = fs.Int("cpu", 1, "vcpus to request")
		mem          = fs.Int("mem", 1024, "memory in MB to request")
		gpu          = fs.Int("gpu", 0, "GPUs to request")
		instanceType = fs.String("instance-type", "", "optional instance type hint")
		stage        = fs.String("stage", "adhoc", "logical stage name for the job name and tags")
		keepScript   = fs.Bool("keep-script", false, "keep the staged script after completion")
		pollEvery    = fs.Duration("poll-interval", 15*time.Second, "delay between status polls")
		verbose      = fs.Bool("verbose", false, "enable debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one script argument required")
	}
	script := fs.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := awsapi.NewClients(ctx)
	if err != nil {
		return err
	}
	cfg := driver.Defaults()
	cfg.Logger = logger
	d, err := driver.New(cfg, clients)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	}()

	t := &task.Task{
		UID:        uuid.NewString(),
		StageName:  *stage,
		Queue:      *queue,
		CPUReq:     *cpu,
		MemReqMB:   *mem,
		GPUReq:     *gpu,
		ScriptPath: script,
		StdoutPath: script + ".out",
		StderrPath: script + ".err",
		Exec: task.ExecOptions{
			ContainerImage:   *image,
			ScriptPrefix:     *prefix,
			InstanceType:     *instanceType,
			KeepStagedScript: *keepScript,
		},
	}
	tasks := []*task.Task{t}
	if err := d.SubmitTasks(ctx, tasks); err != nil {
		return err
	}
	if t.Status == task.StatusKilled {
		return fmt.Errorf("interrupted before submission")
	}
	logger.Info("submitted", "job_id", t.JobID, "script_uri", t.ScriptURI)

	for {
		select {
		case <-ctx.Done():
			// The poll context is gone; kill with a fresh one.
			logger.Info("interrupt received, terminating job", "job_id", t.JobID)
			return d.Kill(context.Background(), t)
		case <-time.After(*pollEvery):
		}

		completed, err := d.FilterCompleted(ctx, tasks)
		if err != nil {
			return err
		}
		if len(completed) == 0 {
			logger.Debug("still running", "job_id", t.JobID)
			continue
		}

		c := completed[0]
		logger.Info("job finished",
			"status", string(c.Task.Status),
			"exit_status", c.Outcome.ExitStatus,
			"wall_time", c.Outcome.WallTime,
			"reason", c.Outcome.StatusReason,
		)
		logs, err := os.ReadFile(t.StdoutPath)
		if err == nil {
			os.Stdout.Write(logs)
		}
		if c.Task.Status != task.StatusSucceeded {
			return fmt.Errorf("job %s failed with exit status %d", t.JobID, c.Outcome.ExitStatus)
		}
		return nil
	}
}

func killCmd(args []string) error {
	fs := flag.NewFlagSet("kill", flag.ExitOnError)
	var (
		jobID     = fs.String("job-id", "", "remote job id to terminate (required)")
		scriptURI = fs.String("script-uri", "", "staged script to delete alongside the job")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jobID == "" {
		return fmt.Errorf("-job-id required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := awsapi.NewClients(ctx)
	if err != nil {
		return err
	}
	d, err := driver.New(driver.Defaults(), clients)
	if err != nil {
		return err
	}

	t := &task.Task{
		UID:       *jobID,
		JobID:     *jobID,
		ScriptURI: *scriptURI,
		// Nothing to reclaim when no staged script is named.
		Exec: task.ExecOptions{KeepStagedScript: *scriptURI == ""},
	}
	if err := d.Kill(ctx, t); err != nil {
		return err
	}
	fmt.Println("terminated", *jobID)
	return nil
}
