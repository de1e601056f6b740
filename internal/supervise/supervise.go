// Package supervise stages inputs, spawns a producer process and watches its
// status snapshot until the job finishes or the process exits.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"casewatch/internal/fileutil"
	"casewatch/internal/jobstate"
	"casewatch/internal/logging"
	"casewatch/internal/logs"
	"casewatch/internal/monitor"
	"casewatch/internal/report"
	"casewatch/internal/services"
	"casewatch/internal/statusstore"
)

// Options configures a supervised run.
type Options struct {
	// Inputs are copied into WorkDir before the producer starts.
	Inputs  []string
	WorkDir string
	// StatusPath is the snapshot the producer writes. It must not exist yet;
	// each run gets its own.
	StatusPath string
	// OutputPath receives the producer's stdout and stderr. Defaults to
	// StatusPath + ".log".
	OutputPath string
	// Command is the producer argv.
	Command []string
	Env     []string
	Monitor monitor.Options
	// Cleanup empties WorkDir after the run unless the producer is still
	// running.
	Cleanup bool
	Logger  *slog.Logger
}

// Result is a supervised run. Detached is set when the wait timed out and the
// producer was left running; PID identifies it.
type Result struct {
	Staged   []string
	Report   jobstate.Report
	Summary  report.Summary
	PID      int
	Detached bool
}

// Run stages the inputs, starts the producer and waits for its done snapshot.
// A producer that exits before finishing yields monitor.ErrJobAborted. A
// monitor timeout leaves the producer running and returns monitor.ErrTimeout
// with Result.Detached set; cancelling ctx or losing the store stops it.
func Run(ctx context.Context, opts Options) (Result, error) {
	logger := logging.NewComponentLogger(opts.Logger, "supervise")
	if len(opts.Command) == 0 {
		return Result{}, services.Wrap(services.ErrConfiguration, "supervise", "run", "producer command is empty", nil)
	}
	if opts.StatusPath == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "supervise", "run", "status path is empty", nil)
	}
	if _, err := os.Stat(opts.StatusPath); err == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "supervise", "run",
			opts.StatusPath+" already exists; each run needs a fresh status path", nil)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("stat status path: %w", err)
	}
	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = opts.StatusPath + ".log"
	}

	staged, err := Stage(opts.WorkDir, opts.Inputs)
	if err != nil {
		return Result{}, err
	}
	detached := false
	if opts.Cleanup {
		defer func() {
			if detached {
				logger.Info("work dir kept for the running producer", logging.String("work_dir", opts.WorkDir))
				return
			}
			if err := fileutil.EmptyDir(opts.WorkDir); err != nil {
				logger.Warn("work dir cleanup failed",
					logging.Error(err),
					logging.Event("cleanup_failed"),
					logging.Hint("remove the staged files manually"),
				)
			}
		}()
	}

	proc, err := startProducer(opts.Command, opts.Env, outputPath)
	if err != nil {
		return Result{Staged: staged}, err
	}
	logger.Info("producer started",
		logging.Int("pid", proc.pid),
		logging.Int("inputs", len(staged)),
		logging.String("status_path", opts.StatusPath),
		logging.String("output_path", outputPath),
	)
	stopFollow := followOutput(outputPath, logger.With(logging.Int("pid", proc.pid)))

	monOpts := opts.Monitor
	monOpts.Exited = proc.exited
	if monOpts.Logger == nil {
		monOpts.Logger = logger
	}
	res := <-monitor.Start(ctx, statusstore.NewFileStore(opts.StatusPath), monOpts)
	if res.Err != nil && errors.Is(res.Err, monitor.ErrTimeout) && !errors.Is(ctx.Err(), context.Canceled) {
		detached = true
		stopFollow()
		logger.Warn("producer left running after timeout",
			logging.Int("pid", proc.pid),
			logging.Event("producer_detached"),
			logging.Impact("results are not summarized by this run"),
			logging.Hint("watch "+opts.StatusPath+" with `casewatch wait`"),
		)
		return Result{Staged: staged, PID: proc.pid, Detached: true}, res.Err
	}
	if res.Err != nil {
		proc.kill()
	}
	<-proc.done
	stopFollow()
	if res.Err != nil {
		return Result{Staged: staged, PID: proc.pid}, res.Err
	}

	summary, err := report.Aggregate(res.Report)
	if err != nil {
		return Result{Staged: staged, Report: res.Report, PID: proc.pid}, err
	}
	return Result{Staged: staged, Report: res.Report, Summary: summary, PID: proc.pid}, nil
}

// Stage copies inputs into workDir with integrity verification and returns
// the staged paths. Two inputs with the same base name are rejected.
func Stage(workDir string, inputs []string) ([]string, error) {
	if workDir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "supervise", "stage", "work dir is empty", nil)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	seen := make(map[string]string, len(inputs))
	staged := make([]string, 0, len(inputs))
	for _, src := range inputs {
		name := filepath.Base(src)
		if prev, dup := seen[name]; dup {
			return staged, services.Wrap(services.ErrValidation, "supervise", "stage",
				fmt.Sprintf("%s and %s share the name %s", prev, src, name), nil)
		}
		seen[name] = src
		dst := filepath.Join(workDir, name)
		if err := fileutil.CopyFileVerified(src, dst); err != nil {
			return staged, fmt.Errorf("stage %s: %w", src, err)
		}
		staged = append(staged, dst)
	}
	return staged, nil
}

type producer struct {
	pid    int
	exited chan error
	done   chan struct{}
}

// startProducer runs argv in its own process group with output appended to
// outputPath, so the producer outlives a supervisor that stops waiting.
func startProducer(argv, env []string, outputPath string) (*producer, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure producer output dir: %w", err)
	}
	output, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open producer output: %w", err)
	}
	defer output.Close()

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "supervise", "start", argv[0], err)
	}

	p := &producer{pid: cmd.Process.Pid, exited: make(chan error, 1), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		err := cmd.Wait()
		if err != nil {
			err = fmt.Errorf("producer exited: %w", err)
		}
		p.exited <- err
	}()
	return p, nil
}

// kill stops the producer's whole process group.
func (p *producer) kill() {
	_ = unix.Kill(-p.pid, unix.SIGKILL)
}

// followOutput streams the producer's output file into the log until the
// returned stop function is called. Lines written before stop are emitted.
func followOutput(path string, logger *slog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := logs.Follow(ctx, path, 0, logs.Filter{}, func(line string) {
			logger.Info("producer output", logging.String("line", line))
		})
		if err != nil {
			logger.Debug("producer output not followed", logging.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
