package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"mediarender/config"
	"mediarender/logging"
	"mediarender/task"
)

const (
	// killGrace bounds how long Wait may block after the process group is
	// killed, e.g. when a grandchild still holds stdout open.
	killGrace = 5 * time.Second
	// outputTail is how much of stderr is kept in error messages.
	outputTail = 2048
)

type Runner struct {
	bin        string
	probeBin   string
	globalArgs []string
	log        *slog.Logger
}

func NewRunner(cfg *config.Config, log *slog.Logger) (*Runner, error) {
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	probeBin := cfg.FFProbeBin
	if probeBin == "" {
		probeBin = "ffprobe"
	}

	globalArgs, err := SplitCommand(cfg.FFGlobalArgs)
	if err != nil {
		return nil, err
	}
	if err := SanitizeAndValidateArgs(globalArgs); err != nil {
		return nil, fmt.Errorf("FF_GLOBAL_ARGS: %w", err)
	}

	return &Runner{
		bin:        cfg.FFBin,
		probeBin:   probeBin,
		globalArgs: globalArgs,
		log:        logging.WithComponent(log, "ffmpeg"),
	}, nil
}

// Exec runs ffmpeg with the global args followed by args and returns its
// diagnostic output. The process group is killed when timeout elapses, and
// the returned error is then of kind KindTranscodeTimeout; any other failure
// is KindTranscodeFailure.
func (r *Runner) Exec(ctx context.Context, op string, timeout time.Duration, args []string) (string, error) {
	full := make([]string, 0, len(r.globalArgs)+len(args))
	full = append(full, r.globalArgs...)
	full = append(full, args...)
	stdout, stderr, err := r.run(ctx, op, timeout, r.bin, full)
	return stdout + stderr, err
}

func (r *Runner) run(ctx context.Context, op string, timeout time.Duration, bin string, args []string) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, args...)
	killProcessGroup(cmd)
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug("executing", "op", op, "cmd", bin+" "+strings.Join(args, " "), "timeout", timeout)
	started := time.Now()
	err := cmd.Run()

	if err == nil {
		r.log.Debug("finished", "op", op, "elapsed", time.Since(started))
		return stdout.String(), stderr.String(), nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		r.log.Warn("process killed after deadline", "op", op, "timeout", timeout)
		return stdout.String(), stderr.String(), task.Errorf(task.KindTranscodeTimeout, op,
			fmt.Errorf("%s timed out after %s", bin, timeout))
	}
	if ctx.Err() != nil {
		return stdout.String(), stderr.String(), task.Errorf(task.KindTranscodeFailure, op,
			fmt.Errorf("%s interrupted: %w", bin, ctx.Err()))
	}
	return stdout.String(), stderr.String(), task.Errorf(task.KindTranscodeFailure, op,
		fmt.Errorf("%s execution failed: %w: %s", bin, err, tail(stderr.String())))
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}
	return s
}
