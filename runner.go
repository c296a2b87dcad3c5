// Copyright (c) 2025 Julian Hill
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Julian Hill

package eztools

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCaptureLimit = 1 << 20 // 1 MiB per stream
	defaultGracePeriod  = 10 * time.Second
)

// Runner launches external parsers with bounded execution time and bounded
// output capture.
type Runner struct {
	CaptureLimit int
	GracePeriod  time.Duration

	log *zap.Logger
}

// NewRunner creates a runner with the given limits; zero values pick the
// defaults.
func NewRunner(captureLimit int, gracePeriod time.Duration, log *zap.Logger) *Runner {
	if captureLimit <= 0 {
		captureLimit = defaultCaptureLimit
	}
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{CaptureLimit: captureLimit, GracePeriod: gracePeriod, log: log}
}

// Run executes the invocation and reports what happened. A non-zero exit
// code is a normal outcome, never an error. On timeout the process receives
// SIGTERM and, after the grace period, SIGKILL; the outcome then carries
// TimedOut with ExitCode -1. Errors are returned only for host faults
// (LaunchError) and external cancellation.
func (r *Runner) Run(ctx context.Context, inv *ToolInvocation) (*ProcessOutcome, error) {
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	stdout := &boundedBuffer{limit: r.CaptureLimit}
	stderr := &boundedBuffer{limit: r.CaptureLimit}

	cmd := exec.CommandContext(runCtx, inv.Path, inv.Args...) // #nosec
	cmd.Dir = inv.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.GracePeriod

	r.log.Debug("launching tool",
		zap.String("path", inv.Path),
		zap.Strings("args", inv.Args),
		zap.Duration("timeout", inv.Timeout))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, classifyLaunch(inv.Path, err)
	}
	waitErr := cmd.Wait()
	wall := time.Since(start)

	if ctx.Err() != nil {
		// External cancellation; the context has already terminated the
		// process via cmd.Cancel.
		return nil, ctx.Err()
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	exitCode := -1
	if !timedOut && cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !timedOut && !errors.As(waitErr, &exitErr) {
			return nil, classifyLaunch(inv.Path, waitErr)
		}
	}

	outcome := &ProcessOutcome{
		ExitCode:        exitCode,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		WallTime:        wall,
		TimedOut:        timedOut,
	}
	r.log.Debug("tool finished", zap.String("outcome", outcome.String()))
	return outcome, nil
}

func classifyLaunch(path string, err error) *LaunchError {
	kind := LaunchResourceExhausted
	switch {
	case errors.Is(err, exec.ErrNotFound) || os.IsNotExist(err):
		kind = LaunchExecutableMissing
	case os.IsPermission(err):
		kind = LaunchPermissionDenied
	}
	return &LaunchError{Kind: kind, Path: path, Err: err}
}

// boundedBuffer keeps the newest limit bytes written to it. Verbose tools
// can emit arbitrary amounts of console output; the oldest part is the
// least interesting for diagnostics.
type boundedBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.limit:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
