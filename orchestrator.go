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
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/julianghill/openrelik-worker-eztools/artifact"
)

// TaskState names the pipeline stage a task is in, for logging and abort
// diagnostics.
type TaskState string

const (
	StateReceived    TaskState = "received"
	StateStaging     TaskState = "staging"
	StateExecuting   TaskState = "executing"
	StateNormalizing TaskState = "normalizing"
	StateAssembling  TaskState = "assembling"
)

const (
	defaultToolTimeout  = 15 * time.Minute
	defaultFetchRetries = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// ToolOverride adjusts a registry entry per deployment.
type ToolOverride struct {
	Executable string        `yaml:"executable"`
	Timeout    time.Duration `yaml:"-"`
}

// Orchestrator sequences the pipeline stages for one task and guarantees
// that scratch resources are released and exactly one result is produced on
// every path, including faults and cancellation.
type Orchestrator struct {
	Stager     *Stager
	Runner     *Runner
	Normalizer *Normalizer
	Assembler  *Assembler

	Timeout      time.Duration
	FetchRetries int
	RetryBackoff time.Duration
	Overrides    map[ParserKind]ToolOverride

	log *zap.Logger
}

// NewOrchestrator wires the pipeline components with default retry and
// timeout settings.
func NewOrchestrator(stager *Stager, runner *Runner, normalizer *Normalizer, assembler *Assembler, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		Stager:       stager,
		Runner:       runner,
		Normalizer:   normalizer,
		Assembler:    assembler,
		Timeout:      defaultToolTimeout,
		FetchRetries: defaultFetchRetries,
		RetryBackoff: defaultRetryBackoff,
		log:          log,
	}
}

// Execute runs one task through staging, execution, normalization and
// assembly. It always returns exactly one non-nil result; faults become
// failed results instead of escaping.
func (o *Orchestrator) Execute(ctx context.Context, task TaskRequest) *TaskResult {
	log := o.log.With(zap.String("task_id", task.TaskID), zap.String("parser", string(task.Parser)))
	log.Info("task received")

	spec, err := Lookup(task.Parser)
	if err != nil {
		return o.abort(log, task, StateReceived, err)
	}
	timeout := o.Timeout
	if override, ok := o.Overrides[task.Parser]; ok {
		if override.Executable != "" {
			spec.Executable = override.Executable
			spec.LeadingArgs = nil
		}
		if override.Timeout > 0 {
			timeout = override.Timeout
		}
	}

	staged, err := o.stageWithRetry(ctx, log, task)
	if err != nil {
		return o.abort(log, task, StateStaging, err)
	}
	defer func() {
		if err := staged.Release(); err != nil {
			log.Warn("scratch release failed", zap.Error(err))
		}
	}()
	log.Debug("input staged",
		zap.String("path", staged.Path),
		zap.Int64("size", staged.Size),
		zap.String("checksum", staged.Checksum))

	if err := ctx.Err(); err != nil {
		return o.abort(log, task, StateStaging, err)
	}

	inv, err := spec.Invocation(staged.Path, staged.OutputDir, staged.ScratchDir, task.Options, timeout)
	if err != nil {
		return o.abort(log, task, StateExecuting, err)
	}

	started := time.Now()
	outcome, err := o.Runner.Run(ctx, inv)
	if err != nil {
		return o.abort(log, task, StateExecuting, err)
	}

	if err := ctx.Err(); err != nil {
		return o.abort(log, task, StateNormalizing, err)
	}
	records, warnings, err := o.Normalizer.Normalize(spec, inv, staged.OutputDir)
	if err != nil {
		return o.abort(log, task, StateNormalizing, err)
	}

	if task.Parser == ParserMFT && inv.OutputFormat == "csv" && boolOption(task.Options, OptTimesketch) {
		rows := TimesketchTimeline(records)
		if len(rows) == 0 {
			warnings = append(warnings, "timesketch conversion produced no timeline rows, keeping original records")
		} else {
			warnings = append(warnings, fmt.Sprintf("timesketch conversion produced %d timeline rows", len(rows)))
			records = rows
		}
	}

	result := o.Assembler.Assemble(ctx, task, spec, inv, outcome, records, warnings, started)
	log.Info("task finished",
		zap.String("status", string(result.Status)),
		zap.Int("records", len(result.Records)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", result.Provenance.Duration))
	return result
}

// stageWithRetry retries staging on unreachable artifact stores only. Other
// fetch faults are deterministic and terminal.
func (o *Orchestrator) stageWithRetry(ctx context.Context, log *zap.Logger, task TaskRequest) (*StagedInput, error) {
	backoff := o.RetryBackoff
	for attempt := 0; ; attempt++ {
		staged, err := o.Stager.Stage(ctx, task)
		if err == nil {
			return staged, nil
		}
		var fetchErr *artifact.FetchError
		if attempt >= o.FetchRetries || !errors.As(err, &fetchErr) || !fetchErr.Temporary() {
			return nil, err
		}
		log.Warn("artifact store unreachable, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (o *Orchestrator) abort(log *zap.Logger, task TaskRequest, state TaskState, err error) *TaskResult {
	log.Warn("task aborted", zap.String("state", string(state)), zap.Error(err))
	return &TaskResult{
		TaskID:   task.TaskID,
		Status:   StatusFailed,
		Error:    err.Error(),
		Warnings: []string{fmt.Sprintf("aborted during %s: %v", state, err)},
	}
}

func boolOption(options map[string]string, key string) bool {
	b, err := strconv.ParseBool(options[key])
	return err == nil && b
}
