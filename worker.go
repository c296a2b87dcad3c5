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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source delivers task requests from the queue boundary. Implementations
// must close the channel when the context ends.
type Source interface {
	Tasks(ctx context.Context) (<-chan TaskRequest, error)
}

// Sink receives terminal task results. Each result is reported exactly
// once; a failing sink is logged, never retried into a duplicate report.
type Sink interface {
	Report(ctx context.Context, result *TaskResult) error
}

// Worker executes tasks from a source with bounded concurrency. Tasks are
// independent; results may be reported in any order relative to submission.
type Worker struct {
	Orchestrator *Orchestrator
	Source       Source
	Sink         Sink
	Concurrency  int

	log *zap.Logger
}

// NewWorker creates a worker; concurrency below 1 runs tasks one at a time.
func NewWorker(orchestrator *Orchestrator, source Source, sink Sink, concurrency int, log *zap.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		Orchestrator: orchestrator,
		Source:       source,
		Sink:         sink,
		Concurrency:  concurrency,
		log:          log,
	}
}

// Run consumes tasks until the source closes its channel and all in-flight
// tasks have reported.
func (w *Worker) Run(ctx context.Context) error {
	tasks, err := w.Source.Tasks(ctx)
	if err != nil {
		return err
	}

	group := &errgroup.Group{}
	group.SetLimit(w.Concurrency)
	for task := range tasks {
		task := task
		group.Go(func() error {
			result := w.Orchestrator.Execute(ctx, task)
			if err := w.Sink.Report(ctx, result); err != nil {
				w.log.Error("result report failed",
					zap.String("task_id", result.TaskID),
					zap.Error(err))
			}
			return nil
		})
	}
	return group.Wait()
}
