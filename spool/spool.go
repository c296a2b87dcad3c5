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

// Package spool adapts a local directory to the worker's task queue
// boundary: one json file per task request, results written to a results
// subdirectory. The broker transport proper is an external collaborator;
// this adapter serves local deployments and integration tests.
package spool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/qri-io/jsonschema"
	"go.uber.org/zap"

	eztools "github.com/julianghill/openrelik-worker-eztools"
)

const taskSchema = `{
	"type": "object",
	"required": ["task_id", "artifact_reference", "parser_kind"],
	"properties": {
		"task_id": {"type": "string", "minLength": 1},
		"artifact_reference": {"type": "string", "minLength": 1},
		"parser_kind": {"type": "string", "enum": ["mft", "lnk", "recyclebin", "shimcache"]},
		"checksum": {"type": "string"},
		"options": {"type": "object", "additionalProperties": {"type": "string"}}
	}
}`

// Spool watches a directory for task files. A task file is claimed by
// renaming it, so concurrent workers sharing a spool never pick up the same
// task twice.
type Spool struct {
	dir    string
	schema *jsonschema.Schema
	log    *zap.Logger
}

// New creates a spool over dir, creating it if needed.
func New(dir string, log *zap.Logger) (*Spool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "could not create spool directory")
	}
	if err := os.MkdirAll(filepath.Join(dir, "results"), 0750); err != nil {
		return nil, errors.Wrap(err, "could not create results directory")
	}

	schema := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(taskSchema), schema); err != nil {
		return nil, errors.Wrap(err, "could not parse task schema")
	}
	return &Spool{dir: dir, schema: schema, log: log}, nil
}

// Tasks emits task requests for present and newly created task files until
// the context ends.
func (s *Spool) Tasks(ctx context.Context) (<-chan eztools.TaskRequest, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "could not create watcher")
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close() // nolint:errcheck
		return nil, errors.Wrap(err, "could not watch spool directory")
	}

	tasks := make(chan eztools.TaskRequest)
	go func() {
		defer close(tasks)
		defer watcher.Close() // nolint:errcheck

		entries, err := os.ReadDir(s.dir)
		if err != nil {
			s.log.Error("spool scan failed", zap.Error(err))
			return
		}
		for _, entry := range entries {
			if entry.IsDir() || !isTaskFile(entry.Name()) {
				continue
			}
			s.deliver(ctx, filepath.Join(s.dir, entry.Name()), tasks)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) && isTaskFile(filepath.Base(event.Name)) {
					s.deliver(ctx, event.Name, tasks)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("spool watch error", zap.Error(err))
			}
		}
	}()
	return tasks, nil
}

func isTaskFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.Contains(name, ".claimed") && !strings.Contains(name, ".invalid")
}

// deliver claims, validates and emits a single task file.
func (s *Spool) deliver(ctx context.Context, path string, tasks chan<- eztools.TaskRequest) {
	claimed := path + ".claimed"
	if err := os.Rename(path, claimed); err != nil {
		// Another worker got there first.
		return
	}

	task, err := s.decode(ctx, claimed)
	if err != nil {
		s.log.Warn("rejecting task file", zap.String("file", path), zap.Error(err))
		_ = os.Rename(claimed, path+".invalid")
		return
	}

	select {
	case tasks <- *task:
		// The task is handed off; the claim marker has served its purpose.
		if err := os.Remove(claimed); err != nil {
			s.log.Warn("could not remove claimed task file", zap.String("file", claimed), zap.Error(err))
		}
	case <-ctx.Done():
	}
}

func (s *Spool) decode(ctx context.Context, path string) (*eztools.TaskRequest, error) {
	data, err := os.ReadFile(path) // #nosec
	if err != nil {
		return nil, err
	}

	keyErrors, err := s.schema.ValidateBytes(ctx, data)
	if err != nil {
		return nil, errors.Wrap(err, "could not validate")
	}
	if len(keyErrors) > 0 {
		messages := make([]string, 0, len(keyErrors))
		for _, keyError := range keyErrors {
			messages = append(messages, keyError.Error())
		}
		return nil, errors.Errorf("invalid task message [%s]", strings.Join(messages, ", "))
	}

	task := &eztools.TaskRequest{}
	if err := json.Unmarshal(data, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Report writes the result as json below the results directory, atomically
// via a temporary file.
func (s *Spool) Report(_ context.Context, result *eztools.TaskResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not encode result")
	}

	final := filepath.Join(s.dir, "results", result.TaskID+".json")
	tmp := final + "." + uuid.New().String() + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return errors.Wrap(err, "could not write result")
	}
	return os.Rename(tmp, final)
}
