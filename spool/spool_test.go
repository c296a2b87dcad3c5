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

package spool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eztools "github.com/julianghill/openrelik-worker-eztools"
)

const validTask = `{
	"task_id": "task-1",
	"artifact_reference": "case1/$MFT",
	"parser_kind": "mft",
	"options": {"output_format": "csv"}
}`

// dropTask writes a task file atomically so the watcher never observes a
// half-written file.
func dropTask(t *testing.T, dir, name, content string) {
	t.Helper()
	tmp := filepath.Join(dir, name+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func receiveTask(t *testing.T, tasks <-chan eztools.TaskRequest) eztools.TaskRequest {
	t.Helper()
	select {
	case task, ok := <-tasks:
		require.True(t, ok, "task channel closed early")
		return task
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task")
		return eztools.TaskRequest{}
	}
}

func TestTasksInitialScan(t *testing.T) {
	dir := t.TempDir()
	dropTask(t, dir, "task-1.json", validTask)

	queue, err := New(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks, err := queue.Tasks(ctx)
	require.NoError(t, err)

	task := receiveTask(t, tasks)
	assert.Equal(t, "task-1", task.TaskID)
	assert.Equal(t, eztools.ParserMFT, task.Parser)
	assert.Equal(t, "csv", task.Options["output_format"])

	// The file was claimed and, once delivered, removed entirely; a second
	// worker scan sees neither the original nor a leftover claim marker.
	_, err = os.Stat(filepath.Join(dir, "task-1.json"))
	assert.True(t, os.IsNotExist(err))
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "task-1.json.claimed"))
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	for range tasks { // drain until close
	}
}

func TestTasksWatchesNewFiles(t *testing.T) {
	dir := t.TempDir()
	queue, err := New(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks, err := queue.Tasks(ctx)
	require.NoError(t, err)

	dropTask(t, dir, "task-2.json", `{"task_id": "task-2", "artifact_reference": "a", "parser_kind": "lnk"}`)

	task := receiveTask(t, tasks)
	assert.Equal(t, "task-2", task.TaskID)
	assert.Equal(t, eztools.ParserLNK, task.Parser)

	cancel()
	for range tasks {
	}
}

func TestTasksRejectsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	dropTask(t, dir, "bad.json", `{"task_id": "", "parser_kind": "prefetch"}`)
	dropTask(t, dir, "good.json", validTask)

	queue, err := New(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks, err := queue.Tasks(ctx)
	require.NoError(t, err)

	// Only the valid task comes through.
	task := receiveTask(t, tasks)
	assert.Equal(t, "task-1", task.TaskID)

	_, err = os.Stat(filepath.Join(dir, "bad.json.invalid"))
	assert.NoError(t, err)

	cancel()
	for range tasks {
	}
}

func TestTasksIgnoresClaimedAndInvalid(t *testing.T) {
	assert.True(t, isTaskFile("task-1.json"))
	assert.False(t, isTaskFile("task-1.json.claimed"))
	assert.False(t, isTaskFile("task-1.json.invalid"))
	assert.False(t, isTaskFile("notes.txt"))
}

func TestReport(t *testing.T) {
	dir := t.TempDir()
	queue, err := New(dir, nil)
	require.NoError(t, err)

	result := &eztools.TaskResult{TaskID: "task-1", Status: eztools.StatusSuccess}
	require.NoError(t, queue.Report(context.Background(), result))

	data, err := os.ReadFile(filepath.Join(dir, "results", "task-1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task_id": "task-1"`)
	assert.Contains(t, string(data), `"status": "success"`)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "results"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
