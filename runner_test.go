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
	"runtime"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellInvocation(t *testing.T, script string, timeout time.Duration) *ToolInvocation {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell based runner tests are posix only")
	}
	return &ToolInvocation{
		Path:    "/bin/sh",
		Args:    []string{"-c", script},
		Timeout: timeout,
	}
}

func TestRunCapturesOutput(t *testing.T) {
	runner := NewRunner(0, 0, nil)
	inv := shellInvocation(t, "echo out; echo err 1>&2", 10*time.Second)

	outcome, err := runner.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.False(t, outcome.TimedOut)
	assert.Contains(t, outcome.Stdout, "out")
	assert.Contains(t, outcome.Stderr, "err")
	assert.False(t, outcome.StdoutTruncated)
	assert.Positive(t, outcome.WallTime)
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	runner := NewRunner(0, 0, nil)
	inv := shellInvocation(t, "echo broken 1>&2; exit 3", 10*time.Second)

	outcome, err := runner.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.False(t, outcome.TimedOut)
	assert.Contains(t, outcome.Stderr, "broken")
}

func TestRunTimeout(t *testing.T) {
	runner := NewRunner(0, time.Second, nil)
	inv := shellInvocation(t, "sleep 30", 100*time.Millisecond)

	start := time.Now()
	outcome, err := runner.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, outcome.TimedOut)
	assert.Equal(t, -1, outcome.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunExternalCancellation(t *testing.T) {
	runner := NewRunner(0, time.Second, nil)
	inv := shellInvocation(t, "sleep 30", 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := runner.Run(ctx, inv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunMissingExecutable(t *testing.T) {
	runner := NewRunner(0, 0, nil)
	inv := &ToolInvocation{Path: "/does/not/exist", Timeout: time.Second}

	_, err := runner.Run(context.Background(), inv)
	require.Error(t, err)

	launchErr := &LaunchError{}
	require.True(t, errors.As(err, &launchErr))
	assert.Equal(t, LaunchExecutableMissing, launchErr.Kind)
	assert.Equal(t, "/does/not/exist", launchErr.Path)
}

func TestRunTruncatesCapture(t *testing.T) {
	runner := NewRunner(16, 0, nil)
	inv := shellInvocation(t, "echo 0123456789abcdefghijklmnop", 10*time.Second)

	outcome, err := runner.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, outcome.StdoutTruncated)
	assert.Len(t, outcome.Stdout, 16)
	assert.Contains(t, outcome.Stdout, "mnop")
}

func TestBoundedBuffer(t *testing.T) {
	buffer := &boundedBuffer{limit: 4}

	n, err := buffer.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ab", buffer.String())
	assert.False(t, buffer.Truncated())

	_, err = buffer.Write([]byte("cdefgh"))
	require.NoError(t, err)
	assert.Equal(t, "efgh", buffer.String())
	assert.True(t, buffer.Truncated())
}
