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
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnknownParser is returned by Lookup for an unregistered parser kind.
var ErrUnknownParser = errors.New("unknown parser kind")

// ErrUnsupportedEncoding is returned when an output file decodes as neither
// UTF-8 nor UTF-16. It is terminal for the task.
var ErrUnsupportedEncoding = errors.New("output file is neither UTF-8 nor UTF-16")

// ErrScratchCollision is returned when a scratch directory for a task id
// already exists. Scratch space is never silently shared between tasks.
var ErrScratchCollision = errors.New("scratch directory already exists")

// LaunchErrorKind classifies host faults that prevent a tool from starting.
type LaunchErrorKind string

const (
	LaunchExecutableMissing LaunchErrorKind = "executable_missing"
	LaunchPermissionDenied  LaunchErrorKind = "permission_denied"
	LaunchResourceExhausted LaunchErrorKind = "resource_exhausted"
)

// LaunchError indicates the subprocess could not be started at all. This is
// a deployment fault, not an evidentiary one, and is terminal for the task.
type LaunchError struct {
	Kind LaunchErrorKind
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("cannot launch %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
