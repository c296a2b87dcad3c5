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
	"crypto/sha256"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/julianghill/openrelik-worker-eztools/artifact"
)

// StagedInput is a task's materialized artifact together with its scratch
// space. It is owned exclusively by one task and reclaimed via Release on
// every exit path.
type StagedInput struct {
	TaskID     string
	Path       string
	ScratchDir string
	OutputDir  string
	Size       int64
	Checksum   string

	fs       afero.Fs
	mu       sync.Mutex
	released bool
}

// Release removes the staged input and its scratch directory. It is
// idempotent and safe to call from deferred cleanup after an earlier
// explicit call.
func (in *StagedInput) Release() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.released {
		return nil
	}
	if err := in.fs.RemoveAll(in.ScratchDir); err != nil {
		return errors.Wrap(err, "could not remove scratch directory")
	}
	in.released = true
	return nil
}

// Stager materializes artifact references into per-task scratch
// directories below a base directory.
type Stager struct {
	fs    afero.Fs
	base  string
	store artifact.Store
}

// NewStager creates a stager writing below base on the given filesystem.
func NewStager(fs afero.Fs, base string, store artifact.Store) *Stager {
	return &Stager{fs: fs, base: base, store: store}
}

// Stage fetches the task's artifact into a scratch directory unique to the
// task id. An existing directory for the same id is a collision and fails
// fast rather than silently reusing another task's scratch space.
func (s *Stager) Stage(ctx context.Context, task TaskRequest) (*StagedInput, error) {
	scratch := filepath.Join(s.base, task.TaskID)

	if err := s.fs.MkdirAll(s.base, 0750); err != nil {
		return nil, errors.Wrap(err, "could not create staging base")
	}
	exists, err := afero.DirExists(s.fs, scratch)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Wrap(ErrScratchCollision, scratch)
	}
	if err := s.fs.Mkdir(scratch, 0750); err != nil {
		return nil, errors.Wrap(err, "could not create scratch directory")
	}

	staged, err := s.fetchInto(ctx, task, scratch)
	if err != nil {
		_ = s.fs.RemoveAll(scratch)
		return nil, err
	}
	return staged, nil
}

func (s *Stager) fetchInto(ctx context.Context, task TaskRequest, scratch string) (*StagedInput, error) {
	inputDir := filepath.Join(scratch, "input")
	outputDir := filepath.Join(scratch, "out")
	for _, dir := range []string{inputDir, outputDir} {
		if err := s.fs.MkdirAll(dir, 0750); err != nil {
			return nil, errors.Wrap(err, "could not create scratch subdirectory")
		}
	}

	content, err := s.store.Fetch(ctx, task.ArtifactRef)
	if err != nil {
		return nil, err
	}
	defer content.Close() // nolint:errcheck

	name := path.Base(filepath.ToSlash(task.ArtifactRef))
	if name == "" || name == "." || name == "/" {
		name = "artifact"
	}
	inputPath := filepath.Join(inputDir, name)

	f, err := s.fs.Create(inputPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not create staged input")
	}

	digest := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, digest), content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, &artifact.FetchError{Kind: artifact.FetchCorrupt, Ref: task.ArtifactRef, Err: err}
	}

	checksum := fmt.Sprintf("%x", digest.Sum(nil))
	if task.Checksum != "" && !strings.EqualFold(task.Checksum, checksum) {
		err := fmt.Errorf("got %s, expected %s", checksum, task.Checksum)
		return nil, &artifact.FetchError{Kind: artifact.FetchChecksumMismatch, Ref: task.ArtifactRef, Err: err}
	}

	return &StagedInput{
		TaskID:     task.TaskID,
		Path:       inputPath,
		ScratchDir: scratch,
		OutputDir:  outputDir,
		Size:       size,
		Checksum:   checksum,
		fs:         s.fs,
	}, nil
}
