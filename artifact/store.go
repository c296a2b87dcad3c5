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

// Package artifact is the boundary to the artifact store that holds task
// inputs and oversized results. The store itself is an external
// collaborator; this package only defines the contract and a filesystem
// implementation used by local deployments and tests.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FetchErrorKind classifies artifact fetch failures.
type FetchErrorKind string

const (
	FetchUnreachable      FetchErrorKind = "unreachable"
	FetchNotFound         FetchErrorKind = "not_found"
	FetchCorrupt          FetchErrorKind = "corrupt"
	FetchChecksumMismatch FetchErrorKind = "checksum_mismatch"
)

// FetchError describes why an artifact reference could not be materialized.
// Only unreachable stores are worth retrying; re-fetching a missing or
// corrupt artifact reproduces the same failure.
type FetchError struct {
	Kind FetchErrorKind
	Ref  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.Ref, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Ref, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether a retry might succeed.
func (e *FetchError) Temporary() bool { return e.Kind == FetchUnreachable }

// Store fetches artifact bytes by reference and accepts uploads of result
// payloads too large for the queue message.
type Store interface {
	Fetch(ctx context.Context, ref string) (io.ReadCloser, error)
	Put(ctx context.Context, name string, r io.Reader) (ref string, err error)
}

// FileStore resolves references as paths below a root directory.
type FileStore struct {
	fs   afero.Fs
	root string
}

// NewFileStore creates a store over root on the given filesystem.
func NewFileStore(fs afero.Fs, root string) *FileStore {
	return &FileStore{fs: fs, root: root}
}

// Fetch opens the referenced file. References must stay below the root.
func (s *FileStore) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Kind: FetchUnreachable, Ref: ref, Err: err}
	}
	if strings.Contains(ref, "..") {
		return nil, &FetchError{Kind: FetchNotFound, Ref: ref, Err: fmt.Errorf("'..' in reference")}
	}
	f, err := s.fs.Open(filepath.Join(s.root, filepath.FromSlash(ref)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &FetchError{Kind: FetchNotFound, Ref: ref, Err: err}
		}
		return nil, &FetchError{Kind: FetchUnreachable, Ref: ref, Err: err}
	}
	return f, nil
}

// Put stores the content under a collision-free name and returns its
// reference relative to the root.
func (s *FileStore) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = path.Base(filepath.ToSlash(name))

	i := 0
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	ref := name
	exists, err := afero.Exists(s.fs, filepath.Join(s.root, ref))
	if err != nil {
		return "", err
	}
	for exists {
		ref = fmt.Sprintf("%s_%d%s", base, i, ext)
		i++
		exists, err = afero.Exists(s.fs, filepath.Join(s.root, ref))
		if err != nil {
			return "", err
		}
	}

	if err := s.fs.MkdirAll(s.root, 0750); err != nil {
		return "", err
	}
	f, err := s.fs.Create(filepath.Join(s.root, ref))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close() // nolint:errcheck
		return "", err
	}
	return ref, f.Close()
}
