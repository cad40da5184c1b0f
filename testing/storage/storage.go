// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage provides an in-memory storagei.Client implementation for tests.
package storage

import (
	"bytes"
	"golang.org/x/net/context"
	"io"
	"os"
	"path"
	"sync"
)

// Failure holds canned errors for one file.
type Failure struct {
	WriterErr error
	WriteErr  error
	CloseErr  error
	ReadErr   error
}

// Mock implements storagei.Client with files held in memory. Files written through Writer only
// appear on a successful Close.
type Mock struct {
	mu sync.Mutex
	// Files maps "dir/name" to contents.
	Files map[string][]byte
	// Failures maps "dir/name" to canned errors for that file.
	Failures map[string]*Failure
	// Writes counts successful commits per file.
	Writes map[string]int
	// Return this error from all operations for simple error specification.
	err error
}

// Key returns the Files key of name in dir.
func Key(dir, name string) string { return path.Join(dir, name) }

// ObjectWriter buffers content until Close commits it to the Mock, or returns canned errors.
type ObjectWriter struct {
	m       *Mock
	key     string
	content []byte
	failure Failure
}

// Write appends b to the pending content, or returns the canned WriteErr.
func (w *ObjectWriter) Write(b []byte) (int, error) {
	if w.failure.WriteErr != nil {
		return 0, w.failure.WriteErr
	}
	w.content = append(w.content, b...)
	return len(b), nil
}

// Close commits the pending content, or returns the first canned error.
func (w *ObjectWriter) Close() error {
	if w.failure.WriteErr != nil {
		return w.failure.WriteErr
	}
	if w.failure.CloseErr != nil {
		return w.failure.CloseErr
	}
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.m.Files == nil {
		w.m.Files = make(map[string][]byte)
	}
	if w.m.Writes == nil {
		w.m.Writes = make(map[string]int)
	}
	w.m.Files[w.key] = w.content
	w.m.Writes[w.key]++
	return nil
}

func (s *Mock) failure(key string) Failure {
	if f, ok := s.Failures[key]; ok && f != nil {
		return *f
	}
	return Failure{}
}

// Reader returns a reader over the file's contents.
func (s *Mock) Reader(_ context.Context, dir, name string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(dir, name)
	if err := s.failure(key).ReadErr; err != nil {
		return nil, err
	}
	data, ok := s.Files[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists returns whether the file has contents.
func (s *Mock) Exists(_ context.Context, dir, name string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Files[Key(dir, name)]
	return ok, nil
}

// Writer returns a writer for the file, or the canned WriterErr.
func (s *Mock) Writer(_ context.Context, dir, name string) (io.WriteCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(dir, name)
	f := s.failure(key)
	if f.WriterErr != nil {
		return nil, f.WriterErr
	}
	return &ObjectWriter{m: s, key: key, failure: f}, nil
}

// IsNotExists returns whether an error returned from Mock represents the NotExists error.
func (s *Mock) IsNotExists(err error) bool {
	return os.IsNotExist(err)
}

// WithInitialContents returns a Mock with the given files all in the same directory.
func WithInitialContents(initialContents map[string][]byte, dir string) *Mock {
	m := &Mock{Files: make(map[string][]byte)}
	for k, v := range initialContents {
		m.Files[Key(dir, k)] = bytes.Clone(v)
	}
	return m
}

// WithError returns a Mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{err: err}
}
