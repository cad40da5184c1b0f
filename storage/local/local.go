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

// Package local provides a storagei.Client implementation for local disk file management.
package local

import (
	"golang.org/x/net/context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/vmsa-builder/cmd/output"
	"github.com/pkg/errors"
)

const (
	dirPerm  os.FileMode = 0755
	filePerm os.FileMode = 0644
)

// StorageClient provides the storagei.Client interface on local disk. Directories are relative to
// Root, and a Root of "" or "." means the current working directory.
type StorageClient struct {
	Root string
}

func (s *StorageClient) localPath(dir, name string) string {
	return filepath.Join(s.Root, dir, name)
}

// Reader returns an open ReadCloser object for reading the given file.
func (s *StorageClient) Reader(_ context.Context, dir, name string) (io.ReadCloser, error) {
	return os.Open(s.localPath(dir, name))
}

// atomicWriter writes to a temporary file next to its destination and renames it into place on
// Close. A failed Write discards the temporary file so no partial file is ever visible.
type atomicWriter struct {
	f    *os.File
	dest string
	err  error
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.f.Write(p)
	if err != nil {
		w.err = errors.Wrapf(err, "could not write %s", w.dest)
	}
	return n, w.err
}

func (w *atomicWriter) Close() error {
	tmp := w.f.Name()
	if w.err != nil {
		w.f.Close()
		os.Remove(tmp)
		return w.err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "could not sync %s", tmp)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "could not close %s", tmp)
	}
	if err := os.Chmod(tmp, filePerm); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "could not set permissions on %s", tmp)
	}
	if err := os.Rename(tmp, w.dest); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "could not move %s to %s", tmp, w.dest)
	}
	return nil
}

// Writer returns an open WriteCloser object for populating the given file. The file is replaced
// atomically when the writer is closed.
func (s *StorageClient) Writer(ctx context.Context, dir, name string) (io.WriteCloser, error) {
	p := s.localPath(dir, name)
	parent := filepath.Dir(p)
	if err := os.MkdirAll(parent, dirPerm); err != nil {
		return nil, errors.Wrapf(err, "could not prepare directory for %s", p)
	}
	f, err := os.CreateTemp(parent, "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return nil, errors.Wrapf(err, "could not create temporary file for %s", p)
	}
	output.Debugf(ctx, "opened writer for %s via %s", p, f.Name())
	return &atomicWriter{f: f, dest: p}, nil
}

// Exists returns whether a particular file exists in the given directory, or an error.
func (s *StorageClient) Exists(_ context.Context, dir, name string) (bool, error) {
	_, err := os.Stat(s.localPath(dir, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsNotExists returns whether an error from the client indicates the file in question does not
// exist.
func (s *StorageClient) IsNotExists(err error) bool {
	return os.IsNotExist(errors.Cause(err))
}
