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

// Package ops provides common whole-file operations on a storagei.Client.
package ops

import (
	"context"
	"fmt"
	"io"

	"github.com/google/vmsa-builder/storage/storagei"
)

// WriteFile replaces the contents of file name in dir with contents. The file only appears once
// every byte has been written.
func WriteFile(ctx context.Context, s storagei.Client, dir, name string, contents []byte) error {
	w, err := s.Writer(ctx, dir, name)
	if err != nil {
		return err
	}
	n, err := w.Write(contents)
	if err == nil && n != len(contents) {
		err = io.ErrShortWrite
	}
	if err != nil {
		// The writer discards what it has on Close after a failed Write.
		w.Close()
		return fmt.Errorf("could not write file %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("could not close file %q: %w", name, err)
	}
	return nil
}

// ReadFile returns the file's contents.
func ReadFile(ctx context.Context, s storagei.Client, dir, name string) ([]byte, error) {
	reader, err := s.Reader(ctx, dir, name)
	if s.IsNotExists(err) {
		return nil, fmt.Errorf("file %q does not exist: %w", name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read file %q: %w", name, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
