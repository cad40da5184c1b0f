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

// Package storagei provides the storage interface VMSA images are read from and written to.
package storagei

import (
	"golang.org/x/net/context"
	"io"
)

// Client defines the slice of file management the builder needs. A dir is a directory relative to
// the client's root in which names are defined.
type Client interface {
	Reader(ctx context.Context, dir, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, dir, name string) (bool, error)
	// Writer returns a writer whose contents become visible under name only when Close succeeds.
	Writer(ctx context.Context, dir, name string) (io.WriteCloser, error)
	IsNotExists(err error) bool
}
