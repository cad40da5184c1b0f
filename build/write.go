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

package build

import (
	"fmt"
	"strings"

	"github.com/google/vmsa-builder/cmd/output"
	"github.com/google/vmsa-builder/storage/ops"
	"github.com/google/vmsa-builder/storage/storagei"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/net/context"
)

// ErrExists is returned when writing would replace a file without --overwrite.
var ErrExists = errors.New("file already exists")

// Write stores image as name in dir. The file appears whole or not at all.
func Write(ctx context.Context, client storagei.Client, dir, name string, image []byte) error {
	if !output.AllowOverwrite(ctx) {
		exists, err := client.Exists(ctx, dir, name)
		if err != nil {
			return errors.Wrapf(err, "could not check for %s", name)
		}
		if exists {
			return errors.Wrapf(ErrExists, "will not overwrite %s without --overwrite", name)
		}
	}
	if err := ops.WriteFile(ctx, client, dir, name, image); err != nil {
		return errors.Wrapf(err, "could not write VMSA %s", name)
	}
	output.Debugf(ctx, "wrote %d-byte VMSA to %s", len(image), name)
	return nil
}

// ImageNames returns the file names of count vCPUs starting at index first. A pattern for more
// than one vCPU must have a %d verb for the vCPU index.
func ImageNames(pattern string, first, count int) ([]string, error) {
	if count == 1 && !strings.Contains(pattern, "%") {
		return []string{pattern}, nil
	}
	if strings.Count(pattern, "%") != 1 || !strings.Contains(pattern, "%d") {
		return nil, fmt.Errorf("output name %q must contain exactly one %%d for the vCPU index", pattern)
	}
	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf(pattern, first+i)
	}
	return names, nil
}

// WriteAll stores images[i] as names[i] in dir, in order. It stops at the first failure unless
// --keep_going is set, in which case it writes every image it can and returns all failures.
func WriteAll(ctx context.Context, client storagei.Client, dir string, names []string, images [][]byte) error {
	if len(names) != len(images) {
		return &Error{Phase: PhaseWrite, VCPU: -1,
			Err: fmt.Errorf("have %d names for %d images", len(names), len(images))}
	}
	var result error
	for i, image := range images {
		err := Write(ctx, client, dir, names[i], image)
		if err == nil {
			continue
		}
		err = &Error{Phase: PhaseWrite, VCPU: i, Err: err}
		if !output.AllowRecoverableError(ctx) {
			return err
		}
		output.Errorf(ctx, "%v", err)
		result = multierr.Append(result, err)
	}
	return result
}
