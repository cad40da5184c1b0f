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

// Package main is the vmsabuild CLI tool.
package main

import (
	"context"
	"os"

	"github.com/google/logger"
	"github.com/google/vmsa-builder/cmd"
	"github.com/google/vmsa-builder/storage/local"
)

func main() {
	defer logger.Init("vmsabuild", false, false, os.Stderr).Close()
	app := cmd.MakeApp(context.Background(), &cmd.AppComponents{Storage: &local.StorageClient{}})
	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}
