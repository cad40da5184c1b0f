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

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func readAll(t *testing.T, m *Mock, dir, name string) []byte {
	t.Helper()
	r, err := m.Reader(context.Background(), dir, name)
	if err != nil {
		t.Fatalf("Reader(%q, %q) = %v", dir, name, err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestReadSimple(t *testing.T) {
	want := []byte(`a contents`)
	m := WithInitialContents(map[string][]byte{"a": want}, "test")
	if got := readAll(t, m, "test", "a"); !bytes.Equal(got, want) {
		t.Errorf("simple reader static contents got %v, want %v", got, want)
	}
	if _, err := m.Reader(context.Background(), "test", "b"); !m.IsNotExists(err) {
		t.Errorf("Reader(test, b) = %v, want not-exists", err)
	}
}

func TestReadAfterWrite(t *testing.T) {
	previous := []byte(`previous`)
	for _, initial := range []map[string][]byte{nil, {"a": previous}} {
		ctx := context.Background()
		want := []byte(`a contents`)
		m := WithInitialContents(initial, "test")
		w, err := m.Writer(ctx, "test", "a")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(want); err != nil {
			t.Errorf("writer.Write(%v) = %v, want nil", want, err)
		}
		if initial == nil {
			if ok, _ := m.Exists(ctx, "test", "a"); ok {
				t.Error("file visible before Close")
			}
		} else if got := readAll(t, m, "test", "a"); !bytes.Equal(got, previous) {
			t.Errorf("contents before Close = %v, want %v", got, previous)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		if got := readAll(t, m, "test", "a"); !bytes.Equal(got, want) {
			t.Errorf("read after write got %v, want %v", got, want)
		}
		if m.Writes[Key("test", "a")] != 1 {
			t.Errorf("Writes = %v, want one commit of test/a", m.Writes)
		}
	}
}

func TestFailedWriteCommitsNothing(t *testing.T) {
	ctx := context.Background()
	writeErr := errors.New("disk full")
	m := &Mock{Failures: map[string]*Failure{Key("out", "x"): {WriteErr: writeErr}}}
	w, err := m.Writer(ctx, "out", "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, writeErr) {
		t.Errorf("Write() = %v, want %v", err, writeErr)
	}
	if err := w.Close(); !errors.Is(err, writeErr) {
		t.Errorf("Close() = %v, want %v", err, writeErr)
	}
	if ok, _ := m.Exists(ctx, "out", "x"); ok {
		t.Error("failed write left a file behind")
	}
}
