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

// Package output provides operations for command implementations to write information of various
// kinds, and for library code to report progress through the command's chosen modality.
package output

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/logger"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
	"golang.org/x/term"
)

// ErrNoContext is returned when FromContext cannot find an output.Options in the context.
var ErrNoContext = errors.New("no output context found")

const (
	warningPrefix = "WARNING: "
	errorPrefix   = "ERROR: "
	debugPrefix   = "DEBUG: "
)

// Options controls the meaning of output modalities.
type Options struct {
	Quiet     bool
	Verbose   bool
	UseLogs   bool
	Overwrite bool
	KeepGoing bool
	// Out and Err replace stdout and stderr, mostly for tests.
	Out io.Writer
	Err io.Writer
}

// AddFlags adds flags specific to the Options object to the given command.
func (opts *Options) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVar(&opts.Quiet, "quiet", false,
		"Print nothing if command is successful")
	cmd.PersistentFlags().BoolVar(&opts.Verbose, "verbose", false,
		"Print additional info to stdout")
	cmd.PersistentFlags().BoolVar(&opts.UseLogs, "use_logs", false,
		"Print messages to log instead of stdout/stderr")
	cmd.PersistentFlags().BoolVar(&opts.Overwrite, "overwrite", false,
		"Allow writing VMSA images over existing files.")
	cmd.PersistentFlags().BoolVar(&opts.KeepGoing, "keep_going", false,
		"If true, then when writing several VMSA images fails for one, keep writing the rest and "+
			"report every failure at the end.")
}

// Validate returns an error if the Options values are incompatible.
func (opts *Options) Validate(cmd *cobra.Command) error {
	if opts.Quiet && opts.Verbose {
		return fmt.Errorf("cannot specify both --quiet and --verbose")
	}
	cmd.SilenceUsage = true
	return nil
}

type outputKeyType struct{}

var outputKey outputKeyType

// NewContext returns ctx extended with opts added.
func NewContext(ctx context.Context, opts *Options) context.Context {
	return context.WithValue(ctx, outputKey, opts)
}

// FromContext returns the Options value in ctx if it exists.
func FromContext(ctx context.Context) (*Options, error) {
	opts, ok := ctx.Value(outputKey).(*Options)
	if !ok {
		return nil, ErrNoContext
	}
	return opts, nil
}

type imageKeyType struct{}

var imageKey imageKeyType

// WithImageOnStdout returns ctx in which stdout is reserved for Image. Every text modality that
// would print to stdout prints to stderr instead.
func WithImageOnStdout(ctx context.Context) context.Context {
	return context.WithValue(ctx, imageKey, true)
}

func imageOnStdout(ctx context.Context) bool {
	reserved, _ := ctx.Value(imageKey).(bool)
	return reserved
}

// sink is a destination for one modality. A nil sink means the modality goes to the log.
type sink struct {
	w     io.Writer
	istty bool
}

func fileSink(f *os.File) *sink {
	return &sink{w: f, istty: term.IsTerminal(int(f.Fd()))}
}

// failing is the sink without an output context.
type failing struct{}

func (failing) Write([]byte) (int, error) { return 0, ErrNoContext }

var (
	stdoutSink  = fileSink(os.Stdout)
	stderrSink  = fileSink(os.Stderr)
	discardSink = &sink{w: io.Discard}
	failingSink = &sink{w: failing{}}
)

// stdout is the text sink for stdout, or stderr if stdout carries an image.
func stdout(ctx context.Context, opts *Options) *sink {
	if imageOnStdout(ctx) {
		if opts.Err != nil {
			return &sink{w: opts.Err}
		}
		return stderrSink
	}
	if opts.Out != nil {
		return &sink{w: opts.Out}
	}
	return stdoutSink
}

// output is the sink for standard tool output.
func output(ctx context.Context) *sink {
	opts, err := FromContext(ctx)
	switch {
	case err != nil:
		return failingSink
	case opts.UseLogs:
		return nil
	case opts.Quiet:
		return discardSink
	}
	return stdout(ctx, opts)
}

// debug is the verbose sink for tool output.
func debug(ctx context.Context) *sink {
	opts, err := FromContext(ctx)
	switch {
	case err != nil:
		return failingSink
	case opts.UseLogs:
		return nil
	case opts.Verbose:
		return stdout(ctx, opts)
	case opts.Err != nil:
		return &sink{w: opts.Err}
	}
	return discardSink
}

// prefix renders a message prefix in bold color on terminals.
// https://en.wikipedia.org/wiki/ANSI_escape_code
func (s *sink) prefix(color int, txt string) string {
	if s.istty {
		return fmt.Sprintf("\033[1;%dm%s\033[0m", color, txt)
	}
	return txt
}

const (
	red    = 31
	yellow = 33
)

// Infof writes a formatted string with a newline to the Output modality.
func Infof(ctx context.Context, format string, args ...any) (int, error) {
	if s := output(ctx); s != nil {
		return fmt.Fprintf(s.w, format+"\n", args...)
	}
	logger.Infof(format, args...)
	return 1, nil
}

// Warningf writes a formatted string with a newline to the Output modality, prefixed by a warning
// message.
func Warningf(ctx context.Context, format string, args ...any) (int, error) {
	if s := output(ctx); s != nil {
		return fmt.Fprintf(s.w, s.prefix(yellow, warningPrefix)+format+"\n", args...)
	}
	logger.Warningf(format, args...)
	return 1, nil
}

// Errorf writes a formatted string with a newline to the Output modality, prefixed by an error
// message.
func Errorf(ctx context.Context, format string, args ...any) (int, error) {
	if s := output(ctx); s != nil {
		return fmt.Fprintf(s.w, s.prefix(red, errorPrefix)+format+"\n", args...)
	}
	logger.Errorf(format, args...)
	return 1, nil
}

// onRender detects whether the logger rendered a message, since the logger does not expose its
// verbosity.
type onRender struct{ wasRendered bool }

func (o *onRender) String() string {
	o.wasRendered = true
	return ""
}

// Debugf writes a formatted string with a newline to the Debug modality.
func Debugf(ctx context.Context, format string, args ...any) (int, error) {
	if s := debug(ctx); s != nil {
		return fmt.Fprintf(s.w, debugPrefix+format+"\n", args...)
	}
	var w onRender
	logger.V(1).Infof(format+"%v", append(args, &w)...)
	if w.wasRendered {
		return 1, nil
	}
	return 0, nil
}

// Image writes a binary image to stdout, or Out if set, regardless of --quiet and --use_logs.
// Terminals get a hex dump instead of raw bytes.
func Image(ctx context.Context, image []byte) error {
	opts, err := FromContext(ctx)
	if err != nil {
		return err
	}
	s := stdoutSink
	if opts.Out != nil {
		s = &sink{w: opts.Out}
	}
	if s.istty {
		_, err = io.WriteString(s.w, hex.Dump(image))
	} else {
		_, err = s.w.Write(image)
	}
	return err
}

// AllowOverwrite returns true if --overwrite is true.
func AllowOverwrite(ctx context.Context) bool {
	o, _ := FromContext(ctx)
	return o != nil && o.Overwrite
}

// AllowRecoverableError returns true if --keep_going is true.
func AllowRecoverableError(ctx context.Context) bool {
	o, _ := FromContext(ctx)
	return o != nil && o.KeepGoing
}
