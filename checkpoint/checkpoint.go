// Package checkpoint decorates errors with the location they passed through,
// which results in something similar to a stacktrace.
// Each error added to a checkpoint can be checked by errors.Is and retrieved by errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// From just wraps an error by a new checkpoint which adds some caller information to the error.
// It returns nil, if err == nil.
func From(err error) error {
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}

	return newCheckpoint(err, nil)
}

// Wrap adds a checkpoint to prev and describes it by err.
// Returns nil if prev == nil.
// This allows to predefine some errors and use them later:
//  var ErrReadCluster = errors.New("could not read the cluster")
//
//  func readCluster() error {
//  	err := dev.ReadSectors(sector, buf)
//  	return checkpoint.Wrap(err, ErrReadCluster)
//  }
// errors.Is then matches ErrReadCluster as well as the error returned by the device.
func Wrap(prev, err error) error {
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if prev == nil || prev == io.EOF {
		return prev
	}

	return newCheckpoint(err, prev)
}

// Wrapf is Wrap with a formatted description which is still matched by errors.Is
// against err.
func Wrapf(prev, err error, format string, args ...interface{}) error {
	if prev == nil || prev == io.EOF {
		return prev
	}

	return newCheckpoint(fmt.Errorf("%w: "+format, append([]interface{}{err}, args...)...), prev)
}

// Fields collects the locations of all checkpoints in the chain of err.
// The innermost location is reported as "origin", the outermost as "at".
func Fields(err error) logrus.Fields {
	var trace []string
	for err != nil {
		if c, ok := err.(*checkpoint); ok && c.callerOk {
			trace = append(trace, fmt.Sprintf("%s:%d", c.file, c.line))
		}
		err = errors.Unwrap(err)
	}

	fields := logrus.Fields{}
	if len(trace) > 0 {
		fields["at"] = trace[0]
		fields["origin"] = trace[len(trace)-1]
	}
	return fields
}

func newCheckpoint(err, prev error) *checkpoint {
	// Skip newCheckpoint and the exported function.
	_, file, line, ok := runtime.Caller(2)

	return &checkpoint{
		err:  err,
		prev: prev,

		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func (e *checkpoint) Error() string {
	var b strings.Builder
	if e.err != nil {
		b.WriteString(e.err.Error())
	}

	if e.prev != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.prev.Error())
	}

	if e.callerOk {
		return fmt.Sprintf("%s (%s:%d)", b.String(), e.file, e.line)
	}
	return b.String()
}

func (e *checkpoint) Unwrap() error {
	return e.prev
}

func (e *checkpoint) Is(target error) bool {
	return errors.Is(e.err, target)
}

func (e *checkpoint) As(target interface{}) bool {
	return errors.As(e.err, target)
}
