/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package core

import (
	"errors"
	"fmt"
)

// Error marks a failure that indicates a bug in the platform itself rather
// than a transient condition. Message handlers re-raise it instead of
// swallowing it, so it propagates to the supervisor and stops the process
// with a non-zero exit code.
type Error struct {
	Op  string
	Err error
}

// NewError creates a core error for the given operation
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// Errorf creates a core error with a formatted message
func Errorf(op string, format string, args ...any) *Error {
	return &Error{Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCoreError reports whether err is (or wraps) a core error
func IsCoreError(err error) bool {
	var coreErr *Error
	return errors.As(err, &coreErr)
}
