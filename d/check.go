// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package d holds invariant checks. A failed check is a programming error or
// a corrupted store, never a condition callers are expected to handle.
package d

import (
	"errors"
	"fmt"

	"github.com/stretchr/testify/assert"
)

var (
	Chk = assert.New(&panicker{})
	// Exp provides the same API as Chk, but the resulting panics can be caught by d.Try()
	Exp = assert.New(&recoverablePanicker{})
)

type panicker struct {
}

func (s panicker) Errorf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

type recoverablePanicker struct {
}

func (s recoverablePanicker) Errorf(format string, args ...interface{}) {
	panic(WrappedError{fmt.Sprintf(format, args...), nil})
}

// WrappedError is the panic value raised by Exp and Panic. It is recovered
// into a plain error by Try.
type WrappedError struct {
	msg   string
	cause error
}

func (e WrappedError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e WrappedError) Unwrap() error {
	return e.cause
}

// Panic panics with a recoverable WrappedError built from |format|.
func Panic(format string, args ...interface{}) {
	panic(WrappedError{fmt.Sprintf(format, args...), nil})
}

// PanicIfError panics if |err| is non-nil.
func PanicIfError(err error) {
	if err != nil {
		panic(WrappedError{"unexpected error", err})
	}
}

// PanicIfFalse panics if |b| is false.
func PanicIfFalse(b bool) {
	if !b {
		panic(WrappedError{"expected true", nil})
	}
}

// PanicIfTrue panics if |b| is true.
func PanicIfTrue(b bool) {
	if b {
		panic(WrappedError{"expected false", nil})
	}
}

// Try calls |f| and converts a WrappedError panic into a returned error. Any
// other panic is re-raised.
func Try(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var we WrappedError
			if e, ok := r.(error); ok && errors.As(e, &we) {
				err = we
				return
			}
			panic(r)
		}
	}()
	f()
	return nil
}
