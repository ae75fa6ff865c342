// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ErrDbClosed indicates an attempt to access the database after it has
	// already been closed.
	ErrDbClosed = ErrorKind("ErrDbClosed")

	// ErrCorruption indicates a checksum failure or other unrecoverable
	// inconsistency was detected in the underlying store.
	ErrCorruption = ErrorKind("ErrCorruption")

	// ErrTxNotWritable indicates an attempt to perform a write against a
	// read-only transaction.
	ErrTxNotWritable = ErrorKind("ErrTxNotWritable")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a database-related error.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason
// for the error by checking the underlying error.
type Error struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
