// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"errors"
	"fmt"
)

// AssertError identifies an error that indicates an internal code consistency
// issue and should be treated as a critical and unrecoverable error.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ErrDuplicateBlock indicates a block with the same hash already exists
	// and has its data available.
	ErrDuplicateBlock = ErrorKind("ErrDuplicateBlock")

	// ErrMissingParent indicates that the block was an orphan.
	ErrMissingParent = ErrorKind("ErrMissingParent")

	// ErrNoBlockData indicates an attempt to perform an operation on a block
	// that requires all data to be available does not have the data.  This is
	// typically because the header is known, but the full data has not been
	// received yet.
	ErrNoBlockData = ErrorKind("ErrNoBlockData")

	// ErrBlockTooBig indicates the serialized block size exceeds the maximum
	// allowed size.
	ErrBlockTooBig = ErrorKind("ErrBlockTooBig")

	// ErrBlockVersionTooOld indicates the block version is too old and is no
	// longer accepted since the majority of the network has upgraded to a
	// newer version.
	ErrBlockVersionTooOld = ErrorKind("ErrBlockVersionTooOld")

	// ErrTimeTooOld indicates the time is either before the median time of
	// the last several blocks per the chain consensus rules.
	ErrTimeTooOld = ErrorKind("ErrTimeTooOld")

	// ErrTimeTooNew indicates the time is too far in the future as compared
	// the current time.
	ErrTimeTooNew = ErrorKind("ErrTimeTooNew")

	// ErrUnexpectedDifficulty indicates specified bits do not align with the
	// expected value either because it doesn't match the calculated value
	// based on difficulty rules or it is out of the valid range.
	ErrUnexpectedDifficulty = ErrorKind("ErrUnexpectedDifficulty")

	// ErrHighHash indicates the block does not hash to a value which is
	// lower than the required target difficulty.
	ErrHighHash = ErrorKind("ErrHighHash")

	// ErrBadMerkleRoot indicates the calculated merkle root does not match
	// the expected value or the merkle tree commitment is malleated.
	ErrBadMerkleRoot = ErrorKind("ErrBadMerkleRoot")

	// ErrNoTransactions indicates the block does not have at least one
	// transaction.  A valid block must have at least the coinbase
	// transaction.
	ErrNoTransactions = ErrorKind("ErrNoTransactions")

	// ErrNoTxInputs indicates a transaction does not have any inputs.  A
	// valid transaction must have at least one input.
	ErrNoTxInputs = ErrorKind("ErrNoTxInputs")

	// ErrNoTxOutputs indicates a transaction does not have any outputs.  A
	// valid transaction must have at least one output.
	ErrNoTxOutputs = ErrorKind("ErrNoTxOutputs")

	// ErrTxTooBig indicates a transaction exceeds the maximum allowed size
	// when serialized.
	ErrTxTooBig = ErrorKind("ErrTxTooBig")

	// ErrBadTxOutValue indicates an output value for a transaction is
	// invalid in some way such as being out of range.
	ErrBadTxOutValue = ErrorKind("ErrBadTxOutValue")

	// ErrDuplicateTxInputs indicates a transaction references the same
	// input more than once.
	ErrDuplicateTxInputs = ErrorKind("ErrDuplicateTxInputs")

	// ErrBadTxInput indicates a transaction input is invalid in some way
	// such as referencing a previous transaction outpoint which is out of
	// range or not referencing one at all.
	ErrBadTxInput = ErrorKind("ErrBadTxInput")

	// ErrMissingTxOut indicates a transaction output referenced by an input
	// does not exist.
	ErrMissingTxOut = ErrorKind("ErrMissingTxOut")

	// ErrSpentTxOut indicates a transaction output referenced by an input
	// has already been spent.
	ErrSpentTxOut = ErrorKind("ErrSpentTxOut")

	// ErrUnfinalizedTx indicates a transaction has not been finalized.  A
	// valid block may only contain finalized transactions.
	ErrUnfinalizedTx = ErrorKind("ErrUnfinalizedTx")

	// ErrDuplicateTx indicates a block contains an identical transaction to
	// one which has already been spent, which is disallowed aside from the
	// historical exceptions.
	ErrDuplicateTx = ErrorKind("ErrDuplicateTx")

	// ErrImmatureSpend indicates a transaction is attempting to spend a
	// coinbase that has not yet reached the required maturity.
	ErrImmatureSpend = ErrorKind("ErrImmatureSpend")

	// ErrSpendTooHigh indicates a transaction is attempting to spend more
	// value than the sum of all of its inputs.
	ErrSpendTooHigh = ErrorKind("ErrSpendTooHigh")

	// ErrBadFees indicates the total fees for a block are invalid due to
	// exceeding the maximum possible value.
	ErrBadFees = ErrorKind("ErrBadFees")

	// ErrTooManySigOps indicates the total number of signature operations
	// for a transaction or block exceed the maximum allowed limits.
	ErrTooManySigOps = ErrorKind("ErrTooManySigOps")

	// ErrFirstTxNotCoinbase indicates the first transaction in a block is
	// not a coinbase transaction.
	ErrFirstTxNotCoinbase = ErrorKind("ErrFirstTxNotCoinbase")

	// ErrMultipleCoinbases indicates a block contains more than one coinbase
	// transaction.
	ErrMultipleCoinbases = ErrorKind("ErrMultipleCoinbases")

	// ErrBadCoinbaseScriptLen indicates the length of the signature script
	// for a coinbase transaction is not within the valid range.
	ErrBadCoinbaseScriptLen = ErrorKind("ErrBadCoinbaseScriptLen")

	// ErrBadCoinbaseValue indicates the amount of a coinbase value does not
	// match the expected value of the subsidy plus the sum of all fees.
	ErrBadCoinbaseValue = ErrorKind("ErrBadCoinbaseValue")

	// ErrBadHivePayment indicates the block does not include the required
	// payments to the hive addresses.
	ErrBadHivePayment = ErrorKind("ErrBadHivePayment")

	// ErrScriptMalformed indicates a transaction script is malformed in
	// some way.  For example, it might be longer than the maximum allowed
	// length or fail to parse.
	ErrScriptMalformed = ErrorKind("ErrScriptMalformed")

	// ErrScriptValidation indicates the result of executing a transaction
	// script failed.  The error covers any failure when executing scripts
	// such as signature verification failures and execution past the end of
	// the stack.
	ErrScriptValidation = ErrorKind("ErrScriptValidation")

	// ErrNonStandardScriptValidation indicates the result of executing a
	// transaction script failed under the standard script flags, but passed
	// under the mandatory ones.  Such transactions are non-standard rather
	// than invalid.
	ErrNonStandardScriptValidation = ErrorKind("ErrNonStandardScriptValidation")

	// ErrSequenceLockUnmet indicates a transaction spends inputs whose
	// relative lock-time constraints have not been satisfied.
	ErrSequenceLockUnmet = ErrorKind("ErrSequenceLockUnmet")

	// ErrZerocoinDisabled indicates a transaction uses the legacy zerocoin
	// form after the cutoff height for that form.
	ErrZerocoinDisabled = ErrorKind("ErrZerocoinDisabled")

	// ErrInvalidAncestorBlock indicates a block is not eligible for
	// validation because an ancestor block has failed validation.
	ErrInvalidAncestorBlock = ErrorKind("ErrInvalidAncestorBlock")

	// ErrKnownInvalidBlock indicates a block that was previously found to
	// be invalid was presented again.
	ErrKnownInvalidBlock = ErrorKind("ErrKnownInvalidBlock")

	// ErrOverwriteUtxo indicates an attempt to add a coin to the utxo view
	// for an outpoint that is already unspent without permitting overwrite.
	ErrOverwriteUtxo = ErrorKind("ErrOverwriteUtxo")

	// ErrUtxoBackendCorruption indicates an unrecoverable inconsistency was
	// detected between the chain state and the data stored on disk.
	ErrUtxoBackendCorruption = ErrorKind("ErrUtxoBackendCorruption")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules.  It has full support for errors.Is and errors.As, so the
// caller can ascertain the specific reason for the rule violation.
type RuleError struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc}
}

// dosScores maps rule violation kinds to the ban score a peer accrues for
// relaying data that violates the rule.  Kinds not present in the map score
// the default of 100 since they represent outright consensus violations.
var dosScores = map[ErrorKind]uint32{
	ErrMissingParent:               0,
	ErrDuplicateBlock:              0,
	ErrNoBlockData:                 0,
	ErrMissingTxOut:                0,
	ErrNonStandardScriptValidation: 0,
	ErrTimeTooNew:                  10,
	ErrSpentTxOut:                  10,
	ErrSequenceLockUnmet:           10,
	ErrBlockVersionTooOld:          20,
	ErrUnfinalizedTx:               20,
}

// DosScore returns the ban score a peer should accrue for relaying data that
// failed validation with the provided error.  Errors that are not rule
// violations score zero.
func DosScore(err error) uint32 {
	var rerr RuleError
	if !errors.As(err, &rerr) {
		return 0
	}
	kind, ok := rerr.Err.(ErrorKind)
	if !ok {
		return 0
	}
	if score, ok := dosScores[kind]; ok {
		return score
	}
	return 100
}

// panicf is a convenience function that formats according to the given format
// specifier and arguments and then logs the result at the critical level and
// panics with it.
func panicf(format string, args ...interface{}) {
	str := fmt.Sprintf(format, args...)
	log.Critical(str)
	panic(str)
}
