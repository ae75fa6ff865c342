// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"

	"github.com/smartcash/smartd/blockchain"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ErrInvalid indicates the transaction is invalid per consensus.
	ErrInvalid = ErrorKind("ErrInvalid")

	// ErrOrphan indicates the transaction references inputs that are not
	// known, so it can not be validated yet.
	ErrOrphan = ErrorKind("ErrOrphan")

	// ErrOrphanPolicyViolation indicates the orphan violates the prevailing
	// orphan policy.
	ErrOrphanPolicyViolation = ErrorKind("ErrOrphanPolicyViolation")

	// ErrMempoolDoubleSpend indicates the transaction attempts to spend
	// outputs that are already spent by a transaction in the pool and the
	// conflict is not eligible for replacement.
	ErrMempoolDoubleSpend = ErrorKind("ErrMempoolDoubleSpend")

	// ErrAlreadySpent indicates the transaction attempts to spend outputs
	// that are already spent by the chain.
	ErrAlreadySpent = ErrorKind("ErrAlreadySpent")

	// ErrDuplicate indicates the transaction already exists in the pool.
	ErrDuplicate = ErrorKind("ErrDuplicate")

	// ErrCoinbase indicates the transaction is a standalone coinbase
	// transaction, which is only ever valid in the context of a block.
	ErrCoinbase = ErrorKind("ErrCoinbase")

	// ErrExpired indicates the transaction is not yet final.
	ErrExpired = ErrorKind("ErrExpired")

	// ErrNonStandard indicates a non-standard transaction.
	ErrNonStandard = ErrorKind("ErrNonStandard")

	// ErrPrematureVersion indicates a transaction uses a version that is
	// not yet deployed on the network.
	ErrPrematureVersion = ErrorKind("ErrPrematureVersion")

	// ErrDustOutput indicates the transaction has dust outputs.
	ErrDustOutput = ErrorKind("ErrDustOutput")

	// ErrInsufficientFee indicates the transaction does not pay the minimum
	// required fee.
	ErrInsufficientFee = ErrorKind("ErrInsufficientFee")

	// ErrInsufficientPriority indicates a free transaction was rejected by
	// the rate limiter.
	ErrInsufficientPriority = ErrorKind("ErrInsufficientPriority")

	// ErrFeeTooHigh indicates the transaction pays fees above the maximum
	// allowed by the pool (the absurd fee guard).
	ErrFeeTooHigh = ErrorKind("ErrFeeTooHigh")

	// ErrSeqLockUnmet indicates the transaction sequence locks are not
	// active at the next block.
	ErrSeqLockUnmet = ErrorKind("ErrSeqLockUnmet")

	// ErrImmatureSpend indicates the transaction spends a coinbase output
	// that has not yet reached the required maturity.
	ErrImmatureSpend = ErrorKind("ErrImmatureSpend")

	// ErrTooManySigOps indicates the transaction exceeds the per
	// transaction signature operation budget.
	ErrTooManySigOps = ErrorKind("ErrTooManySigOps")

	// ErrReplacementNotSignaled indicates a conflicting transaction can not
	// be replaced because it does not signal replaceability.
	ErrReplacementNotSignaled = ErrorKind("ErrReplacementNotSignaled")

	// ErrReplacementInsufficientFee indicates a replacement transaction
	// does not pay enough to displace the transactions it conflicts with.
	ErrReplacementInsufficientFee = ErrorKind("ErrReplacementInsufficientFee")

	// ErrReplacementAddsUnconfirmed indicates a replacement transaction
	// introduces unconfirmed inputs that were not present in the
	// transactions it replaces.
	ErrReplacementAddsUnconfirmed = ErrorKind("ErrReplacementAddsUnconfirmed")

	// ErrTooManyReplacements indicates a replacement transaction would
	// evict more transactions than the policy allows.
	ErrTooManyReplacements = ErrorKind("ErrTooManyReplacements")

	// ErrAncestorLimits indicates a transaction would exceed the transitive
	// ancestor or descendant package limits of the pool.
	ErrAncestorLimits = ErrorKind("ErrAncestorLimits")

	// ErrMempoolMinFee indicates the transaction does not pay the dynamic
	// minimum fee currently required due to pool size pressure.
	ErrMempoolMinFee = ErrorKind("ErrMempoolMinFee")

	// ErrRecentlyRejected indicates the transaction was recently rejected
	// and is not being revalidated.
	ErrRecentlyRejected = ErrorKind("ErrRecentlyRejected")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a transaction failed due to one of the many validation
// rules.  It has full support for errors.Is and errors.As, so the caller can
// ascertain the specific reason for the error by checking the underlying
// error, which will be either a TxRuleError or a blockchain.RuleError.
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

// TxRuleError identifies a rule violation.  It is used to indicate that
// processing of a transaction failed due to one of the many validation
// rules.  It has full support for errors.Is and errors.As, so the caller can
// ascertain the specific reason for the error by checking the underlying
// error.
type TxRuleError struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxRuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e TxRuleError) Unwrap() error {
	return e.Err
}

// txRuleError creates a RuleError given a set of arguments.
func txRuleError(kind ErrorKind, desc string) RuleError {
	return RuleError{
		Description: desc,
		Err:         TxRuleError{Err: kind, Description: desc},
	}
}

// chainRuleError returns a RuleError that encapsulates the given
// blockchain.RuleError.
func chainRuleError(chainErr blockchain.RuleError) RuleError {
	return RuleError{
		Description: chainErr.Description,
		Err:         chainErr,
	}
}

// IsOrphanErr returns whether or not the passed error indicates a
// transaction was rejected only because its inputs are not yet known, which
// is reported distinctly from inputs that are known to be spent.
func IsOrphanErr(err error) bool {
	var terr TxRuleError
	if !errors.As(err, &terr) {
		return false
	}
	kind, ok := terr.Err.(ErrorKind)
	return ok && kind == ErrOrphan
}
