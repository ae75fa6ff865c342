// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package mempool provides a policy-enforced pool of unmined SmartCash
transactions.

A key responsibility of the SmartCash network is mining transactions into
blocks.  In order to facilitate this, the mining process relies on having a
readily-available source of transactions to include in a block that is being
solved.  At a high level, this package satisfies that requirement by
providing an in-memory pool of fully validated transactions that can also
optionally be further filtered based upon a configurable policy.

The pool tracks, for every entry, the aggregate count, size, and fees of its
transitive in-pool ancestor and descendant sets, which both bound the
resource usage of transaction packages and drive eviction when the pool is
trimmed to its byte budget.  Entries that conflict with a newly submitted
transaction may be replaced when they signal replaceability and the
replacement pays for both the displaced fees and its own bandwidth.

Errors returned by this package are either the raw underlying errors or of
type mempool.RuleError.  Since there are two classes of rules (mempool
acceptance rules and blockchain (consensus) acceptance rules), the
mempool.RuleError type contains a single Err field which will, in turn,
either be a mempool.TxRuleError or a blockchain.RuleError.  The first
indicates a violation of mempool acceptance rules while the latter indicates
a violation of consensus acceptance rules.  This allows the caller to easily
differentiate between unexpected errors, such as database errors, versus
errors due to rule violations through errors.As.  In addition, callers can
programmatically determine the specific rule violation by examining the
ErrorKind field of the error.
*/
package mempool
