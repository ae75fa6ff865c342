// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package blockchain implements SmartCash block handling and chain selection
rules.

The SmartCash block handling and chain selection rules are an integral, and
critical part of the network.  At its core, the package accepts candidate
block headers and full blocks from callers, integrates them into a persistent
block tree, decides which branch constitutes the active best chain, and
applies and reverts block effects against the unspent transaction output set.

Processing is split into two phases.  Headers are accepted first and undergo
the context-free proof of work check followed by the contextual checks
against their parent, which admits them to the in-memory block index.  Full
block data arrives separately, is persisted to an append-only flat-file
store, and promotes the validity of its index entry.  Chain selection then
repeatedly picks the highest-work candidate whose chain of data is fully
available and not known to be invalid and reorganizes the active chain to it,
disconnecting blocks back to the fork point and connecting the competing
branch while journaling everything needed to undo the process.

Errors returned by this package are either the raw underlying errors or of
type blockchain.RuleError, which indicates a rule violation by a block or
transaction.  The caller can use type assertions and the errors.Is/As
facilities to determine the specific rule that was violated and react
accordingly, such as by scoring the peer that relayed the offending data.
*/
package blockchain
