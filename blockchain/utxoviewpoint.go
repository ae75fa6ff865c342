// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// UtxoViewpoint represents a view into the set of unspent transaction outputs
// from a specific point of view in the chain.  For example, it could be for
// the end of the main chain, some point in the history of the main chain, or
// down a side chain.
//
// The unspent outputs are needed by other transactions for things such as
// script validation and double spend prevention.
type UtxoViewpoint struct {
	entries  map[wire.OutPoint]*UtxoEntry
	bestHash chainhash.Hash
}

// NewUtxoViewpoint returns a new empty unspent transaction output view.
func NewUtxoViewpoint() *UtxoViewpoint {
	return &UtxoViewpoint{
		entries: make(map[wire.OutPoint]*UtxoEntry),
	}
}

// BestHash returns the hash of the best block in the chain the view currently
// represents.
func (view *UtxoViewpoint) BestHash() *chainhash.Hash {
	return &view.bestHash
}

// SetBestHash sets the hash of the best block in the chain the view currently
// represents.
func (view *UtxoViewpoint) SetBestHash(hash *chainhash.Hash) {
	view.bestHash = *hash
}

// LookupEntry returns information about a given transaction output according
// to the current state of the view.  It will return nil if the passed output
// does not exist in the view or is otherwise not available such as when it
// has been disconnected during a reorg.
func (view *UtxoViewpoint) LookupEntry(outpoint wire.OutPoint) *UtxoEntry {
	return view.entries[outpoint]
}

// RemoveEntry removes the given transaction output from the current state of
// the view.  It will have no effect if the passed output does not exist in
// the view.
func (view *UtxoViewpoint) RemoveEntry(outpoint wire.OutPoint) {
	delete(view.entries, outpoint)
}

// Entries returns the underlying map that stores of all the utxo entries.
func (view *UtxoViewpoint) Entries() map[wire.OutPoint]*UtxoEntry {
	return view.entries
}

// addTxOut adds the specified output to the view if it is not provably
// unspendable.  When the view already has a known unspent entry for the
// output, an overwrite error is returned unless possibleOverwrite indicates
// the caller expects it, which is only ever the case for coinbases given a
// transaction hash collision requires its previous instance to be fully
// spent for any transaction other than the historical duplicate coinbases.
func (view *UtxoViewpoint) addTxOut(outpoint wire.OutPoint, txOut *wire.TxOut,
	isCoinBase bool, blockHeight int64, possibleOverwrite bool) error {

	// Don't add provably unspendable outputs.
	if txscript.IsUnspendable(txOut.PkScript) {
		return nil
	}

	entry := view.LookupEntry(outpoint)
	if entry == nil {
		entry = new(UtxoEntry)
		view.entries[outpoint] = entry
	} else if !entry.IsSpent() && !possibleOverwrite {
		str := fmt.Sprintf("attempt to overwrite unspent output %v", outpoint)
		return ruleError(ErrOverwriteUtxo, str)
	}

	entry.amount = txOut.Value
	entry.pkScript = txOut.PkScript
	entry.blockHeight = uint32(blockHeight)
	entry.isCoinBase = isCoinBase
	entry.state = utxoStateModified | (entry.state & utxoStateFresh)
	return nil
}

// AddTxOut adds the specified output of the passed transaction to the view if
// it exists and is not provably unspendable.
func (view *UtxoViewpoint) AddTxOut(tx *btcutil.Tx, txOutIdx uint32, blockHeight int64) error {
	// Can't add an output for an out of bounds index.
	msgTx := tx.MsgTx()
	if txOutIdx >= uint32(len(msgTx.TxOut)) {
		return nil
	}

	isCoinBase := IsCoinBase(tx)
	outpoint := wire.OutPoint{Hash: *tx.Hash(), Index: txOutIdx}
	return view.addTxOut(outpoint, msgTx.TxOut[txOutIdx], isCoinBase,
		blockHeight, isCoinBase)
}

// AddTxOuts adds all outputs in the passed transaction which are not provably
// unspendable to the view.
func (view *UtxoViewpoint) AddTxOuts(tx *btcutil.Tx, blockHeight int64) error {
	// Coinbase transactions may overwrite an older fully-spent instance of
	// the same transaction per the historical duplicate coinbase rules.
	isCoinBase := IsCoinBase(tx)

	outpoint := wire.OutPoint{Hash: *tx.Hash()}
	for txOutIdx, txOut := range tx.MsgTx().TxOut {
		outpoint.Index = uint32(txOutIdx)
		err := view.addTxOut(outpoint, txOut, isCoinBase, blockHeight,
			isCoinBase)
		if err != nil {
			return err
		}
	}
	return nil
}

// connectTransaction updates the view by adding all new utxos created by the
// passed transaction and marking all utxos that the transaction spends as
// spent.  In addition, when the 'stxos' argument is not nil, it will be
// updated to append an entry for each spent txout.  An error will be returned
// if the view does not contain the required utxos.
func (view *UtxoViewpoint) connectTransaction(tx *btcutil.Tx, blockHeight int64, stxos *[]spentTxOut) error {
	// Coinbase transactions don't have any inputs to spend.
	if IsCoinBase(tx) {
		// Add the transaction's outputs as available utxos.
		return view.AddTxOuts(tx, blockHeight)
	}

	// Spend the referenced utxos by marking them spent in the view and, if a
	// slice was provided for the spent txout details, append an entry to it.
	for _, txIn := range tx.MsgTx().TxIn {
		// Ensure the referenced utxo exists in the view.  This should never
		// happen unless there is a bug introduced in the code.
		entry := view.entries[txIn.PreviousOutPoint]
		if entry == nil {
			return AssertError(fmt.Sprintf("view missing input %v",
				txIn.PreviousOutPoint))
		}

		// Only create the stxo details if requested.
		if stxos != nil {
			*stxos = append(*stxos, spentTxOut{
				amount:     entry.Amount(),
				pkScript:   entry.PkScript(),
				height:     uint32(entry.BlockHeight()),
				isCoinBase: entry.IsCoinBase(),
			})
		}

		// Mark the entry as spent.  This is not done until after the
		// relevant details have been accessed since spending it might clear
		// the fields from memory in the future.
		entry.Spend()
	}

	// Add the transaction's outputs as available utxos.
	return view.AddTxOuts(tx, blockHeight)
}

// connectTransactions updates the view by adding all new utxos created by all
// of the transactions in the passed block, marking all utxos the transactions
// spend as spent, and setting the best hash for the view to the passed block.
// In addition, when the 'stxos' argument is not nil, it will be updated to
// append an entry for each spent txout.
func (view *UtxoViewpoint) connectTransactions(block *btcutil.Block, stxos *[]spentTxOut) error {
	for _, tx := range block.Transactions() {
		err := view.connectTransaction(tx, int64(block.Height()), stxos)
		if err != nil {
			return err
		}
	}

	// Update the best hash for view to include this block since all of its
	// transactions have been connected.
	view.SetBestHash(block.Hash())
	return nil
}

// disconnectResult describes the outcome of disconnecting the effects of a
// block from a view.
type disconnectResult byte

const (
	// disconnectClean indicates the observed utxo state matched the block
	// exactly.
	disconnectClean disconnectResult = iota

	// disconnectUnclean indicates the block was disconnected, however some
	// of the observed utxo state did not match the block.  This is tolerated
	// during crash recovery where a flush may have landed between a
	// disconnect and its journal removal, but is noted since it implies an
	// inconsistency was healed.
	disconnectUnclean
)

// disconnectTransactions updates the view by removing all of the utxos
// created by the transactions in the passed block, restoring the outputs they
// spent from the provided journal of spent txouts, and setting the best hash
// for the view to the block before the passed block.
//
// The returned result reports whether the observed utxo state matched the
// block exactly.  Mismatches that can be healed, such as a created output
// already being absent, downgrade the result to unclean rather than failing.
// A journal that does not pair with the block's inputs is an unrecoverable
// failure.
func (view *UtxoViewpoint) disconnectTransactions(block *btcutil.Block, stxos []spentTxOut) (disconnectResult, error) {
	// Sanity check the correct number of stxos are provided.
	if len(stxos) != countSpentOutputs(block) {
		return disconnectClean, AssertError(fmt.Sprintf("disconnect of block "+
			"%v provided %d stxos for %d spent outputs", block.Hash(),
			len(stxos), countSpentOutputs(block)))
	}

	result := disconnectClean
	stxoIdx := len(stxos) - 1
	transactions := block.Transactions()
	for txIdx := len(transactions) - 1; txIdx > -1; txIdx-- {
		tx := transactions[txIdx]
		msgTx := tx.MsgTx()
		isCoinBase := txIdx == 0

		// Remove all of the utxos created by the transaction.  There is no
		// practical difference between a utxo that does not exist and one
		// that has been spent with a pruned utxo set, so missing entries are
		// added to the view and marked spent so the state of the backing
		// store is updated when the view is committed.
		outpoint := wire.OutPoint{Hash: *tx.Hash()}
		for txOutIdx, txOut := range msgTx.TxOut {
			// Provably unspendable outputs were never added.
			if txscript.IsUnspendable(txOut.PkScript) {
				continue
			}

			outpoint.Index = uint32(txOutIdx)
			entry := view.entries[outpoint]
			if entry == nil || entry.IsSpent() {
				result = disconnectUnclean
			}
			if entry == nil {
				entry = &UtxoEntry{
					amount:      txOut.Value,
					pkScript:    txOut.PkScript,
					blockHeight: uint32(block.Height()),
					isCoinBase:  isCoinBase,
					state:       utxoStateModified,
				}
				view.entries[outpoint] = entry
			}

			entry.Spend()
		}

		// The coinbase has no inputs to restore.
		if isCoinBase {
			continue
		}

		// Loop backwards through all of the transaction inputs and restore
		// the referenced txos.  This is necessary to match the order of the
		// spent txout entries.
		for txInIdx := len(msgTx.TxIn) - 1; txInIdx > -1; txInIdx-- {
			stxo := &stxos[stxoIdx]
			stxoIdx--

			txIn := msgTx.TxIn[txInIdx]
			entry := view.entries[txIn.PreviousOutPoint]
			if entry != nil && !entry.IsSpent() {
				// The output being restored already exists unspent.  That
				// means the observed state does not match the block, so note
				// it, and overwrite the entry with the journaled version.
				result = disconnectUnclean
			}
			if entry == nil {
				entry = new(UtxoEntry)
				view.entries[txIn.PreviousOutPoint] = entry
			}

			// Restore the exact pre-spend output from the journal.  Older
			// journal serializations elided the height and coinbase metadata
			// of all but the final spent output of a transaction, so when it
			// is absent, resolve it from any other output of the same
			// transaction that still exists in the view.
			height := stxo.height
			isCoinBaseSpend := stxo.isCoinBase
			if height == 0 {
				for otherOut, otherEntry := range view.entries {
					if otherOut.Hash == txIn.PreviousOutPoint.Hash &&
						otherOut != txIn.PreviousOutPoint &&
						otherEntry != nil && !otherEntry.IsSpent() {

						height = uint32(otherEntry.BlockHeight())
						isCoinBaseSpend = otherEntry.IsCoinBase()
						break
					}
				}
			}

			entry.amount = stxo.amount
			entry.pkScript = stxo.pkScript
			entry.blockHeight = height
			entry.isCoinBase = isCoinBaseSpend
			entry.state = utxoStateModified | (entry.state & utxoStateFresh)
			entry.state &^= utxoStateSpent
		}
	}

	// Update the best hash for view to the previous block since all of the
	// transactions for the current block have been disconnected.
	view.SetBestHash(&block.MsgBlock().Header.PrevBlock)
	return result, nil
}

// countSpentOutputs returns the number of utxos the passed block spends.
func countSpentOutputs(block *btcutil.Block) int {
	// Exclude the coinbase transaction since it can't spend anything.
	var numSpent int
	for _, tx := range block.Transactions()[1:] {
		numSpent += len(tx.MsgTx().TxIn)
	}
	return numSpent
}

// viewFilteredSet represents a set of utxos to fetch from the backing store
// that are not already in a view.
type viewFilteredSet map[wire.OutPoint]struct{}

// add conditionally adds the provided outpoint to the set when it does not
// already exist in the provided view.
func (set viewFilteredSet) add(view *UtxoViewpoint, outpoint wire.OutPoint) {
	if _, ok := view.entries[outpoint]; !ok {
		set[outpoint] = struct{}{}
	}
}

// fetchInputUtxos loads the unspent transaction outputs for the inputs
// referenced by the transactions in the given block from the provided cache
// into the view as needed.
//
// Outputs that are created and referenced within the same block are connected
// by the caller as the block's transactions are processed in order, so they
// are excluded from the fetch set.
func (view *UtxoViewpoint) fetchInputUtxos(cache *UtxoCache, block *btcutil.Block) error {
	// Build a map of in-flight transactions because some of the inputs in
	// this block could be referencing other transactions earlier in this
	// block which are not yet in the chain.
	txInFlight := map[chainhash.Hash]int{}
	transactions := block.Transactions()
	for i, tx := range transactions {
		txInFlight[*tx.Hash()] = i
	}

	// Loop through all of the transaction inputs (except for the coinbase
	// which has no inputs) collecting them into sets of what is needed and
	// what is already known (in-flight).
	filteredSet := make(viewFilteredSet)
	for i, tx := range transactions[1:] {
		for _, txIn := range tx.MsgTx().TxIn {
			// It is acceptable for a transaction input to reference the
			// output of another transaction in this block only if the
			// referenced transaction comes before the one that references
			// it.
			originHash := &txIn.PreviousOutPoint.Hash
			if inFlightIndex, ok := txInFlight[*originHash]; ok &&
				i >= inFlightIndex {

				continue
			}

			// Only request entries that are not already in the view from
			// the cache.
			filteredSet.add(view, txIn.PreviousOutPoint)
		}
	}

	// Request the input utxos from the cache.
	return cache.FetchEntries(filteredSet, view)
}

// fetchBlockUtxos loads the unspent transaction outputs active at the point
// of the provided block, both those referenced by its transaction inputs and
// those created by its transactions, from the provided cache into the view as
// needed.  It is used when preparing to disconnect the block.
func (view *UtxoViewpoint) fetchBlockUtxos(cache *UtxoCache, block *btcutil.Block) error {
	filteredSet := make(viewFilteredSet)
	for txIdx, tx := range block.Transactions() {
		outpoint := wire.OutPoint{Hash: *tx.Hash()}
		for txOutIdx := range tx.MsgTx().TxOut {
			outpoint.Index = uint32(txOutIdx)
			filteredSet.add(view, outpoint)
		}
		if txIdx == 0 {
			continue
		}
		for _, txIn := range tx.MsgTx().TxIn {
			filteredSet.add(view, txIn.PreviousOutPoint)
		}
	}
	return cache.FetchEntries(filteredSet, view)
}

// fetchUtxosMain fetches unspent transaction output data about the provided
// set of outpoints from the point of view of the main chain tip at the time
// of the call from the provided cache.
//
// Upon completion of this function, the view will contain an entry for each
// requested outpoint.  Spent outputs, or those which otherwise don't exist,
// will result in a nil entry in the view.
func (view *UtxoViewpoint) fetchUtxosMain(cache *UtxoCache, filteredSet viewFilteredSet) error {
	// Nothing to do if there are no requested outputs.
	if len(filteredSet) == 0 {
		return nil
	}

	return cache.FetchEntries(filteredSet, view)
}
