// Copyright (c) 2016-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

const (
	// SequenceLockTimeDisabled is a flag that if set on a transaction
	// input's sequence number, the sequence number will not be interpreted
	// as a relative lock-time.
	SequenceLockTimeDisabled = 1 << 31

	// SequenceLockTimeIsSeconds is a flag that if set on a transaction
	// input's sequence number, the relative lock-time has units of 512
	// seconds rather than blocks.
	SequenceLockTimeIsSeconds = 1 << 22

	// SequenceLockTimeMask is a mask that extracts the relative lock-time
	// when masked against the transaction input sequence number.
	SequenceLockTimeMask = 0x0000ffff

	// SequenceLockTimeGranularity is the defined time based granularity
	// for seconds-based relative time locks.  When converting from seconds
	// to a sequence number, the value is right shifted by this amount,
	// therefore the granularity of relative time locks in 512 or 2^9
	// seconds.  Enforced relative lock times are multiples of 512 seconds.
	SequenceLockTimeGranularity = 9
)

// SequenceLock represents the converted relative lock-time in seconds, and
// absolute block-height for a transaction input's relative lock-times.
// According to SequenceLock, after the referenced input has been confirmed
// within a block, a transaction spending that input can be included into a
// block either after 'seconds' (according to past median time), or once the
// 'BlockHeight' has been reached.
type SequenceLock struct {
	Seconds     int64
	BlockHeight int64
}

// calcSequenceLock computes the relative lock-times for the passed
// transaction from the point of view of the block node passed in as the first
// argument.
//
// See the exported version, CalcSequenceLock for further details.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) calcSequenceLock(node *blockNode, tx *btcutil.Tx, utxoView *UtxoViewpoint, mempool bool) (*SequenceLock, error) {
	// A value of -1 for each relative lock type represents a relative time
	// lock value that will allow a transaction to be included in a block
	// at any given height or time.  This value is returned as the relative
	// lock time in the case that BIP 68 is disabled, or has not yet been
	// activated.
	sequenceLock := &SequenceLock{Seconds: -1, BlockHeight: -1}

	// Sequence locks semantics are always active for transactions within
	// the mempool.
	csvSoftforkActive := mempool

	// If we're performing block validation, then we need to query the
	// versionbits state.
	if !csvSoftforkActive {
		// Obtain the latest deployment state for the block prior to the one
		// the transaction is contained in.
		var err error
		csvSoftforkActive, err = b.isCSVActive(node.parent)
		if err != nil {
			return nil, err
		}
	}

	// If the transaction's version is less than 2, and BIP 68 has not yet
	// been activated then sequence locks are disabled.  Additionally,
	// sequence locks don't apply to coinbase transactions.
	mTx := tx.MsgTx()
	sequenceLockActive := uint32(mTx.Version) >= 2 && csvSoftforkActive
	if !sequenceLockActive || IsCoinBase(tx) {
		return sequenceLock, nil
	}

	// Grab the next height from the PoV of the passed blockNode to use for
	// inputs present in the mempool.
	nextHeight := node.height + 1

	for txInIndex, txIn := range mTx.TxIn {
		utxo := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil || utxo.IsSpent() {
			str := fmt.Sprintf("output %v referenced from transaction %s:%d "+
				"either does not exist or has already been spent",
				txIn.PreviousOutPoint, tx.Hash(), txInIndex)
			return sequenceLock, ruleError(ErrMissingTxOut, str)
		}

		// If the input height is set to the mempool height, then we assume
		// the transaction makes it into the next block when evaluating its
		// sequence blocks.
		inputHeight := utxo.BlockHeight()
		if inputHeight == UnminedHeight {
			inputHeight = nextHeight
		}

		// Given a sequence number, we apply the relative time lock mask in
		// order to obtain the time lock delta required before this input
		// can be spent.
		sequenceNum := txIn.Sequence
		relativeLock := int64(sequenceNum & SequenceLockTimeMask)

		switch {
		// Relative time locks are disabled for this input, so we can skip
		// any further calculation.
		case sequenceNum&SequenceLockTimeDisabled == SequenceLockTimeDisabled:
			continue
		case sequenceNum&SequenceLockTimeIsSeconds == SequenceLockTimeIsSeconds:
			// This input requires a relative time lock expressed in seconds
			// before it can be spent.  Therefore, we need to query for the
			// block prior to the one in which this input was included within
			// so we can compute the past median time for the block prior to
			// the one which included this referenced output.
			prevInputHeight := inputHeight - 1
			if prevInputHeight < 0 {
				prevInputHeight = 0
			}
			blockNode := node.Ancestor(prevInputHeight)
			medianTime := blockNode.CalcPastMedianTime()

			// Time based relative time-locks as defined by BIP 68 have a
			// time granularity of RelativeLockSeconds, so we shift left by
			// this amount to convert to the proper relative time-lock.  We
			// also subtract one from the relative lock to maintain the
			// original lockTime semantics.
			timeLockSeconds := (relativeLock << SequenceLockTimeGranularity) - 1
			timeLock := medianTime.Unix() + timeLockSeconds
			if timeLock > sequenceLock.Seconds {
				sequenceLock.Seconds = timeLock
			}
		default:
			// The relative lock-time for this input is expressed in blocks
			// so we calculate the relative offset from the input's height as
			// its converted absolute lock-time.  We subtract one from the
			// relative lock in order to maintain the original lockTime
			// semantics.
			blockHeight := inputHeight + relativeLock - 1
			if blockHeight > sequenceLock.BlockHeight {
				sequenceLock.BlockHeight = blockHeight
			}
		}
	}

	return sequenceLock, nil
}

// CalcSequenceLock computes a relative lock-time SequenceLock for the passed
// transaction using the passed UtxoViewpoint to obtain the past median time
// for blocks in which the referenced inputs of the transactions were
// included within.  The generated SequenceLock lock can be used in
// conjunction with a block height, and adjusted median block time to
// determine if all the inputs referenced within a transaction have reached
// sufficient maturity allowing the candidate transaction to be included in a
// block.
//
// This function is safe for concurrent access.
func (b *BlockChain) CalcSequenceLock(tx *btcutil.Tx, utxoView *UtxoViewpoint, mempool bool) (*SequenceLock, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	return b.calcSequenceLock(b.bestChain.Tip(), tx, utxoView, mempool)
}

// LockTimeToSequence converts the passed relative locktime to a sequence
// number in accordance to BIP-68.
func LockTimeToSequence(isSeconds bool, locktime uint32) uint32 {
	// If we're expressing the relative lock time in blocks, then the
	// corresponding sequence number is simply the desired input age.
	if !isSeconds {
		return locktime
	}

	// Set the 22nd bit which indicates the lock time is in seconds, then
	// shift the locktime over by 9 since the time granularity is in
	// 512-second intervals (2^9).  This results in a max lock-time of
	// 33,553,920 seconds, or 1.1 years.
	return SequenceLockTimeIsSeconds |
		locktime>>SequenceLockTimeGranularity
}

// SequenceLockActive determines if a transaction's sequence locks have been
// met, meaning that all the inputs of a given transaction have reached a
// height or time sufficient for their relative lock-time maturity.
func SequenceLockActive(sequenceLock *SequenceLock, blockHeight int64,
	medianTimePast time.Time) bool {

	// If either the seconds, or height relative-lock time has not yet
	// reached, then the transaction is not yet mature according to its
	// sequence locks.
	if sequenceLock.Seconds >= medianTimePast.Unix() ||
		sequenceLock.BlockHeight >= blockHeight {

		return false
	}

	return true
}

// UnminedHeight is the height used for the inputs of transactions that are
// in the mempool and therefore not yet included in a block.
const UnminedHeight = 0x7fffffff

// LockTimeThreshold is the number below which a lock time is interpreted to
// be a block height and above which it is interpreted to be a unix
// timestamp.
const LockTimeThreshold = 5e8 // Tue Nov 5 00:53:20 1985 UTC

// IsFinalizedTransaction determines whether or not a transaction is finalized.
func IsFinalizedTransaction(tx *btcutil.Tx, blockHeight int64, blockTime time.Time) bool {
	msgTx := tx.MsgTx()

	// Lock time of zero means the transaction is finalized.
	lockTime := msgTx.LockTime
	if lockTime == 0 {
		return true
	}

	// The lock time field of a transaction is either a block height at
	// which the transaction is finalized or a timestamp depending on if the
	// value is before the txscript.LockTimeThreshold.  When it is under the
	// threshold it is a block height.
	var blockTimeOrHeight int64
	if lockTime < LockTimeThreshold {
		blockTimeOrHeight = blockHeight
	} else {
		blockTimeOrHeight = blockTime.Unix()
	}
	if int64(lockTime) < blockTimeOrHeight {
		return true
	}

	// At this point, the transaction's lock time hasn't occurred yet, but
	// the transaction might still be finalized if the sequence number
	// for all transaction inputs is maxed out.
	for _, txIn := range msgTx.TxIn {
		if txIn.Sequence != wire.MaxTxInSequenceNum {
			return false
		}
	}
	return true
}
