// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// BehaviorFlags is a bitmask defining tweaks to the normal behavior when
// performing chain processing and consensus rules checks.
type BehaviorFlags uint32

const (
	// BFFastAdd may be set to indicate that several checks can be avoided
	// for the block since it is already known to fit into the chain due to
	// already proving it correctly links into the chain.
	BFFastAdd BehaviorFlags = 1 << iota

	// BFNoPoWCheck may be set to indicate the proof of work check which
	// ensures a block hashes to a value less than the required target will
	// not be performed.
	BFNoPoWCheck

	// BFNone is a convenience value to specifically indicate no flags.
	BFNone BehaviorFlags = 0
)

// ProcessBlockHeader is the main workhorse for handling insertion of new
// block headers into the header tree.  Headers which have already been
// inserted are idempotent and return the same result as their original
// insertion.
//
// Headers are subjected to the context-free sanity checks, which include the
// proof of work check, followed by the contextual checks against their
// parent, which include the difficulty retarget schedule, the median time
// constraint, and the block version gate.  Headers which pass are inserted
// into the block index at the initial validity level.
//
// This function is safe for concurrent access.
func (b *BlockChain) ProcessBlockHeader(header *wire.BlockHeader) error {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	_, err := b.maybeAcceptBlockHeader(header, BFNone)
	return err
}

// ProcessBlock is the main workhorse for handling insertion of new blocks
// into the block chain.  It includes functionality such as rejecting
// blocks that do not connect to a known header tree, ensuring blocks follow
// all rules, persisting the block data, and best chain selection with
// reorganization.
//
// When no errors occurred during processing, the first return value indicates
// whether or not the block data was already known, in which case the call is
// an idempotent no-op.
//
// This function is safe for concurrent access.
func (b *BlockChain) ProcessBlock(block *btcutil.Block) (bool, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	blockHash := block.Hash()
	log.Tracef("Processing block %v", blockHash)
	currentTime := time.Now()
	defer func() {
		elapsedTime := time.Since(currentTime)
		log.Debugf("Block %v (height %v) finished processing in %s",
			blockHash, block.Height(), elapsedTime)
	}()

	// The block data is an idempotent no-op when it is already available.
	node := b.index.LookupNode(blockHash)
	if node != nil && b.index.NodeStatus(node).HaveData() {
		log.Tracef("Already have block %v", blockHash)
		return true, nil
	}

	// Reject blocks that are already known to be invalid along with blocks
	// that descend from one.
	if node != nil && b.index.NodeStatus(node).KnownInvalid() {
		str := fmt.Sprintf("block %v is known to be invalid", blockHash)
		return false, ruleError(ErrKnownInvalidBlock, str)
	}

	// Perform preliminary sanity checks on the block and its transactions.
	err := checkBlockSanity(block, b.timeSource, b.chainParams, BFNone)
	if err != nil {
		return false, err
	}

	// Accept the header into the block index when it has not been seen
	// before.  This runs both the context-free and contextual header
	// checks.  The proof of work check was already made by the block
	// sanity checks which just passed, so it is skipped.
	if node == nil {
		node, err = b.maybeAcceptBlockHeader(&block.MsgBlock().Header,
			BFNoPoWCheck)
		if err != nil {
			return false, err
		}
	}
	block.SetHeight(int32(node.height))

	// The block must pass all of the validation rules which depend on
	// having the headers of all ancestors available, but do not rely on
	// having their full block data available.
	err = b.checkBlockContext(block, node.parent, BFNone)
	if err != nil {
		var rerr RuleError
		if errors.As(err, &rerr) {
			b.index.MarkBlockFailedValidation(node)
			b.flushBlockIndexWarnOnly()
		}
		return false, err
	}

	// Persist the block data and update the index state to account for it
	// being available, which potentially makes this block, and any that
	// were waiting on it, eligible for validation.
	err = b.maybeAcceptBlockData(node, block)
	if err != nil {
		return false, err
	}

	// Notify the caller when the block intends to extend the main chain,
	// the chain believes it is current, and the block has passed all of the
	// sanity and contextual checks, such as having valid proof of work.
	//
	// This allows the block to be relayed before doing the more expensive
	// connection checks, because even though the block might still fail to
	// connect, that is quite rare in practice since a lot of work was
	// expended to create a block that satisfies the proof of work
	// requirement.
	//
	// Notice that the chain lock is not released before sending the
	// notification.  This is intentional and must not be changed without
	// understanding why!
	if b.isCurrent() && b.bestChain.Tip() == node.parent {
		b.sendNotification(NTNewTipBlockChecked, block)
	}

	// Activate the best known chain, which connects the block when it
	// extends the main chain or has enough cumulative work to cause a
	// reorganization.  When the block itself turns out to violate the
	// consensus rules during connection, the rule error that rejected it is
	// returned after the chain has settled on the best remaining candidate.
	err = b.maybeActivateBestChain(node)
	if err != nil {
		return false, err
	}

	log.Debugf("Accepted block %v", blockHash)

	// Notify the caller that the new block was accepted into the block
	// chain.  The caller would typically want to react by relaying the
	// inventory to other peers.
	b.chainLock.Unlock()
	b.sendNotification(NTBlockAccepted, block)
	b.chainLock.Lock()

	return false, nil
}

// isCurrent is the unexported version of IsCurrent.
//
// This function MUST be called with the chain state lock held (for reads).
func (b *BlockChain) isCurrent() bool {
	tip := b.bestChain.Tip()
	if tip.height < b.latestCheckpointHeight {
		return false
	}
	minus24Hours := b.timeSource.AdjustedTime().Add(-24 * time.Hour).Unix()
	return tip.timestamp >= minus24Hours
}
