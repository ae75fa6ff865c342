// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// maybeAcceptBlockHeader potentially accepts the passed block header into the
// block index.  Duplicate headers are idempotent and return the existing
// entry.
//
// The header must pass the context-free sanity checks, its parent must
// already be known and not invalid, and it must pass the contextual checks
// against its parent.  Accepted headers are added to the block index at the
// initial validity level and written to the database.
//
// The flags are passed through to the underlying checks.  In particular,
// BFNoPoWCheck avoids re-running the proof of work check when the caller has
// already performed it as part of the block sanity checks.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maybeAcceptBlockHeader(header *wire.BlockHeader, flags BehaviorFlags) (*blockNode, error) {
	// Avoid validating the header again if its validation status is already
	// known.  Invalid headers are never added to the block index, so if
	// there is an entry for this header, it has already passed.
	hash := header.BlockHash()
	if node := b.index.LookupNode(&hash); node != nil {
		if b.index.NodeStatus(node).KnownInvalid() {
			str := fmt.Sprintf("block header %v is known to be invalid or "+
				"to descend from an invalid block", hash)
			return nil, ruleError(ErrKnownInvalidBlock, str)
		}
		return node, nil
	}

	// Perform context-free sanity checks on the header.
	err := checkBlockHeaderSanity(header, b.timeSource, b.chainParams, flags)
	if err != nil {
		return nil, err
	}

	// Orphan headers are not allowed and this function should never be
	// called with the genesis block.
	prevNode := b.index.LookupNode(&header.PrevBlock)
	if prevNode == nil {
		str := fmt.Sprintf("previous block %v is not known", header.PrevBlock)
		return nil, ruleError(ErrMissingParent, str)
	}

	// There is no need to validate the header if its parent is already
	// known to be invalid.
	if b.index.NodeStatus(prevNode).KnownInvalid() {
		str := fmt.Sprintf("previous block %v is known to be invalid",
			header.PrevBlock)
		return nil, ruleError(ErrInvalidAncestorBlock, str)
	}

	// The header must pass all of the validation rules which depend on its
	// position within the block chain.
	err = b.checkBlockHeaderContext(header, prevNode, flags)
	if err != nil {
		return nil, err
	}

	// Create a new block node for the block and add it to the block index.
	//
	// Note that the additional information for the full block data is not
	// populated until the full block data is processed and accepted.
	newNode := newBlockNode(header, prevNode)
	newNode.status = blockStatus(validityTree)
	b.index.AddNode(newNode)

	// Ensure the new block index entry is written to the database.
	if err := b.flushBlockIndex(); err != nil {
		return nil, err
	}

	return newNode, nil
}

// maybeAcceptBlockData stores the full data for the passed block to the
// flat-file store and updates the block index state to account for it being
// available.  The block, and any blocks that were waiting on it, become
// eligible for validation and potential best chain candidates.
//
// Persistence happens even though it is possible the block will ultimately
// fail to connect, since it has already passed all proof-of-work and sanity
// checks, which means it would be prohibitively expensive for an attacker to
// fill up disk with blocks that fail to connect.  This is necessary since it
// allows block download to be decoupled from the much more expensive
// connection logic.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maybeAcceptBlockData(node *blockNode, block *btcutil.Block) error {
	// Store the block data to the flat-file store and record its position.
	loc, err := b.dbStoreBlock(block)
	if err != nil {
		return err
	}

	b.index.Lock()
	node.fileNum = loc.FileNum
	node.dataPos = loc.Offset
	node.blockSize = uint32(block.MsgBlock().SerializeSize())
	node.nTx = uint32(len(block.MsgBlock().Transactions))
	b.index.setStatusFlags(node, statusDataStored)
	b.index.raiseValidity(node, validityTransactions)
	b.index.Unlock()

	// The block, and any blocks that have also had their data arrive but
	// were waiting on this one, are now eligible for validation.  Blocks
	// that became fully linked accumulate their cumulative transaction
	// counts from their parent.
	linkedNodes := b.index.AcceptBlockData(node, b.bestChain.Tip())
	b.index.Lock()
	for _, linkedNode := range linkedNodes {
		if linkedNode.parent != nil {
			linkedNode.nChainTx = linkedNode.parent.nChainTx +
				uint64(linkedNode.nTx)
		} else {
			linkedNode.nChainTx = uint64(linkedNode.nTx)
		}
		b.index.modified[linkedNode] = struct{}{}
	}
	b.index.Unlock()

	// Ensure the updated block index entries are written to the database.
	return b.flushBlockIndex()
}
