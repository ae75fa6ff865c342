// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sort"
)

// maxBlockSize returns the maximum allowed serialized block size for the
// block after the passed node.
//
// Prior to activation of the adaptive block size deployment, the limit is the
// legacy fixed limit.  Once active, the limit is a multiple of the median of
// the serialized sizes of the trailing window of blocks, clamped between the
// legacy limit and the absolute maximum the network will ever accept.  The
// result is a pure function of the trailing window, so it is memoized by the
// node that ends the window and only ever recomputed when a reorganization
// moves past it.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maxBlockSize(prevNode *blockNode) (int64, error) {
	// The legacy limit applies before activation.
	active, err := b.isBlockSizeActive(prevNode)
	if err != nil {
		return 0, err
	}
	if !active {
		return b.chainParams.MaxBlockBaseSize, nil
	}

	// Use the memoized result when the window has already been computed.
	if size, ok := b.blockSizeCache[prevNode.hash]; ok {
		return size, nil
	}

	// Collect the serialized sizes of the trailing window.  Nodes with no
	// recorded size contribute the legacy limit.  Pruned nodes keep their
	// recorded size.
	window := b.chainParams.BlockSizeMedianWindow
	sizes := make([]int64, 0, window)
	for i, n := int64(0), prevNode; i < window && n != nil; i, n = i+1, n.parent {
		size := int64(n.blockSize)
		if size == 0 {
			size = b.chainParams.MaxBlockBaseSize
		}
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	median := sizes[len(sizes)/2]

	maxSize := median * b.chainParams.MaxBlockSizeIncreaseMultiple
	if maxSize < b.chainParams.MaxBlockBaseSize {
		maxSize = b.chainParams.MaxBlockBaseSize
	}
	if maxSize > b.chainParams.MaxBlockSerializedSize {
		maxSize = b.chainParams.MaxBlockSerializedSize
	}

	b.blockSizeCache[prevNode.hash] = maxSize
	return maxSize, nil
}

// MaxBlockSize returns the maximum allowed serialized block size for the
// block after the end of the current best chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) MaxBlockSize() (int64, error) {
	b.chainLock.Lock()
	size, err := b.maxBlockSize(b.bestChain.Tip())
	b.chainLock.Unlock()
	return size, err
}
