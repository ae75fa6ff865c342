// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/smartcash/smartd/database"
)

// minPruneKeepWindow is the minimum number of most recent blocks whose data
// must always be kept on disk when pruning is enabled.  It bounds the depth
// of the reorganizations the node can handle without redownloading blocks.
const minPruneKeepWindow = 288

// maybePruneBlockFiles removes whole blk/rev file pairs whose blocks have all
// fallen below the configured prune depth relative to the passed tip, along
// with their file info records, and unsets the data availability flags of the
// affected block index entries.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maybePruneBlockFiles(tip *blockNode) error {
	if b.pruneDepth == 0 {
		return nil
	}

	// Nothing can be pruned until the chain is deeper than the keep window.
	pruneBelowHeight := tip.height - b.pruneDepth
	if pruneBelowHeight <= 0 {
		return nil
	}

	// Determine the first file that must be kept.  Files are append-only
	// and blocks mostly arrive in height order, so scanning forward from
	// file zero until a file containing a block inside the keep window is
	// found covers the retention requirement.
	currentFileNum := b.store.BlockFileNum()
	var keepFileNum uint32
	err := b.db.View(func(dbTx database.Tx) error {
		for fileNum := uint32(0); fileNum < currentFileNum; fileNum++ {
			info, err := dbFetchBlockFileInfo(dbTx, fileNum)
			if err != nil {
				return err
			}
			if info.nBlocks == 0 || info.nHeightLast >= pruneBelowHeight {
				break
			}
			keepFileNum = fileNum + 1
		}
		return nil
	})
	if err != nil {
		return err
	}
	if keepFileNum == 0 {
		return nil
	}

	removed, err := b.store.PruneFiles(keepFileNum)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}

	// Unset the data availability flags of all block index entries whose
	// data lived in the removed files.
	b.index.Lock()
	for _, node := range b.index.index {
		if node.status.HaveData() && node.fileNum < keepFileNum {
			b.index.unsetStatusFlags(node,
				statusDataStored|statusUndoStored)
		}
	}
	b.index.Unlock()

	// Remove the file info records of the pruned files and record that the
	// node can no longer serve deep historical blocks.
	err = b.db.Update(func(dbTx database.Tx) error {
		for _, fileNum := range removed {
			if err := dbTx.Delete(blockFileInfoKey(fileNum)); err != nil {
				return err
			}
		}
		return dbPutFlag(dbTx, FlagPrunedBlockFiles, true)
	})
	if err != nil {
		return err
	}

	return b.flushBlockIndex()
}
