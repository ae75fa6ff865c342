// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// hashMerkleBranches takes two hashes, treated as the left and right tree
// nodes, and returns the hash of their concatenation.  This is a helper
// function used to aid in the generation of a merkle tree.
func hashMerkleBranches(left, right *chainhash.Hash) chainhash.Hash {
	// Concatenate the left and right nodes.
	var hash [chainhash.HashSize * 2]byte
	copy(hash[:chainhash.HashSize], left[:])
	copy(hash[chainhash.HashSize:], right[:])

	return chainhash.DoubleHashH(hash[:])
}

// calcMerkleRoot computes the merkle root over the provided leaf hashes and
// additionally reports whether the tree commitment is malleable.
//
// A merkle tree over an odd number of leaves duplicates the final leaf when
// pairing, which means a block whose final transaction is repeated commits to
// the same root as the block without the repetition.  The same applies at
// every internal level.  Such mutations are detected by flagging any pairing
// of two identical hashes, mirroring the reference implementation, so callers
// can reject blocks whose transaction lists differ from the committed one
// despite sharing its root.
func calcMerkleRoot(leaves []chainhash.Hash) (chainhash.Hash, bool) {
	if len(leaves) == 0 {
		return chainhash.Hash{}, false
	}

	// Work on a copy so the caller's slice is not clobbered by the in-place
	// level reduction below.
	level := make([]chainhash.Hash, len(leaves))
	copy(level, leaves)

	var mutated bool
	for len(level) > 1 {
		// Two identical hashes being paired is the signature of a malleated
		// transaction list.  The check runs before the final hash of an
		// odd-length level is duplicated since that pairing is deliberate.
		for i := 0; i+1 < len(level); i += 2 {
			if level[i] == level[i+1] {
				mutated = true
			}
		}

		// Duplicate the final hash of odd-length levels.
		if len(level)&1 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashMerkleBranches(&level[i], &level[i+1]))
		}
		level = next
	}

	return level[0], mutated
}

// CalcTxMerkleRoot returns the merkle root of the provided transactions along
// with whether or not the commitment is malleable.
func CalcTxMerkleRoot(txns []*btcutil.Tx) (chainhash.Hash, bool) {
	leaves := make([]chainhash.Hash, 0, len(txns))
	for _, tx := range txns {
		leaves = append(leaves, *tx.Hash())
	}
	return calcMerkleRoot(leaves)
}
