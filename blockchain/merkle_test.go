// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// testTx returns a minimal distinct transaction for use as a merkle leaf.
func testTx(nonce int64) *btcutil.Tx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  []byte{0x01, byte(nonce), 0x01, byte(nonce >> 8)},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: nonce, PkScript: []byte{0x51}})
	return btcutil.NewTx(tx)
}

// TestMerkleRootSingleLeaf ensures the merkle root over a single transaction
// is the hash of that transaction.
func TestMerkleRootSingleLeaf(t *testing.T) {
	tx := testTx(1)
	root, mutated := CalcTxMerkleRoot([]*btcutil.Tx{tx})
	if mutated {
		t.Fatal("single leaf tree reported as mutated")
	}
	if root != *tx.Hash() {
		t.Fatalf("unexpected root: got %v, want %v", root, tx.Hash())
	}
}

// TestMerkleRootPair ensures the merkle root over two transactions is the
// hash of their concatenated hashes.
func TestMerkleRootPair(t *testing.T) {
	tx1, tx2 := testTx(1), testTx(2)
	wantRoot := hashMerkleBranches(tx1.Hash(), tx2.Hash())

	root, mutated := CalcTxMerkleRoot([]*btcutil.Tx{tx1, tx2})
	if mutated {
		t.Fatal("two leaf tree reported as mutated")
	}
	if root != wantRoot {
		t.Fatalf("unexpected root: got %v, want %v", root, wantRoot)
	}
}

// TestMerkleRootOddLeaves ensures the final leaf of an odd-length level is
// duplicated when pairing without flagging the tree as mutated.
func TestMerkleRootOddLeaves(t *testing.T) {
	txns := []*btcutil.Tx{testTx(1), testTx(2), testTx(3)}
	h12 := hashMerkleBranches(txns[0].Hash(), txns[1].Hash())
	h33 := hashMerkleBranches(txns[2].Hash(), txns[2].Hash())
	wantRoot := hashMerkleBranches(&h12, &h33)

	root, mutated := CalcTxMerkleRoot(txns)
	if mutated {
		t.Fatal("odd leaf tree reported as mutated")
	}
	if root != wantRoot {
		t.Fatalf("unexpected root: got %v, want %v", root, wantRoot)
	}
}

// TestMerkleRootMutation ensures the commitment malleability cases are
// detected: a repeated transaction pair commits to the same root as the list
// without the repetition and must be flagged.
func TestMerkleRootMutation(t *testing.T) {
	txns := []*btcutil.Tx{testTx(1), testTx(2), testTx(3)}

	// Duplicating the final transaction of an odd-length list yields the
	// identical root, which is precisely the malleation being detected.
	malleated := append(append([]*btcutil.Tx{}, txns...), txns[2])
	origRoot, origMutated := CalcTxMerkleRoot(txns)
	malRoot, malMutated := CalcTxMerkleRoot(malleated)
	if origMutated {
		t.Fatal("original list reported as mutated")
	}
	if malRoot != origRoot {
		t.Fatalf("malleated root differs: got %v, want %v", malRoot,
			origRoot)
	}
	if !malMutated {
		t.Fatal("malleated list not reported as mutated")
	}

	// A repeated transaction pair must also be flagged.
	repeated := []*btcutil.Tx{testTx(1), testTx(1)}
	_, mutated := CalcTxMerkleRoot(repeated)
	if !mutated {
		t.Fatal("repeated pair not reported as mutated")
	}
}

// TestMerkleRootEmpty ensures the merkle root of an empty transaction list is
// the zero hash.
func TestMerkleRootEmpty(t *testing.T) {
	root, mutated := CalcTxMerkleRoot(nil)
	if mutated {
		t.Fatal("empty tree reported as mutated")
	}
	if root != (chainhash.Hash{}) {
		t.Fatalf("unexpected root for empty tree: %v", root)
	}
}
