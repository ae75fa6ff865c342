// Copyright (c) 2016-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// TestCalcSequenceLockHeightMode exercises a height-based relative lock the
// way transaction admission does: a transaction spending a coin confirmed at
// height h with a relative lock of 5 blocks must be rejected while the tip is
// at h+4 and accepted once the tip reaches h+5.
func TestCalcSequenceLockHeightMode(t *testing.T) {
	// Synthetic chain with the spent coin confirmed at height 10.
	nodes := fakeNodeChain(30, 0x207fffff, 1)
	chain := &BlockChain{chainParams: testParams()}
	const coinHeight = 10

	coinOut := makeTestOutPoint(0x01, 0)
	view := NewUtxoViewpoint()
	view.entries[coinOut] = &UtxoEntry{
		amount:      10000,
		pkScript:    opTrueScript,
		blockHeight: coinHeight,
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: coinOut,
		Sequence:         LockTimeToSequence(false, 5),
	})
	tx.AddTxOut(&wire.TxOut{Value: 9000, PkScript: opTrueScript})

	// The lock is computed relative to the input height.
	lock, err := chain.calcSequenceLock(nodes[coinHeight+4], btcutil.NewTx(tx),
		view, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock.BlockHeight != coinHeight+5-1 {
		t.Fatalf("unexpected lock height: got %d, want %d", lock.BlockHeight,
			coinHeight+5-1)
	}
	if lock.Seconds != -1 {
		t.Fatalf("unexpected time lock: got %d, want -1", lock.Seconds)
	}

	// Admission evaluates the lock against the current tip height: at tip
	// h+4 the transaction is not yet final, at tip h+5 it is.
	mtp := nodes[coinHeight+4].CalcPastMedianTime()
	if SequenceLockActive(lock, coinHeight+4, mtp) {
		t.Fatal("lock unexpectedly active at tip h+4")
	}
	if !SequenceLockActive(lock, coinHeight+5, mtp) {
		t.Fatal("lock unexpectedly inactive at tip h+5")
	}
}

// TestCalcSequenceLockTimeMode ensures the 512-second granularity of
// time-based relative locks and that they evaluate against the median time
// of the block prior to the input's confirmation.
func TestCalcSequenceLockTimeMode(t *testing.T) {
	nodes := fakeNodeChain(30, 0x207fffff, 1)
	chain := &BlockChain{chainParams: testParams()}
	const coinHeight = 15

	coinOut := makeTestOutPoint(0x02, 0)
	view := NewUtxoViewpoint()
	view.entries[coinOut] = &UtxoEntry{
		amount:      10000,
		pkScript:    opTrueScript,
		blockHeight: coinHeight,
	}

	const lockSeconds = 2048 // 4 units of 512 seconds
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: coinOut,
		Sequence:         LockTimeToSequence(true, lockSeconds),
	})
	tx.AddTxOut(&wire.TxOut{Value: 9000, PkScript: opTrueScript})

	tipNode := nodes[len(nodes)-1]
	lock, err := chain.calcSequenceLock(tipNode, btcutil.NewTx(tx), view, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	baseMedianTime := nodes[coinHeight-1].CalcPastMedianTime().Unix()
	wantSeconds := baseMedianTime + lockSeconds - 1
	if lock.Seconds != wantSeconds {
		t.Fatalf("unexpected time lock: got %d, want %d", lock.Seconds,
			wantSeconds)
	}
	if lock.BlockHeight != -1 {
		t.Fatalf("unexpected height lock: got %d, want -1", lock.BlockHeight)
	}

	// The lock activates only once the evaluating median time passes it.
	before := time.Unix(wantSeconds, 0)
	after := time.Unix(wantSeconds+1, 0)
	if SequenceLockActive(lock, tipNode.height, before) {
		t.Fatal("lock unexpectedly active before its time")
	}
	if !SequenceLockActive(lock, tipNode.height, after) {
		t.Fatal("lock unexpectedly inactive after its time")
	}
}

// TestSequenceLockDisabled ensures the disable flag and legacy transaction
// versions bypass relative lock enforcement.
func TestSequenceLockDisabled(t *testing.T) {
	nodes := fakeNodeChain(30, 0x207fffff, 1)
	chain := &BlockChain{chainParams: testParams()}

	coinOut := makeTestOutPoint(0x03, 0)
	view := NewUtxoViewpoint()
	view.entries[coinOut] = &UtxoEntry{
		amount:      10000,
		pkScript:    opTrueScript,
		blockHeight: 10,
	}

	// The disable bit makes the input's relative lock a no-op.
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: coinOut,
		Sequence:         SequenceLockTimeDisabled | LockTimeToSequence(false, 5),
	})
	tx.AddTxOut(&wire.TxOut{Value: 9000, PkScript: opTrueScript})

	lock, err := chain.calcSequenceLock(nodes[11], btcutil.NewTx(tx), view,
		true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock.BlockHeight != -1 || lock.Seconds != -1 {
		t.Fatalf("disabled lock is constrained: %+v", lock)
	}

	// Version 1 transactions are exempt entirely.
	txV1 := wire.NewMsgTx(1)
	txV1.AddTxIn(&wire.TxIn{
		PreviousOutPoint: coinOut,
		Sequence:         LockTimeToSequence(false, 5),
	})
	txV1.AddTxOut(&wire.TxOut{Value: 9000, PkScript: opTrueScript})

	lock, err = chain.calcSequenceLock(nodes[11], btcutil.NewTx(txV1), view,
		true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock.BlockHeight != -1 || lock.Seconds != -1 {
		t.Fatalf("legacy version lock is constrained: %+v", lock)
	}
}
