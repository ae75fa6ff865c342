// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TestCheckTransactionSanity ensures the context-free transaction checks
// reject the documented malformed cases.
func TestCheckTransactionSanity(t *testing.T) {
	params := testParams()

	// baseTx returns a fresh well-formed non-coinbase transaction.
	baseTx := func() *wire.MsgTx {
		tx := wire.NewMsgTx(1)
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: makeTestOutPoint(0x01, 0),
			Sequence:         wire.MaxTxInSequenceNum,
		})
		tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: opTrueScript})
		return tx
	}

	tests := []struct {
		name   string
		mungeF func(*wire.MsgTx)
		err    ErrorKind
	}{
		{
			name:   "ok",
			mungeF: func(tx *wire.MsgTx) {},
		},
		{
			name:   "no inputs",
			mungeF: func(tx *wire.MsgTx) { tx.TxIn = nil },
			err:    ErrNoTxInputs,
		},
		{
			name:   "no outputs",
			mungeF: func(tx *wire.MsgTx) { tx.TxOut = nil },
			err:    ErrNoTxOutputs,
		},
		{
			name: "negative output value",
			mungeF: func(tx *wire.MsgTx) {
				tx.TxOut[0].Value = -1
			},
			err: ErrBadTxOutValue,
		},
		{
			name: "output value above the monetary limit",
			mungeF: func(tx *wire.MsgTx) {
				tx.TxOut[0].Value = 5e9*1e8 + 1
			},
			err: ErrBadTxOutValue,
		},
		{
			name: "output sum above the monetary limit",
			mungeF: func(tx *wire.MsgTx) {
				tx.TxOut[0].Value = 5e9 * 1e8
				tx.AddTxOut(&wire.TxOut{Value: 1, PkScript: opTrueScript})
			},
			err: ErrBadTxOutValue,
		},
		{
			name: "duplicate inputs",
			mungeF: func(tx *wire.MsgTx) {
				tx.AddTxIn(&wire.TxIn{
					PreviousOutPoint: tx.TxIn[0].PreviousOutPoint,
					Sequence:         wire.MaxTxInSequenceNum,
				})
			},
			err: ErrDuplicateTxInputs,
		},
		{
			name: "null prevout in non-coinbase",
			mungeF: func(tx *wire.MsgTx) {
				tx.AddTxIn(&wire.TxIn{
					PreviousOutPoint: wire.OutPoint{
						Hash:  chainhash.Hash{},
						Index: wire.MaxPrevOutIndex,
					},
					Sequence: wire.MaxTxInSequenceNum,
				})
			},
			err: ErrBadTxInput,
		},
	}

	for _, test := range tests {
		tx := baseTx()
		test.mungeF(tx)
		err := CheckTransactionSanity(btcutil.NewTx(tx), params)
		if test.err == "" {
			if err != nil {
				t.Errorf("%s: unexpected error: %v", test.name, err)
			}
			continue
		}
		if !errors.Is(err, test.err) {
			t.Errorf("%s: got error %v, want %v", test.name, err, test.err)
		}
	}
}

// TestCheckCoinbaseScriptLen ensures the coinbase signature script length
// bounds are enforced.
func TestCheckCoinbaseScriptLen(t *testing.T) {
	params := testParams()

	coinbase := func(scriptLen int) *btcutil.Tx {
		tx := wire.NewMsgTx(1)
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{},
				Index: wire.MaxPrevOutIndex,
			},
			SignatureScript: bytes.Repeat([]byte{0x00}, scriptLen),
			Sequence:        wire.MaxTxInSequenceNum,
		})
		tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: opTrueScript})
		return btcutil.NewTx(tx)
	}

	tests := []struct {
		scriptLen int
		valid     bool
	}{
		{1, false},
		{2, true},
		{50, true},
		{100, true},
		{101, false},
	}
	for _, test := range tests {
		err := CheckTransactionSanity(coinbase(test.scriptLen), params)
		if test.valid && err != nil {
			t.Errorf("script length %d: unexpected error: %v",
				test.scriptLen, err)
		}
		if !test.valid && !errors.Is(err, ErrBadCoinbaseScriptLen) {
			t.Errorf("script length %d: got error %v, want %v",
				test.scriptLen, err, ErrBadCoinbaseScriptLen)
		}
	}
}

// TestCheckBlockSanity ensures the context-free block checks reject the
// documented malformed cases.
func TestCheckBlockSanity(t *testing.T) {
	params := testParams()
	timeSource := NewMedianTime()
	g := newTestGenerator(t, params)
	block := g.nextBlock()

	// The unmodified block is sane.
	err := CheckBlockSanity(block, timeSource, params)
	if err != nil {
		t.Fatalf("unexpected error on sane block: %v", err)
	}

	// A block without transactions is rejected.
	msgBlock := *block.MsgBlock()
	msgBlock.Transactions = nil
	err = CheckBlockSanity(btcutil.NewBlock(&msgBlock), timeSource, params)
	if !errors.Is(err, ErrNoTransactions) {
		t.Fatalf("empty block: got error %v, want %v", err,
			ErrNoTransactions)
	}

	// A block whose first transaction is not a coinbase is rejected.
	g2 := newTestGenerator(t, params)
	b1 := g2.nextBlock()
	spendTx := createSpendTx(makeSpendableOut(b1, 0, 0), 0, opTrueScript)
	msgBlock = *b1.MsgBlock()
	msgBlock.Transactions = []*wire.MsgTx{spendTx}
	err = CheckBlockSanity(btcutil.NewBlock(&msgBlock), timeSource, params)
	if !errors.Is(err, ErrFirstTxNotCoinbase) &&
		!errors.Is(err, ErrBadMerkleRoot) {

		t.Fatalf("coinbase-less block: got error %v", err)
	}

	// Tampering with a transaction breaks the committed merkle root.
	tampered := copyMsgBlock(block.MsgBlock())
	tampered.Transactions[0].TxOut[0].Value--
	err = CheckBlockSanity(btcutil.NewBlock(tampered), timeSource, params)
	if !errors.Is(err, ErrBadMerkleRoot) {
		t.Fatalf("tampered block: got error %v, want %v", err,
			ErrBadMerkleRoot)
	}

	// Duplicating the final transaction of a block with an odd number of
	// transactions keeps the committed merkle root, since the final leaf of
	// an odd level is paired with itself, but it must be detected as a
	// malleated commitment.
	g3 := newTestGenerator(t, params)
	t1 := createSpendTx(spendableOut{
		prevOut: makeTestOutPoint(0x0a, 0),
		amount:  5000,
	}, 0, opTrueScript)
	t2 := createSpendTx(spendableOut{
		prevOut: makeTestOutPoint(0x0b, 0),
		amount:  5000,
	}, 0, opTrueScript)
	oddBlock := g3.nextBlock(t1, t2)
	malleated := copyMsgBlock(oddBlock.MsgBlock())
	lastTx := malleated.Transactions[len(malleated.Transactions)-1]
	malleated.Transactions = append(malleated.Transactions, lastTx)
	err = CheckBlockSanity(btcutil.NewBlock(malleated), timeSource, params)
	if !errors.Is(err, ErrBadMerkleRoot) && !errors.Is(err, ErrDuplicateTx) {
		t.Fatalf("malleated block: got error %v", err)
	}
}

// copyMsgBlock returns a deep enough copy of the provided block for tests to
// tamper with without affecting the original.
func copyMsgBlock(msgBlock *wire.MsgBlock) *wire.MsgBlock {
	blockCopy := *msgBlock
	blockCopy.Transactions = make([]*wire.MsgTx, len(msgBlock.Transactions))
	for i, tx := range msgBlock.Transactions {
		txCopy := tx.Copy()
		blockCopy.Transactions[i] = txCopy
	}
	return &blockCopy
}

// TestCheckTransactionInputs ensures input validation enforces existence,
// maturity, and value constraints while computing fees.
func TestCheckTransactionInputs(t *testing.T) {
	params := testParams()
	params.CoinbaseMaturity = 100

	// Construct a view with a mature coinbase output, an immature coinbase
	// output, and a regular output.
	view := NewUtxoViewpoint()
	matureOut := makeTestOutPoint(0x01, 0)
	immatureOut := makeTestOutPoint(0x02, 0)
	regularOut := makeTestOutPoint(0x03, 0)
	view.entries[matureOut] = &UtxoEntry{
		amount: 10000, pkScript: opTrueScript, blockHeight: 1,
		isCoinBase: true,
	}
	view.entries[immatureOut] = &UtxoEntry{
		amount: 10000, pkScript: opTrueScript, blockHeight: 150,
		isCoinBase: true,
	}
	view.entries[regularOut] = &UtxoEntry{
		amount: 5000, pkScript: opTrueScript, blockHeight: 150,
	}

	const txHeight = 200

	spendOf := func(out wire.OutPoint, value int64) *btcutil.Tx {
		tx := wire.NewMsgTx(1)
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: out,
			Sequence:         wire.MaxTxInSequenceNum,
		})
		tx.AddTxOut(&wire.TxOut{Value: value, PkScript: opTrueScript})
		return btcutil.NewTx(tx)
	}

	// A mature coinbase spend computes the correct fee.
	fee, err := CheckTransactionInputs(spendOf(matureOut, 9000), txHeight,
		view, params)
	if err != nil {
		t.Fatalf("unexpected error on mature spend: %v", err)
	}
	if fee != 1000 {
		t.Fatalf("unexpected fee: got %d, want 1000", fee)
	}

	// An immature coinbase spend is rejected.
	_, err = CheckTransactionInputs(spendOf(immatureOut, 9000), txHeight,
		view, params)
	if !errors.Is(err, ErrImmatureSpend) {
		t.Fatalf("immature spend: got error %v, want %v", err,
			ErrImmatureSpend)
	}

	// A regular spend that exceeds its input value is rejected.
	_, err = CheckTransactionInputs(spendOf(regularOut, 6000), txHeight,
		view, params)
	if !errors.Is(err, ErrSpendTooHigh) {
		t.Fatalf("overspend: got error %v, want %v", err, ErrSpendTooHigh)
	}

	// A missing input is reported distinctly from a spent one.
	missingOut := makeTestOutPoint(0x04, 0)
	_, err = CheckTransactionInputs(spendOf(missingOut, 100), txHeight,
		view, params)
	if !errors.Is(err, ErrMissingTxOut) {
		t.Fatalf("missing input: got error %v, want %v", err,
			ErrMissingTxOut)
	}
	view.entries[regularOut].Spend()
	_, err = CheckTransactionInputs(spendOf(regularOut, 100), txHeight,
		view, params)
	if !errors.Is(err, ErrSpentTxOut) {
		t.Fatalf("spent input: got error %v, want %v", err, ErrSpentTxOut)
	}
}

// TestIsZerocoinTx ensures the legacy zerocoin form detection triggers on
// both the spend and mint shapes.
func TestIsZerocoinTx(t *testing.T) {
	regular := wire.NewMsgTx(1)
	regular.AddTxIn(&wire.TxIn{
		PreviousOutPoint: makeTestOutPoint(0x01, 0),
		SignatureScript:  []byte{0x51},
	})
	regular.AddTxOut(&wire.TxOut{Value: 1, PkScript: opTrueScript})
	if IsZerocoinTx(regular) {
		t.Fatal("regular transaction detected as zerocoin")
	}

	spend := wire.NewMsgTx(1)
	spend.AddTxIn(&wire.TxIn{
		PreviousOutPoint: makeTestOutPoint(0x01, 0),
		SignatureScript:  []byte{zerocoinSpendOpcode, 0x01},
	})
	spend.AddTxOut(&wire.TxOut{Value: 1, PkScript: opTrueScript})
	if !IsZerocoinTx(spend) {
		t.Fatal("zerocoin spend not detected")
	}

	mint := wire.NewMsgTx(1)
	mint.AddTxIn(&wire.TxIn{PreviousOutPoint: makeTestOutPoint(0x01, 0)})
	mint.AddTxOut(&wire.TxOut{
		Value:    1,
		PkScript: []byte{zerocoinMintOpcode, 0x01},
	})
	if !IsZerocoinTx(mint) {
		t.Fatal("zerocoin mint not detected")
	}
}
