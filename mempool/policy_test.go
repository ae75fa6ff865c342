// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// p2pkhScript returns a standard pay-to-pubkey-hash script for a fake hash.
func p2pkhScript(tag byte) []byte {
	var hash [20]byte
	hash[0] = tag
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(hash[:]).AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).Script()
	if err != nil {
		panic(err)
	}
	return script
}

// TestCalcMinRequiredTxRelayFee ensures the minimum required relay fee scales
// with the serialized size and never rounds a non-zero rate down to zero.
func TestCalcMinRequiredTxRelayFee(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		relayFee btcutil.Amount
		want     int64
	}{
		{"zero value with default minimum relay fee", 0, 1000, 1000},
		{"1000 bytes with default minimum relay fee", 1000, 1000, 1000},
		{"max standard tx size with default minimum relay fee",
			100000, 1000, 100000},
		{"1500 bytes with 5000 relay fee", 1500, 5000, 7500},
		{"782 bytes with 11 relay fee", 782, 11, 8},
	}

	for _, test := range tests {
		got := calcMinRequiredTxRelayFee(test.size, test.relayFee)
		if got != test.want {
			t.Errorf("%s: got %d, want %d", test.name, got, test.want)
		}
	}
}

// TestIsDust ensures the dust determination matches the expected boundary
// for a standard output.
func TestIsDust(t *testing.T) {
	pkScript := p2pkhScript(0x01)

	tests := []struct {
		name     string
		txOut    wire.TxOut
		relayFee btcutil.Amount
		isDust   bool
	}{
		{
			"null script is dust",
			wire.TxOut{Value: 100000000, PkScript: []byte{txscript.OP_RETURN}},
			1000, true,
		},
		{
			"zero value is dust",
			wire.TxOut{Value: 0, PkScript: pkScript},
			1000, true,
		},
		{
			"38 satoshi is dust at the 1000 rate",
			wire.TxOut{Value: 38, PkScript: pkScript},
			1000, true,
		},
		{
			"large value is not dust",
			wire.TxOut{Value: 100000, PkScript: pkScript},
			1000, false,
		},
		{
			"anything is dust at an enormous rate",
			wire.TxOut{Value: 100000, PkScript: pkScript},
			1e9, true,
		},
	}
	for _, test := range tests {
		if got := isDust(&test.txOut, test.relayFee); got != test.isDust {
			t.Errorf("%s: got %v, want %v", test.name, got, test.isDust)
		}
	}
}

// TestCheckTransactionStandard ensures the standardness rules reject the
// documented non-standard forms.
func TestCheckTransactionStandard(t *testing.T) {
	// baseTx returns a well-formed standard transaction.
	baseTx := func() *wire.MsgTx {
		tx := wire.NewMsgTx(1)
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}},
			SignatureScript:  []byte{txscript.OP_0},
			Sequence:         wire.MaxTxInSequenceNum,
		})
		tx.AddTxOut(&wire.TxOut{Value: 100000, PkScript: p2pkhScript(0x02)})
		return tx
	}

	const height = 300000
	medianTime := time.Unix(1600000000, 0)

	tests := []struct {
		name   string
		mungeF func(*wire.MsgTx)
		err    ErrorKind
	}{
		{
			name:   "standard",
			mungeF: func(tx *wire.MsgTx) {},
		},
		{
			name:   "version too high",
			mungeF: func(tx *wire.MsgTx) { tx.Version = 3 },
			err:    ErrNonStandard,
		},
		{
			name: "not finalized",
			mungeF: func(tx *wire.MsgTx) {
				tx.LockTime = height + 10
				tx.TxIn[0].Sequence = 0
			},
			err: ErrExpired,
		},
		{
			name: "signature script too large",
			mungeF: func(tx *wire.MsgTx) {
				tx.TxIn[0].SignatureScript = bytes.Repeat([]byte{0x00},
					maxStandardSigScriptSize+1)
			},
			err: ErrNonStandard,
		},
		{
			name: "signature script not push only",
			mungeF: func(tx *wire.MsgTx) {
				tx.TxIn[0].SignatureScript = []byte{txscript.OP_CHECKSIG}
			},
			err: ErrNonStandard,
		},
		{
			name: "non-standard output script",
			mungeF: func(tx *wire.MsgTx) {
				tx.TxOut[0].PkScript = []byte{txscript.OP_TRUE}
			},
			err: ErrNonStandard,
		},
		{
			name: "dust output",
			mungeF: func(tx *wire.MsgTx) {
				tx.TxOut[0].Value = 1
			},
			err: ErrDustOutput,
		},
		{
			name: "more than one nulldata output",
			mungeF: func(tx *wire.MsgTx) {
				nullScript := []byte{txscript.OP_RETURN}
				tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: nullScript})
				tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: nullScript})
			},
			err: ErrNonStandard,
		},
	}

	for _, test := range tests {
		tx := baseTx()
		test.mungeF(tx)
		err := checkTransactionStandard(btcutil.NewTx(tx), height,
			medianTime, 1000, 2)
		if test.err == "" {
			if err != nil {
				t.Errorf("%s: unexpected error: %v", test.name, err)
			}
			continue
		}
		if !errors.Is(err, test.err) {
			t.Errorf("%s: got error %v, want kind %v", test.name, err,
				test.err)
		}
	}
}
