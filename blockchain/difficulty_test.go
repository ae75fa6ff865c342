// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"testing"
)

// TestBigToCompact ensures BigToCompact converts big integers to the expected
// compact representation.
func TestBigToCompact(t *testing.T) {
	tests := []struct {
		in  int64
		out uint32
	}{
		{0, 0},
		{-1, 25231360},
	}

	for x, test := range tests {
		n := big.NewInt(test.in)
		r := BigToCompact(n)
		if r != test.out {
			t.Errorf("TestBigToCompact test #%d failed: got %d want %d\n",
				x, r, test.out)
			return
		}
	}
}

// TestCompactToBig ensures CompactToBig converts numbers using the compact
// representation to the expected big integers.
func TestCompactToBig(t *testing.T) {
	tests := []struct {
		in  uint32
		out int64
	}{
		{10000000, 0},
	}

	for x, test := range tests {
		n := CompactToBig(test.in)
		want := big.NewInt(test.out)
		if n.Cmp(want) != 0 {
			t.Errorf("TestCompactToBig test #%d failed: got %d want %d\n",
				x, n.Int64(), want.Int64())
			return
		}
	}
}

// TestCompactRoundTrip ensures converting values to and from their compact
// representation is the identity for values that fit the precision.
func TestCompactRoundTrip(t *testing.T) {
	tests := []uint32{
		0x1d00ffff, // bitcoin main net limit
		0x1e0ffff0, // smartcash main net limit
		0x207fffff, // regression net limit
		0x1b0404cb,
	}

	for _, compact := range tests {
		if got := BigToCompact(CompactToBig(compact)); got != compact {
			t.Errorf("round trip mismatch: got %08x, want %08x", got,
				compact)
		}
	}
}

// TestCalcWork ensures CalcWork returns zero for negative or zero difficulty
// values and monotonically more work for harder targets.
func TestCalcWork(t *testing.T) {
	zero := big.NewInt(0)
	if work := CalcWork(0x00800000); work.Cmp(zero) != 0 {
		t.Fatalf("negative difficulty yielded nonzero work %v", work)
	}
	if work := CalcWork(0); work.Cmp(zero) != 0 {
		t.Fatalf("zero difficulty yielded nonzero work %v", work)
	}

	easy := CalcWork(0x207fffff)
	hard := CalcWork(0x1d00ffff)
	if hard.Cmp(easy) <= 0 {
		t.Fatalf("harder target did not yield more work: easy %v, hard %v",
			easy, hard)
	}
}

// TestCalcNextRequiredDifficulty ensures the difficulty returned for the
// block after the tip honors the retargeting rules for the configured
// network.
func TestCalcNextRequiredDifficulty(t *testing.T) {
	// The regression test network never retargets.
	params := testParams()
	chain := newTestChain(t, params)
	g := newTestGenerator(t, params)
	for i := 0; i < 3; i++ {
		acceptBlock(t, chain, g.nextBlock())
	}
	bits := chain.CalcNextRequiredDifficulty(g.tip.Header.Timestamp)
	if bits != params.PowLimitBits {
		t.Fatalf("unexpected required difficulty on regnet: got %08x, "+
			"want %08x", bits, params.PowLimitBits)
	}
}
