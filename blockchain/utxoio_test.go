// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
)

// makeTestOutPoint returns an outpoint with a deterministic hash derived from
// the provided tag.
func makeTestOutPoint(tag byte, index uint32) wire.OutPoint {
	var hash chainhash.Hash
	hash[0] = tag
	return wire.OutPoint{Hash: hash, Index: index}
}

// TestVLQRoundTrip ensures values serialized with the variable-length
// quantity encoding deserialize to the same value and that the encoding is
// dense at its boundaries.
func TestVLQRoundTrip(t *testing.T) {
	tests := []struct {
		value uint64
		size  int
	}{
		{0, 1},
		{1, 1},
		{127, 1},
		{128, 2},
		{16511, 2},
		{16512, 3},
		{65536, 3},
		{1 << 32, 5},
		{1<<63 - 1, 9},
	}

	for _, test := range tests {
		serialized := serializeVLQ(nil, test.value)
		if len(serialized) != test.size {
			t.Errorf("value %d: unexpected size: got %d, want %d",
				test.value, len(serialized), test.size)
			continue
		}

		got, bytesRead := deserializeVLQ(serialized)
		if bytesRead != len(serialized) {
			t.Errorf("value %d: unexpected number of bytes read: got %d, "+
				"want %d", test.value, bytesRead, len(serialized))
			continue
		}
		if got != test.value {
			t.Errorf("round trip mismatch: got %d, want %d", got, test.value)
		}
	}

	// Malformed input consumes no bytes.
	if _, bytesRead := deserializeVLQ(nil); bytesRead != 0 {
		t.Error("deserializing empty input consumed bytes")
	}
	if _, bytesRead := deserializeVLQ([]byte{0x80}); bytesRead != 0 {
		t.Error("deserializing truncated input consumed bytes")
	}
}

// TestUtxoEntrySerialization ensures serializing and deserializing utxo
// entries is the identity for the stored fields.
func TestUtxoEntrySerialization(t *testing.T) {
	tests := []struct {
		name  string
		entry *UtxoEntry
	}{
		{
			name: "plain output",
			entry: &UtxoEntry{
				amount:      5000 * 1e8,
				pkScript:    opTrueScript,
				blockHeight: 12345,
			},
		},
		{
			name: "coinbase output",
			entry: &UtxoEntry{
				amount:      1234567,
				pkScript:    []byte{0x76, 0xa9, 0x14, 0x01, 0x02, 0x88, 0xac},
				blockHeight: 1,
				isCoinBase:  true,
			},
		},
		{
			name: "zero value output",
			entry: &UtxoEntry{
				pkScript:    []byte{0x51},
				blockHeight: 0,
			},
		},
	}

	for _, test := range tests {
		serialized := serializeUtxoEntry(test.entry)
		got, err := deserializeUtxoEntry(serialized)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}

		if got.amount != test.entry.amount ||
			!bytes.Equal(got.pkScript, test.entry.pkScript) ||
			got.blockHeight != test.entry.blockHeight ||
			got.isCoinBase != test.entry.isCoinBase {

			t.Errorf("%s: round trip mismatch: got %s, want %s", test.name,
				spew.Sdump(got), spew.Sdump(test.entry))
		}

		// The in-memory state flags are never stored.
		if got.state != 0 {
			t.Errorf("%s: deserialized entry has state flags %x", test.name,
				got.state)
		}
	}

	// Corrupt truncated serializations fail to deserialize.
	if _, err := deserializeUtxoEntry(nil); err == nil {
		t.Error("deserializing empty entry succeeded")
	}
	if _, err := deserializeUtxoEntry([]byte{0x80}); err == nil {
		t.Error("deserializing truncated entry succeeded")
	}
}

// TestOutpointKeyUniqueness ensures outpoint keys share the expected prefix
// and differ per output index and per transaction.
func TestOutpointKeyUniqueness(t *testing.T) {
	entryA := outpointKey(makeTestOutPoint(0x01, 0))
	entryB := outpointKey(makeTestOutPoint(0x01, 1))
	entryC := outpointKey(makeTestOutPoint(0x02, 0))

	if bytes.Equal(entryA, entryB) {
		t.Fatal("keys for different indices are equal")
	}
	if bytes.Equal(entryA, entryC) {
		t.Fatal("keys for different transactions are equal")
	}
	if entryA[0] != 'C' || entryB[0] != 'C' || entryC[0] != 'C' {
		t.Fatal("outpoint keys do not carry the coin prefix")
	}
}
