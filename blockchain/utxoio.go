// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/smartcash/smartd/database"
)

// The serialized key/value pairs of the utxo store keyspace are:
//
//	'C' + <outpoint>  ->  <serialized coin>
//	'B'               ->  <best block hash>
//
// The outpoint is the transaction hash followed by the VLQ-encoded output
// index.  The serialized coin is:
//
//	<header code><VLQ amount><script>
//
// where the header code is the VLQ-encoded value of (height << 1) | coinbase
// flag.  The script is stored as-is since a script dictionary provides
// marginal gains at significant complexity for this chain.
var (
	// utxoSetCoinKeyPrefix is the key prefix for all coins in the utxo set.
	utxoSetCoinKeyPrefix = []byte("C")

	// utxoSetBestHashKey is the key of the best block hash the utxo set
	// represents.
	utxoSetBestHashKey = []byte("B")
)

// serializeVLQ serializes the provided value using a variable-length quantity
// encoding and appends it to the target.  The encoding is the MSB encoding
// with the addition that each intermediate byte has 1 subtracted from the
// value being encoded which produces a dense, bijective encoding.
func serializeVLQ(target []byte, n uint64) []byte {
	// Calculate the encoding from least to most significant byte into a
	// small scratch buffer and then append it reversed.
	var scratch [9]byte
	idx := 0
	for {
		scratch[idx] = byte(n & 0x7f)
		if idx > 0 {
			scratch[idx] |= 0x80
		}
		if n <= 0x7f {
			break
		}
		n = (n >> 7) - 1
		idx++
	}

	for ; idx >= 0; idx-- {
		target = append(target, scratch[idx])
	}
	return target
}

// deserializeVLQ deserializes the provided variable-length quantity according
// to the format described by serializeVLQ.  It returns the value along with
// the number of bytes deserialized.  Zero bytes are consumed on malformed
// input.
func deserializeVLQ(serialized []byte) (uint64, int) {
	var n uint64
	var size int
	for _, val := range serialized {
		size++
		n = (n << 7) | uint64(val&0x7f)
		if val&0x80 != 0x80 {
			return n, size
		}
		n++
	}

	return 0, 0
}

// outpointKey returns the utxo set key for the provided outpoint.
func outpointKey(outpoint wire.OutPoint) []byte {
	key := make([]byte, 0, len(utxoSetCoinKeyPrefix)+chainhash.HashSize+5)
	key = append(key, utxoSetCoinKeyPrefix...)
	key = append(key, outpoint.Hash[:]...)
	return serializeVLQ(key, uint64(outpoint.Index))
}

// serializeUtxoEntry returns the entry serialized to a format that is
// suitable for long-term storage.
func serializeUtxoEntry(entry *UtxoEntry) []byte {
	headerCode := uint64(entry.blockHeight) << 1
	if entry.isCoinBase {
		headerCode |= 1
	}

	serialized := make([]byte, 0, 16+len(entry.pkScript))
	serialized = serializeVLQ(serialized, headerCode)
	serialized = serializeVLQ(serialized, uint64(entry.amount))
	serialized = append(serialized, entry.pkScript...)
	return serialized
}

// deserializeUtxoEntry decodes the provided serialized entry according to the
// format described by serializeUtxoEntry.
func deserializeUtxoEntry(serialized []byte) (*UtxoEntry, error) {
	headerCode, offset := deserializeVLQ(serialized)
	if offset == 0 {
		return nil, ruleError(ErrUtxoBackendCorruption, "unexpected end of "+
			"data while reading utxo header code")
	}

	amount, bytesRead := deserializeVLQ(serialized[offset:])
	if bytesRead == 0 {
		return nil, ruleError(ErrUtxoBackendCorruption, "unexpected end of "+
			"data while reading utxo amount")
	}
	offset += bytesRead

	pkScript := make([]byte, len(serialized)-offset)
	copy(pkScript, serialized[offset:])

	return &UtxoEntry{
		amount:      int64(amount),
		pkScript:    pkScript,
		blockHeight: uint32(headerCode >> 1),
		isCoinBase:  headerCode&1 != 0,
	}, nil
}

// dbFetchUtxoEntry uses an existing database transaction to fetch the
// specified transaction output from the utxo set.
//
// When there is no entry for the provided output, nil will be returned for
// both the entry and the error.
func dbFetchUtxoEntry(dbTx database.Tx, outpoint wire.OutPoint) (*UtxoEntry, error) {
	serialized, err := dbTx.Get(outpointKey(outpoint))
	if err != nil {
		return nil, err
	}
	if serialized == nil {
		return nil, nil
	}

	entry, err := deserializeUtxoEntry(serialized)
	if err != nil {
		return nil, ruleError(ErrUtxoBackendCorruption, fmt.Sprintf("corrupt "+
			"utxo entry for %v: %v", outpoint, err))
	}
	return entry, nil
}

// dbPutUtxoEntry uses an existing database transaction to update the utxo
// entry for the given outpoint based on its state.  Spent entries are removed
// while unspent ones are written with their latest values.
func dbPutUtxoEntry(dbTx database.Tx, outpoint wire.OutPoint, entry *UtxoEntry) error {
	if entry == nil || entry.IsSpent() {
		return dbTx.Delete(outpointKey(outpoint))
	}
	return dbTx.Put(outpointKey(outpoint), serializeUtxoEntry(entry))
}

// dbFetchUtxoSetBestHash fetches the hash of the block the utxo set currently
// represents or nil when it has never been written.
func dbFetchUtxoSetBestHash(dbTx database.Tx) (*chainhash.Hash, error) {
	serialized, err := dbTx.Get(utxoSetBestHashKey)
	if err != nil {
		return nil, err
	}
	if serialized == nil {
		return nil, nil
	}
	hash, err := chainhash.NewHash(serialized)
	if err != nil {
		return nil, ruleError(ErrUtxoBackendCorruption, fmt.Sprintf("corrupt "+
			"utxo set best hash: %v", err))
	}
	return hash, nil
}

// dbPutUtxoSetBestHash updates the hash of the block the utxo set currently
// represents.  It MUST be invoked in the same database transaction as the
// coin updates it describes so recovery always observes a consistent pair.
func dbPutUtxoSetBestHash(dbTx database.Tx, hash *chainhash.Hash) error {
	return dbTx.Put(utxoSetBestHashKey, hash[:])
}
