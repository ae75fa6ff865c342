// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/smartcash/smartd/blobstore"
)

// spentTxOut contains a spent transaction output and potentially additional
// contextual information such as whether or not it was contained in a
// coinbase transaction, and the height of the block that contains the
// transaction.  The collection of these for all inputs of all non-coinbase
// transactions of a block forms the undo data for the block: everything
// required to restore the utxo set to its exact state prior to the block
// being connected.
type spentTxOut struct {
	amount     int64
	pkScript   []byte
	height     uint32
	isCoinBase bool
}

// serializeSpendJournalEntry serializes all of the passed spent txouts into a
// single byte slice suitable for long-term storage.  The format is:
//
//	<count><spent txout>...
//
// with each spent txout serialized as:
//
//	<header code><VLQ amount><script length><script>
//
// where the header code is the VLQ-encoded value of (height << 1) | coinbase
// flag, mirroring the utxo set serialization.
func serializeSpendJournalEntry(stxos []spentTxOut) []byte {
	serialized := make([]byte, 0, 32*len(stxos)+4)
	serialized = serializeVLQ(serialized, uint64(len(stxos)))
	for i := range stxos {
		stxo := &stxos[i]
		headerCode := uint64(stxo.height) << 1
		if stxo.isCoinBase {
			headerCode |= 1
		}
		serialized = serializeVLQ(serialized, headerCode)
		serialized = serializeVLQ(serialized, uint64(stxo.amount))
		serialized = serializeVLQ(serialized, uint64(len(stxo.pkScript)))
		serialized = append(serialized, stxo.pkScript...)
	}
	return serialized
}

// deserializeSpendJournalEntry decodes the passed serialized byte slice into
// a slice of spent txouts according to the format described by
// serializeSpendJournalEntry.
func deserializeSpendJournalEntry(serialized []byte) ([]spentTxOut, error) {
	errCorrupt := func(field string) error {
		str := fmt.Sprintf("unexpected end of data while reading spend "+
			"journal %s", field)
		return ruleError(ErrUtxoBackendCorruption, str)
	}

	count, offset := deserializeVLQ(serialized)
	if offset == 0 {
		return nil, errCorrupt("count")
	}
	if count > uint64(len(serialized)) {
		return nil, errCorrupt("count")
	}

	stxos := make([]spentTxOut, count)
	for i := uint64(0); i < count; i++ {
		stxo := &stxos[i]

		headerCode, bytesRead := deserializeVLQ(serialized[offset:])
		if bytesRead == 0 {
			return nil, errCorrupt("header code")
		}
		offset += bytesRead
		stxo.height = uint32(headerCode >> 1)
		stxo.isCoinBase = headerCode&1 != 0

		amount, bytesRead := deserializeVLQ(serialized[offset:])
		if bytesRead == 0 {
			return nil, errCorrupt("amount")
		}
		offset += bytesRead
		stxo.amount = int64(amount)

		scriptLen, bytesRead := deserializeVLQ(serialized[offset:])
		if bytesRead == 0 {
			return nil, errCorrupt("script length")
		}
		offset += bytesRead
		if scriptLen > uint64(len(serialized)-offset) {
			return nil, errCorrupt("script")
		}
		stxo.pkScript = make([]byte, scriptLen)
		copy(stxo.pkScript, serialized[offset:offset+int(scriptLen)])
		offset += int(scriptLen)
	}

	return stxos, nil
}

// undoChecksum computes the checksum that accompanies undo data on disk.  It
// commits to both the undo bytes and the hash of the parent of the block the
// undo data belongs to so a frame that was relocated or corrupted in place is
// always detected.
func undoChecksum(parentHash *chainhash.Hash, undoBytes []byte) chainhash.Hash {
	buf := make([]byte, 0, chainhash.HashSize+len(undoBytes))
	buf = append(buf, parentHash[:]...)
	buf = append(buf, undoBytes...)
	return chainhash.DoubleHashH(buf)
}

// storeUndoData serializes and writes the undo data for the passed node to
// the rev file paired with the blk file that houses its block and updates the
// node with the resulting position.  The serialized payload is followed by
// its checksum.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) storeUndoData(node *blockNode, stxos []spentTxOut) error {
	serialized := serializeSpendJournalEntry(stxos)
	checksum := undoChecksum(&node.parent.hash, serialized)
	payload := make([]byte, 0, len(serialized)+chainhash.HashSize)
	payload = append(payload, serialized...)
	payload = append(payload, checksum[:]...)

	loc, err := b.store.WriteUndo(payload, node.fileNum)
	if err != nil {
		return err
	}
	if loc.FileNum != node.fileNum {
		return AssertError(fmt.Sprintf("undo data for block %v written to "+
			"file %d instead of file %d", node.hash, loc.FileNum, node.fileNum))
	}

	b.index.Lock()
	node.undoPos = loc.Offset
	b.index.setStatusFlags(node, statusUndoStored)
	b.index.Unlock()
	return nil
}

// fetchUndoByNode loads the undo data for the passed node from the rev file
// it was stored in, verifies its checksum, and deserializes it.
//
// An error with kind ErrUtxoBackendCorruption is returned when the checksum
// does not match since that means the data on disk can no longer be trusted.
func (b *BlockChain) fetchUndoByNode(node *blockNode) ([]spentTxOut, error) {
	if !b.index.NodeStatus(node).HaveUndo() {
		return nil, ruleError(ErrNoBlockData, fmt.Sprintf("no undo data for "+
			"block %v", node.hash))
	}

	b.index.RLock()
	loc := blobstore.Location{FileNum: node.fileNum, Offset: node.undoPos}
	b.index.RUnlock()

	payload, err := b.store.ReadUndo(loc)
	if err != nil {
		return nil, err
	}
	if len(payload) < chainhash.HashSize {
		return nil, ruleError(ErrUtxoBackendCorruption, fmt.Sprintf("undo "+
			"data for block %v is too short", node.hash))
	}

	serialized := payload[:len(payload)-chainhash.HashSize]
	wantChecksum := payload[len(payload)-chainhash.HashSize:]
	gotChecksum := undoChecksum(&node.parent.hash, serialized)
	if !bytes.Equal(gotChecksum[:], wantChecksum) {
		return nil, ruleError(ErrUtxoBackendCorruption, fmt.Sprintf("undo "+
			"data for block %v failed its checksum", node.hash))
	}

	return deserializeSpendJournalEntry(serialized)
}
