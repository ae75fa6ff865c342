// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/smartcash/smartd/blobstore"
	"github.com/smartcash/smartd/database"
)

// The serialized key/value pairs of the block tree keyspace are:
//
//	'b' + <block hash>   ->  <block index entry>
//	'f' + <file number>  ->  <block file info>
//	'l'                  ->  <last block file number>
//	'R'                  ->  <reindex-in-progress flag>
//	'F' + <name>         ->  <boolean flag>
//
// The block index entry is the 80-byte serialized header followed by the
// VLQ-encoded height, a status byte, and the VLQ-encoded transaction count,
// cumulative chain transaction count, file number, data offset, undo offset,
// and block size.
var (
	// blockIndexKeyPrefix is the key prefix for all block index entries.
	blockIndexKeyPrefix = []byte("b")

	// blockFileInfoKeyPrefix is the key prefix for all block file info
	// records.
	blockFileInfoKeyPrefix = []byte("f")

	// lastBlockFileKey is the key of the last block file number record.
	lastBlockFileKey = []byte("l")

	// reindexingKey is the key of the reindex-in-progress flag.
	reindexingKey = []byte("R")

	// flagKeyPrefix is the key prefix of the named boolean flags.
	flagKeyPrefix = []byte("F")
)

// Named boolean flags tracked in the block tree keyspace.
const (
	// FlagTxIndex indicates the optional transaction index is enabled.
	FlagTxIndex = "txindex"

	// FlagAddressIndex indicates the optional address index is enabled.
	FlagAddressIndex = "addressindex"

	// FlagSpentIndex indicates the optional spent output index is enabled.
	FlagSpentIndex = "spentindex"

	// FlagTimestampIndex indicates the optional timestamp index is enabled.
	FlagTimestampIndex = "timestampindex"

	// FlagPrunedBlockFiles indicates block files have been pruned at some
	// point in the past, which means the node can no longer serve deep
	// historical blocks.
	FlagPrunedBlockFiles = "prunedblockfiles"
)

// blockFileInfo houses aggregate details about one blk/rev file pair and is
// used to decide when files can be pruned.
type blockFileInfo struct {
	nBlocks      uint32
	nSize        uint32
	nUndoSize    uint32
	nHeightFirst int64
	nHeightLast  int64
	nTimeFirst   int64
	nTimeLast    int64
}

// addBlock updates the aggregates to account for a block at the given height
// and time with the given serialized size being stored in the file.
func (info *blockFileInfo) addBlock(height int64, timestamp int64, size uint32) {
	if info.nBlocks == 0 || height < info.nHeightFirst {
		info.nHeightFirst = height
	}
	if info.nBlocks == 0 || height > info.nHeightLast {
		info.nHeightLast = height
	}
	if info.nBlocks == 0 || timestamp < info.nTimeFirst {
		info.nTimeFirst = timestamp
	}
	if info.nBlocks == 0 || timestamp > info.nTimeLast {
		info.nTimeLast = timestamp
	}
	info.nBlocks++
	info.nSize += size
}

// serializeBlockFileInfo returns the block file info serialized to a format
// suitable for long-term storage.
func serializeBlockFileInfo(info *blockFileInfo) []byte {
	serialized := make([]byte, 0, 40)
	serialized = serializeVLQ(serialized, uint64(info.nBlocks))
	serialized = serializeVLQ(serialized, uint64(info.nSize))
	serialized = serializeVLQ(serialized, uint64(info.nUndoSize))
	serialized = serializeVLQ(serialized, uint64(info.nHeightFirst))
	serialized = serializeVLQ(serialized, uint64(info.nHeightLast))
	serialized = serializeVLQ(serialized, uint64(info.nTimeFirst))
	serialized = serializeVLQ(serialized, uint64(info.nTimeLast))
	return serialized
}

// deserializeBlockFileInfo decodes the passed serialized block file info
// according to the format described by serializeBlockFileInfo.
func deserializeBlockFileInfo(serialized []byte) (*blockFileInfo, error) {
	var info blockFileInfo
	values := []*uint64{
		new(uint64), new(uint64), new(uint64), new(uint64), new(uint64),
		new(uint64), new(uint64),
	}
	offset := 0
	for i, value := range values {
		v, bytesRead := deserializeVLQ(serialized[offset:])
		if bytesRead == 0 {
			str := fmt.Sprintf("unexpected end of data while reading block "+
				"file info field %d", i)
			return nil, ruleError(ErrUtxoBackendCorruption, str)
		}
		*value = v
		offset += bytesRead
	}
	info.nBlocks = uint32(*values[0])
	info.nSize = uint32(*values[1])
	info.nUndoSize = uint32(*values[2])
	info.nHeightFirst = int64(*values[3])
	info.nHeightLast = int64(*values[4])
	info.nTimeFirst = int64(*values[5])
	info.nTimeLast = int64(*values[6])
	return &info, nil
}

// blockFileInfoKey returns the block tree key for the provided file number.
func blockFileInfoKey(fileNum uint32) []byte {
	key := make([]byte, len(blockFileInfoKeyPrefix)+4)
	copy(key, blockFileInfoKeyPrefix)
	binary.BigEndian.PutUint32(key[len(blockFileInfoKeyPrefix):], fileNum)
	return key
}

// dbFetchBlockFileInfo fetches the block file info record for the provided
// file number.  A new zero record is returned when one does not exist yet.
func dbFetchBlockFileInfo(dbTx database.Tx, fileNum uint32) (*blockFileInfo, error) {
	serialized, err := dbTx.Get(blockFileInfoKey(fileNum))
	if err != nil {
		return nil, err
	}
	if serialized == nil {
		return &blockFileInfo{}, nil
	}
	return deserializeBlockFileInfo(serialized)
}

// dbPutBlockFileInfo stores the block file info record for the provided file
// number.
func dbPutBlockFileInfo(dbTx database.Tx, fileNum uint32, info *blockFileInfo) error {
	return dbTx.Put(blockFileInfoKey(fileNum), serializeBlockFileInfo(info))
}

// dbPutLastBlockFile stores the number of the block file new blocks are
// currently written to.
func dbPutLastBlockFile(dbTx database.Tx, fileNum uint32) error {
	var serialized [4]byte
	binary.BigEndian.PutUint32(serialized[:], fileNum)
	return dbTx.Put(lastBlockFileKey, serialized[:])
}

// dbFetchLastBlockFile fetches the number of the block file new blocks are
// currently written to.
func dbFetchLastBlockFile(dbTx database.Tx) (uint32, error) {
	serialized, err := dbTx.Get(lastBlockFileKey)
	if err != nil {
		return 0, err
	}
	if len(serialized) < 4 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(serialized), nil
}

// dbPutFlag stores the named boolean flag.
func dbPutFlag(dbTx database.Tx, name string, value bool) error {
	key := make([]byte, 0, len(flagKeyPrefix)+len(name))
	key = append(key, flagKeyPrefix...)
	key = append(key, name...)
	serialized := []byte{0}
	if value {
		serialized[0] = 1
	}
	return dbTx.Put(key, serialized)
}

// dbFetchFlag fetches the named boolean flag.  Flags that have never been
// written are false.
func dbFetchFlag(dbTx database.Tx, name string) (bool, error) {
	key := make([]byte, 0, len(flagKeyPrefix)+len(name))
	key = append(key, flagKeyPrefix...)
	key = append(key, name...)
	serialized, err := dbTx.Get(key)
	if err != nil {
		return false, err
	}
	return len(serialized) == 1 && serialized[0] == 1, nil
}

// dbPutReindexing stores or removes the reindex-in-progress marker.
func dbPutReindexing(dbTx database.Tx, reindexing bool) error {
	if !reindexing {
		return dbTx.Delete(reindexingKey)
	}
	return dbTx.Put(reindexingKey, []byte{1})
}

// blockIndexKey returns the block tree key for the provided block hash.
func blockIndexKey(hash *chainhash.Hash) []byte {
	key := make([]byte, 0, len(blockIndexKeyPrefix)+chainhash.HashSize)
	key = append(key, blockIndexKeyPrefix...)
	return append(key, hash[:]...)
}

// serializeBlockNode returns the block node serialized to a format suitable
// for long-term storage.
func serializeBlockNode(node *blockNode) ([]byte, error) {
	var buf bytes.Buffer
	header := node.Header()
	if err := header.Serialize(&buf); err != nil {
		return nil, err
	}

	serialized := buf.Bytes()
	serialized = serializeVLQ(serialized, uint64(node.height))
	serialized = append(serialized, byte(node.status))
	serialized = serializeVLQ(serialized, uint64(node.nTx))
	serialized = serializeVLQ(serialized, node.nChainTx)
	serialized = serializeVLQ(serialized, uint64(node.fileNum))
	serialized = serializeVLQ(serialized, uint64(node.dataPos))
	serialized = serializeVLQ(serialized, uint64(node.undoPos))
	serialized = serializeVLQ(serialized, uint64(node.blockSize))
	return serialized, nil
}

// blockIndexEntry houses the decoded form of a serialized block index entry.
type blockIndexEntry struct {
	header   wire.BlockHeader
	height   int64
	status   blockStatus
	nTx       uint32
	nChainTx  uint64
	fileNum   uint32
	dataPos   uint32
	undoPos   uint32
	blockSize uint32
}

// deserializeBlockIndexEntry decodes the passed serialized block index entry.
func deserializeBlockIndexEntry(serialized []byte) (*blockIndexEntry, error) {
	var entry blockIndexEntry
	reader := bytes.NewReader(serialized)
	if err := entry.header.Deserialize(reader); err != nil {
		return nil, err
	}

	offset := len(serialized) - reader.Len()
	errCorrupt := func(field string) error {
		str := fmt.Sprintf("unexpected end of data while reading block index "+
			"entry %s", field)
		return ruleError(ErrUtxoBackendCorruption, str)
	}

	height, bytesRead := deserializeVLQ(serialized[offset:])
	if bytesRead == 0 {
		return nil, errCorrupt("height")
	}
	offset += bytesRead
	entry.height = int64(height)

	if offset >= len(serialized) {
		return nil, errCorrupt("status")
	}
	entry.status = blockStatus(serialized[offset])
	offset++

	values := []*uint64{new(uint64), new(uint64), new(uint64), new(uint64),
		new(uint64), new(uint64)}
	names := []string{"tx count", "chain tx count", "file number",
		"data offset", "undo offset", "block size"}
	for i, value := range values {
		v, bytesRead := deserializeVLQ(serialized[offset:])
		if bytesRead == 0 {
			return nil, errCorrupt(names[i])
		}
		*value = v
		offset += bytesRead
	}
	entry.nTx = uint32(*values[0])
	entry.nChainTx = *values[1]
	entry.fileNum = uint32(*values[2])
	entry.dataPos = uint32(*values[3])
	entry.undoPos = uint32(*values[4])
	entry.blockSize = uint32(*values[5])
	return &entry, nil
}

// dbPutBlockNode stores the information needed to reconstruct the provided
// block node in the block tree keyspace.
func dbPutBlockNode(dbTx database.Tx, node *blockNode) error {
	serialized, err := serializeBlockNode(node)
	if err != nil {
		return err
	}
	return dbTx.Put(blockIndexKey(&node.hash), serialized)
}

// createChainState initializes both the block tree and the utxo set state to
// the genesis block.  This includes writing the genesis block to the
// flat-file store and creating its block index entry.
func (b *BlockChain) createChainState() error {
	// Serialize the genesis block and store it.
	genesisBlock := btcutil.NewBlock(b.chainParams.GenesisBlock)
	genesisBlock.SetHeight(0)
	var buf bytes.Buffer
	if err := genesisBlock.MsgBlock().Serialize(&buf); err != nil {
		return err
	}
	loc, err := b.store.WriteBlock(buf.Bytes())
	if err != nil {
		return err
	}

	// Create the genesis node.  The genesis block is valid by definition,
	// so it starts out at the highest validity level with its data stored.
	header := &b.chainParams.GenesisBlock.Header
	node := newBlockNode(header, nil)
	node.nTx = uint32(len(b.chainParams.GenesisBlock.Transactions))
	node.nChainTx = uint64(node.nTx)
	node.fileNum = loc.FileNum
	node.dataPos = loc.Offset
	node.blockSize = uint32(buf.Len())
	node.status = blockStatus(validityScripts) | statusDataStored
	node.isFullyLinked = true

	b.index.addNode(node)
	b.index.AddBestChainCandidate(node)
	b.bestChain.SetTip(node)

	// Store the genesis index entry, the file info it belongs to, and the
	// current block file number.
	err = b.db.Update(func(dbTx database.Tx) error {
		if err := dbPutBlockNode(dbTx, node); err != nil {
			return err
		}
		info := &blockFileInfo{}
		info.addBlock(0, node.timestamp, uint32(buf.Len()))
		if err := dbPutBlockFileInfo(dbTx, loc.FileNum, info); err != nil {
			return err
		}
		return dbPutLastBlockFile(dbTx, loc.FileNum)
	})
	if err != nil {
		return err
	}

	// The utxo set starts out reflecting the genesis block.  Note that the
	// genesis coinbase is unspendable by consensus, so no coins are created.
	return b.utxoCache.db.Update(func(dbTx database.Tx) error {
		return dbPutUtxoSetBestHash(dbTx, &b.chainParams.GenesisHash)
	})
}

// initChainState attempts to load and initialize the chain state from the
// database.  When the database has not yet been initialized for use, it is
// initialized to the genesis block instead.
func (b *BlockChain) initChainState() error {
	// Load all of the serialized block index entries.
	var entries []*blockIndexEntry
	err := b.db.View(func(dbTx database.Tx) error {
		return dbTx.ForEachPrefix(blockIndexKeyPrefix, func(key, value []byte) error {
			entry, err := deserializeBlockIndexEntry(value)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return err
	}

	// Initialize a fresh database to the genesis block when the index is
	// empty.
	if len(entries) == 0 {
		log.Infof("Initializing new chain state to genesis block %v",
			b.chainParams.GenesisHash)
		return b.createChainState()
	}

	var lastFileNum uint32
	err = b.db.View(func(dbTx database.Tx) error {
		var err error
		lastFileNum, err = dbFetchLastBlockFile(dbTx)
		return err
	})
	if err != nil {
		return err
	}
	log.Infof("Loading block index with %d entries (last block file %d)...",
		len(entries), lastFileNum)

	// Loading entries in height order guarantees parents are always loaded
	// before their children.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].height < entries[j].height
	})

	var tip *blockNode
	for _, entry := range entries {
		// Look the parent up.  The genesis block is the only entry without
		// one.
		var parent *blockNode
		if entry.height > 0 {
			parent = b.index.index[entry.header.PrevBlock]
			if parent == nil {
				str := fmt.Sprintf("block index entry %v references unknown "+
					"parent %v", entry.header.BlockHash(),
					entry.header.PrevBlock)
				return ruleError(ErrUtxoBackendCorruption, str)
			}
		} else if entry.header.BlockHash() != b.chainParams.GenesisHash {
			str := fmt.Sprintf("block index entry at height 0 is %v instead "+
				"of the expected genesis block %v", entry.header.BlockHash(),
				b.chainParams.GenesisHash)
			return ruleError(ErrUtxoBackendCorruption, str)
		}

		node := newBlockNode(&entry.header, parent)
		node.status = entry.status
		node.nTx = entry.nTx
		node.fileNum = entry.fileNum
		node.dataPos = entry.dataPos
		node.undoPos = entry.undoPos
		node.blockSize = entry.blockSize

		// The cumulative chain transaction count and the fully linked state
		// are recomputed from the parent rather than trusting the stored
		// values so a partially-flushed shutdown heals itself.
		if parent == nil {
			node.nChainTx = uint64(node.nTx)
			node.isFullyLinked = node.status.HaveData()
		} else if parent.isFullyLinked && node.status.HaveData() {
			node.nChainTx = parent.nChainTx + uint64(node.nTx)
			node.isFullyLinked = true
		}

		b.index.addNodeFromDB(node)
	}

	// Determine the current best chain tip from the hash the utxo set
	// reflects.  In the typical case the utxo set is caught up to a fully
	// validated block with its data available, however the cache replays
	// any gap during its own initialization.
	var utxoBestHash *chainhash.Hash
	err = b.utxoCache.db.View(func(dbTx database.Tx) error {
		var err error
		utxoBestHash, err = dbFetchUtxoSetBestHash(dbTx)
		return err
	})
	if err != nil {
		return err
	}
	if utxoBestHash != nil {
		tip = b.index.index[*utxoBestHash]
	}
	if tip == nil {
		str := fmt.Sprintf("utxo set best block %v is not in the block index",
			utxoBestHash)
		return ruleError(ErrUtxoBackendCorruption, str)
	}
	b.bestChain.SetTip(tip)

	// The current tip is always a candidate, as is any node with at least
	// as much work that is eligible for validation.
	b.index.AddBestChainCandidate(tip)
	b.index.Lock()
	for _, node := range b.index.index {
		if node != tip && b.index.canValidate(node) &&
			!node.status.KnownInvalid() &&
			node.workSum.Cmp(tip.workSum) >= 0 {

			b.index.addBestChainCandidate(node)
		}
	}
	b.index.Unlock()

	log.Infof("Block index loaded (best chain tip %v, height %d)", tip.hash,
		tip.height)
	return nil
}

// dbStoreBlock writes the serialized block to the flat-file store, updates
// the file info records that describe it, and returns its location.
func (b *BlockChain) dbStoreBlock(block *btcutil.Block) (blobstore.Location, error) {
	var buf bytes.Buffer
	if err := block.MsgBlock().Serialize(&buf); err != nil {
		return blobstore.Location{}, err
	}
	loc, err := b.store.WriteBlock(buf.Bytes())
	if err != nil {
		return blobstore.Location{}, err
	}

	err = b.db.Update(func(dbTx database.Tx) error {
		info, err := dbFetchBlockFileInfo(dbTx, loc.FileNum)
		if err != nil {
			return err
		}
		info.addBlock(int64(block.Height()),
			block.MsgBlock().Header.Timestamp.Unix(), uint32(buf.Len()))
		if err := dbPutBlockFileInfo(dbTx, loc.FileNum, info); err != nil {
			return err
		}
		return dbPutLastBlockFile(dbTx, loc.FileNum)
	})
	if err != nil {
		return blobstore.Location{}, err
	}
	return loc, nil
}

// fetchBlockByNode loads the block associated with the passed node from the
// flat-file store and returns it with its height set.
func (b *BlockChain) fetchBlockByNode(node *blockNode) (*btcutil.Block, error) {
	if !b.index.NodeStatus(node).HaveData() {
		return nil, ruleError(ErrNoBlockData, fmt.Sprintf("no block data for "+
			"block %v", node.hash))
	}

	b.index.RLock()
	loc := blobstore.Location{FileNum: node.fileNum, Offset: node.dataPos}
	b.index.RUnlock()

	serialized, err := b.store.ReadBlock(loc)
	if err != nil {
		return nil, err
	}

	block, err := btcutil.NewBlockFromBytes(serialized)
	if err != nil {
		return nil, ruleError(ErrUtxoBackendCorruption, fmt.Sprintf("corrupt "+
			"block data for block %v: %v", node.hash, err))
	}
	if *block.Hash() != node.hash {
		return nil, ruleError(ErrUtxoBackendCorruption, fmt.Sprintf("block "+
			"data at file %d offset %d hashes to %v instead of %v",
			loc.FileNum, loc.Offset, block.Hash(), node.hash))
	}
	block.SetHeight(int32(node.height))
	return block, nil
}

// SetReindexing stores or removes the reindex-in-progress marker in the
// block tree keyspace.  A marker that is still present at startup means a
// previous reindex was interrupted and must be restarted.
func (b *BlockChain) SetReindexing(reindexing bool) error {
	return b.db.Update(func(dbTx database.Tx) error {
		return dbPutReindexing(dbTx, reindexing)
	})
}

// IsReindexing returns whether or not the reindex-in-progress marker is set
// in the block tree keyspace.
func (b *BlockChain) IsReindexing() (bool, error) {
	var reindexing bool
	err := b.db.View(func(dbTx database.Tx) error {
		value, err := dbTx.Get(reindexingKey)
		if err != nil {
			return err
		}
		reindexing = value != nil
		return nil
	})
	return reindexing, err
}

// FetchFlag returns the value of the named boolean flag from the block tree
// keyspace.
func (b *BlockChain) FetchFlag(name string) (bool, error) {
	var value bool
	err := b.db.View(func(dbTx database.Tx) error {
		var err error
		value, err = dbFetchFlag(dbTx, name)
		return err
	})
	return value, err
}

// PutFlag sets the value of the named boolean flag in the block tree
// keyspace.
func (b *BlockChain) PutFlag(name string, value bool) error {
	return b.db.Update(func(dbTx database.Tx) error {
		return dbPutFlag(dbTx, name, value)
	})
}
