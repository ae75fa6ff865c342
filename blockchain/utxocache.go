// Copyright (c) 2015-2021 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/smartcash/smartd/database"
)

const (
	// outpointSize is the size of an outpoint on a 64-bit platform.  It is
	// equivalent to what unsafe.Sizeof(wire.OutPoint{}) returns on a 64-bit
	// platform.
	outpointSize = 40

	// pointerSize is the size of a pointer on a 64-bit platform.
	pointerSize = 8

	// p2pkhScriptLen is the length of a standard pay-to-pubkey-hash script.
	// It is used in the calculation to approximate the average size of a
	// utxo entry when setting the initial capacity of the cache.
	p2pkhScriptLen = 25

	// mapOverhead is the number of bytes per entry to use when approximating
	// the memory overhead of the entries map itself.
	mapOverhead = 57

	// evictionPercentage is the targeted percentage of entries to evict from
	// the cache when its maximum size has been reached.
	evictionPercentage = 0.15

	// periodicFlushInterval is the amount of time to wait before a periodic
	// flush is required.
	//
	// The cache is flushed periodically during initial block download to
	// avoid requiring a flush that would take a significant amount of time
	// on shutdown (or, in the case of an unclean shutdown, a significant
	// amount of time to initialize the cache when restarted).
	periodicFlushInterval = time.Minute * 2
)

// UtxoCache is an unspent transaction output cache that sits on top of the
// utxo set database and provides significant runtime performance benefits at
// the cost of some additional memory usage.
//
// The UtxoCache is a read-through cache.  All utxo reads go through the
// cache.  When there is a cache miss, the cache loads the missing data from
// the database, caches it, and returns it to the caller.  A miss for an
// outpoint that does not exist in the database is recorded as a negative
// entry so subsequent lookups for it avoid the database entirely.
//
// The UtxoCache is a write-back cache.  Writes to the cache are acknowledged
// by the cache immediately but are only periodically flushed to the database.
// This allows intermediate steps to effectively be skipped: a utxo that is
// created and then spent in between flushes never needs to be written to the
// utxo set in the database at all.
//
// Due to the write-back nature of the cache, at any given time the database
// may not be in sync with the cache, and therefore all utxo reads and writes
// MUST go through the cache, and never read or write to the database
// directly.
type UtxoCache struct {
	// db is the database that contains the utxo set.  It is set when the
	// instance is created and is not changed afterward.
	db *database.DB

	// maxSize is the maximum allowed size of the utxo cache, in bytes.  It
	// is set when the instance is created and is not changed afterward.
	maxSize uint64

	// cacheLock protects access to the fields in the struct below this
	// point.  A standard mutex is used rather than a read-write mutex since
	// the cache will often write when reads result in a cache miss, so it is
	// generally not worth the additional overhead of using a read-write
	// mutex.
	cacheLock sync.Mutex

	// entries holds the cached utxo entries.  A nil entry indicates the
	// outpoint is known to be spent or otherwise nonexistent in the backing
	// store.
	entries map[wire.OutPoint]*UtxoEntry

	// lastFlushHash is the block hash of the last flush.  It is used to
	// compare the state of the cache to the utxo set state in the database
	// so that the utxo set can properly be initialized in the case that the
	// latest utxo data had not been flushed to the database yet.
	lastFlushHash chainhash.Hash

	// lastFlushTime is the last time that the cache was flushed to the
	// database.
	lastFlushTime time.Time

	// lastEvictionHeight is the block height of the last eviction.
	lastEvictionHeight uint32

	// totalEntrySize is the total size of all utxo entries in the cache, in
	// bytes.  It is updated whenever an entry is added or removed from the
	// cache.
	totalEntrySize uint64

	// The following fields track the total number of cache hits and misses
	// and are used to measure the overall cache hit ratio.
	hits   uint64
	misses uint64

	// timeNow defines the function to use to get the current local time.  It
	// defaults to time.Now but an alternative function can be provided for
	// testing purposes.
	timeNow func() time.Time
}

// UtxoCacheConfig is a descriptor which specifies the utxo cache instance
// configuration.
type UtxoCacheConfig struct {
	// DB defines the database which houses the utxo set.
	//
	// This field is required.
	DB *database.DB

	// MaxSize defines the maximum allowed size of the utxo cache, in bytes.
	//
	// This field is required.
	MaxSize uint64
}

// NewUtxoCache returns a UtxoCache instance using the provided configuration
// details.
func NewUtxoCache(config *UtxoCacheConfig) *UtxoCache {
	// Approximate the maximum number of entries allowed in the cache in
	// order to set the initial capacity of the entries map.
	avgEntrySize := mapOverhead + outpointSize + pointerSize + baseEntrySize +
		p2pkhScriptLen
	maxEntries := math.Ceil(float64(config.MaxSize) / float64(avgEntrySize))

	return &UtxoCache{
		db:            config.DB,
		maxSize:       config.MaxSize,
		entries:       make(map[wire.OutPoint]*UtxoEntry, uint64(maxEntries)),
		lastFlushTime: time.Now(),
		timeNow:       time.Now,
	}
}

// totalSize returns the total size of the cache on a 64-bit platform, in
// bytes.  Note that this only takes the entries map into account, which
// represents the vast majority of the memory that the cache uses.
//
// This function MUST be called with the cache lock held.
func (c *UtxoCache) totalSize() uint64 {
	numEntries := uint64(len(c.entries))
	return mapOverhead*numEntries + outpointSize*numEntries +
		pointerSize*numEntries + c.totalEntrySize
}

// hitRatio returns the percentage of cache lookups that resulted in a cache
// hit.
//
// This function MUST be called with the cache lock held.
func (c *UtxoCache) hitRatio() float64 {
	totalLookups := c.hits + c.misses
	if totalLookups == 0 {
		return 100
	}

	return float64(c.hits) / float64(totalLookups) * 100
}

// addEntry adds the specified output to the cache.  The entry being added
// MUST NOT be mutated by the caller after being passed to this function.
//
// This function MUST be called with the cache lock held.
func (c *UtxoCache) addEntry(outpoint wire.OutPoint, entry *UtxoEntry) {
	// If an existing entry does not exist, the added entry is not known to
	// the backing store and is marked fresh so a later spend of it can elide
	// the tombstone write.
	cachedEntry := c.entries[outpoint]
	if cachedEntry == nil {
		entry.state |= utxoStateModified | utxoStateFresh
	}

	// Add the entry to the cache.  In the case that an entry already exists,
	// the existing entry is overwritten.
	c.entries[outpoint] = entry

	// Update the total entry size of the cache.
	if cachedEntry != nil {
		c.totalEntrySize -= cachedEntry.size()
	}
	c.totalEntrySize += entry.size()
}

// AddEntry adds the specified output to the cache.  The entry being added
// MUST NOT be mutated by the caller after being passed to this function.
//
// This function is safe for concurrent access.
func (c *UtxoCache) AddEntry(outpoint wire.OutPoint, entry *UtxoEntry) {
	c.cacheLock.Lock()
	c.addEntry(outpoint, entry)
	c.cacheLock.Unlock()
}

// spendEntry marks the specified output as spent.
//
// This function MUST be called with the cache lock held.
func (c *UtxoCache) spendEntry(outpoint wire.OutPoint) {
	// If the entry is nil or already spent, return immediately.
	cachedEntry := c.entries[outpoint]
	if cachedEntry == nil || cachedEntry.IsSpent() {
		return
	}

	// If the entry is fresh, and is now being spent, it can safely be
	// removed.  This is an optimization to skip writing to the database for
	// outputs that are added and spent in between flushes to the database.
	if cachedEntry.isFresh() {
		// The entry in the map is marked as nil rather than deleting it so
		// that subsequent lookups for the outpoint will still result in a
		// cache hit and avoid querying the database.
		c.entries[outpoint] = nil
		c.totalEntrySize -= cachedEntry.size()
		return
	}

	// Mark the output as spent and modified.
	cachedEntry.Spend()
}

// SpendEntry marks the specified output as spent.
//
// This function is safe for concurrent access.
func (c *UtxoCache) SpendEntry(outpoint wire.OutPoint) {
	c.cacheLock.Lock()
	c.spendEntry(outpoint)
	c.cacheLock.Unlock()
}

// fetchEntry returns the specified transaction output from the utxo set.  If
// the output exists in the cache, it is returned immediately.  Otherwise, it
// fetches the output from the database, caches it, and returns it to the
// caller.  A cloned copy of the entry is returned so it can safely be mutated
// by the caller without invalidating the cache.
//
// When there is no entry for the provided output, nil will be returned for
// both the entry and the error.
//
// This function MUST be called with the cache lock held.
func (c *UtxoCache) fetchEntry(dbTx database.Tx, outpoint wire.OutPoint) (*UtxoEntry, error) {
	// If the cache already has the entry, return it immediately.  Note that
	// nil entries are valid negative cache hits for spent outputs.
	if entry, found := c.entries[outpoint]; found {
		c.hits++
		return entry.Clone(), nil
	}

	// Increment cache misses.
	c.misses++

	// Fetch the entry from the database.
	//
	// NOTE: Missing entries are not considered an error here and instead
	// will result in nil entries in the view.  This is intentionally done so
	// other code can use the presence of an entry in the view as a way to
	// avoid attempting to reload it from the database.
	entry, err := dbFetchUtxoEntry(dbTx, outpoint)
	if err != nil {
		return nil, err
	}

	// Update the total entry size of the cache.
	if entry != nil {
		c.totalEntrySize += entry.size()
	}

	// Add the entry to the cache (negative hits included) and return a
	// cloned copy so it can safely be mutated by the caller.
	c.entries[outpoint] = entry
	return entry.Clone(), nil
}

// FetchEntry returns the specified transaction output from the utxo set.  A
// cloned copy of the entry is returned so it can safely be mutated by the
// caller without invalidating the cache.
//
// When there is no entry for the provided output, nil will be returned for
// both the entry and the error.
//
// This function is safe for concurrent access.
func (c *UtxoCache) FetchEntry(outpoint wire.OutPoint) (*UtxoEntry, error) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	var entry *UtxoEntry
	err := c.db.View(func(dbTx database.Tx) error {
		var err error
		entry, err = c.fetchEntry(dbTx, outpoint)
		return err
	})
	return entry, err
}

// FetchEntries adds the requested transaction outputs to the provided view.
// It first checks the cache for each output, and if an output does not exist
// in the cache, it will fetch it from the database.
//
// Upon completion of this function, the view will contain an entry for each
// requested outpoint.  Spent outputs, or those which otherwise don't exist,
// will result in a nil entry in the view.
//
// This function is safe for concurrent access.
func (c *UtxoCache) FetchEntries(filteredSet viewFilteredSet, view *UtxoViewpoint) error {
	c.cacheLock.Lock()
	err := c.db.View(func(dbTx database.Tx) error {
		for outpoint := range filteredSet {
			entry, err := c.fetchEntry(dbTx, outpoint)
			if err != nil {
				return err
			}

			// NOTE: Missing entries are not considered an error here and
			// instead will result in nil entries in the view.
			view.entries[outpoint] = entry
		}

		return nil
	})
	c.cacheLock.Unlock()

	return err
}

// Commit updates all entries in the cache based on the state of each entry in
// the provided view.
//
// All entries in the provided view that are marked as modified and spent are
// removed from the view.  Additionally, all entries that are added to the
// cache are removed from the provided view.
//
// This function is safe for concurrent access.
func (c *UtxoCache) Commit(view *UtxoViewpoint) {
	c.cacheLock.Lock()
	for outpoint, entry := range view.entries {
		// If the entry is nil, delete it from the view and continue.
		if entry == nil {
			delete(view.entries, outpoint)
			continue
		}

		// If the entry is not modified and not fresh, there is nothing to
		// do.
		if !entry.isModified() && !entry.isFresh() {
			continue
		}

		// If the entry is modified and spent, mark it as spent in the cache
		// and then delete it from the view.
		if entry.isModified() && entry.IsSpent() {
			c.spendEntry(outpoint)
			delete(view.entries, outpoint)
			continue
		}

		// At this point the entry is modified or fresh, but not spent, so
		// add it to the cache.
		c.addEntry(outpoint, entry)

		// All entries that are added to the cache are removed from the
		// provided view so the cache takes ownership of the entry and it is
		// not mutated by the caller afterwards.
		delete(view.entries, outpoint)
	}
	c.cacheLock.Unlock()
}

// calcEvictionHeight returns the eviction height based on the best height of
// the main chain and the last eviction height.  All entries that are
// contained in a block at a height less than the eviction height will be
// evicted from the cache when the cache reaches its maximum allowed size.
//
// Eviction is based on height since the height of the block that an entry is
// contained in is a proxy for how old the utxo is: recent utxos are much more
// likely to be spent in upcoming blocks than older utxos.
//
// This function MUST be called with the cache lock held.
func (c *UtxoCache) calcEvictionHeight(bestHeight uint32) uint32 {
	if bestHeight < c.lastEvictionHeight {
		return bestHeight
	}

	lastEvictionDepth := bestHeight - c.lastEvictionHeight
	numBlocksToEvict := math.Ceil(float64(lastEvictionDepth) * evictionPercentage)
	return c.lastEvictionHeight + uint32(numBlocksToEvict)
}

// shouldFlush returns whether or not a flush should be performed.
//
// If the maximum size of the cache has been reached, or if the periodic flush
// interval has been reached, then a flush is required.
//
// This function MUST be called with the cache lock held.
func (c *UtxoCache) shouldFlush(bestHash *chainhash.Hash) bool {
	// No need to flush if the cache has already been flushed through the
	// best hash.
	if c.lastFlushHash == *bestHash {
		return false
	}

	// Flush if the max size of the cache has been reached.
	if c.totalSize() >= c.maxSize {
		return true
	}

	// Flush if the periodic flush interval has been reached.
	return c.timeNow().Sub(c.lastFlushTime) >= periodicFlushInterval
}

// flush commits all modified entries to the database and conditionally evicts
// entries.
//
// It is important that the best block pointer is always updated in the same
// database transaction as the utxo set itself so that recovery always
// observes a consistent pair.
//
// This function MUST be called with the cache lock held.
func (c *UtxoCache) flush(bestHash *chainhash.Hash, bestHeight uint32, logFlush bool) error {
	// If the maximum allowed size of the cache has been reached, determine
	// the eviction height.
	var evictionHeight uint32
	memUsage := c.totalSize()
	if memUsage >= c.maxSize {
		evictionHeight = c.calcEvictionHeight(bestHeight)
	}

	if logFlush {
		memUsageMiB := float64(memUsage) / 1024 / 1024
		memUsagePercent := float64(memUsage) / float64(c.maxSize) * 100
		log.Debugf("UTXO cache flush starting (%d entries, %.2f MiB (%.2f%%), "+
			"%.2f%% hit ratio, height: %d)", len(c.entries), memUsageMiB,
			memUsagePercent, c.hitRatio(), bestHeight)
	}

	// Flush the modified entries in the cache to the database and update the
	// utxo set state in the database in the same atomic batch.
	err := c.db.Update(func(dbTx database.Tx) error {
		for outpoint, entry := range c.entries {
			if entry == nil {
				// Negative cache entries have no backing store state by
				// definition.
				continue
			}
			if !entry.isModified() && !entry.isFresh() {
				continue
			}

			err := dbPutUtxoEntry(dbTx, outpoint, entry)
			if err != nil {
				return err
			}
		}

		// Update the best block the utxo set represents.
		return dbPutUtxoSetBestHash(dbTx, bestHash)
	})
	if err != nil {
		return err
	}

	// Update the entries in the cache after flushing to the database.  This
	// is done after the updates to the database have been successfully
	// committed to ensure an unexpected database error would not leave the
	// cache in an inconsistent state.
	for outpoint, entry := range c.entries {
		// Conditionally evict entries from the cache.  Entries that are nil
		// or spent are always evicted since they are unlikely to be accessed
		// again.  Additionally, entries that are contained in a block with a
		// height less than the eviction height are evicted.
		if entry == nil || entry.IsSpent() ||
			entry.blockHeight < evictionHeight {

			delete(c.entries, outpoint)
			if entry != nil {
				c.totalEntrySize -= entry.size()
			}
			continue
		}

		// If the entry wasn't removed from the cache, clear the modified and
		// fresh flags since it has been written to the database.
		entry.state &^= utxoStateModified
		entry.state &^= utxoStateFresh
	}

	// Update the last flush on the cache instance now that the flush has
	// been completed.
	c.lastFlushHash = *bestHash
	c.lastFlushTime = c.timeNow()

	// Update the last eviction height on the cache instance if we evicted
	// just now.
	if evictionHeight != 0 {
		c.lastEvictionHeight = evictionHeight
	}

	if logFlush {
		memUsage = c.totalSize()
		memUsageMiB := float64(memUsage) / 1024 / 1024
		memUsagePercent := float64(memUsage) / float64(c.maxSize) * 100
		log.Debugf("UTXO cache flush completed (%d entries remaining, "+
			"%.2f MiB (%.2f%%))", len(c.entries), memUsageMiB, memUsagePercent)
	}

	return nil
}

// MaybeFlush conditionally flushes the cache to the database.
//
// If the maximum size of the cache has been reached, or if the periodic flush
// interval has been reached, then a flush is required.  Additionally, a flush
// can be forced by setting the force flush parameter.
//
// This function is safe for concurrent access.
func (c *UtxoCache) MaybeFlush(bestHash *chainhash.Hash, bestHeight uint32,
	forceFlush bool, logFlush bool) error {

	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	if forceFlush || c.shouldFlush(bestHash) {
		return c.flush(bestHash, bestHeight, logFlush)
	}
	return nil
}

// LastFlushHash returns the block hash of the last cache flush.
//
// This function is safe for concurrent access.
func (c *UtxoCache) LastFlushHash() chainhash.Hash {
	c.cacheLock.Lock()
	hash := c.lastFlushHash
	c.cacheLock.Unlock()
	return hash
}

// InitUtxoCache initializes the utxo cache by ensuring that the utxo set is
// caught up to the tip of the best chain.
//
// Since the cache is only flushed to the database periodically, the utxo set
// may not be caught up to the tip of the best chain.  This function catches
// the utxo set up by replaying all blocks from the block after the block that
// was last flushed to the tip block through the cache.
//
// This function should only be called during initialization.
func (b *BlockChain) InitUtxoCache(tip *blockNode) error {
	log.Infof("UTXO cache initializing (max size: %d MiB)...",
		b.utxoCache.maxSize/1024/1024)

	// Fetch the utxo set state from the database.
	var state *chainhash.Hash
	err := b.utxoCache.db.View(func(dbTx database.Tx) error {
		var err error
		state, err = dbFetchUtxoSetBestHash(dbTx)
		return err
	})
	if err != nil {
		return err
	}

	// If the state is nil, update the state to the tip.  This should only be
	// the case when starting from a fresh database or a database that has
	// not been run with the utxo cache yet.
	if state == nil {
		state = &tip.hash
		err := b.utxoCache.db.Update(func(dbTx database.Tx) error {
			return dbPutUtxoSetBestHash(dbTx, state)
		})
		if err != nil {
			return err
		}
	}

	// Set the last flush hash from the saved state since that is where we
	// are starting from.
	b.utxoCache.lastFlushHash = *state

	// If the state is already caught up to the tip, there is nothing to do.
	if *state == tip.hash {
		log.Info("UTXO cache initialization completed")
		return nil
	}

	// Find the fork point between the current tip and the last flushed
	// block.
	lastFlushedNode := b.index.LookupNode(state)
	if lastFlushedNode == nil {
		// The last flushed block node must exist unless the database is
		// corrupted.
		return ruleError(ErrUtxoBackendCorruption, fmt.Sprintf("last "+
			"flushed utxo block %v does not exist in the block index", state))
	}
	fork := b.bestChain.FindFork(lastFlushedNode)

	// Disconnect all of the blocks back to the point of the fork.  This
	// entails loading the blocks and their associated undo data from the
	// flat-file store and using that information to unspend all of the spent
	// txos and remove the utxos created by the blocks.
	//
	// Blocks will only need to be disconnected during initialization if an
	// unclean shutdown occurred between a block being disconnected and the
	// cache being flushed.  Since the cache is always flushed immediately
	// after disconnecting a block, this will occur very infrequently.
	view := NewUtxoViewpoint()
	view.SetBestHash(&tip.hash)
	for n := lastFlushedNode; n != nil && n != fork; n = n.parent {
		select {
		case <-b.interrupt:
			return errInterruptRequested
		default:
		}

		block, err := b.fetchBlockByNode(n)
		if err != nil {
			return err
		}
		undo, err := b.fetchUndoByNode(n)
		if err != nil {
			return err
		}
		if err := view.fetchBlockUtxos(b.utxoCache, block); err != nil {
			return err
		}
		if _, err := view.disconnectTransactions(block, undo); err != nil {
			return err
		}

		b.utxoCache.Commit(view)
		err = b.utxoCache.MaybeFlush(&n.parent.hash, uint32(n.parent.height),
			false, true)
		if err != nil {
			return err
		}
	}

	// Determine the blocks to attach after the fork point, back to front, so
	// they are replayed in the correct order.
	replayNodes := make([]*blockNode, tip.height-fork.height)
	for n := tip; n != nil && n != fork; n = n.parent {
		replayNodes[n.height-fork.height-1] = n
	}

	// Replay all of the blocks through the cache.
	for _, n := range replayNodes {
		select {
		case <-b.interrupt:
			return errInterruptRequested
		default:
		}

		block, err := b.fetchBlockByNode(n)
		if err != nil {
			return err
		}

		// Update the view to mark all utxos referenced by the block as spent
		// and add all transactions being created by this block to it.
		if err := view.fetchInputUtxos(b.utxoCache, block); err != nil {
			return err
		}
		if err := view.connectTransactions(block, nil); err != nil {
			return err
		}

		b.utxoCache.Commit(view)
		err = b.utxoCache.MaybeFlush(&n.hash, uint32(n.height), false, true)
		if err != nil {
			return err
		}
	}

	log.Info("UTXO cache initialization completed")
	return nil
}

// ShutdownUtxoCache flushes the utxo cache to the database on shutdown.
//
// This function should only be called during shutdown.
func (b *BlockChain) ShutdownUtxoCache() {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	tip := b.bestChain.Tip()

	// Force a cache flush and log the flush details.
	b.utxoCache.MaybeFlush(&tip.hash, uint32(tip.height), true, true)
}

// FetchUtxoEntry loads and returns the requested unspent transaction output
// from the point of view of the main chain tip.
//
// NOTE: Requesting an output for which there is no data will NOT return an
// error.  Instead both the entry and the error will be nil.  This is done to
// allow pruning of spent transaction outputs.  In practice this means the
// caller must check if the returned entry is nil before invoking methods on
// it.
//
// This function is safe for concurrent access however the returned entry (if
// any) is NOT.
func (b *BlockChain) FetchUtxoEntry(outpoint wire.OutPoint) (*UtxoEntry, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	return b.utxoCache.FetchEntry(outpoint)
}

// FetchUtxoView loads unspent transaction outputs for the inputs referenced
// by the passed transaction from the point of view of the main chain tip.  It
// also attempts to fetch the utxos for the outputs of the transaction itself
// so the returned view can be examined for duplicate transactions.
//
// This function is safe for concurrent access however the returned view is
// NOT.
func (b *BlockChain) FetchUtxoView(tx *btcutil.Tx) (*UtxoViewpoint, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()

	// Create a set of needed outputs based on those referenced by the
	// inputs of the passed transaction and the outputs of the transaction
	// itself.
	view := NewUtxoViewpoint()
	filteredSet := make(viewFilteredSet)
	outpoint := wire.OutPoint{Hash: *tx.Hash()}
	for txOutIdx := range tx.MsgTx().TxOut {
		outpoint.Index = uint32(txOutIdx)
		filteredSet.add(view, outpoint)
	}
	if !IsCoinBase(tx) {
		for _, txIn := range tx.MsgTx().TxIn {
			filteredSet.add(view, txIn.PreviousOutPoint)
		}
	}

	tip := b.bestChain.Tip()
	view.SetBestHash(&tip.hash)
	err := view.fetchUtxosMain(b.utxoCache, filteredSet)
	return view, err
}
