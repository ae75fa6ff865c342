// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/container/lru"

	"github.com/smartcash/smartd/blockchain"
	"github.com/smartcash/smartd/chaincfg"
)

const (
	// orphanTTL is the maximum amount of time an orphan is allowed to stay
	// in the orphan pool before it expires and is evicted during the next
	// scan.
	orphanTTL = time.Minute * 15

	// orphanExpireScanInterval is the minimum amount of time in between
	// scans of the orphan pool to evict expired transactions.
	orphanExpireScanInterval = time.Minute * 5

	// maxRelayFeeMultiplier is the factor that we disallow fees / kB above
	// the minimum tx fee.
	maxRelayFeeMultiplier = 1e4

	// maxReplacementEvictions is the maximum number of transactions that
	// can be evicted from the mempool when accepting a single replacement
	// transaction.
	maxReplacementEvictions = 100

	// maxRecentlyRejectedTxns is the maximum number of recently rejected
	// transaction hashes tracked in order to avoid revalidating them.
	maxRecentlyRejectedTxns = 5000

	// rollingMinFeeHalfLife is the amount of time it takes for the dynamic
	// minimum fee imposed after the pool is trimmed for size to decay to
	// half of its value.
	rollingMinFeeHalfLife = time.Hour * 12
)

// Tag represents an identifier to use for tagging orphan transactions.  The
// caller may choose any scheme it desires, however it is common to use peer
// IDs so that orphans can be identified by which peer first relayed them.
type Tag uint64

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// Policy defines the various mempool configuration options related to
	// policy.
	Policy Policy

	// ChainParams identifies which chain parameters the txpool is
	// associated with.
	ChainParams *chaincfg.Params

	// FetchUtxoView defines the function to use to fetch unspent
	// transaction output information.
	FetchUtxoView func(*btcutil.Tx) (*blockchain.UtxoViewpoint, error)

	// BestHeight defines the function to use to access the block height of
	// the current best chain.
	BestHeight func() int64

	// BestHash defines the function to use to access the block hash of the
	// current best chain.
	BestHash func() *chainhash.Hash

	// MainChainHasBlock defines the function to use to determine whether or
	// not the block with the provided hash is part of the main chain.  It
	// is used to decide whether cached lock points are still valid.
	MainChainHasBlock func(*chainhash.Hash) bool

	// PastMedianTime defines the function to use in order to access the
	// median time calculated from the point-of-view of the current chain
	// tip within the best chain.
	PastMedianTime func() time.Time

	// CalcSequenceLock defines the function to use in order to generate
	// the current sequence lock for the given transaction using the passed
	// utxo view.
	CalcSequenceLock func(*btcutil.Tx, *blockchain.UtxoViewpoint) (*blockchain.SequenceLock, error)

	// IsDeploymentActive returns true if the target deployment id is
	// active, and false otherwise.  The mempool uses this function to gauge
	// if transactions using new to be soft-forked rules should be accepted
	// or not.
	IsDeploymentActive func(deploymentID int) (bool, error)

	// SigCache defines a signature cache to use.
	SigCache *txscript.SigCache

	// StandardVerifyFlags defines the function to retrieve the flags to
	// use for verifying scripts for the block after the current best block.
	//
	// This function must be safe for concurrent access.
	StandardVerifyFlags func() (txscript.ScriptFlags, error)

	// MandatoryVerifyFlags defines the function to retrieve the mandatory
	// subset of the verification flags.  A script that fails under the
	// standard flags but passes under the mandatory ones is a policy
	// failure rather than a consensus failure.
	//
	// This function must be safe for concurrent access.
	MandatoryVerifyFlags func() (txscript.ScriptFlags, error)
}

// Policy houses the policy (configuration parameters) which is used to
// control the mempool.
type Policy struct {
	// MaxTxVersion is the transaction version that the mempool should
	// accept.  All transactions above this version are rejected as
	// non-standard.
	MaxTxVersion int32

	// AcceptNonStd defines whether to accept non-standard transactions.  If
	// true, non-standard transactions will be accepted into the mempool.
	AcceptNonStd bool

	// FreeTxRelayLimit defines the given amount in thousands of bytes per
	// minute that transactions with no fee are rate limited to.
	FreeTxRelayLimit float64

	// MaxOrphanTxs is the maximum number of orphan transactions that can be
	// queued.
	MaxOrphanTxs int

	// MaxOrphanTxSize is the maximum size allowed for orphan transactions.
	// This helps prevent memory exhaustion attacks from sending a lot of
	// big orphans.
	MaxOrphanTxSize int

	// MaxSigOpCostPerTx is the cumulative maximum cost of all the signature
	// operations in a single transaction we will relay or mine.  It is a
	// fraction of the max signature operations for a block.
	MaxSigOpCostPerTx int

	// MinRelayTxFee defines the minimum transaction fee in satoshi/1000
	// bytes to be considered a non-zero fee.
	MinRelayTxFee btcutil.Amount

	// MaxTxAge is the maximum amount of time a transaction is allowed to
	// remain in the pool before it is expired and evicted.
	MaxTxAge time.Duration

	// MaxSizeBytes is the maximum total size, in bytes, of the transactions
	// the pool will hold before trimming the lowest fee-rate packages.
	MaxSizeBytes int64

	// MaxAncestors is the maximum number of in-pool ancestors, including
	// the transaction itself, a transaction may have.
	MaxAncestors int64

	// MaxAncestorSizeBytes is the maximum cumulative size of a transaction
	// and its in-pool ancestors.
	MaxAncestorSizeBytes int64

	// MaxDescendants is the maximum number of in-pool descendants,
	// including the transaction itself, a transaction may have.
	MaxDescendants int64

	// MaxDescendantSizeBytes is the maximum cumulative size of a
	// transaction and its in-pool descendants.
	MaxDescendantSizeBytes int64
}

// LockPoints houses the cached sequence lock evaluation of a transaction: the
// earliest height and median time at which it becomes spendable, along with
// the chain tip the evaluation was made against.  The cached values remain
// valid only while the pinning block remains on the active chain.
type LockPoints struct {
	Height       int64
	Time         int64
	PinningBlock chainhash.Hash
}

// TxDesc is a descriptor containing a transaction in the mempool along with
// additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *btcutil.Tx

	// Added is the time when the entry was added to the pool.
	Added time.Time

	// Height is the block height when the entry was added to the pool.
	Height int64

	// Fee is the total fee the transaction associated with the entry pays.
	Fee int64

	// ModifiedFee is the fee with any prioritisation deltas applied.
	ModifiedFee int64

	// Size is the serialized size of the transaction.
	Size int64

	// SigOpCost is the cumulative weighted signature operation cost of the
	// transaction.
	SigOpCost int

	// SpendsCoinbase tracks whether or not the transaction spends at least
	// one coinbase output, in which case a reorganization can retroactively
	// invalidate it through the maturity requirement.
	SpendsCoinbase bool

	// LockPoints caches the relative lock-time evaluation of the
	// transaction.
	LockPoints LockPoints

	// The following fields house the aggregate statistics over the
	// transitive in-pool ancestor and descendant sets of the transaction.
	// Both include the transaction itself.
	AncestorCount   int64
	AncestorSize    int64
	AncestorFees    int64
	DescendantCount int64
	DescendantSize  int64
	DescendantFees  int64

	// parents and children track the direct in-pool relatives of the
	// transaction by hash.
	parents  map[chainhash.Hash]struct{}
	children map[chainhash.Hash]struct{}
}

// FeePerKB returns the fee the transaction pays per 1000 bytes.
func (txD *TxDesc) FeePerKB() int64 {
	return txD.Fee * 1000 / txD.Size
}

// descendantFeeRate returns the fee rate of the transaction's descendant
// package, which is the metric used when trimming the pool for size.
func (txD *TxDesc) descendantFeeRate() int64 {
	return txD.DescendantFees * 1000 / txD.DescendantSize
}

// orphanTx is a normal transaction that references an ancestor transaction
// that is not yet available.  It also contains additional information related
// to it such as an expiration time to help prevent caching the orphan
// forever.
type orphanTx struct {
	tx         *btcutil.Tx
	tag        Tag
	expiration time.Time
}

// TxPool is used as a source of transactions that need to be mined into
// blocks and relayed to other peers.  It is safe for concurrent access from
// multiple peers.
type TxPool struct {
	// The following variables must only be used atomically.
	lastUpdated int64 // last time pool was updated.

	mtx       sync.RWMutex
	cfg       Config
	pool      map[chainhash.Hash]*TxDesc
	outpoints map[wire.OutPoint]*btcutil.Tx
	totalSize int64

	orphans       map[chainhash.Hash]*orphanTx
	orphansByPrev map[wire.OutPoint]map[chainhash.Hash]*btcutil.Tx

	// rejectedTxns caches the hashes of transactions that were recently
	// rejected so they are not revalidated on every relay.
	rejectedTxns *lru.Set[chainhash.Hash]

	// feeDeltas houses fee prioritisation adjustments applied on top of the
	// actual fees of transactions.
	feeDeltas map[chainhash.Hash]int64

	// pennyTotal is the exponentially decaying total for free transaction
	// relay and lastPennyUnix is the unix time of the last "penny spend".
	pennyTotal    float64
	lastPennyUnix int64

	// rollingMinFee is the dynamic minimum fee rate, in satoshi/kB, imposed
	// after the pool has been trimmed for size.  It decays with a half life
	// of rollingMinFeeHalfLife.
	rollingMinFee           int64
	rollingMinFeeLastUpdate int64

	// nextExpireScan is the time after which the orphan pool will be
	// scanned in order to evict orphans.  This is NOT a hard deadline as
	// the scan will only run when an orphan is added to the pool as opposed
	// to on an unconditional timer.
	nextExpireScan time.Time
}

// New returns a new memory pool for validating and storing standalone
// transactions until they are mined into a block.
func New(cfg *Config) *TxPool {
	return &TxPool{
		cfg:            *cfg,
		pool:           make(map[chainhash.Hash]*TxDesc),
		outpoints:      make(map[wire.OutPoint]*btcutil.Tx),
		orphans:        make(map[chainhash.Hash]*orphanTx),
		orphansByPrev:  make(map[wire.OutPoint]map[chainhash.Hash]*btcutil.Tx),
		rejectedTxns:   lru.NewSet[chainhash.Hash](maxRecentlyRejectedTxns),
		feeDeltas:      make(map[chainhash.Hash]int64),
		nextExpireScan: time.Now().Add(orphanExpireScanInterval),
	}
}

// removeOrphan removes the passed orphan transaction from the orphan pool and
// previous orphan index.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeOrphan(tx *btcutil.Tx, removeRedeemers bool) {
	// Nothing to do if passed tx is not an orphan.
	txHash := tx.Hash()
	otx, exists := mp.orphans[*txHash]
	if !exists {
		return
	}

	// Remove the reference from the previous orphan index.
	for _, txIn := range otx.tx.MsgTx().TxIn {
		orphans, exists := mp.orphansByPrev[txIn.PreviousOutPoint]
		if exists {
			delete(orphans, *txHash)

			// Remove the map entry altogether if there are no longer any
			// orphans which depend on it.
			if len(orphans) == 0 {
				delete(mp.orphansByPrev, txIn.PreviousOutPoint)
			}
		}
	}

	// Remove any orphans that redeem outputs from this one if requested.
	if removeRedeemers {
		prevOut := wire.OutPoint{Hash: *txHash}
		for txOutIdx := range tx.MsgTx().TxOut {
			prevOut.Index = uint32(txOutIdx)
			for _, orphan := range mp.orphansByPrev[prevOut] {
				mp.removeOrphan(orphan, true)
			}
		}
	}

	// Remove the transaction from the orphan pool.
	delete(mp.orphans, *txHash)
}

// RemoveOrphan removes the passed orphan transaction from the orphan pool and
// previous orphan index.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveOrphan(tx *btcutil.Tx) {
	mp.mtx.Lock()
	mp.removeOrphan(tx, false)
	mp.mtx.Unlock()
}

// limitNumOrphans limits the number of orphan transactions by evicting a
// random orphan if adding a new one would cause it to overflow the max
// allowed.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) limitNumOrphans() {
	// Scan through the orphan pool and remove any expired orphans when it's
	// time.  This is done for efficiency so the scan only happens
	// periodically instead of on every orphan added to the pool.
	if now := time.Now(); now.After(mp.nextExpireScan) {
		origNumOrphans := len(mp.orphans)
		for _, otx := range mp.orphans {
			if now.After(otx.expiration) {
				// Remove redeemers too since the missing parents are very
				// unlikely to ever materialize since the orphan has already
				// been around more than long enough for them to be
				// delivered.
				mp.removeOrphan(otx.tx, true)
			}
		}

		// Set next expiration scan to occur after the scan interval.
		mp.nextExpireScan = now.Add(orphanExpireScanInterval)

		// Log the number of expired orphans if any were removed.
		numExpired := origNumOrphans - len(mp.orphans)
		if numExpired > 0 {
			log.Debugf("Expired %d %s (remaining: %d)", numExpired,
				pickNoun(numExpired, "orphan", "orphans"), len(mp.orphans))
		}
	}

	// Nothing to do if adding another orphan will not cause the pool to
	// exceed the limit.
	if len(mp.orphans)+1 <= mp.cfg.Policy.MaxOrphanTxs {
		return
	}

	// Remove a random entry from the map.  For most compilers, Go's range
	// statement iterates starting at a random item although that is not
	// 100% guaranteed by the spec.  The iteration order is not important
	// here because an adversary would have to be able to pull off
	// preimage attacks on the hashing function in order to target eviction
	// of specific entries anyways.
	for _, otx := range mp.orphans {
		// Don't remove redeemers in the case of a random eviction since it
		// is quite possible it might be needed again shortly.
		mp.removeOrphan(otx.tx, false)
		break
	}
}

// addOrphan adds an orphan transaction to the orphan pool.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addOrphan(tx *btcutil.Tx, tag Tag) {
	// Nothing to do if no orphans are allowed.
	if mp.cfg.Policy.MaxOrphanTxs <= 0 {
		return
	}

	// Limit the number orphan transactions to prevent memory exhaustion.
	// This will periodically remove any expired orphans and evict a random
	// orphan if space is still needed.
	mp.limitNumOrphans()

	mp.orphans[*tx.Hash()] = &orphanTx{
		tx:         tx,
		tag:        tag,
		expiration: time.Now().Add(orphanTTL),
	}
	for _, txIn := range tx.MsgTx().TxIn {
		if _, exists := mp.orphansByPrev[txIn.PreviousOutPoint]; !exists {
			mp.orphansByPrev[txIn.PreviousOutPoint] =
				make(map[chainhash.Hash]*btcutil.Tx)
		}
		mp.orphansByPrev[txIn.PreviousOutPoint][*tx.Hash()] = tx
	}

	log.Debugf("Stored orphan transaction %v (total: %d)", tx.Hash(),
		len(mp.orphans))
}

// maybeAddOrphan potentially adds an orphan to the orphan pool.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) maybeAddOrphan(tx *btcutil.Tx, tag Tag) error {
	// Ignore orphan transactions that are too large.
	serializedLen := tx.MsgTx().SerializeSize()
	if serializedLen > mp.cfg.Policy.MaxOrphanTxSize {
		str := fmt.Sprintf("orphan transaction size of %d bytes is larger "+
			"than max allowed size of %d bytes", serializedLen,
			mp.cfg.Policy.MaxOrphanTxSize)
		return txRuleError(ErrOrphanPolicyViolation, str)
	}

	// Add the orphan if the none of the above disqualified it.
	mp.addOrphan(tx, tag)

	return nil
}

// removeOrphanDoubleSpends removes all orphans which spend outputs spent by
// the passed transaction from the orphan pool.  Removing those orphans then
// leads to removing all orphans which rely on them, recursively.  This is
// necessary when a transaction is added to the main pool because it may spend
// outputs that orphans also spend.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeOrphanDoubleSpends(tx *btcutil.Tx) {
	msgTx := tx.MsgTx()
	for _, txIn := range msgTx.TxIn {
		for _, orphan := range mp.orphansByPrev[txIn.PreviousOutPoint] {
			mp.removeOrphan(orphan, true)
		}
	}
}

// isTransactionInPool returns whether or not the passed transaction already
// exists in the main pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) isTransactionInPool(hash *chainhash.Hash) bool {
	_, exists := mp.pool[*hash]
	return exists
}

// IsTransactionInPool returns whether or not the passed transaction already
// exists in the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsTransactionInPool(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	inPool := mp.isTransactionInPool(hash)
	mp.mtx.RUnlock()
	return inPool
}

// isOrphanInPool returns whether or not the passed transaction already exists
// in the orphan pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) isOrphanInPool(hash *chainhash.Hash) bool {
	_, exists := mp.orphans[*hash]
	return exists
}

// IsOrphanInPool returns whether or not the passed transaction already exists
// in the orphan pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsOrphanInPool(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	inPool := mp.isOrphanInPool(hash)
	mp.mtx.RUnlock()
	return inPool
}

// haveTransaction returns whether or not the passed transaction already
// exists in the main pool or in the orphan pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) haveTransaction(hash *chainhash.Hash) bool {
	return mp.isTransactionInPool(hash) || mp.isOrphanInPool(hash)
}

// HaveTransaction returns whether or not the passed transaction already
// exists in the main pool or in the orphan pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	haveTx := mp.haveTransaction(hash)
	mp.mtx.RUnlock()
	return haveTx
}

// ancestorsOf returns all of the transitive in-pool ancestors of the passed
// entry, excluding the entry itself.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) ancestorsOf(txD *TxDesc) map[chainhash.Hash]*TxDesc {
	ancestors := make(map[chainhash.Hash]*TxDesc)
	queue := make([]*TxDesc, 0, len(txD.parents))
	for parentHash := range txD.parents {
		if parent, exists := mp.pool[parentHash]; exists {
			queue = append(queue, parent)
		}
	}
	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]
		if _, exists := ancestors[*entry.Tx.Hash()]; exists {
			continue
		}
		ancestors[*entry.Tx.Hash()] = entry
		for parentHash := range entry.parents {
			if parent, exists := mp.pool[parentHash]; exists {
				queue = append(queue, parent)
			}
		}
	}
	return ancestors
}

// descendantsOf returns all of the transitive in-pool descendants of the
// passed entry, excluding the entry itself.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) descendantsOf(txD *TxDesc) map[chainhash.Hash]*TxDesc {
	descendants := make(map[chainhash.Hash]*TxDesc)
	queue := make([]*TxDesc, 0, len(txD.children))
	for childHash := range txD.children {
		if child, exists := mp.pool[childHash]; exists {
			queue = append(queue, child)
		}
	}
	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]
		if _, exists := descendants[*entry.Tx.Hash()]; exists {
			continue
		}
		descendants[*entry.Tx.Hash()] = entry
		for childHash := range entry.children {
			if child, exists := mp.pool[childHash]; exists {
				queue = append(queue, child)
			}
		}
	}
	return descendants
}

// unlinkTransaction removes the passed entry from the pool and updates the
// aggregate ancestor and descendant statistics of all of its relatives to no
// longer account for it.  It does not remove descendants; cascading removal
// is handled by the callers that require it.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) unlinkTransaction(txD *TxDesc) {
	txHash := txD.Tx.Hash()

	// Subtract this entry from the descendant aggregates of all of its
	// ancestors and from the ancestor aggregates of all of its descendants.
	for _, ancestor := range mp.ancestorsOf(txD) {
		ancestor.DescendantCount--
		ancestor.DescendantSize -= txD.Size
		ancestor.DescendantFees -= txD.ModifiedFee
	}
	for _, descendant := range mp.descendantsOf(txD) {
		descendant.AncestorCount--
		descendant.AncestorSize -= txD.Size
		descendant.AncestorFees -= txD.ModifiedFee
	}

	// Unlink the direct relatives.  The children of the removed entry keep
	// their remaining in-pool parents.
	for parentHash := range txD.parents {
		if parent, exists := mp.pool[parentHash]; exists {
			delete(parent.children, *txHash)
		}
	}
	for childHash := range txD.children {
		if child, exists := mp.pool[childHash]; exists {
			delete(child.parents, *txHash)
		}
	}

	// Remove the transaction and mark the pool as updated.
	for _, txIn := range txD.Tx.MsgTx().TxIn {
		delete(mp.outpoints, txIn.PreviousOutPoint)
	}
	delete(mp.pool, *txHash)
	mp.totalSize -= txD.Size
	atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())
}

// removeTransaction removes the passed transaction from the mempool.  When
// the removeRedeemers flag is set, any transactions that redeem outputs of
// the removed transaction will also be removed recursively from the mempool,
// as they would otherwise become orphans.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeTransaction(tx *btcutil.Tx, removeRedeemers bool) {
	txHash := tx.Hash()
	txD, exists := mp.pool[*txHash]
	if !exists {
		return
	}

	if removeRedeemers {
		// Remove the deepest descendants first so each removal only has to
		// consider relatives that are still in the pool.
		descendants := mp.descendantsOf(txD)
		for len(descendants) > 0 {
			for hash, descendant := range descendants {
				if descendant.DescendantCount == 1 {
					mp.unlinkTransaction(descendant)
					delete(descendants, hash)
				}
			}
		}
	}

	mp.unlinkTransaction(txD)
}

// RemoveTransaction removes the passed transaction from the mempool.  When
// the removeRedeemers flag is set, any transactions that redeem outputs of
// the removed transaction will also be removed recursively from the mempool,
// as they would otherwise become orphans.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(tx *btcutil.Tx, removeRedeemers bool) {
	mp.mtx.Lock()
	mp.removeTransaction(tx, removeRedeemers)
	mp.mtx.Unlock()
}

// RemoveDoubleSpends removes all transactions which spend outputs spent by
// the passed transaction from the memory pool.  Removing those transactions
// then leads to removing all transactions which rely on them, recursively.
// This is necessary when a block is connected to the main chain because the
// block may contain transactions which were previously unknown to the memory
// pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveDoubleSpends(tx *btcutil.Tx) {
	// Protect concurrent access.
	mp.mtx.Lock()
	for _, txIn := range tx.MsgTx().TxIn {
		if txRedeemer, ok := mp.outpoints[txIn.PreviousOutPoint]; ok {
			if !txRedeemer.Hash().IsEqual(tx.Hash()) {
				mp.removeTransaction(txRedeemer, true)
			}
		}
	}
	mp.mtx.Unlock()
}

// addTransaction adds the passed transaction to the memory pool.  It should
// not be called directly as it doesn't perform any validation.  This is a
// helper for maybeAcceptTransaction.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addTransaction(tx *btcutil.Tx, height, fee, modifiedFee int64,
	sigOpCost int, spendsCoinbase bool, lockPoints LockPoints) *TxDesc {

	txD := &TxDesc{
		Tx:              tx,
		Added:           time.Now(),
		Height:          height,
		Fee:             fee,
		ModifiedFee:     modifiedFee,
		Size:            int64(tx.MsgTx().SerializeSize()),
		SigOpCost:       sigOpCost,
		SpendsCoinbase:  spendsCoinbase,
		LockPoints:      lockPoints,
		parents:         make(map[chainhash.Hash]struct{}),
		children:        make(map[chainhash.Hash]struct{}),
		AncestorCount:   1,
		DescendantCount: 1,
	}
	txD.AncestorSize = txD.Size
	txD.AncestorFees = modifiedFee
	txD.DescendantSize = txD.Size
	txD.DescendantFees = modifiedFee

	// Link the entry to its direct in-pool parents.
	for _, txIn := range tx.MsgTx().TxIn {
		parentHash := txIn.PreviousOutPoint.Hash
		if parent, exists := mp.pool[parentHash]; exists {
			txD.parents[parentHash] = struct{}{}
			parent.children[*tx.Hash()] = struct{}{}
		}
	}

	// Accumulate the aggregates over the transitive ancestor closure and
	// add this entry's contribution to the descendant aggregates of each
	// ancestor.
	for _, ancestor := range mp.ancestorsOf(txD) {
		txD.AncestorCount++
		txD.AncestorSize += ancestor.Size
		txD.AncestorFees += ancestor.ModifiedFee

		ancestor.DescendantCount++
		ancestor.DescendantSize += txD.Size
		ancestor.DescendantFees += txD.ModifiedFee
	}

	mp.pool[*tx.Hash()] = txD
	for _, txIn := range tx.MsgTx().TxIn {
		mp.outpoints[txIn.PreviousOutPoint] = tx
	}
	mp.totalSize += txD.Size
	atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())

	return txD
}

// checkPoolDoubleSpend checks whether or not the passed transaction is
// attempting to spend coins already spent by other transactions in the pool
// and returns the set of conflicting pool entries when all of the conflicts
// are eligible for replacement.  When any conflict does not signal
// replaceability, an error is returned.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) checkPoolDoubleSpend(tx *btcutil.Tx) (map[chainhash.Hash]*TxDesc, error) {
	conflicts := make(map[chainhash.Hash]*TxDesc)
	for _, txIn := range tx.MsgTx().TxIn {
		conflict, ok := mp.outpoints[txIn.PreviousOutPoint]
		if !ok {
			continue
		}

		// Reject the transaction when the conflict does not opt in to
		// replacement.
		conflictDesc := mp.pool[*conflict.Hash()]
		if !signalsReplacement(conflictDesc.Tx.MsgTx()) {
			str := fmt.Sprintf("output %v already spent by transaction %v "+
				"in the memory pool", txIn.PreviousOutPoint,
				conflict.Hash())
			return nil, txRuleError(ErrMempoolDoubleSpend, str)
		}

		conflicts[*conflict.Hash()] = conflictDesc
	}
	return conflicts, nil
}

// signalsReplacement returns whether or not the passed transaction signals
// that it may be replaced in the pool by a conflicting transaction.  A
// transaction signals replaceability when any of its inputs has a sequence
// number below the threshold defined by BIP 125.
func signalsReplacement(msgTx *wire.MsgTx) bool {
	for _, txIn := range msgTx.TxIn {
		if txIn.Sequence < wire.MaxTxInSequenceNum-1 {
			return true
		}
	}
	return false
}

// validateReplacement enforces the replace-by-fee policy against the passed
// replacement transaction and the entries it directly conflicts with.  It
// returns the full set of transactions that will be evicted, which is the
// direct conflicts along with all of their in-pool descendants.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) validateReplacement(tx *btcutil.Tx, txFee int64, txSize int64,
	conflicts map[chainhash.Hash]*TxDesc) (map[chainhash.Hash]*TxDesc, error) {

	// Gather the direct conflicts and all of their descendants, bounding
	// the total that may be evicted.
	evict := make(map[chainhash.Hash]*TxDesc)
	for hash, conflict := range conflicts {
		evict[hash] = conflict
		for descHash, descendant := range mp.descendantsOf(conflict) {
			evict[descHash] = descendant
		}
	}
	if len(evict) > maxReplacementEvictions {
		str := fmt.Sprintf("replacement transaction %v evicts %d "+
			"transactions which is more than the allowed max of %d",
			tx.Hash(), len(evict), maxReplacementEvictions)
		return nil, txRuleError(ErrTooManyReplacements, str)
	}

	// The replacement must pay a higher fee rate than each of the
	// transactions it directly conflicts with, otherwise it provides no
	// incentive to replace them.
	txFeeRate := txFee * 1000 / txSize
	for _, conflict := range conflicts {
		if txFeeRate <= conflict.FeePerKB() {
			str := fmt.Sprintf("replacement transaction %v has an "+
				"insufficient fee rate: needs more than %d, has %d",
				tx.Hash(), conflict.FeePerKB(), txFeeRate)
			return nil, txRuleError(ErrReplacementInsufficientFee, str)
		}
	}

	// The replacement must also pay for its own bandwidth on top of the
	// absolute fees of everything it evicts at the minimum relay rate.
	var conflictsFee int64
	for _, evicted := range evict {
		conflictsFee += evicted.Fee
	}
	minFee := conflictsFee + calcMinRequiredTxRelayFee(txSize,
		mp.cfg.Policy.MinRelayTxFee)
	if txFee < minFee {
		str := fmt.Sprintf("replacement transaction %v has an insufficient "+
			"absolute fee: needs %d, has %d", tx.Hash(), minFee, txFee)
		return nil, txRuleError(ErrReplacementInsufficientFee, str)
	}

	// The replacement must not introduce previously-unconfirmed inputs that
	// were not already spent by the transactions it conflicts with, which
	// prevents low feerate junk from being pinned into the pool through
	// replacements.
	conflictInputs := make(map[wire.OutPoint]struct{})
	for _, conflict := range conflicts {
		for _, txIn := range conflict.Tx.MsgTx().TxIn {
			conflictInputs[txIn.PreviousOutPoint] = struct{}{}
		}
	}
	for _, txIn := range tx.MsgTx().TxIn {
		if _, ok := conflictInputs[txIn.PreviousOutPoint]; ok {
			continue
		}
		if _, ok := mp.pool[txIn.PreviousOutPoint.Hash]; ok {
			str := fmt.Sprintf("replacement transaction %v spends new "+
				"unconfirmed input %v not found in conflicting "+
				"transactions", tx.Hash(), txIn.PreviousOutPoint)
			return nil, txRuleError(ErrReplacementAddsUnconfirmed, str)
		}
	}

	return evict, nil
}

// checkAncestorLimits enforces the transitive ancestor and descendant package
// limits for the passed prospective entry.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) checkAncestorLimits(tx *btcutil.Tx, txSize int64) error {
	policy := &mp.cfg.Policy

	// Collect the transitive ancestors of the prospective entry through its
	// direct in-pool parents.
	seen := make(map[chainhash.Hash]*TxDesc)
	var queue []*TxDesc
	for _, txIn := range tx.MsgTx().TxIn {
		if parent, exists := mp.pool[txIn.PreviousOutPoint.Hash]; exists {
			queue = append(queue, parent)
		}
	}
	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]
		if _, exists := seen[*entry.Tx.Hash()]; exists {
			continue
		}
		seen[*entry.Tx.Hash()] = entry
		for parentHash := range entry.parents {
			if parent, exists := mp.pool[parentHash]; exists {
				queue = append(queue, parent)
			}
		}
	}

	// The prospective entry itself counts against the limits.
	ancestorCount := int64(len(seen)) + 1
	ancestorSize := txSize
	for _, ancestor := range seen {
		ancestorSize += ancestor.Size
	}
	if ancestorCount > policy.MaxAncestors {
		str := fmt.Sprintf("transaction %v has %d in-pool ancestors which "+
			"is more than the allowed max of %d", tx.Hash(),
			ancestorCount-1, policy.MaxAncestors-1)
		return txRuleError(ErrAncestorLimits, str)
	}
	if ancestorSize > policy.MaxAncestorSizeBytes {
		str := fmt.Sprintf("transaction %v has an ancestor package size of "+
			"%d bytes which is more than the allowed max of %d bytes",
			tx.Hash(), ancestorSize, policy.MaxAncestorSizeBytes)
		return txRuleError(ErrAncestorLimits, str)
	}

	// Adding this entry must also not push any of its ancestors over their
	// descendant limits.
	for _, ancestor := range seen {
		if ancestor.DescendantCount+1 > policy.MaxDescendants {
			str := fmt.Sprintf("transaction %v would give ancestor %v %d "+
				"descendants which is more than the allowed max of %d",
				tx.Hash(), ancestor.Tx.Hash(), ancestor.DescendantCount,
				policy.MaxDescendants-1)
			return txRuleError(ErrAncestorLimits, str)
		}
		if ancestor.DescendantSize+txSize > policy.MaxDescendantSizeBytes {
			str := fmt.Sprintf("transaction %v would give ancestor %v a "+
				"descendant package size of %d bytes which is more than "+
				"the allowed max of %d bytes", tx.Hash(),
				ancestor.Tx.Hash(), ancestor.DescendantSize+txSize,
				policy.MaxDescendantSizeBytes)
			return txRuleError(ErrAncestorLimits, str)
		}
	}

	return nil
}

// dynamicMinFee returns the minimum fee required for the passed serialized
// size under the rolling minimum fee rate that is imposed after the pool has
// been trimmed for size.  The rate decays with a half life of
// rollingMinFeeHalfLife and resets to zero once it falls below half of the
// configured minimum relay fee.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) dynamicMinFee(serializedSize int64) int64 {
	if mp.rollingMinFee == 0 {
		return 0
	}

	// Decay the rolling fee.
	now := time.Now().Unix()
	elapsed := now - mp.rollingMinFeeLastUpdate
	if elapsed > 0 {
		halfLives := float64(elapsed) / rollingMinFeeHalfLife.Seconds()
		decayed := float64(mp.rollingMinFee) * math.Pow(0.5, halfLives)
		mp.rollingMinFee = int64(decayed)
		mp.rollingMinFeeLastUpdate = now
		if mp.rollingMinFee < int64(mp.cfg.Policy.MinRelayTxFee)/2 {
			mp.rollingMinFee = 0
			return 0
		}
	}

	return serializedSize * mp.rollingMinFee / 1000
}

// limitPoolSize expires entries that have been in the pool longer than the
// configured maximum age and then, when the pool still exceeds its byte
// budget, evicts the packages with the lowest descendant fee rate while
// raising the rolling minimum fee rate accordingly.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) limitPoolSize() {
	// Expire old entries along with everything that depends on them.
	if mp.cfg.Policy.MaxTxAge > 0 {
		oldest := time.Now().Add(-mp.cfg.Policy.MaxTxAge)
		for _, txD := range mp.pool {
			if txD.Added.Before(oldest) {
				log.Debugf("Expiring transaction %v from the pool",
					txD.Tx.Hash())
				mp.removeTransaction(txD.Tx, true)
			}
		}
	}

	// Trim the lowest fee-rate packages while the pool is over budget.
	if mp.cfg.Policy.MaxSizeBytes <= 0 {
		return
	}
	for mp.totalSize > mp.cfg.Policy.MaxSizeBytes {
		// Find the entry with the lowest descendant package fee rate.
		var worst *TxDesc
		for _, txD := range mp.pool {
			if worst == nil ||
				txD.descendantFeeRate() < worst.descendantFeeRate() {

				worst = txD
			}
		}
		if worst == nil {
			return
		}

		// Raise the rolling minimum fee rate above the evicted package so
		// an equivalent package is not immediately re-admitted.
		evictedRate := worst.descendantFeeRate()
		newMinFee := evictedRate + int64(mp.cfg.Policy.MinRelayTxFee)
		if newMinFee > mp.rollingMinFee {
			mp.rollingMinFee = newMinFee
			mp.rollingMinFeeLastUpdate = time.Now().Unix()
		}

		log.Debugf("Evicting package rooted at %v (rate %d sat/kB) for "+
			"pool size", worst.Tx.Hash(), evictedRate)
		mp.removeTransaction(worst.Tx, true)
	}
}

// fetchInputUtxos loads utxo details about the input transactions referenced
// by the passed transaction.  First, it loads the details from the viewpoint
// of the main chain, then it adjusts them based upon the contents of the
// transaction pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) fetchInputUtxos(tx *btcutil.Tx) (*blockchain.UtxoViewpoint, error) {
	utxoView, err := mp.cfg.FetchUtxoView(tx)
	if err != nil {
		var cerr blockchain.RuleError
		if errors.As(err, &cerr) {
			return nil, chainRuleError(cerr)
		}
		return nil, err
	}

	// Attempt to populate any missing inputs from the transaction pool.
	for _, txIn := range tx.MsgTx().TxIn {
		entry := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if entry != nil && !entry.IsSpent() {
			continue
		}
		if poolTxDesc, exists := mp.pool[txIn.PreviousOutPoint.Hash]; exists {
			// AddTxOuts ignores out of range index values, so it is safe to
			// call without bounds checking here.
			err := utxoView.AddTxOuts(poolTxDesc.Tx,
				blockchain.UnminedHeight)
			if err != nil {
				return nil, err
			}
		}
	}

	return utxoView, nil
}

// FetchTransaction returns the requested transaction from the transaction
// pool.  This only fetches from the main transaction pool and does not
// include orphans.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	// Protect concurrent access.
	mp.mtx.RLock()
	txDesc, exists := mp.pool[*txHash]
	mp.mtx.RUnlock()

	if exists {
		return txDesc.Tx, nil
	}

	return nil, fmt.Errorf("transaction is not in the pool")
}

// PrioritiseTransaction applies an additional fee delta to the given
// transaction when evaluating fee-based policy, as if it paid that much more
// in actual fees.  Negative deltas deprioritise.
//
// This function is safe for concurrent access.
func (mp *TxPool) PrioritiseTransaction(txHash *chainhash.Hash, feeDelta int64) {
	mp.mtx.Lock()
	mp.feeDeltas[*txHash] += feeDelta
	if txD, exists := mp.pool[*txHash]; exists {
		delta := feeDelta
		txD.ModifiedFee += delta
		txD.AncestorFees += delta
		txD.DescendantFees += delta
		for _, ancestor := range mp.ancestorsOf(txD) {
			ancestor.DescendantFees += delta
		}
		for _, descendant := range mp.descendantsOf(txD) {
			descendant.AncestorFees += delta
		}
	}
	mp.mtx.Unlock()
}

// maybeAcceptTransaction is the main workhorse for handling insertion of new
// free-standing transactions into a memory pool.  It includes functionality
// such as rejecting duplicate transactions, ensuring transactions follow all
// rules, detecting orphan transactions, and insertion into the memory pool.
//
// If the transaction is an orphan (missing parent transactions), the
// transaction is NOT added to the orphan pool, but each unknown referenced
// parent is returned.  Use ProcessTransaction instead if new orphans should
// be added to the orphan pool.
//
// When the isNew flag is set, relaxed policy is NOT applied; it is cleared
// for transactions that re-enter the pool due to a chain reorganization.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) maybeAcceptTransaction(tx *btcutil.Tx, isNew, rateLimit, allowHighFees bool) ([]*chainhash.Hash, *TxDesc, error) {
	txHash := tx.Hash()

	// Don't revalidate transactions that were recently rejected.
	if isNew && mp.rejectedTxns.Exists(*txHash) {
		str := fmt.Sprintf("transaction %v was recently rejected", txHash)
		return nil, nil, txRuleError(ErrRecentlyRejected, str)
	}

	// Don't accept the transaction if it already exists in the pool.  This
	// applies to orphan transactions as well.  This check is intended to
	// be a quick check to weed out duplicates.
	if mp.haveTransaction(txHash) {
		str := fmt.Sprintf("already have transaction %v", txHash)
		return nil, nil, txRuleError(ErrDuplicate, str)
	}

	// Perform preliminary sanity checks on the transaction.  This makes
	// use of blockchain which contains the invariant rules for what
	// transactions are allowed into blocks.
	err := blockchain.CheckTransactionSanity(tx, mp.cfg.ChainParams)
	if err != nil {
		var cerr blockchain.RuleError
		if errors.As(err, &cerr) {
			return nil, nil, chainRuleError(cerr)
		}
		return nil, nil, err
	}

	// A standalone transaction must not be a coinbase transaction.
	if blockchain.IsCoinBase(tx) {
		str := fmt.Sprintf("transaction %v is an individual coinbase",
			txHash)
		return nil, nil, txRuleError(ErrCoinbase, str)
	}

	// Get the current height of the main chain.  A standalone transaction
	// will be mined into the next block at best, so its height is at least
	// one more than the current height.
	bestHeight := mp.cfg.BestHeight()
	nextBlockHeight := bestHeight + 1
	medianTimePast := mp.cfg.PastMedianTime()

	// Reject transactions with a version above one before the sequence
	// lock deployment is active since they would otherwise be anyone can
	// pay until it activates.
	if tx.MsgTx().Version >= 2 {
		csvActive, err := mp.cfg.IsDeploymentActive(chaincfg.DeploymentCSV)
		if err != nil {
			return nil, nil, err
		}
		if !csvActive {
			str := fmt.Sprintf("transaction %v has version %d, but the "+
				"sequence lock deployment is not yet active", txHash,
				tx.MsgTx().Version)
			return nil, nil, txRuleError(ErrPrematureVersion, str)
		}
	}

	// Reject the legacy zerocoin transaction form past its cutoff height.
	params := mp.cfg.ChainParams
	if params.ZerocoinDisableHeight > 0 &&
		nextBlockHeight >= params.ZerocoinDisableHeight &&
		blockchain.IsZerocoinTx(tx.MsgTx()) {

		str := fmt.Sprintf("transaction %v uses the disabled legacy "+
			"zerocoin form", txHash)
		return nil, nil, txRuleError(ErrNonStandard, str)
	}

	// Don't allow non-standard transactions when the policy enforces
	// standardness.  The standardness checks include the finality check at
	// the next block height, which is otherwise performed separately.
	if !mp.cfg.Policy.AcceptNonStd {
		err := checkTransactionStandard(tx, nextBlockHeight, medianTimePast,
			mp.cfg.Policy.MinRelayTxFee, mp.cfg.Policy.MaxTxVersion)
		if err != nil {
			return nil, nil, err
		}
	} else if !blockchain.IsFinalizedTransaction(tx, nextBlockHeight,
		medianTimePast) {

		return nil, nil, txRuleError(ErrExpired, "transaction is not "+
			"finalized")
	}

	// The transaction may not use any of the same outputs as other
	// transactions already in the pool unless those conflicts all signal
	// replaceability, in which case the replace-by-fee policy applies
	// further below.
	conflicts, err := mp.checkPoolDoubleSpend(tx)
	if err != nil {
		return nil, nil, err
	}
	isReplacement := len(conflicts) > 0

	// Fetch all of the unspent transaction outputs referenced by the
	// inputs to this transaction.  This function also attempts to fetch
	// the transaction itself to be used for detecting a duplicate
	// transaction without needing to do a separate lookup.
	utxoView, err := mp.fetchInputUtxos(tx)
	if err != nil {
		return nil, nil, err
	}

	// Don't allow the transaction if it exists in the main chain and is not
	// already fully spent.
	prevOut := wire.OutPoint{Hash: *txHash}
	for txOutIdx := range tx.MsgTx().TxOut {
		prevOut.Index = uint32(txOutIdx)
		entry := utxoView.LookupEntry(prevOut)
		if entry != nil && !entry.IsSpent() {
			return nil, nil, txRuleError(ErrDuplicate, "transaction "+
				"already exists in the main chain and is not fully spent")
		}
		utxoView.RemoveEntry(prevOut)
	}

	// Transactions whose inputs are unknown are orphans: the referenced
	// parents might simply not have arrived yet.  An entry that is present
	// but spent means the output was definitively consumed by the chain and
	// is reported distinctly from the missing-inputs case.
	var missingParents []*chainhash.Hash
	for _, txIn := range tx.MsgTx().TxIn {
		entry := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if entry != nil && entry.IsSpent() {
			str := fmt.Sprintf("output %v referenced from transaction %v "+
				"has been spent", txIn.PreviousOutPoint, txHash)
			return nil, nil, txRuleError(ErrAlreadySpent, str)
		}
		if entry != nil {
			continue
		}

		// Must be an orphan.  The set of missing parents is de-duplicated.
		hashCopy := txIn.PreviousOutPoint.Hash
		found := false
		for _, missing := range missingParents {
			if *missing == hashCopy {
				found = true
				break
			}
		}
		if !found {
			missingParents = append(missingParents, &hashCopy)
		}
	}
	if len(missingParents) > 0 {
		return missingParents, nil, nil
	}

	// Don't allow the transaction into the mempool unless its sequence
	// lock is active, meaning that it'll be allowed into the next block
	// with respect to its defined relative lock times.
	seqLock, err := mp.cfg.CalcSequenceLock(tx, utxoView)
	if err != nil {
		var cerr blockchain.RuleError
		if errors.As(err, &cerr) {
			return nil, nil, chainRuleError(cerr)
		}
		return nil, nil, err
	}
	if !blockchain.SequenceLockActive(seqLock, bestHeight, medianTimePast) {
		return nil, nil, txRuleError(ErrSeqLockUnmet, "transaction's "+
			"sequence locks on inputs not met")
	}
	lockPoints := LockPoints{
		Height:       seqLock.BlockHeight,
		Time:         seqLock.Seconds,
		PinningBlock: *mp.cfg.BestHash(),
	}

	// Perform several checks on the transaction inputs using the invariant
	// rules in blockchain for what transactions are allowed into blocks.
	// Also returns the fees associated with the transaction which will be
	// used later.
	txFee, err := blockchain.CheckTransactionInputs(tx, nextBlockHeight,
		utxoView, mp.cfg.ChainParams)
	if err != nil {
		var cerr blockchain.RuleError
		if errors.As(err, &cerr) {
			return nil, nil, chainRuleError(cerr)
		}
		return nil, nil, err
	}

	// Don't allow transactions with non-standard inputs when the policy
	// enforces standardness.
	if !mp.cfg.Policy.AcceptNonStd {
		err := checkInputsStandard(tx, utxoView)
		if err != nil {
			return nil, nil, err
		}
	}

	// NOTE: if you modify this code to accept non-standard transactions,
	// you should add code here to check that the transaction does a
	// reasonable number of ECDSA signature verifications.

	// Don't allow transactions with an excessive number of signature
	// operations which would result in making it impossible to mine.
	sigOpCost := blockchain.CountSigOps(tx) * blockchain.WitnessScaleFactor
	p2shSigOps, err := blockchain.CountP2SHSigOps(tx, false, utxoView)
	if err != nil {
		var cerr blockchain.RuleError
		if errors.As(err, &cerr) {
			return nil, nil, chainRuleError(cerr)
		}
		return nil, nil, err
	}
	sigOpCost += p2shSigOps * blockchain.WitnessScaleFactor
	if sigOpCost > mp.cfg.Policy.MaxSigOpCostPerTx {
		str := fmt.Sprintf("transaction %v sigop cost is too high: %d > %d",
			txHash, sigOpCost, mp.cfg.Policy.MaxSigOpCostPerTx)
		return nil, nil, txRuleError(ErrTooManySigOps, str)
	}

	// The modified fee accounts for any prioritisation deltas.
	serializedSize := int64(tx.MsgTx().SerializeSize())
	modifiedFee := txFee + mp.feeDeltas[*txHash]

	// Don't allow transactions with fees too low to get into a mined
	// block.
	minFee := calcMinRequiredTxRelayFee(serializedSize,
		mp.cfg.Policy.MinRelayTxFee)
	if isNew && modifiedFee < minFee {
		if !rateLimit {
			str := fmt.Sprintf("transaction %v has %d fees which is under "+
				"the required amount of %d", txHash, modifiedFee, minFee)
			return nil, nil, txRuleError(ErrInsufficientFee, str)
		}

		// Free-to-relay transactions are rate limited here to prevent
		// penny-flooding with tiny transactions as a form of attack.
		nowUnix := time.Now().Unix()
		// Decay passed data with an exponentially decaying ~10 minute
		// window - matches bitcoind handling.
		mp.pennyTotal *= math.Pow(1.0-1.0/600.0,
			float64(nowUnix-mp.lastPennyUnix))
		mp.lastPennyUnix = nowUnix

		// Are we still over the limit?
		if mp.pennyTotal >= mp.cfg.Policy.FreeTxRelayLimit*10*1000 {
			str := fmt.Sprintf("transaction %v has been rejected by the "+
				"rate limiter due to low fees", txHash)
			return nil, nil, txRuleError(ErrInsufficientPriority, str)
		}
		oldTotal := mp.pennyTotal

		mp.pennyTotal += float64(serializedSize)
		log.Tracef("rate limit: curTotal %v, nextTotal: %v, limit %v",
			oldTotal, mp.pennyTotal,
			mp.cfg.Policy.FreeTxRelayLimit*10*1000)
	}

	// Enforce the dynamic minimum fee imposed while the pool is under size
	// pressure.
	if isNew {
		if dynamicMin := mp.dynamicMinFee(serializedSize); modifiedFee < dynamicMin {
			str := fmt.Sprintf("transaction %v has %d fees which is under "+
				"the dynamic pool minimum of %d", txHash, modifiedFee,
				dynamicMin)
			return nil, nil, txRuleError(ErrMempoolMinFee, str)
		}
	}

	// Don't allow transactions with an absurdly high fee unless the caller
	// explicitly permits them, as that is almost certainly a mistake by
	// the submitter.
	if !allowHighFees {
		maxFee := calcMinRequiredTxRelayFee(serializedSize,
			mp.cfg.Policy.MinRelayTxFee) * maxRelayFeeMultiplier
		if modifiedFee > maxFee {
			str := fmt.Sprintf("transaction %v has %d fee which is above "+
				"the allowHighFee check threshold amount of %d", txHash,
				modifiedFee, maxFee)
			return nil, nil, txRuleError(ErrFeeTooHigh, str)
		}
	}

	// Enforce the replace-by-fee policy when the transaction conflicts
	// with entries already in the pool.
	var toEvict map[chainhash.Hash]*TxDesc
	if isReplacement {
		toEvict, err = mp.validateReplacement(tx, txFee, serializedSize,
			conflicts)
		if err != nil {
			return nil, nil, err
		}
	}

	// Enforce the transitive ancestor and descendant package limits.
	err = mp.checkAncestorLimits(tx, serializedSize)
	if err != nil {
		return nil, nil, err
	}

	// Verify crypto signatures for each input under the standard script
	// flags.  The validator internally re-verifies failures under the
	// mandatory subset in order to distinguish transactions that are
	// merely non-standard from outright invalid ones.
	standardFlags, err := mp.cfg.StandardVerifyFlags()
	if err != nil {
		return nil, nil, err
	}
	mandatoryFlags, err := mp.cfg.MandatoryVerifyFlags()
	if err != nil {
		return nil, nil, err
	}
	err = blockchain.ValidateTransactionScripts(tx, utxoView, standardFlags,
		mandatoryFlags, mp.cfg.SigCache)
	if err != nil {
		var cerr blockchain.RuleError
		if errors.As(err, &cerr) {
			if errors.Is(err, blockchain.ErrNonStandardScriptValidation) {
				str := fmt.Sprintf("transaction %v failed script "+
					"validation under the standard flags only", txHash)
				return nil, nil, txRuleError(ErrNonStandard, str)
			}
			return nil, nil, chainRuleError(cerr)
		}
		return nil, nil, err
	}

	// Now that the transaction has fully passed, evict the entries it
	// replaces before inserting it.
	for _, evicted := range toEvict {
		log.Debugf("Replacing transaction %v (fee rate %d sat/kB) with %v "+
			"(fee rate %d sat/kB)", evicted.Tx.Hash(), evicted.FeePerKB(),
			txHash, modifiedFee*1000/serializedSize)
		mp.removeTransaction(evicted.Tx, false)
	}

	// Determine whether the transaction is spending any coinbase outputs so
	// a reorganization that retroactively violates maturity can remove it.
	spendsCoinbase := false
	for _, txIn := range tx.MsgTx().TxIn {
		entry := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if entry != nil && entry.IsCoinBase() {
			spendsCoinbase = true
			break
		}
	}

	// Add to transaction pool.
	txD := mp.addTransaction(tx, bestHeight, txFee, modifiedFee, sigOpCost,
		spendsCoinbase, lockPoints)

	// Apply size pressure: expire old entries and trim the pool to its
	// byte budget.
	mp.limitPoolSize()

	// The entry may have been evicted again by the trim, in which case the
	// caller is told it was not accepted.
	if _, exists := mp.pool[*txHash]; !exists {
		str := fmt.Sprintf("transaction %v was trimmed from the full pool",
			txHash)
		return nil, nil, txRuleError(ErrMempoolMinFee, str)
	}

	log.Debugf("Accepted transaction %v (pool size: %v)", txHash,
		len(mp.pool))

	return nil, txD, nil
}

// MaybeAcceptTransaction is the exported version of maybeAcceptTransaction.
//
// This function is safe for concurrent access.
func (mp *TxPool) MaybeAcceptTransaction(tx *btcutil.Tx, isNew, rateLimit bool) ([]*chainhash.Hash, error) {
	// Protect concurrent access.
	mp.mtx.Lock()
	hashes, _, err := mp.maybeAcceptTransaction(tx, isNew, rateLimit, true)
	mp.mtx.Unlock()

	return hashes, err
}

// processOrphans determines if there are any orphans which depend on the
// passed transaction hash (it is possible that they are no longer orphans)
// and potentially accepts them to the memory pool.  It repeats the process
// for the newly accepted transactions (to detect further orphans which may no
// longer be orphans) until there are no more.
//
// It returns a slice of transactions added to the mempool.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) processOrphans(acceptedTx *btcutil.Tx) []*TxDesc {
	var acceptedTxns []*TxDesc

	// Start with processing at least the passed transaction.
	processList := []*btcutil.Tx{acceptedTx}
	for len(processList) > 0 {
		// Pop the transaction to process from the front of the list.
		processItem := processList[0]
		processList[0] = nil
		processList = processList[1:]

		prevOut := wire.OutPoint{Hash: *processItem.Hash()}
		for txOutIdx := range processItem.MsgTx().TxOut {
			// Look up all orphans that redeem the output that is now
			// available.  This will typically only be one, but it could be
			// multiple if the orphan pool contains double spends.  While it
			// may seem odd that the orphan pool would allow this since
			// there can only possibly ultimately be a single redeemer, it's
			// important to track it this way to prevent malicious actors
			// from being able to purposely construct orphans that would
			// otherwise make outputs unspendable.
			prevOut.Index = uint32(txOutIdx)
			orphans, exists := mp.orphansByPrev[prevOut]
			if !exists {
				continue
			}

			for _, orphan := range orphans {
				// Potentially accept the transaction into the transaction
				// pool.  The duplicate check also covers the orphan pool, so
				// the orphan is hidden from it for the duration of the call.
				otx := mp.orphans[*orphan.Hash()]
				delete(mp.orphans, *orphan.Hash())
				missing, txD, err := mp.maybeAcceptTransaction(orphan,
					true, true, true)
				mp.orphans[*orphan.Hash()] = otx
				if err != nil {
					// The orphan is now invalid, so there is no way any
					// other orphans which redeem any of its outputs can be
					// accepted.  Remove them.
					mp.removeOrphan(orphan, true)
					break
				}

				// Transaction is still an orphan.  This should never be the
				// case for only a single missing parent, but skip it
				// anyway.
				if len(missing) > 0 {
					continue
				}

				// Transaction was accepted into the main pool.
				//
				// Add it to the list of accepted transactions that are no
				// longer orphans, remove it from the orphan pool, and add
				// it to the list of transactions to process so any orphans
				// that depend on it are handled too.
				acceptedTxns = append(acceptedTxns, txD)
				mp.removeOrphan(orphan, false)
				processList = append(processList, orphan)

				// Only one transaction for this outpoint can be accepted,
				// so the rest are now double spends and are removed later.
				break
			}
		}
	}

	// Recursively remove any orphans that also redeem any outputs redeemed
	// by the accepted transactions since those are now definitive double
	// spends.
	mp.removeOrphanDoubleSpends(acceptedTx)
	for _, txD := range acceptedTxns {
		mp.removeOrphanDoubleSpends(txD.Tx)
	}

	return acceptedTxns
}

// ProcessTransaction is the main workhorse for handling insertion of new
// free-standing transactions into the memory pool.  It includes functionality
// such as rejecting duplicate transactions, ensuring transactions follow all
// rules, orphan transaction handling, and insertion into the memory pool.
//
// It returns a slice of transactions added to the mempool.  When the error is
// nil, the list will include the passed transaction itself along with any
// additional orphan transactions that were added as a result of the passed
// one being accepted.
//
// This function is safe for concurrent access.
func (mp *TxPool) ProcessTransaction(tx *btcutil.Tx, allowOrphan, rateLimit, allowHighFees bool, tag Tag) ([]*TxDesc, error) {
	log.Tracef("Processing transaction %v", tx.Hash())

	// Protect concurrent access.
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	// Potentially accept the transaction to the memory pool.
	missingParents, txD, err := mp.maybeAcceptTransaction(tx, true,
		rateLimit, allowHighFees)
	if err != nil {
		// Track rejections so the same transaction is not continuously
		// revalidated.  Rejections that are sensitive to chain or pool
		// state, such as unmet sequence locks or package limits, are not
		// tracked since the same transaction may become acceptable later.
		var terr TxRuleError
		if errors.As(err, &terr) {
			if kind, ok := terr.Err.(ErrorKind); ok {
				switch kind {
				case ErrDuplicate, ErrInsufficientPriority,
					ErrMempoolMinFee, ErrRecentlyRejected,
					ErrSeqLockUnmet, ErrAncestorLimits, ErrExpired:
				default:
					mp.rejectedTxns.Put(*tx.Hash())
				}
			}
		}
		return nil, err
	}

	if len(missingParents) == 0 {
		// Accept any orphan transactions that depend on this transaction
		// (they may no longer be orphans if all inputs are now available)
		// and repeat for those accepted transactions until there are no
		// more.
		newTxs := mp.processOrphans(tx)
		acceptedTxs := make([]*TxDesc, len(newTxs)+1)

		// Add the parent transaction first so remote nodes do not add
		// orphans.
		acceptedTxs[0] = txD
		copy(acceptedTxs[1:], newTxs)

		return acceptedTxs, nil
	}

	// The transaction is an orphan (has inputs missing).  Reject it if the
	// flag to allow orphans is not set.
	if !allowOrphan {
		// Only use the first missing parent transaction in the error
		// message.
		str := fmt.Sprintf("orphan transaction %v references outputs of "+
			"unknown or fully-spent transaction %v", tx.Hash(),
			missingParents[0])
		return nil, txRuleError(ErrOrphan, str)
	}

	// Potentially add the orphan transaction to the orphan pool.
	err = mp.maybeAddOrphan(tx, tag)
	return nil, err
}

// RemoveForBlock removes all of the passed block's transactions from the
// pool along with any transactions that now double spend as a result of
// them being confirmed.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveForBlock(block *btcutil.Block) {
	mp.mtx.Lock()
	for _, tx := range block.Transactions()[1:] {
		// Confirmed transactions leave the pool without cascading to their
		// descendants, whose ancestors are now simply confirmed.
		if txD, exists := mp.pool[*tx.Hash()]; exists {
			mp.unlinkTransaction(txD)
		}

		// Anything left in the pool that double spends an output consumed
		// by the block is now invalid, as are its descendants.
		for _, txIn := range tx.MsgTx().TxIn {
			if txRedeemer, ok := mp.outpoints[txIn.PreviousOutPoint]; ok {
				mp.removeTransaction(txRedeemer, true)
			}
		}

		mp.removeOrphan(tx, false)
		mp.removeOrphanDoubleSpends(tx)
	}
	mp.mtx.Unlock()
}

// ProcessDisconnectedBlock re-admits the transactions of a block that was
// disconnected from the main chain during a reorganization back through the
// admission pipeline with relaxed policy, then removes any entries that the
// new chain state invalidated.
//
// This function is safe for concurrent access.
func (mp *TxPool) ProcessDisconnectedBlock(block *btcutil.Block) {
	mp.mtx.Lock()
	for _, tx := range block.Transactions()[1:] {
		// Relaxed policy: resurrected transactions are not rate limited and
		// their fees were already acceptable once.
		_, _, err := mp.maybeAcceptTransaction(tx, false, false, true)
		if err != nil {
			log.Debugf("Not resurrecting transaction %v: %v", tx.Hash(),
				err)
			// A transaction that can not re-enter the pool invalidates any
			// pool entries that descend from it.
			if !mp.isTransactionInPool(tx.Hash()) {
				prevOut := wire.OutPoint{Hash: *tx.Hash()}
				for txOutIdx := range tx.MsgTx().TxOut {
					prevOut.Index = uint32(txOutIdx)
					if redeemer, ok := mp.outpoints[prevOut]; ok {
						mp.removeTransaction(redeemer, true)
					}
				}
			}
		}
	}
	mp.mtx.Unlock()

	// Re-evaluate the entries whose validity depends on chain depth or
	// cached lock points under the new chain state.
	mp.RemoveForReorg()
}

// RemoveForReorg walks the pool after the chain tip has changed and removes
// entries that are no longer valid under the new state: transactions whose
// cached lock points were pinned to a block that is no longer on the main
// chain and no longer validate, transactions that are no longer final, and
// transactions spending coinbase outputs that are no longer mature.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveForReorg() {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	bestHeight := mp.cfg.BestHeight()
	nextBlockHeight := bestHeight + 1
	medianTimePast := mp.cfg.PastMedianTime()

	for _, txD := range mp.pool {
		// Finality is height and time dependent.
		if !blockchain.IsFinalizedTransaction(txD.Tx, nextBlockHeight,
			medianTimePast) {

			log.Debugf("Removing non-final transaction %v after reorg",
				txD.Tx.Hash())
			mp.removeTransaction(txD.Tx, true)
			continue
		}

		// Re-validate cached lock points when the block they were computed
		// against is no longer part of the main chain.
		if !mp.cfg.MainChainHasBlock(&txD.LockPoints.PinningBlock) {
			utxoView, err := mp.fetchInputUtxos(txD.Tx)
			if err != nil {
				mp.removeTransaction(txD.Tx, true)
				continue
			}
			seqLock, err := mp.cfg.CalcSequenceLock(txD.Tx, utxoView)
			if err != nil {
				mp.removeTransaction(txD.Tx, true)
				continue
			}
			if !blockchain.SequenceLockActive(seqLock, bestHeight,
				medianTimePast) {

				log.Debugf("Removing transaction %v with unmet sequence "+
					"locks after reorg", txD.Tx.Hash())
				mp.removeTransaction(txD.Tx, true)
				continue
			}
			txD.LockPoints = LockPoints{
				Height:       seqLock.BlockHeight,
				Time:         seqLock.Seconds,
				PinningBlock: *mp.cfg.BestHash(),
			}
		}

		// Coinbase spends may have lost maturity due to the depth change.
		if txD.SpendsCoinbase {
			utxoView, err := mp.fetchInputUtxos(txD.Tx)
			if err != nil {
				mp.removeTransaction(txD.Tx, true)
				continue
			}
			_, err = blockchain.CheckTransactionInputs(txD.Tx,
				nextBlockHeight, utxoView, mp.cfg.ChainParams)
			if err != nil {
				log.Debugf("Removing transaction %v after reorg: %v",
					txD.Tx.Hash(), err)
				mp.removeTransaction(txD.Tx, true)
			}
		}
	}
}

// Count returns the number of transactions in the main pool.  It does not
// include the orphan pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	count := len(mp.pool)
	mp.mtx.RUnlock()

	return count
}

// Size returns the total size, in bytes, of the transactions in the main
// pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Size() int64 {
	mp.mtx.RLock()
	size := mp.totalSize
	mp.mtx.RUnlock()

	return size
}

// TxHashes returns a slice of hashes for all of the transactions in the
// memory pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxHashes() []*chainhash.Hash {
	mp.mtx.RLock()
	hashes := make([]*chainhash.Hash, len(mp.pool))
	i := 0
	for hash := range mp.pool {
		hashCopy := hash
		hashes[i] = &hashCopy
		i++
	}
	mp.mtx.RUnlock()

	return hashes
}

// TxDescs returns a slice of descriptors for all the transactions in the
// pool.  The descriptors are to be treated as read only.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxDescs() []*TxDesc {
	mp.mtx.RLock()
	descs := make([]*TxDesc, len(mp.pool))
	i := 0
	for _, desc := range mp.pool {
		descs[i] = desc
		i++
	}
	mp.mtx.RUnlock()

	return descs
}

// LastUpdated returns the last time a transaction was added to or removed
// from the main pool.  It does not include the orphan pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(atomic.LoadInt64(&mp.lastUpdated), 0)
}

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
