// Copyright (c) 2013-2018 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/smartcash/smartd/blobstore"
	"github.com/smartcash/smartd/chaincfg"
	"github.com/smartcash/smartd/database"
)

const (
	// maxReorgConnectBatch is the maximum number of blocks that will be
	// connected in a single cycle while holding the chain lock during a
	// reorganization.  The lock is briefly released between batches so
	// readers are not starved during deep reorganizations.
	maxReorgConnectBatch = 32

	// forkWarningDepth is the depth relative to the current tip within
	// which a competing side chain triggers a fork warning when it has
	// accumulated dangerous amounts of work.
	forkWarningDepth = 72

	// forkWarningWorkBlocks is the number of typical block proofs by which
	// a competing side chain's cumulative work must exceed the current tip
	// before a fork warning is triggered.
	forkWarningWorkBlocks = 7
)

// errInterruptRequested indicates that an operation was cancelled due to a
// user-requested interrupt.
var errInterruptRequested = errors.New("interrupt requested")

// interruptRequested returns true when the provided channel has been closed.
// This simplifies early shutdown slightly since the caller can just use an if
// statement instead of a select.
func interruptRequested(interrupted <-chan struct{}) bool {
	select {
	case <-interrupted:
		return true
	default:
	}

	return false
}

// BlockLocator is used to help locate a specific block.  The algorithm for
// building the block locator is to add the hashes in reverse order until the
// genesis block is reached.  In order to keep the list of locator hashes to a
// reasonable number of entries, first the most recent previous 12 block
// hashes are added, then the step is doubled each loop iteration to
// exponentially decrease the number of hashes as a function of the distance
// from the block being located.
type BlockLocator []*chainhash.Hash

// BestState houses information about the current best block and other info
// related to the state of the main chain as it exists from the point of view
// of the current best block.
//
// The BestSnapshot method can be used to obtain access to this information
// in a concurrent safe manner and the data will not be changed out from
// under the caller when chain state changes occur as the function name
// implies.  However, the returned snapshot must be treated as immutable
// since it is shared by all callers.
type BestState struct {
	Hash       chainhash.Hash // The hash of the block.
	Height     int64          // The height of the block.
	Bits       uint32         // The difficulty bits of the block.
	BlockSize  uint64         // The size of the block.
	NumTxns    uint64         // The number of txns in the block.
	TotalTxns  uint64         // The total number of txns in the chain.
	MedianTime time.Time      // Median time as per CalcPastMedianTime.
}

// newBestState returns a new best stats instance for the given parameters.
func newBestState(node *blockNode, blockSize, numTxns, totalTxns uint64,
	medianTime time.Time) *BestState {

	return &BestState{
		Hash:       node.hash,
		Height:     node.height,
		Bits:       node.bits,
		BlockSize:  blockSize,
		NumTxns:    numTxns,
		TotalTxns:  totalTxns,
		MedianTime: medianTime,
	}
}

// BlockChain provides functions for working with the SmartCash block chain.
// It includes functionality such as rejecting duplicate blocks, ensuring
// blocks follow all rules, and best chain selection with reorganization.
type BlockChain struct {
	// The following fields are set when the instance is created and can't
	// be changed afterwards, so there is no need to protect them with a
	// separate mutex.
	chainParams            *chaincfg.Params
	db                     *database.DB
	store                  *blobstore.Store
	timeSource             MedianTimeSource
	notifications          NotificationCallback
	sigCache               *txscript.SigCache
	interrupt              <-chan struct{}
	pruneDepth             int64
	latestCheckpointHeight int64

	// These fields are calculated from the provided chain parameters.  They
	// are also set when the instance is created and can't be changed
	// afterwards.
	minRetargetTimespan int64 // target timespan / adjustment factor
	maxRetargetTimespan int64 // target timespan * adjustment factor
	blocksPerRetarget   int64 // target timespan / target time per block

	// chainLock protects concurrent access to the vast majority of the
	// fields in this struct below this point.
	chainLock sync.RWMutex

	// These fields are related to the memory block index.  They both have
	// their own locks, however they are often also protected by the chain
	// lock to help prevent logic races when blocks are being processed.
	//
	// index houses the entire block index in memory.  The block index is a
	// tree-shaped structure.
	//
	// bestChain tracks the current active chain by making use of an
	// efficient chain view into the block index.
	index     *blockIndex
	bestChain *chainView

	// utxoCache houses the unspent transaction output set layered on top of
	// its backing store.
	utxoCache *UtxoCache

	// These fields are related to the threshold state of the supported
	// version bits deployments and the adaptive block size.  They are
	// protected by the chain lock.
	deploymentCaches []thresholdStateCache
	blockSizeCache   map[chainhash.Hash]int64

	// The state is used as a fairly efficient way to cache information
	// about the current best chain state that is returned to callers when
	// requested.  It operates on the principle of MVCC such that any time a
	// new block becomes the best block, the state pointer is replaced with
	// a new struct and the old state is left untouched.  In this way,
	// multiple callers can be pointing to different best chain states.
	stateLock     sync.RWMutex
	stateSnapshot *BestState

	// warningLock protects the fork warning string below.
	warningLock sync.RWMutex
	forkWarning string
}

// Config is a descriptor which specifies the blockchain instance
// configuration.
type Config struct {
	// DB defines the database which houses the block tree metadata.
	//
	// This field is required.
	DB *database.DB

	// UtxoDB defines the database which houses the utxo set.
	//
	// This field is required.
	UtxoDB *database.DB

	// Store defines the flat-file store which houses the blocks themselves
	// along with their undo data.
	//
	// This field is required.
	Store *blobstore.Store

	// ChainParams identifies which chain parameters the chain is associated
	// with.
	//
	// This field is required.
	ChainParams *chaincfg.Params

	// TimeSource defines the median time source to use for things such as
	// block processing and determining whether or not the chain is current.
	TimeSource MedianTimeSource

	// Notifications defines a callback to which notifications will be sent
	// when various events take place.  See the documentation for
	// Notification and NotificationType for details on the types and
	// contents of notifications.
	//
	// This field can be nil if the caller is not interested in receiving
	// notifications.
	Notifications NotificationCallback

	// SigCache defines a signature cache to use when validating signatures.
	SigCache *txscript.SigCache

	// Interrupt specifies a channel the caller can close to signal that
	// long running operations, such as reorganizations, should be
	// interrupted.
	//
	// This field can be nil if the caller does not desire the behavior.
	Interrupt <-chan struct{}

	// UtxoCacheMaxSize defines the maximum allowed size of the utxo cache,
	// in bytes.
	UtxoCacheMaxSize uint64

	// PruneDepth defines the minimum number of most recent blocks for which
	// the full data must be kept on disk.  A value of zero disables
	// pruning.  Values below the minimum keep window are rejected.
	PruneDepth int64
}

// New returns a BlockChain instance using the provided configuration details.
func New(config *Config) (*BlockChain, error) {
	// Enforce required config fields.
	if config.DB == nil {
		return nil, AssertError("blockchain.New database is nil")
	}
	if config.UtxoDB == nil {
		return nil, AssertError("blockchain.New utxo database is nil")
	}
	if config.Store == nil {
		return nil, AssertError("blockchain.New blob store is nil")
	}
	if config.ChainParams == nil {
		return nil, AssertError("blockchain.New chain parameters are nil")
	}
	if config.PruneDepth != 0 && config.PruneDepth < minPruneKeepWindow {
		str := fmt.Sprintf("a prune depth of %d is below the minimum keep "+
			"window of %d blocks", config.PruneDepth, minPruneKeepWindow)
		return nil, AssertError(str)
	}

	timeSource := config.TimeSource
	if timeSource == nil {
		timeSource = NewMedianTime()
	}

	params := config.ChainParams
	targetTimespan := int64(params.TargetTimespan / time.Second)
	targetTimePerBlock := int64(params.TargetTimePerBlock / time.Second)
	adjustmentFactor := params.RetargetAdjustmentFactor

	var latestCheckpointHeight int64
	if len(params.Checkpoints) > 0 {
		latestCheckpointHeight = params.Checkpoints[len(params.Checkpoints)-1].Height
	}

	b := BlockChain{
		chainParams:            params,
		db:                     config.DB,
		store:                  config.Store,
		timeSource:             timeSource,
		notifications:          config.Notifications,
		sigCache:               config.SigCache,
		interrupt:              config.Interrupt,
		pruneDepth:             config.PruneDepth,
		latestCheckpointHeight: latestCheckpointHeight,
		minRetargetTimespan:    targetTimespan / adjustmentFactor,
		maxRetargetTimespan:    targetTimespan * adjustmentFactor,
		blocksPerRetarget:      targetTimespan / targetTimePerBlock,
		index:                  newBlockIndex(config.DB),
		bestChain:              newChainView(nil),
		deploymentCaches:       newThresholdCaches(uint32(len(params.Deployments))),
		blockSizeCache:         make(map[chainhash.Hash]int64),
	}
	if b.interrupt == nil {
		b.interrupt = make(chan struct{})
	}

	b.utxoCache = NewUtxoCache(&UtxoCacheConfig{
		DB:      config.UtxoDB,
		MaxSize: config.UtxoCacheMaxSize,
	})

	// Initialize the chain state from the passed database.  When the db
	// does not yet contain any chain state, both it and the chain state
	// will be initialized to contain only the genesis block.
	if err := b.initChainState(); err != nil {
		return nil, err
	}

	// Catch the utxo set up to the tip of the best chain as needed.
	tip := b.bestChain.Tip()
	if err := b.InitUtxoCache(tip); err != nil {
		return nil, err
	}

	// Initialize the state snapshot.
	numTxns := uint64(tip.nTx)
	b.stateSnapshot = newBestState(tip, uint64(tip.blockSize), numTxns,
		tip.nChainTx, tip.CalcPastMedianTime())

	// An unclean shutdown can leave fully downloaded blocks above the tip
	// the utxo set reflects, in which case they are candidates that are
	// reconnected now.
	b.chainLock.Lock()
	err := b.maybeActivateBestChain(nil)
	b.chainLock.Unlock()
	if err != nil && !errors.Is(err, errInterruptRequested) {
		return nil, err
	}

	log.Infof("Chain state (height %d, hash %v, total transactions %d)",
		tip.height, tip.hash, tip.nChainTx)

	return &b, nil
}

// HaveBlock returns whether or not the chain instance has the block
// represented by the passed hash.  This includes checking the various places
// a block can be like part of the main chain or on a side chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) HaveBlock(hash *chainhash.Hash) bool {
	return b.index.HaveBlock(hash)
}

// HaveHeader returns whether or not the chain instance has the block header
// represented by the passed hash.
//
// This function is safe for concurrent access.
func (b *BlockChain) HaveHeader(hash *chainhash.Hash) bool {
	return b.index.LookupNode(hash) != nil
}

// BestSnapshot returns information about the current best chain block and
// related state as of the current point in time.  The returned instance must
// be treated as immutable since it is shared by all callers.
//
// This function is safe for concurrent access.
func (b *BlockChain) BestSnapshot() *BestState {
	b.stateLock.RLock()
	snapshot := b.stateSnapshot
	b.stateLock.RUnlock()
	return snapshot
}

// ForkWarning returns the current human-readable fork warning, or an empty
// string when no dangerous fork has been observed.
//
// This function is safe for concurrent access.
func (b *BlockChain) ForkWarning() string {
	b.warningLock.RLock()
	warning := b.forkWarning
	b.warningLock.RUnlock()
	return warning
}

// flushBlockIndex writes any modified block index entries to the database.
func (b *BlockChain) flushBlockIndex() error {
	return b.index.flush()
}

// flushBlockIndexWarnOnly attempts to flush any modified block index nodes to
// the database and will log a warning if it fails.
//
// NOTE: This MUST only be used in the specific circumstances where failure to
// flush only results in a worst case scenario of requiring one or more blocks
// to be validated again.  All other cases must directly call the function on
// the block index and check the error return accordingly.
func (b *BlockChain) flushBlockIndexWarnOnly() {
	if err := b.flushBlockIndex(); err != nil {
		log.Warnf("Unable to flush block index changes to db: %v", err)
	}
}

// connectBlock handles connecting the passed node/block to the end of the
// main (best) chain.
//
// This passed utxo view must have all referenced txos the block spends marked
// as spent and all of the new txos the block creates added to it.  In
// addition, the passed stxos slice must be populated with all of the
// information for the spent txos.  This approach is used because the
// connection validation that must happen prior to calling this function
// requires the same details, so it would be inefficient to repeat it.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) connectBlock(node *blockNode, block *btcutil.Block, view *UtxoViewpoint, stxos []spentTxOut) error {
	// Make sure it's extending the end of the best chain.
	prevHash := &block.MsgBlock().Header.PrevBlock
	tip := b.bestChain.Tip()
	if *prevHash != tip.hash {
		panicf("block %v (height %v) connects to block %v instead of "+
			"extending the best chain (hash %v, height %v)", node.hash,
			node.height, prevHash, tip.hash, tip.height)
	}

	// Sanity check the correct number of stxos are provided.
	if len(stxos) != countSpentOutputs(block) {
		panicf("provided %v stxos for block %v (height %v) which spends %v "+
			"outputs", len(stxos), node.hash, node.height,
			countSpentOutputs(block))
	}

	// Write the undo journal for the block so it can be disconnected later
	// and record that it is now available.
	if err := b.storeUndoData(node, stxos); err != nil {
		return err
	}

	// The block is now fully validated along with all of its ancestors.
	b.index.Lock()
	b.index.raiseValidity(node, validityScripts)
	b.index.Unlock()

	// Write any modified block index entries to the database before
	// updating the best state.
	if err := b.flushBlockIndex(); err != nil {
		return err
	}

	// Commit all entries in the view to the utxo cache and conditionally
	// flush it to the backing store.  The flush always updates the best
	// block pointer in the same atomic batch as the coin changes.
	b.utxoCache.Commit(view)
	err := b.utxoCache.MaybeFlush(&node.hash, uint32(node.height), false,
		false)
	if err != nil {
		return err
	}

	// This node is now the end of the best chain.
	b.bestChain.SetTip(node)

	// The new tip is always a best chain candidate, and candidates that now
	// have less work than it can never become the best chain.
	b.index.AddBestChainCandidate(node)
	b.index.RemoveLessWorkCandidates(node)

	// Generate a new best state snapshot that will be used to update the
	// database and later memory if all database updates are successful.
	b.stateLock.RLock()
	curTotalTxns := b.stateSnapshot.TotalTxns
	b.stateLock.RUnlock()
	numTxns := uint64(len(block.Transactions()))
	state := newBestState(node, uint64(node.blockSize), numTxns,
		curTotalTxns+numTxns, node.CalcPastMedianTime())

	// Update the state for the best block.  Notice how this replaces the
	// entire struct instead of updating the existing one.  This effectively
	// allows the old version to act as a snapshot which callers can use
	// freely without needing to hold a lock for the duration.
	b.stateLock.Lock()
	b.stateSnapshot = state
	b.stateLock.Unlock()

	// Prune block files that have fallen out of the configured retention
	// window.
	if err := b.maybePruneBlockFiles(node); err != nil {
		return err
	}

	// Notify the caller that the block was connected to the main chain.
	// The caller would typically want to react with actions such as
	// updating wallets.
	b.chainLock.Unlock()
	b.sendNotification(NTBlockConnected, &BlockConnectedNtfnsData{
		Block: block,
	})
	b.chainLock.Lock()

	return nil
}

// disconnectBlock handles disconnecting the passed node/block from the end of
// the main (best) chain.
//
// The passed view must represent the state of the chain after the block has
// been disconnected, meaning the outputs it created are removed and the
// outputs it spent are restored.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) disconnectBlock(node *blockNode, block *btcutil.Block, view *UtxoViewpoint) error {
	// Make sure the node being disconnected is the end of the best chain.
	tip := b.bestChain.Tip()
	if node.hash != tip.hash {
		panicf("block %v (height %v) is not the end of the best chain "+
			"(hash %v, height %v)", node.hash, node.height, tip.hash,
			tip.height)
	}

	// Write any modified block index entries to the database before
	// updating the best state.
	if err := b.flushBlockIndex(); err != nil {
		return err
	}

	// Commit all entries in the view to the utxo cache and force a flush so
	// the backing store never reflects a block that is no longer on the
	// main chain without its coin changes.
	prevNode := node.parent
	b.utxoCache.Commit(view)
	err := b.utxoCache.MaybeFlush(&prevNode.hash, uint32(prevNode.height),
		true, false)
	if err != nil {
		return err
	}

	// This node's parent is now the end of the best chain.
	b.bestChain.SetTip(prevNode)
	b.index.AddBestChainCandidate(prevNode)

	// Generate a new best state snapshot for the new tip.
	b.stateLock.RLock()
	curTotalTxns := b.stateSnapshot.TotalTxns
	b.stateLock.RUnlock()
	numTxns := uint64(len(block.Transactions()))
	state := newBestState(prevNode, uint64(prevNode.blockSize),
		uint64(prevNode.nTx), curTotalTxns-numTxns,
		prevNode.CalcPastMedianTime())

	b.stateLock.Lock()
	b.stateSnapshot = state
	b.stateLock.Unlock()

	// Notify the caller that the block was disconnected from the main
	// chain.  The caller would typically want to react with actions such as
	// updating wallets and returning its transactions to the mempool.
	b.chainLock.Unlock()
	b.sendNotification(NTBlockDisconnected, &BlockDisconnectedNtfnsData{
		Block: block,
	})
	b.chainLock.Lock()

	return nil
}

// reorganizeChainInternal attempts to reorganize the block chain to the
// provided tip without attempting to undo failed reorgs.
//
// Since reorganizing to a new chain tip might involve validating blocks that
// have not previously been validated, or attempting to reorganize to a branch
// that is already known to be invalid, it is possible for the reorganize to
// fail.  When that is the case, this function will return the error without
// attempting to undo what has already been reorganized to that point.  That
// means the best chain tip will be set to some intermediate block along the
// reorg path and will not actually be the best chain.  This is acceptable
// because this function is only intended to be called from the
// reorganizeChain function which handles reorg failures by reorganizing back
// to the known good best chain tip.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) reorganizeChainInternal(targetTip *blockNode) error {
	// Find the fork point adding each block to a slice of blocks to attach
	// below once the current best chain has been disconnected.  They are
	// added to the slice from back to front so that they are attached in
	// the appropriate order when iterating the slice later.
	//
	// In the case a known invalid block is detected while constructing this
	// list, mark all of its descendants as having an invalid ancestor and
	// prevent the reorganize.
	fork := b.bestChain.FindFork(targetTip)
	attachNodes := make([]*blockNode, targetTip.height-fork.height)
	for n := targetTip; n != nil && n != fork; n = n.parent {
		if b.index.NodeStatus(n).KnownInvalid() {
			for _, dn := range attachNodes[n.height-fork.height:] {
				if dn == nil {
					continue
				}
				b.index.SetStatusFlags(dn, statusInvalidAncestor)
				b.index.Lock()
				b.index.removeBestChainCandidate(dn)
				b.index.Unlock()
			}

			str := fmt.Sprintf("block %v is known to be invalid or a "+
				"descendant of an invalid block", n.hash)
			return ruleError(ErrKnownInvalidBlock, str)
		}

		attachNodes[n.height-fork.height-1] = n
	}

	// Disconnect all of the blocks back to the point of the fork.  This
	// entails loading the blocks and their associated undo data from the
	// flat-file store and using that information to unspend all of the
	// spent txos and remove the utxos created by the blocks.
	view := NewUtxoViewpoint()
	view.SetBestHash(&b.bestChain.Tip().hash)
	for tip := b.bestChain.Tip(); tip != nil && tip != fork; tip = b.bestChain.Tip() {
		if interruptRequested(b.interrupt) {
			return errInterruptRequested
		}

		// Load the block and the undo data required to unwind it.
		block, err := b.fetchBlockByNode(tip)
		if err != nil {
			return err
		}
		stxos, err := b.fetchUndoByNode(tip)
		if err != nil {
			return err
		}

		// Update the view to unspend all of the spent txos and remove the
		// utxos created by the block.
		err = view.fetchBlockUtxos(b.utxoCache, block)
		if err != nil {
			return err
		}
		result, err := view.disconnectTransactions(block, stxos)
		if err != nil {
			return err
		}
		if result == disconnectUnclean {
			log.Warnf("Disconnect of block %v (height %d) was unclean: "+
				"observed utxo state did not fully match the block",
				tip.hash, tip.height)
		}

		// Update the database and chain state.
		err = b.disconnectBlock(tip, block, view)
		if err != nil {
			return err
		}
	}

	// Attempt to connect each block that needs to be attached to the main
	// chain.  This entails performing several checks to verify each block
	// can be connected without violating any consensus rules and updating
	// the relevant information related to the current chain state.
	for i, n := range attachNodes {
		if interruptRequested(b.interrupt) {
			return errInterruptRequested
		}

		// Briefly release the chain lock between batches of connected
		// blocks so readers are not starved for the full duration of a
		// deep reorganization.
		if i != 0 && i%maxReorgConnectBatch == 0 {
			b.chainLock.Unlock()
			b.chainLock.Lock()
		}

		block, err := b.fetchBlockByNode(n)
		if err != nil {
			return err
		}

		// Skip validation if the block has already been fully validated.
		// However, the utxo view still needs to be updated and the stxos
		// are still needed.
		stxos := make([]spentTxOut, 0, countSpentOutputs(block))
		if b.index.NodeStatus(n).KnownValid() {
			err = view.fetchInputUtxos(b.utxoCache, block)
			if err != nil {
				return err
			}
			err = view.connectTransactions(block, &stxos)
			if err != nil {
				return err
			}
		} else {
			// In the case the block is determined to be invalid due to a
			// rule violation, mark it as invalid and mark all of its
			// descendants as having an invalid ancestor.
			err = b.checkConnectBlock(n, block, view, &stxos)
			if err != nil {
				var rerr RuleError
				if errors.As(err, &rerr) {
					b.index.MarkBlockFailedValidation(n)
					for _, dn := range attachNodes[i+1:] {
						b.index.SetStatusFlags(dn, statusInvalidAncestor)
						b.index.Lock()
						b.index.removeBestChainCandidate(dn)
						b.index.Unlock()
					}
					b.flushBlockIndexWarnOnly()
				}
				return err
			}
			b.index.Lock()
			b.index.raiseValidity(n, validityChain)
			b.index.Unlock()
		}

		// Update the database and chain state.
		err = b.connectBlock(n, block, view, stxos)
		if err != nil {
			return err
		}
	}

	return nil
}

// reorganizeChain attempts to reorganize the block chain to the provided tip.
// The tip must have already been determined to be on another branch by the
// caller.  Upon return, the chain will be fully reorganized to the provided
// tip or an appropriate error will be returned and the chain will remain at
// the same tip it was prior to calling this function.  The exception is an
// interrupt request, which returns errInterruptRequested and leaves the chain
// at whichever block the reorganization had reached.
//
// Reorganizing the chain entails disconnecting all blocks from the current
// best chain tip back to the fork point between it and the provided target
// tip in reverse order (think popping them off the end of the chain) and then
// connecting the blocks on the new branch in forwards order (think pushing
// them onto the end of the chain).
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) reorganizeChain(targetTip *blockNode) error {
	// Nothing to do if there is no target tip or the target tip is already
	// the current tip.
	if targetTip == nil {
		return nil
	}
	origTip := b.bestChain.Tip()
	if origTip == targetTip {
		return nil
	}

	// Attempt to reorganize the chain to the new tip.  In the case it
	// fails, reorganize back to the original tip.  There is no way to
	// recover if the chain fails to reorganize back to the original tip
	// since something is very wrong if a chain tip that was already known
	// to be valid fails to reconnect.
	fork := b.bestChain.FindFork(targetTip)
	reorgErr := b.reorganizeChainInternal(targetTip)
	if reorgErr != nil {
		if errors.Is(reorgErr, errInterruptRequested) {
			return reorgErr
		}
		if err := b.reorganizeChainInternal(origTip); err != nil {
			panicf("failed to reorganize back to known good chain tip %v "+
				"(height %d): %v -- probable database corruption",
				origTip.hash, origTip.height, err)
		}

		return reorgErr
	}

	// Send a notification that a blockchain reorganization took place when
	// the fork point is not the original tip, which would simply be a chain
	// extension rather than an actual reorg.
	if fork != origTip {
		reorgData := &ReorganizationNtfnsData{
			OldHash:   origTip.hash,
			OldHeight: origTip.height,
			NewHash:   targetTip.hash,
			NewHeight: targetTip.height,
		}
		b.chainLock.Unlock()
		b.sendNotification(NTReorganization, reorgData)
		b.chainLock.Lock()

		// Log the point where the chain forked and old and new best chain
		// tips.
		log.Infof("REORGANIZE: Chain forks at %v (height %v)", fork.hash,
			fork.height)
		log.Infof("REORGANIZE: Old best chain tip was %v (height %v)",
			origTip.hash, origTip.height)
		log.Infof("REORGANIZE: New best chain tip is %v (height %v)",
			targetTip.hash, targetTip.height)
	}

	return nil
}

// maybeActivateBestChain repeatedly selects the best potentially valid chain
// candidate with the most cumulative work and attempts to reorganize the
// chain to it.  Candidates that turn out to be invalid are marked as such and
// removed from consideration, after which selection runs again, so this
// function only returns once the best chain the node knows of that can
// actually be validated is the active chain.
//
// When the optional interest node is provided and ends up being marked
// invalid during the process, the rule error that invalidated it (or its
// branch) is returned so the caller can report why the block it just
// processed was rejected even though a best chain was still activated.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maybeActivateBestChain(interest *blockNode) error {
	var interestErr error
	for {
		if interruptRequested(b.interrupt) {
			return errInterruptRequested
		}

		// Find the current best chain candidate.  Nothing to do when it is
		// already the current tip.
		candidate := b.index.FindBestChainCandidate()
		if candidate == nil || candidate == b.bestChain.Tip() {
			break
		}

		err := b.reorganizeChain(candidate)
		if err == nil {
			continue
		}

		// An in-progress block that is interrupted is treated as rejected
		// for this run without being marked failed.
		if errors.Is(err, errInterruptRequested) {
			return err
		}

		// Rule errors while connecting a candidate have already updated the
		// failure state in the block index, so selection simply runs again.
		// Anything else is a hard failure.
		var rerr RuleError
		if !errors.As(err, &rerr) {
			return err
		}
		log.Warnf("Chain candidate %v rejected: %v", candidate.hash, err)

		if interest != nil && interestErr == nil &&
			b.index.NodeStatus(interest).KnownInvalid() {

			interestErr = err
		}
	}

	// Warn when a competing side chain near the tip has accumulated a
	// dangerous amount of work.
	b.maybeWarnDangerousFork()
	return interestErr
}

// maybeWarnDangerousFork checks the known chain tips for a competing side
// chain close to the current tip whose cumulative work exceeds the tip's by
// more than several typical block proofs and raises a user-visible warning
// when one is found.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) maybeWarnDangerousFork() {
	tip := b.bestChain.Tip()
	if tip == nil {
		return
	}

	// The work margin is several typical proofs at the difficulty of the
	// current tip.
	margin := CalcWork(tip.bits)
	margin.Mul(margin, forkWarningMultiplier)
	threshold := margin.Add(margin, tip.workSum)

	b.index.RLock()
	defer b.index.RUnlock()
	b.index.forEachChainTip(func(sideTip *blockNode) error {
		if sideTip == tip || b.bestChain.Contains(sideTip) {
			return nil
		}
		if tip.height-sideTip.height > forkWarningDepth {
			return nil
		}
		if sideTip.workSum.Cmp(threshold) <= 0 {
			return nil
		}

		warning := fmt.Sprintf("dangerous fork detected: side chain tip %v "+
			"(height %d) has significantly more work than the current best "+
			"chain tip %v (height %d)", sideTip.hash, sideTip.height,
			tip.hash, tip.height)
		log.Warnf("%s", warning)

		b.warningLock.Lock()
		b.forkWarning = warning
		b.warningLock.Unlock()

		data := &ForkDetectedNtfnsData{
			TipHash:    tip.hash,
			TipHeight:  tip.height,
			ForkHash:   sideTip.hash,
			ForkHeight: sideTip.height,
			Warning:    warning,
		}
		go b.sendNotification(NTForkDetected, data)
		return nil
	})
}

// forkWarningMultiplier is forkWarningWorkBlocks as a big integer.
var forkWarningMultiplier = big.NewInt(forkWarningWorkBlocks)

// InvalidateBlock manually invalidates the provided block as if it had
// violated a consensus rule and reorganizes the chain away from it as needed.
//
// This function is safe for concurrent access.
func (b *BlockChain) InvalidateBlock(hash *chainhash.Hash) error {
	node := b.index.LookupNode(hash)
	if node == nil {
		str := fmt.Sprintf("block %v is not known", hash)
		return ruleError(ErrMissingParent, str)
	}
	if node.parent == nil {
		return ruleError(ErrKnownInvalidBlock, "the genesis block can not "+
			"be invalidated")
	}

	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	// When the block being invalidated is on the active chain, the chain
	// must first be reorganized back to its parent.
	if b.bestChain.Contains(node) {
		if err := b.reorganizeChain(node.parent); err != nil {
			return err
		}
	}

	b.index.MarkBlockFailedValidation(node)
	b.flushBlockIndexWarnOnly()
	return b.maybeActivateBestChain(nil)
}

// MainChainHasBlock returns whether or not the block with the given hash is
// in the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) MainChainHasBlock(hash *chainhash.Hash) bool {
	node := b.index.LookupNode(hash)
	return node != nil && b.bestChain.Contains(node)
}

// BlockHashByHeight returns the hash of the block at the given height in the
// main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockHashByHeight(blockHeight int64) (*chainhash.Hash, error) {
	node := b.bestChain.NodeByHeight(blockHeight)
	if node == nil {
		str := fmt.Sprintf("no block at height %d exists", blockHeight)
		return nil, ruleError(ErrMissingParent, str)
	}

	return &node.hash, nil
}

// BlockHeightByHash returns the height of the block with the given hash in
// the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockHeightByHash(hash *chainhash.Hash) (int64, error) {
	node := b.index.LookupNode(hash)
	if node == nil || !b.bestChain.Contains(node) {
		str := fmt.Sprintf("block %v is not in the main chain", hash)
		return 0, ruleError(ErrMissingParent, str)
	}

	return node.height, nil
}

// HeaderByHash returns the block header identified by the given hash or an
// error if it doesn't exist.
//
// This function is safe for concurrent access.
func (b *BlockChain) HeaderByHash(hash *chainhash.Hash) (wire.BlockHeader, error) {
	node := b.index.LookupNode(hash)
	if node == nil {
		str := fmt.Sprintf("block %v is not known", hash)
		return wire.BlockHeader{}, ruleError(ErrMissingParent, str)
	}

	return node.Header(), nil
}

// BlockByHash returns the block from the main chain or a side chain with the
// given hash.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockByHash(hash *chainhash.Hash) (*btcutil.Block, error) {
	node := b.index.LookupNode(hash)
	if node == nil {
		str := fmt.Sprintf("block %v is not known", hash)
		return nil, ruleError(ErrMissingParent, str)
	}

	return b.fetchBlockByNode(node)
}

// BlockByHeight returns the block at the given height in the main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockByHeight(blockHeight int64) (*btcutil.Block, error) {
	node := b.bestChain.NodeByHeight(blockHeight)
	if node == nil {
		str := fmt.Sprintf("no block at height %d exists", blockHeight)
		return nil, ruleError(ErrMissingParent, str)
	}

	return b.fetchBlockByNode(node)
}

// LatestBlockLocator returns a block locator for the latest known tip of the
// main (best) chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) LatestBlockLocator() BlockLocator {
	return b.bestChain.BlockLocator(nil)
}

// IsCurrent returns whether or not the chain believes it is current.  Several
// factors are used to guess, but the key factors that allow the chain to
// believe it is current are:
//   - Latest block height is after the latest checkpoint (if enabled)
//   - Latest block has a timestamp newer than 24 hours ago
//
// This function is safe for concurrent access.
func (b *BlockChain) IsCurrent() bool {
	b.chainLock.RLock()
	isCurrent := b.isCurrent()
	b.chainLock.RUnlock()
	return isCurrent
}

// TipGeneration returns the entire generation of blocks stemming from the
// parent of the current tip.
//
// This function is safe for concurrent access.
func (b *BlockChain) TipGeneration() []chainhash.Hash {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	tip := b.bestChain.Tip()
	if tip.parent == nil {
		return []chainhash.Hash{tip.hash}
	}

	var hashes []chainhash.Hash
	b.index.RLock()
	for _, node := range b.index.index {
		if node.parent == tip.parent {
			hashes = append(hashes, node.hash)
		}
	}
	b.index.RUnlock()
	return hashes
}
