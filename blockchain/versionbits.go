// Copyright (c) 2016-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/smartcash/smartd/chaincfg"
)

// ThresholdState define the various threshold states used when voting on
// consensus changes.
type ThresholdState byte

// These constants are used to identify specific threshold states.
const (
	// ThresholdDefined is the first state for each deployment and is the
	// state for the genesis block has by definition for all deployments.
	ThresholdDefined ThresholdState = iota

	// ThresholdStarted is the state for a deployment once its start time
	// has been reached.
	ThresholdStarted

	// ThresholdLockedIn is the state for a deployment during the retarget
	// period which is after the ThresholdStarted state period and the
	// number of blocks that have voted for the deployment equal or exceed
	// the required number of votes for the deployment.
	ThresholdLockedIn

	// ThresholdActive is the state for a deployment for all blocks after a
	// retarget period in which the deployment was in the ThresholdLockedIn
	// state.
	ThresholdActive

	// ThresholdFailed is the state for a deployment once its expiration
	// time has been reached and it did not reach the ThresholdLockedIn
	// state.
	ThresholdFailed

	// numThresholdsStates is the maximum number of threshold states used in
	// tests.
	numThresholdsStates
)

// thresholdStateStrings is a map of ThresholdState values back to their
// constant names for pretty printing.
var thresholdStateStrings = map[ThresholdState]string{
	ThresholdDefined:  "ThresholdDefined",
	ThresholdStarted:  "ThresholdStarted",
	ThresholdLockedIn: "ThresholdLockedIn",
	ThresholdActive:   "ThresholdActive",
	ThresholdFailed:   "ThresholdFailed",
}

// String returns the ThresholdState as a human-readable name.
func (t ThresholdState) String() string {
	if s := thresholdStateStrings[t]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ThresholdState (%d)", int(t))
}

// thresholdStateCache provides a type to cache the threshold states of each
// threshold window for a set of IDs.  The cache is keyed by the hash of the
// final block of the window prior to the one the state applies to, which
// makes the state a pure function of (deployment, window start entry).
type thresholdStateCache struct {
	entries map[chainhash.Hash]ThresholdState
}

// Lookup returns the threshold state associated with the given hash along
// with a boolean that indicates whether or not it is valid.
func (c *thresholdStateCache) Lookup(hash *chainhash.Hash) (ThresholdState, bool) {
	state, ok := c.entries[*hash]
	return state, ok
}

// Update updates the cache to contain the provided hash to threshold state
// mapping.
func (c *thresholdStateCache) Update(hash *chainhash.Hash, state ThresholdState) {
	c.entries[*hash] = state
}

// newThresholdCaches returns a new array of caches to be used when
// calculating threshold states.
func newThresholdCaches(numCaches uint32) []thresholdStateCache {
	caches := make([]thresholdStateCache, numCaches)
	for i := 0; i < len(caches); i++ {
		caches[i] = thresholdStateCache{
			entries: make(map[chainhash.Hash]ThresholdState),
		}
	}
	return caches
}

// signalsDeployment returns whether or not the provided block version signals
// support for the deployment with the provided bit number.  The top bits of
// the version must carry the version bits pattern for any of its remaining
// bits to be interpreted as signals.
func signalsDeployment(version int32, bitNumber uint8) bool {
	return uint32(version)&chaincfg.VersionBitsTopMask ==
		chaincfg.VersionBitsTopBits && uint32(version)>>bitNumber&1 == 1
}

// thresholdState returns the current rule change threshold state for the
// block AFTER the given node and deployment ID.  The cache is used to ensure
// the threshold states for previous windows are only calculated once.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) thresholdState(prevNode *blockNode, deploymentID int) (ThresholdState, error) {
	if deploymentID < 0 || deploymentID >= len(b.chainParams.Deployments) {
		return ThresholdFailed, AssertError(fmt.Sprintf("deployment ID %d "+
			"does not exist", deploymentID))
	}
	deployment := &b.chainParams.Deployments[deploymentID]
	cache := &b.deploymentCaches[deploymentID]

	// The threshold state for the window that contains the genesis block is
	// defined by definition.
	confirmationWindow := int64(b.chainParams.MinerConfirmationWindow)
	if prevNode == nil || prevNode.height+1 < confirmationWindow {
		return ThresholdDefined, nil
	}

	// Get the ancestor that is the last block of the previous confirmation
	// window in order to get its threshold state.  This can be done because
	// the state is the same for all blocks within a given window.
	wantHeight := (prevNode.height+1)/confirmationWindow*confirmationWindow - 1
	prevNode = prevNode.Ancestor(wantHeight)

	// Iterate backwards through each of the previous confirmation windows
	// to find the most recently cached threshold state.
	var neededStates []*blockNode
	for prevNode != nil {
		// Nothing more to do if the state of the block is already cached.
		if _, ok := cache.Lookup(&prevNode.hash); ok {
			break
		}

		// The start and expiration times are based on the median block
		// time, so calculate it now.
		medianTime := prevNode.CalcPastMedianTime()

		// The state is simply defined if the start time hasn't been reached
		// yet.
		if uint64(medianTime.Unix()) < deployment.StartTime {
			cache.Update(&prevNode.hash, ThresholdDefined)
			break
		}

		// Add this node to the list of nodes that need the state calculated
		// and cached.
		neededStates = append(neededStates, prevNode)

		// Get the ancestor that is the last block of the previous
		// confirmation window.
		prevNode = prevNode.RelativeAncestor(confirmationWindow)
	}

	// Start with the threshold state for the most recent confirmation
	// window that has a cached state.
	state := ThresholdDefined
	if prevNode != nil {
		var ok bool
		state, ok = cache.Lookup(&prevNode.hash)
		if !ok {
			return ThresholdFailed, AssertError(fmt.Sprintf("threshold "+
				"state cache lookup failed for %v", prevNode.hash))
		}
	}

	// Since each threshold state depends on the state of the previous
	// window, iterate starting from the oldest unknown window.
	for neededNum := len(neededStates) - 1; neededNum >= 0; neededNum-- {
		prevNode := neededStates[neededNum]

		switch state {
		case ThresholdDefined:
			// The deployment of the rule change fails if it expires before
			// it is accepted and locked in.
			medianTime := prevNode.CalcPastMedianTime()
			medianTimeUnix := uint64(medianTime.Unix())
			if medianTimeUnix >= deployment.ExpireTime {
				state = ThresholdFailed
				break
			}

			// The state for the rule moves to the started state once its
			// start time has been reached (and it hasn't already expired
			// per the above).
			if medianTimeUnix >= deployment.StartTime {
				state = ThresholdStarted
			}

		case ThresholdStarted:
			// The deployment of the rule change fails if it expires before
			// it is accepted and locked in.
			medianTime := prevNode.CalcPastMedianTime()
			if uint64(medianTime.Unix()) >= deployment.ExpireTime {
				state = ThresholdFailed
				break
			}

			// At this point, the rule change is still being voted on by the
			// miners, so iterate backwards through the confirmation window
			// to count all of the votes in it.
			var numVotes uint32
			countNode := prevNode
			for i := int64(0); i < confirmationWindow; i++ {
				if signalsDeployment(countNode.version, deployment.BitNumber) {
					numVotes++
				}

				countNode = countNode.parent
			}

			// The state is locked in if the number of blocks in the period
			// that voted for the rule change meets the activation threshold.
			if numVotes >= b.chainParams.RuleChangeActivationThreshold {
				state = ThresholdLockedIn
			}

		case ThresholdLockedIn:
			// The new rule becomes active when its previous state was
			// locked in.
			state = ThresholdActive

		// Nothing to do if the previous state is active or failed since
		// they are both terminal states.
		case ThresholdActive:
		case ThresholdFailed:
		}

		// Update the cache to avoid recalculating the state in the future.
		cache.Update(&prevNode.hash, state)
	}

	return state, nil
}

// ThresholdState returns the current rule change threshold state of the given
// deployment ID for the block AFTER the end of the current best chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) ThresholdState(deploymentID int) (ThresholdState, error) {
	b.chainLock.Lock()
	state, err := b.thresholdState(b.bestChain.Tip(), deploymentID)
	b.chainLock.Unlock()

	return state, err
}

// isCSVActive returns whether or not the CSV soft-fork package, which
// includes relative lock-time enforcement and median time past based
// lock-time calculations, is active from the point of view of the block
// after the passed node.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) isCSVActive(prevNode *blockNode) (bool, error) {
	state, err := b.thresholdState(prevNode, chaincfg.DeploymentCSV)
	if err != nil {
		return false, err
	}
	return state == ThresholdActive, nil
}

// isBlockSizeActive returns whether or not the adaptive maximum block size
// deployment is active from the point of view of the block after the passed
// node.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) isBlockSizeActive(prevNode *blockNode) (bool, error) {
	state, err := b.thresholdState(prevNode, chaincfg.DeploymentBlockSize)
	if err != nil {
		return false, err
	}
	return state == ThresholdActive, nil
}

// CalcNextBlockVersion calculates the expected version of the block after the
// end of the current best chain based on the state of started and locked in
// rule change deployments.
//
// This function is safe for concurrent access.
func (b *BlockChain) CalcNextBlockVersion() (int32, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	// Set the appropriate bits for each actively defined rule deployment
	// that is either in the process of being voted on, or locked in for the
	// activation at the next threshold window change.
	expectedVersion := uint32(chaincfg.VersionBitsTopBits)
	prevNode := b.bestChain.Tip()
	for id := 0; id < len(b.chainParams.Deployments); id++ {
		state, err := b.thresholdState(prevNode, id)
		if err != nil {
			return 0, err
		}
		if state == ThresholdStarted || state == ThresholdLockedIn {
			expectedVersion |= uint32(1) << b.chainParams.Deployments[id].BitNumber
		}
	}
	return int32(expectedVersion), nil
}
