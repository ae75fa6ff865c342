// Copyright (c) 2016-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math"
	"testing"

	"github.com/smartcash/smartd/chaincfg"
)

// newVersionBitsChain returns a bare chain instance suitable for evaluating
// threshold states along the provided synthetic node chain.
func newVersionBitsChain(params *chaincfg.Params) *BlockChain {
	return &BlockChain{
		chainParams:      params,
		deploymentCaches: newThresholdCaches(uint32(len(params.Deployments))),
	}
}

// TestThresholdStateTransitions ensures a deployment moves through the
// defined, started, locked in, and active states as its start time is
// reached and enough blocks signal it.
func TestThresholdStateTransitions(t *testing.T) {
	params := chaincfg.RegNetParams()
	params.Deployments[chaincfg.DeploymentCSV] = chaincfg.ConsensusDeployment{
		BitNumber:  0,
		StartTime:  0,
		ExpireTime: math.MaxUint64,
	}
	chain := newVersionBitsChain(params)

	// Every block signals the deployment bit.
	signalVersion := int32(chaincfg.VersionBitsTopBits | 1)
	nodes := fakeNodeChain(600, params.PowLimitBits, signalVersion)

	tests := []struct {
		name   string
		node   *blockNode
		want   ThresholdState
	}{
		{name: "first window is defined", node: nodes[100], want: ThresholdDefined},
		{name: "started after the start time", node: nodes[200], want: ThresholdStarted},
		{name: "locked in after a signaling window", node: nodes[300], want: ThresholdLockedIn},
		{name: "active one window later", node: nodes[500], want: ThresholdActive},
	}
	for _, test := range tests {
		state, err := chain.thresholdState(test.node, chaincfg.DeploymentCSV)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", test.name, err)
		}
		if state != test.want {
			t.Fatalf("%s: got %v, want %v", test.name, state, test.want)
		}
	}

	// The state is monotone along the chain: once active, every later node
	// reports active.
	for _, node := range nodes[432:] {
		state, err := chain.thresholdState(node, chaincfg.DeploymentCSV)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state != ThresholdActive {
			t.Fatalf("state regressed at height %d: got %v", node.height,
				state)
		}
	}
}

// TestThresholdStateNoQuorum ensures a deployment that never reaches its
// signal threshold remains in the started state.
func TestThresholdStateNoQuorum(t *testing.T) {
	params := chaincfg.RegNetParams()
	params.Deployments[chaincfg.DeploymentCSV] = chaincfg.ConsensusDeployment{
		BitNumber:  0,
		StartTime:  0,
		ExpireTime: math.MaxUint64,
	}
	chain := newVersionBitsChain(params)

	// No blocks signal the deployment bit.
	nodes := fakeNodeChain(600, params.PowLimitBits, 1)

	for _, node := range []*blockNode{nodes[200], nodes[400], nodes[599]} {
		state, err := chain.thresholdState(node, chaincfg.DeploymentCSV)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state != ThresholdStarted {
			t.Fatalf("unexpected state at height %d without quorum: got %v",
				node.height, state)
		}
	}
}

// TestThresholdStateExpire ensures a deployment whose expiration time passes
// before it locks in fails permanently.
func TestThresholdStateExpire(t *testing.T) {
	params := chaincfg.RegNetParams()
	params.Deployments[chaincfg.DeploymentCSV] = chaincfg.ConsensusDeployment{
		BitNumber:  0,
		StartTime:  0,
		ExpireTime: 1,
	}
	chain := newVersionBitsChain(params)

	signalVersion := int32(chaincfg.VersionBitsTopBits | 1)
	nodes := fakeNodeChain(600, params.PowLimitBits, signalVersion)

	for _, node := range []*blockNode{nodes[200], nodes[599]} {
		state, err := chain.thresholdState(node, chaincfg.DeploymentCSV)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state != ThresholdFailed {
			t.Fatalf("unexpected state at height %d after expiry: got %v",
				node.height, state)
		}
	}
}

// TestThresholdStatePureFunction ensures the state for a window is a pure
// function of the node that ends the previous window: evaluating through the
// cache and with a fresh cache yields the same result.
func TestThresholdStatePureFunction(t *testing.T) {
	params := chaincfg.RegNetParams()
	params.Deployments[chaincfg.DeploymentCSV] = chaincfg.ConsensusDeployment{
		BitNumber:  0,
		StartTime:  0,
		ExpireTime: math.MaxUint64,
	}

	signalVersion := int32(chaincfg.VersionBitsTopBits | 1)
	nodes := fakeNodeChain(600, params.PowLimitBits, signalVersion)

	chainA := newVersionBitsChain(params)
	chainB := newVersionBitsChain(params)

	// Walk chain A forwards, so its cache is warm, and evaluate chain B
	// directly at the final node with a cold cache.
	var lastA ThresholdState
	for _, node := range nodes {
		state, err := chainA.thresholdState(node, chaincfg.DeploymentCSV)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lastA = state
	}
	lastB, err := chainB.thresholdState(nodes[len(nodes)-1],
		chaincfg.DeploymentCSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lastA != lastB {
		t.Fatalf("cached and cold evaluations differ: %v != %v", lastA,
			lastB)
	}
}

// TestSignalsDeployment ensures the version bits signal detection honors the
// required top bit pattern.
func TestSignalsDeployment(t *testing.T) {
	tests := []struct {
		version int32
		bit     uint8
		want    bool
	}{
		{int32(chaincfg.VersionBitsTopBits | 1), 0, true},
		{int32(chaincfg.VersionBitsTopBits | 1), 1, false},
		{int32(chaincfg.VersionBitsTopBits | 4), 2, true},
		{4, 2, false},             // missing top bits
		{1, 0, false},             // legacy version
		{0x60000001, 0, false},    // wrong top bit pattern
	}
	for _, test := range tests {
		got := signalsDeployment(test.version, test.bit)
		if got != test.want {
			t.Errorf("signalsDeployment(%08x, %d): got %v, want %v",
				uint32(test.version), test.bit, got, test.want)
		}
	}
}
