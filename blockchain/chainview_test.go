// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
)

// branchNodes extends the provided parent with the given number of synthetic
// nodes and returns them, oldest first.
func branchNodes(parent *blockNode, numNodes int, tag uint32) []*blockNode {
	nodes := make([]*blockNode, 0, numNodes)
	for i := 0; i < numNodes; i++ {
		header := wire.BlockHeader{
			Version:   1,
			PrevBlock: parent.hash,
			Bits:      parent.bits,
			Nonce:     tag + uint32(i),
		}
		header.Timestamp = timeUnix(parent.timestamp + 55)
		node := newBlockNode(&header, parent)
		nodes = append(nodes, node)
		parent = node
	}
	return nodes
}

// TestChainView ensures all of the exported functionality of chain views
// works as intended with the exception of some special cases which are
// handled in other tests.
func TestChainView(t *testing.T) {
	// Construct a synthetic block index consisting of the following
	// structure.
	//
	//	0 -> 1 -> 2  -> 3  -> 4
	//	           \-> 2a -> 3a -> 4a -> 5a
	main := fakeNodeChain(5, 0x207fffff, 1)
	side := branchNodes(main[1], 4, 1000)

	tip := func(nodes []*blockNode) *blockNode {
		return nodes[len(nodes)-1]
	}

	view := newChainView(tip(main))
	if view.Height() != tip(main).height {
		t.Fatalf("unexpected view height: got %d, want %d", view.Height(),
			tip(main).height)
	}
	if view.Tip() != tip(main) {
		t.Fatal("unexpected view tip")
	}
	if view.Genesis() != main[0] {
		t.Fatal("unexpected view genesis")
	}

	// Every main chain node is contained and resolvable by height, side
	// chain nodes are not.
	for _, node := range main {
		if !view.Contains(node) {
			t.Fatalf("view missing main chain node at height %d",
				node.height)
		}
		if view.NodeByHeight(node.height) != node {
			t.Fatalf("wrong node at height %d", node.height)
		}
	}
	for _, node := range side {
		if view.Contains(node) {
			t.Fatalf("view contains side chain node at height %d",
				node.height)
		}
	}

	// Next walks the chain in order.
	for i, node := range main[:len(main)-1] {
		if next := view.Next(node); next != main[i+1] {
			t.Fatalf("wrong successor of height %d", node.height)
		}
	}
	if view.Next(tip(main)) != nil {
		t.Fatal("unexpected successor of the tip")
	}
	if view.Next(tip(side)) != nil {
		t.Fatal("unexpected successor of a node outside the view")
	}

	// The fork point of every side chain node with the main view is the
	// common ancestor at height 1.
	for _, node := range side {
		if fork := view.FindFork(node); fork != main[1] {
			t.Fatalf("unexpected fork point for side node at height %d",
				node.height)
		}
	}

	// The fork point of any two nodes on the active chain is the earlier of
	// the two.
	for i, a := range main {
		for _, b := range main[i:] {
			subView := newChainView(b)
			if fork := subView.FindFork(a); fork != a {
				t.Fatalf("fork of heights %d and %d is not the earlier "+
					"node", a.height, b.height)
			}
		}
	}

	// Switching the tip to the side chain reorganizes the view.
	view.SetTip(tip(side))
	if view.Height() != tip(side).height {
		t.Fatalf("unexpected view height after switch: got %d, want %d",
			view.Height(), tip(side).height)
	}
	for _, node := range side {
		if !view.Contains(node) {
			t.Fatalf("view missing side chain node at height %d after "+
				"switch", node.height)
		}
	}
	for _, node := range main[2:] {
		if view.Contains(node) {
			t.Fatalf("view contains old branch node at height %d after "+
				"switch", node.height)
		}
	}

	// Setting a nil tip empties the view.
	view.SetTip(nil)
	if view.Tip() != nil || view.Height() != -1 {
		t.Fatal("view not empty after setting nil tip")
	}
}

// TestChainViewBlockLocator ensures block locators returned by views start at
// the requested node, include the doubling-distance pattern, and always end
// at the genesis block.
func TestChainViewBlockLocator(t *testing.T) {
	main := fakeNodeChain(80, 0x207fffff, 1)
	view := newChainView(main[len(main)-1])

	locator := view.BlockLocator(nil)
	if len(locator) == 0 {
		t.Fatal("empty locator")
	}
	if *locator[0] != main[len(main)-1].hash {
		t.Fatal("locator does not start at the tip")
	}
	if *locator[len(locator)-1] != main[0].hash {
		t.Fatal("locator does not end at the genesis block")
	}

	// The first dozen entries decrease one block at a time.
	for i := 0; i < 10 && i+1 < len(locator); i++ {
		wantHeight := main[len(main)-1].height - int64(i)
		if *locator[i] != main[wantHeight].hash {
			t.Fatalf("unexpected locator entry %d", i)
		}
	}
}
