// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"errors"
	"reflect"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"

	"github.com/smartcash/smartd/blobstore"
	"github.com/smartcash/smartd/database"
)

// TestLinearExtension exercises the simplest end to end scenario: headers
// and bodies for a linear chain arrive in order and become the best chain.
func TestLinearExtension(t *testing.T) {
	params := testParams()
	chain := newTestChain(t, params)
	g := newTestGenerator(t, params)

	// Deliver the headers first, then the bodies, mirroring the two-phase
	// acceptance pipeline.
	b1 := g.nextBlock()
	b2 := g.nextBlock()
	b3 := g.nextBlock()
	blocks := []*btcutil.Block{b1, b2, b3}
	for _, block := range blocks {
		header := block.MsgBlock().Header
		if err := chain.ProcessBlockHeader(&header); err != nil {
			t.Fatalf("header %v unexpectedly rejected: %v", block.Hash(),
				err)
		}
	}

	// The headers alone do not move the tip.
	assertTipHash(t, chain, params.GenesisHash)

	for _, block := range blocks {
		acceptBlock(t, chain, block)
	}

	// The tip is the final block and the state reflects the chain.
	assertTipHash(t, chain, *b3.Hash())
	best := chain.BestSnapshot()
	if best.Height != 3 {
		t.Fatalf("unexpected best height: got %d, want 3", best.Height)
	}
	if best.TotalTxns != 4 {
		t.Fatalf("unexpected total transactions: got %d, want 4",
			best.TotalTxns)
	}

	// Every connected block has its data and undo data stored and is fully
	// validated.
	for _, block := range blocks {
		node := chain.index.LookupNode(block.Hash())
		if node == nil {
			t.Fatalf("block %v missing from the index", block.Hash())
		}
		status := chain.index.NodeStatus(node)
		if !status.HaveData() {
			t.Fatalf("block %v has no data stored", block.Hash())
		}
		if !status.HaveUndo() {
			t.Fatalf("block %v has no undo stored", block.Hash())
		}
		if status.Validity() != validityScripts {
			t.Fatalf("block %v validity is %d, want %d", block.Hash(),
				status.Validity(), validityScripts)
		}
	}

	// The utxo set contains the coinbase outputs of all three blocks.
	for _, block := range blocks {
		out := makeSpendableOut(block, 0, 0)
		entry, err := chain.FetchUtxoEntry(out.prevOut)
		if err != nil {
			t.Fatalf("unexpected error fetching coinbase utxo: %v", err)
		}
		if entry == nil || entry.IsSpent() {
			t.Fatalf("coinbase output of block %v is not in the utxo set",
				block.Hash())
		}
		if !entry.IsCoinBase() {
			t.Fatalf("coinbase output of block %v not flagged as coinbase",
				block.Hash())
		}
	}
}

// TestReorganization builds a depth-2 reorganization and verifies the chain
// disconnects the losing branch and connects the winning one.
func TestReorganization(t *testing.T) {
	params := testParams()
	chain := newTestChain(t, params)
	g := newTestGenerator(t, params)

	// Build the initial chain G -> b1 -> b2 -> b3.
	b1 := g.nextBlock()
	acceptBlock(t, chain, b1)
	b1Hash := *b1.Hash()
	b2 := g.nextBlock()
	acceptBlock(t, chain, b2)
	b3 := g.nextBlock()
	acceptBlock(t, chain, b3)
	assertTipHash(t, chain, *b3.Hash())

	// Build a competing branch from b1 with more cumulative work by virtue
	// of being longer: b2a -> b3a -> b4a.
	g.setTip(&b1Hash, 1)
	b2a := g.nextBlock()
	b3a := g.nextBlock()
	b4a := g.nextBlock()

	// Delivering b2a and b3a ties the work of the original chain at best,
	// and since the original branch was received first, the tip must not
	// move yet.
	if _, err := chain.ProcessBlock(b2a); err != nil {
		t.Fatalf("side block unexpectedly rejected: %v", err)
	}
	if _, err := chain.ProcessBlock(b3a); err != nil {
		t.Fatalf("side block unexpectedly rejected: %v", err)
	}
	assertTipHash(t, chain, *b3.Hash())

	// Delivering b4a gives the side branch more work and forces the
	// reorganization.
	if _, err := chain.ProcessBlock(b4a); err != nil {
		t.Fatalf("side block unexpectedly rejected: %v", err)
	}
	assertTipHash(t, chain, *b4a.Hash())

	// The old branch's coinbase outputs are gone from the utxo set while
	// the new branch's are present.
	for _, block := range []*btcutil.Block{b2, b3} {
		out := makeSpendableOut(block, 0, 0)
		entry, err := chain.FetchUtxoEntry(out.prevOut)
		if err != nil {
			t.Fatalf("unexpected error fetching utxo: %v", err)
		}
		if entry != nil && !entry.IsSpent() {
			t.Fatalf("disconnected coinbase %v still in the utxo set",
				out.prevOut)
		}
	}
	for _, block := range []*btcutil.Block{b2a, b3a, b4a} {
		out := makeSpendableOut(block, 0, 0)
		entry, err := chain.FetchUtxoEntry(out.prevOut)
		if err != nil {
			t.Fatalf("unexpected error fetching utxo: %v", err)
		}
		if entry == nil || entry.IsSpent() {
			t.Fatalf("connected coinbase %v missing from the utxo set",
				out.prevOut)
		}
	}

	// The fork point between the old and new tips is b1.
	oldNode := chain.index.LookupNode(b3.Hash())
	newNode := chain.index.LookupNode(b4a.Hash())
	fork := chain.bestChain.FindFork(oldNode)
	if fork == nil || fork.hash != b1Hash {
		t.Fatalf("unexpected fork point: got %v, want %v", fork, b1Hash)
	}
	if !chain.bestChain.Contains(newNode) {
		t.Fatal("new tip not on the best chain")
	}
}

// TestConnectDisconnectRoundTrip ensures disconnecting a block through chain
// invalidation restores the utxo backing store to a state bit-equivalent to
// the one prior to connecting it, including the best block pointer.
func TestConnectDisconnectRoundTrip(t *testing.T) {
	params := testParams()
	chain := newTestChain(t, params)
	g := newTestGenerator(t, params)

	// Establish some history including a spendable output.
	b1 := g.nextBlock()
	acceptBlock(t, chain, b1)
	b2 := g.nextBlock()
	acceptBlock(t, chain, b2)

	// Snapshot the utxo set before connecting the block under test.
	before := dumpUtxoSet(t, chain)

	// Connect a block that both creates outputs and spends an existing
	// one.
	spend := makeSpendableOut(b1, 0, 0)
	spendTx := createSpendTx(spend, 2000, opTrueScript)
	b3 := g.nextBlock(spendTx)
	acceptBlock(t, chain, b3)

	after := dumpUtxoSet(t, chain)
	if reflect.DeepEqual(before, after) {
		t.Fatal("connecting a block did not change the utxo set")
	}

	// Invalidate the connected block, which disconnects it and returns the
	// chain to b2.
	if err := chain.InvalidateBlock(b3.Hash()); err != nil {
		t.Fatalf("unexpected error invalidating block: %v", err)
	}
	assertTipHash(t, chain, *b2.Hash())

	restored := dumpUtxoSet(t, chain)
	if !reflect.DeepEqual(before, restored) {
		t.Fatalf("utxo set not restored by disconnect:\nbefore: %s\nafter: "+
			"%s", spew.Sdump(before), spew.Sdump(restored))
	}

	// The best block pointer of the utxo store reflects the restored tip.
	if got := chain.utxoCache.LastFlushHash(); got != *b2.Hash() {
		t.Fatalf("unexpected utxo best block: got %v, want %v", got,
			b2.Hash())
	}
}

// TestInvalidScriptOnConnect ensures a block whose transaction fails script
// validation is rejected during connection, marked as having failed
// validation, removed from the chain candidates, and does not move the tip.
func TestInvalidScriptOnConnect(t *testing.T) {
	params := testParams()
	chain := newTestChain(t, params)
	g := newTestGenerator(t, params)

	// Create a block with an output that can never be spent successfully.
	b1 := g.nextBlock()
	acceptBlock(t, chain, b1)
	unspendable := createSpendTx(makeSpendableOut(b1, 0, 0), 1000,
		opFalseScript)
	b2 := g.nextBlock(unspendable)
	acceptBlock(t, chain, b2)
	assertTipHash(t, chain, *b2.Hash())

	// A block spending the unspendable output passes all header, sanity,
	// and contextual checks, and only fails script validation during
	// connection.
	badSpend := createSpendTx(makeSpendableOut(b2, 1, 0), 1000, opTrueScript)
	b3 := g.nextBlock(badSpend)
	_, err := chain.ProcessBlock(b3)
	if !errors.Is(err, ErrScriptValidation) {
		t.Fatalf("bad script block: got error %v, want %v", err,
			ErrScriptValidation)
	}

	// The tip is unchanged and the offending block is marked failed and no
	// longer a candidate.
	assertTipHash(t, chain, *b2.Hash())
	node := chain.index.LookupNode(b3.Hash())
	if node == nil {
		t.Fatal("rejected block missing from the index")
	}
	if !chain.index.NodeStatus(node).KnownValidateFailed() {
		t.Fatal("rejected block not marked as validate failed")
	}
	chain.index.RLock()
	_, isCandidate := chain.index.bestChainCandidates[node]
	chain.index.RUnlock()
	if isCandidate {
		t.Fatal("rejected block still a best chain candidate")
	}

	// A descendant of the failed block is rejected outright.
	b4 := g.nextBlock()
	_, err = chain.ProcessBlock(b4)
	if !errors.Is(err, ErrInvalidAncestorBlock) &&
		!errors.Is(err, ErrKnownInvalidBlock) {

		t.Fatalf("descendant of failed block: got error %v", err)
	}
}

// TestChainReload ensures flushing and reloading a node from its on-disk
// state yields the same tip, cumulative work, and utxo contents.
func TestChainReload(t *testing.T) {
	params := testParams()
	dir := t.TempDir()

	openStores := func() (*blobstore.Store, *database.DB, *database.DB) {
		store, err := blobstore.Open(dir+"/blocks",
			[4]byte{0x5c, 0xa1, 0xfa, 0xde})
		if err != nil {
			t.Fatalf("unexpected error opening blob store: %v", err)
		}
		treeDB, err := database.Open(dir + "/blocks/index")
		if err != nil {
			t.Fatalf("unexpected error opening tree db: %v", err)
		}
		utxoDB, err := database.Open(dir + "/chainstate")
		if err != nil {
			t.Fatalf("unexpected error opening utxo db: %v", err)
		}
		return store, treeDB, utxoDB
	}
	newChain := func(store *blobstore.Store, treeDB, utxoDB *database.DB) *BlockChain {
		chain, err := New(&Config{
			DB:               treeDB,
			UtxoDB:           utxoDB,
			Store:            store,
			ChainParams:      params,
			TimeSource:       NewMedianTime(),
			SigCache:         txscript.NewSigCache(1000),
			UtxoCacheMaxSize: 10 * 1024 * 1024,
		})
		if err != nil {
			t.Fatalf("unexpected error creating chain: %v", err)
		}
		return chain
	}

	// Build a small chain including a spend, then flush and shut down.
	store, treeDB, utxoDB := openStores()
	chain := newChain(store, treeDB, utxoDB)
	g := newTestGenerator(t, params)
	b1 := g.nextBlock()
	acceptBlock(t, chain, b1)
	b2 := g.nextBlock(createSpendTx(makeSpendableOut(b1, 0, 0), 1000,
		opTrueScript))
	acceptBlock(t, chain, b2)

	wantTip := chain.BestSnapshot().Hash
	wantWork := chain.bestChain.Tip().workSum.String()
	wantUtxos := dumpUtxoSet(t, chain)

	chain.ShutdownUtxoCache()
	store.Close()
	treeDB.Close()
	utxoDB.Close()

	// Reload from disk and compare.
	store, treeDB, utxoDB = openStores()
	defer store.Close()
	defer treeDB.Close()
	defer utxoDB.Close()
	reloaded := newChain(store, treeDB, utxoDB)

	if got := reloaded.BestSnapshot().Hash; got != wantTip {
		t.Fatalf("reloaded tip mismatch: got %v, want %v", got, wantTip)
	}
	if got := reloaded.bestChain.Tip().workSum.String(); got != wantWork {
		t.Fatalf("reloaded chain work mismatch: got %s, want %s", got,
			wantWork)
	}
	gotUtxos := dumpUtxoSet(t, reloaded)
	if !reflect.DeepEqual(gotUtxos, wantUtxos) {
		t.Fatalf("reloaded utxo set mismatch:\ngot: %s\nwant: %s",
			spew.Sdump(gotUtxos), spew.Sdump(wantUtxos))
	}
}

// TestProcessBlockDuplicates ensures re-delivery of a block is an idempotent
// no-op and orphan blocks are rejected with the missing parent error.
func TestProcessBlockDuplicates(t *testing.T) {
	params := testParams()
	chain := newTestChain(t, params)
	g := newTestGenerator(t, params)

	b1 := g.nextBlock()
	acceptBlock(t, chain, b1)

	// Re-delivery reports the block as already known without error.
	alreadyHave, err := chain.ProcessBlock(b1)
	if err != nil {
		t.Fatalf("re-delivered block rejected: %v", err)
	}
	if !alreadyHave {
		t.Fatal("re-delivered block not reported as already known")
	}

	// A block whose parent is unknown is rejected as an orphan.
	g.nextBlock()
	orphan := g.nextBlock()
	_, err = chain.ProcessBlock(orphan)
	if !errors.Is(err, ErrMissingParent) {
		t.Fatalf("orphan block: got error %v, want %v", err,
			ErrMissingParent)
	}
}

// TestProcessBlockHeaderIdempotent ensures duplicate headers return the
// existing entry without error and orphan headers are rejected.
func TestProcessBlockHeaderIdempotent(t *testing.T) {
	params := testParams()
	chain := newTestChain(t, params)
	g := newTestGenerator(t, params)

	b1 := g.nextBlock()
	header := b1.MsgBlock().Header
	if err := chain.ProcessBlockHeader(&header); err != nil {
		t.Fatalf("header unexpectedly rejected: %v", err)
	}
	if err := chain.ProcessBlockHeader(&header); err != nil {
		t.Fatalf("duplicate header unexpectedly rejected: %v", err)
	}

	g.nextBlock()
	orphan := g.nextBlock()
	orphanHeader := orphan.MsgBlock().Header
	err := chain.ProcessBlockHeader(&orphanHeader)
	if !errors.Is(err, ErrMissingParent) {
		t.Fatalf("orphan header: got error %v, want %v", err,
			ErrMissingParent)
	}
}
