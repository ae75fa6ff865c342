// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/smartcash/smartd/blobstore"
	"github.com/smartcash/smartd/chaincfg"
	"github.com/smartcash/smartd/database"
)

// opTrueScript is a simple public key script that can be spent with an empty
// signature script, which makes it trivial to construct valid test spends.
var opTrueScript = []byte{txscript.OP_TRUE}

// opFalseScript is a public key script that can never be successfully spent.
// It is not provably unspendable, so outputs paying to it enter the utxo set
// and any attempt to spend them fails script validation.
var opFalseScript = []byte{txscript.OP_0}

// testParams returns a fresh set of regression network parameters for use in
// tests, with the coinbase maturity lowered so spends are convenient to
// construct.
func testParams() *chaincfg.Params {
	params := chaincfg.RegNetParams()
	params.CoinbaseMaturity = 1
	return params
}

// newTestChain creates a chain instance backed by temporary on-disk stores
// that are removed when the test completes.
func newTestChain(t *testing.T, params *chaincfg.Params) *BlockChain {
	t.Helper()

	dir := t.TempDir()
	store, err := blobstore.Open(dir+"/blocks", [4]byte{0x5c, 0xa1, 0xfa, 0xde})
	if err != nil {
		t.Fatalf("unexpected error opening blob store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	treeDB, err := database.Open(dir + "/blocks/index")
	if err != nil {
		t.Fatalf("unexpected error opening tree db: %v", err)
	}
	t.Cleanup(func() { treeDB.Close() })

	utxoDB, err := database.Open(dir + "/chainstate")
	if err != nil {
		t.Fatalf("unexpected error opening utxo db: %v", err)
	}
	t.Cleanup(func() { utxoDB.Close() })

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

// spendableOut represents a transaction output that is available for
// spending in generated test blocks.
type spendableOut struct {
	prevOut wire.OutPoint
	amount  int64
}

// makeSpendableOut returns a spendable output for the given transaction
// output of the given transaction in the given block.
func makeSpendableOut(block *btcutil.Block, txIndex, txOutIndex uint32) spendableOut {
	tx := block.Transactions()[txIndex]
	return spendableOut{
		prevOut: wire.OutPoint{
			Hash:  *tx.Hash(),
			Index: txOutIndex,
		},
		amount: tx.MsgTx().TxOut[txOutIndex].Value,
	}
}

// testGenerator houses the state needed to deterministically generate a chain
// of valid test blocks on top of a genesis block.
type testGenerator struct {
	t         *testing.T
	params    *chaincfg.Params
	tip        *wire.MsgBlock
	tipHeight  int64
	extraNonce int64
	blocks     map[chainhash.Hash]*wire.MsgBlock
}

// newTestGenerator returns a test generator instance initialized with the
// genesis block of the provided parameters as the tip.
func newTestGenerator(t *testing.T, params *chaincfg.Params) *testGenerator {
	genesis := params.GenesisBlock
	return &testGenerator{
		t:      t,
		params: params,
		tip:    genesis,
		blocks: map[chainhash.Hash]*wire.MsgBlock{
			params.GenesisHash: genesis,
		},
	}
}

// coinbaseScript returns a coinbase signature script that encodes the passed
// height and extra nonce so coinbase transactions at different heights, and
// sibling blocks at the same height, are guaranteed to have different hashes.
func coinbaseScript(height, extraNonce int64) []byte {
	script, err := txscript.NewScriptBuilder().AddInt64(height).
		AddInt64(extraNonce).Script()
	if err != nil {
		panic(err)
	}
	return script
}

// createCoinbaseTx returns a coinbase transaction paying the full subsidy for
// the given height plus the provided fees to the spendable test script.
func (g *testGenerator) createCoinbaseTx(height int64, fees int64) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{},
			Index: wire.MaxPrevOutIndex,
		},
		SignatureScript: coinbaseScript(height, g.extraNonce),
		Sequence:        wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    CalcBlockSubsidy(height, g.params) + fees,
		PkScript: opTrueScript,
	})
	return tx
}

// createSpendTx returns a transaction that spends the provided output to the
// provided public key script, paying the provided fee.
func createSpendTx(spend spendableOut, fee int64, pkScript []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: spend.prevOut,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    spend.amount - fee,
		PkScript: pkScript,
	})
	return tx
}

// solveBlock attempts to find a nonce which makes the passed block header
// hash to a value less than the target difficulty.  It modifies the passed
// header directly and fails the test when no solution is found, which is
// effectively impossible for the regression network difficulty.
func (g *testGenerator) solveBlock(header *wire.BlockHeader) {
	targetDifficulty := CompactToBig(header.Bits)
	for nonce := uint32(0); nonce < 1<<24; nonce++ {
		header.Nonce = nonce
		hash := header.BlockHash()
		if HashToBig(&hash).Cmp(targetDifficulty) <= 0 {
			return
		}
	}
	g.t.Fatalf("unable to solve block with prev %v", header.PrevBlock)
}

// nextBlock builds a new block that extends the current tip with a coinbase
// and the provided transactions, solves it, and updates the generator tip.
func (g *testGenerator) nextBlock(txns ...*wire.MsgTx) *btcutil.Block {
	nextHeight := g.tipHeight + 1
	g.extraNonce++

	// The fees of the provided transactions are not summed: the coinbase
	// simply claims the base subsidy here.
	blockTxns := make([]*wire.MsgTx, 0, len(txns)+1)
	blockTxns = append(blockTxns, g.createCoinbaseTx(nextHeight, 0))
	blockTxns = append(blockTxns, txns...)

	utilTxns := make([]*btcutil.Tx, 0, len(blockTxns))
	for _, tx := range blockTxns {
		utilTxns = append(utilTxns, btcutil.NewTx(tx))
	}
	merkleRoot, _ := CalcTxMerkleRoot(utilTxns)

	prevHash := g.tip.BlockHash()
	header := wire.BlockHeader{
		Version:    1,
		PrevBlock:  prevHash,
		MerkleRoot: merkleRoot,
		Timestamp:  g.tip.Header.Timestamp.Add(time.Second * 55),
		Bits:       g.tip.Header.Bits,
	}
	g.solveBlock(&header)

	msgBlock := &wire.MsgBlock{Header: header, Transactions: blockTxns}
	g.tip = msgBlock
	g.tipHeight = nextHeight
	g.blocks[msgBlock.BlockHash()] = msgBlock

	block := btcutil.NewBlock(msgBlock)
	block.SetHeight(int32(nextHeight))
	return block
}

// setTip changes the generator tip to the block with the provided hash, which
// must have previously been generated, so side chains can be built.
func (g *testGenerator) setTip(hash *chainhash.Hash, height int64) {
	msgBlock, ok := g.blocks[*hash]
	if !ok {
		g.t.Fatalf("block %v is not known to the generator", hash)
	}
	g.tip = msgBlock
	g.tipHeight = height
}

// acceptBlock processes the provided block and expects it to be accepted
// without error.
func acceptBlock(t *testing.T, chain *BlockChain, block *btcutil.Block) {
	t.Helper()
	alreadyHave, err := chain.ProcessBlock(block)
	if err != nil {
		t.Fatalf("block %v unexpectedly rejected: %v", block.Hash(), err)
	}
	if alreadyHave {
		t.Fatalf("block %v unexpectedly reported as a duplicate",
			block.Hash())
	}
}

// assertTipHash ensures the current best chain tip of the provided chain is
// the expected hash.
func assertTipHash(t *testing.T, chain *BlockChain, want chainhash.Hash) {
	t.Helper()
	best := chain.BestSnapshot()
	if best.Hash != want {
		t.Fatalf("unexpected best chain tip: got %v, want %v", best.Hash,
			want)
	}
}

// dumpUtxoSet flushes the utxo cache of the provided chain and returns the
// full serialized contents of its backing store keyed by the raw database
// key.
func dumpUtxoSet(t *testing.T, chain *BlockChain) map[string]string {
	t.Helper()

	tip := chain.bestChain.Tip()
	err := chain.utxoCache.MaybeFlush(&tip.hash, uint32(tip.height), true,
		false)
	if err != nil {
		t.Fatalf("unexpected error flushing utxo cache: %v", err)
	}

	dump := make(map[string]string)
	err = chain.utxoCache.db.View(func(dbTx database.Tx) error {
		return dbTx.ForEachPrefix([]byte("C"), func(k, v []byte) error {
			dump[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error dumping utxo set: %v", err)
	}
	return dump
}

// mustParseHash converts the passed big-endian hex string into a
// chainhash.Hash and will panic if there is an error.  It only differs from
// the one available in chainhash in that it will panic so errors in the
// source code can be detected.  It will only (and must only) be called with
// hard-coded, and therefore known good, hashes.
func mustParseHash(s string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic("invalid hash in source file: " + s)
	}
	return hash
}

// fakeNodeChain creates a linear chain of the provided number of block nodes
// with deterministic synthetic headers, linked together with proper heights,
// skip pointers, and cumulative work.  The returned slice includes the fake
// genesis at index 0.
func fakeNodeChain(numNodes int, bits uint32, baseVersion int32) []*blockNode {
	nodes := make([]*blockNode, 0, numNodes)
	var parent *blockNode
	baseTime := time.Unix(1500214500, 0)
	for i := 0; i < numNodes; i++ {
		header := wire.BlockHeader{
			Version:   baseVersion,
			Bits:      bits,
			Timestamp: baseTime.Add(time.Duration(i) * 55 * time.Second),
			Nonce:     uint32(i),
		}
		if parent != nil {
			header.PrevBlock = parent.hash
		}
		node := newBlockNode(&header, parent)
		nodes = append(nodes, node)
		parent = node
	}
	return nodes
}

// fmtNodeChain returns a human readable rendition of the provided node chain
// to aid debugging of failed tests.
func fmtNodeChain(nodes []*blockNode) string {
	str := ""
	for i, node := range nodes {
		if i != 0 {
			str += " -> "
		}
		str += fmt.Sprintf("%d", node.height)
	}
	return str
}
