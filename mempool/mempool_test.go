// Copyright (c) 2016-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/smartcash/smartd/blockchain"
	"github.com/smartcash/smartd/chaincfg"
)

// fakeChain is used by the pool harness to provide generated test utxos and
// a current faked chain height to the pool callbacks.  This, in turn, allows
// transactions to appear as though they are spending completely valid utxos.
type fakeChain struct {
	sync.RWMutex
	utxos          *blockchain.UtxoViewpoint
	currentHeight  int64
	currentHash    chainhash.Hash
	medianTimePast time.Time
	csvActive      bool
}

// FetchUtxoView loads utxo details about the inputs referenced by the passed
// transaction from the point of view of the fake chain.  It also attempts to
// fetch the utxos for the outputs of the transaction itself so the returned
// view can be examined for duplicate transactions.
func (s *fakeChain) FetchUtxoView(tx *btcutil.Tx) (*blockchain.UtxoViewpoint, error) {
	s.RLock()
	defer s.RUnlock()

	// All entries are cloned to ensure modifications to the returned view
	// do not affect the fake chain's view.
	viewpoint := blockchain.NewUtxoViewpoint()

	// Add an entry for the tx itself to the new view.
	prevOut := wire.OutPoint{Hash: *tx.Hash()}
	for txOutIdx := range tx.MsgTx().TxOut {
		prevOut.Index = uint32(txOutIdx)
		entry := s.utxos.LookupEntry(prevOut)
		viewpoint.Entries()[prevOut] = entry.Clone()
	}

	// Add entries for all of the inputs to the tx to the new view.
	for _, txIn := range tx.MsgTx().TxIn {
		entry := s.utxos.LookupEntry(txIn.PreviousOutPoint)
		viewpoint.Entries()[txIn.PreviousOutPoint] = entry.Clone()
	}

	return viewpoint, nil
}

// BestHeight returns the current height associated with the fake chain.
func (s *fakeChain) BestHeight() int64 {
	s.RLock()
	height := s.currentHeight
	s.RUnlock()
	return height
}

// SetHeight sets the current height associated with the fake chain.
func (s *fakeChain) SetHeight(height int64) {
	s.Lock()
	s.currentHeight = height
	s.Unlock()
}

// BestHash returns the current best hash associated with the fake chain.
func (s *fakeChain) BestHash() *chainhash.Hash {
	s.RLock()
	hash := &s.currentHash
	s.RUnlock()
	return hash
}

// MainChainHasBlock reports the provided block as being part of the fake main
// chain only when it is the current best hash of the fake chain.
func (s *fakeChain) MainChainHasBlock(hash *chainhash.Hash) bool {
	return *hash == *s.BestHash()
}

// PastMedianTime returns the current median time associated with the fake
// chain.
func (s *fakeChain) PastMedianTime() time.Time {
	s.RLock()
	mtp := s.medianTimePast
	s.RUnlock()
	return mtp
}

// SetMedianTimePast sets the current median time past associated with the
// fake chain.
func (s *fakeChain) SetMedianTimePast(mtp time.Time) {
	s.Lock()
	s.medianTimePast = mtp
	s.Unlock()
}

// CalcSequenceLock returns the relative lock for the passed transaction
// computed from the utxo heights in the provided view, mirroring the
// consensus semantics.
func (s *fakeChain) CalcSequenceLock(tx *btcutil.Tx,
	view *blockchain.UtxoViewpoint) (*blockchain.SequenceLock, error) {

	lock := &blockchain.SequenceLock{Seconds: -1, BlockHeight: -1}
	if tx.MsgTx().Version < 2 {
		return lock, nil
	}
	for _, txIn := range tx.MsgTx().TxIn {
		sequenceNum := txIn.Sequence
		if sequenceNum&blockchain.SequenceLockTimeDisabled != 0 {
			continue
		}
		relativeLock := int64(sequenceNum & blockchain.SequenceLockTimeMask)
		entry := view.LookupEntry(txIn.PreviousOutPoint)
		if entry == nil {
			continue
		}
		inputHeight := entry.BlockHeight()
		if inputHeight == blockchain.UnminedHeight {
			inputHeight = s.BestHeight() + 1
		}
		if sequenceNum&blockchain.SequenceLockTimeIsSeconds != 0 {
			seconds := relativeLock<<blockchain.SequenceLockTimeGranularity - 1
			timeLock := s.PastMedianTime().Unix() + seconds
			if timeLock > lock.Seconds {
				lock.Seconds = timeLock
			}
			continue
		}
		heightLock := inputHeight + relativeLock - 1
		if heightLock > lock.BlockHeight {
			lock.BlockHeight = heightLock
		}
	}
	return lock, nil
}

// poolHarness provides a harness that includes functionality for creating
// and signing transactions as well as a fake chain that provides utxos for
// use in generating valid transactions.
type poolHarness struct {
	chain  *fakeChain
	params *chaincfg.Params

	txPool *TxPool
}

// opTrueScript is a simple public key script that is trivially spendable
// with an empty signature script.
var opTrueScript = []byte{txscript.OP_TRUE}

// addFakeUtxo adds a utxo for the provided outpoint details directly to the
// fake chain so transactions spending it validate.
func (p *poolHarness) addFakeUtxo(tx *btcutil.Tx, blockHeight int64) {
	err := p.chain.utxos.AddTxOuts(tx, blockHeight)
	if err != nil {
		panic(err)
	}
}

// createTx returns a transaction spending the provided outpoint that pays
// the provided fee and splits the remainder over the requested number of
// outputs.  The sequence number is applied to the input.
func createTx(prevOut wire.OutPoint, inputAmount int64, fee int64,
	numOutputs int, sequence uint32, version int32) *btcutil.Tx {

	tx := wire.NewMsgTx(version)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: prevOut,
		Sequence:         sequence,
	})
	amountPerOutput := (inputAmount - fee) / int64(numOutputs)
	for i := 0; i < numOutputs; i++ {
		tx.AddTxOut(&wire.TxOut{
			Value:    amountPerOutput,
			PkScript: opTrueScript,
		})
	}
	return btcutil.NewTx(tx)
}

// fundingTx creates a faked confirmed transaction with the provided number
// of spendable outputs of the provided value.
func fundingTx(tag byte, numOutputs int, value int64) *btcutil.Tx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{tag, 0xfe},
			Index: 0,
		},
		SignatureScript: []byte{txscript.OP_0},
		Sequence:        wire.MaxTxInSequenceNum,
	})
	for i := 0; i < numOutputs; i++ {
		tx.AddTxOut(&wire.TxOut{Value: value, PkScript: opTrueScript})
	}
	return btcutil.NewTx(tx)
}

// newPoolHarness returns a new instance of a pool harness initialized with a
// fake chain at height 1000 and a pool bound to it with a permissive
// policy suitable for exercising the machinery under test.
func newPoolHarness(t *testing.T) *poolHarness {
	t.Helper()

	params := chaincfg.RegNetParams()
	chain := &fakeChain{
		utxos:          blockchain.NewUtxoViewpoint(),
		currentHeight:  1000,
		currentHash:    chainhash.Hash{0x99},
		medianTimePast: time.Unix(1600000000, 0),
		csvActive:      true,
	}

	harness := &poolHarness{
		chain:  chain,
		params: params,
	}
	harness.txPool = New(&Config{
		Policy: Policy{
			MaxTxVersion:           2,
			AcceptNonStd:           true,
			FreeTxRelayLimit:       15.0,
			MaxOrphanTxs:           5,
			MaxOrphanTxSize:        1000,
			MaxSigOpCostPerTx:      4000,
			MinRelayTxFee:          1000,
			MaxTxAge:               14 * 24 * time.Hour,
			MaxSizeBytes:           5 * 1000 * 1000,
			MaxAncestors:           25,
			MaxAncestorSizeBytes:   101000,
			MaxDescendants:         25,
			MaxDescendantSizeBytes: 101000,
		},
		ChainParams:       params,
		FetchUtxoView:     chain.FetchUtxoView,
		BestHeight:        chain.BestHeight,
		BestHash:          chain.BestHash,
		MainChainHasBlock: chain.MainChainHasBlock,
		PastMedianTime:    chain.PastMedianTime,
		CalcSequenceLock:  chain.CalcSequenceLock,
		IsDeploymentActive: func(deploymentID int) (bool, error) {
			return chain.csvActive, nil
		},
		SigCache: txscript.NewSigCache(1000),
		StandardVerifyFlags: func() (txscript.ScriptFlags, error) {
			return txscript.ScriptBip16 |
				txscript.ScriptVerifyCleanStack, nil
		},
		MandatoryVerifyFlags: func() (txscript.ScriptFlags, error) {
			return txscript.ScriptBip16, nil
		},
	})
	return harness
}

// acceptTx submits the provided transaction to the harness pool and expects
// it to be accepted.
func (p *poolHarness) acceptTx(t *testing.T, tx *btcutil.Tx) {
	t.Helper()
	accepted, err := p.txPool.ProcessTransaction(tx, false, false, true, 0)
	if err != nil {
		t.Fatalf("transaction %v unexpectedly rejected: %v", tx.Hash(), err)
	}
	for _, txD := range accepted {
		if *txD.Tx.Hash() == *tx.Hash() {
			return
		}
	}
	t.Fatalf("transaction %v not reported as accepted", tx.Hash())
}

// expectRejection submits the provided transaction and expects it to be
// rejected with the provided error kind.
func (p *poolHarness) expectRejection(t *testing.T, tx *btcutil.Tx, kind ErrorKind) {
	t.Helper()
	_, err := p.txPool.ProcessTransaction(tx, false, false, true, 0)
	if err == nil {
		t.Fatalf("transaction %v unexpectedly accepted", tx.Hash())
	}
	if !errors.Is(err, kind) {
		t.Fatalf("transaction %v: got error %v, want kind %v", tx.Hash(),
			err, kind)
	}
}

// TestSimpleAcceptAndQueries ensures basic admission works and the pool
// query methods report the accepted transaction.
func TestSimpleAcceptAndQueries(t *testing.T) {
	harness := newPoolHarness(t)
	funding := fundingTx(0x01, 1, 1000000)
	harness.addFakeUtxo(funding, 900)

	tx := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0}, 1000000,
		10000, 1, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, tx)

	if !harness.txPool.IsTransactionInPool(tx.Hash()) {
		t.Fatal("accepted transaction not in the pool")
	}
	if !harness.txPool.HaveTransaction(tx.Hash()) {
		t.Fatal("accepted transaction not reported by HaveTransaction")
	}
	if harness.txPool.Count() != 1 {
		t.Fatalf("unexpected pool count: got %d, want 1",
			harness.txPool.Count())
	}
	if _, err := harness.txPool.FetchTransaction(tx.Hash()); err != nil {
		t.Fatalf("unexpected error fetching transaction: %v", err)
	}

	// Re-submission is rejected as a duplicate.
	harness.expectRejection(t, tx, ErrDuplicate)

	// A coinbase is rejected outright.
	coinbase := wire.NewMsgTx(1)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  []byte{0x01, 0x02},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	coinbase.AddTxOut(&wire.TxOut{Value: 50, PkScript: opTrueScript})
	harness.expectRejection(t, btcutil.NewTx(coinbase), ErrCoinbase)
}

// TestAncestorDescendantAggregates ensures the transitive package statistics
// of pool entries stay exact through insertion and removal.
func TestAncestorDescendantAggregates(t *testing.T) {
	harness := newPoolHarness(t)
	funding := fundingTx(0x02, 1, 100000000)
	harness.addFakeUtxo(funding, 900)

	// Build a chain of 4 transactions, each spending the previous one.
	var chainTxns []*btcutil.Tx
	prevOut := wire.OutPoint{Hash: *funding.Hash(), Index: 0}
	amount := int64(100000000)
	const fee = int64(25000)
	for i := 0; i < 4; i++ {
		tx := createTx(prevOut, amount, fee, 1, wire.MaxTxInSequenceNum, 1)
		harness.acceptTx(t, tx)
		chainTxns = append(chainTxns, tx)
		prevOut = wire.OutPoint{Hash: *tx.Hash(), Index: 0}
		amount -= fee
	}

	// Verify the ancestor and descendant aggregates of every entry match a
	// direct computation.
	pool := harness.txPool
	pool.mtx.RLock()
	for i, tx := range chainTxns {
		txD := pool.pool[*tx.Hash()]
		wantAncestors := int64(i + 1)
		wantDescendants := int64(len(chainTxns) - i)
		if txD.AncestorCount != wantAncestors {
			t.Fatalf("tx %d: ancestor count %d, want %d", i,
				txD.AncestorCount, wantAncestors)
		}
		if txD.DescendantCount != wantDescendants {
			t.Fatalf("tx %d: descendant count %d, want %d", i,
				txD.DescendantCount, wantDescendants)
		}

		var wantAncestorSize, wantAncestorFees int64
		for _, other := range chainTxns[:i+1] {
			otherD := pool.pool[*other.Hash()]
			wantAncestorSize += otherD.Size
			wantAncestorFees += otherD.ModifiedFee
		}
		if txD.AncestorSize != wantAncestorSize {
			t.Fatalf("tx %d: ancestor size %d, want %d", i, txD.AncestorSize,
				wantAncestorSize)
		}
		if txD.AncestorFees != wantAncestorFees {
			t.Fatalf("tx %d: ancestor fees %d, want %d", i, txD.AncestorFees,
				wantAncestorFees)
		}

		var wantDescendantSize, wantDescendantFees int64
		for _, other := range chainTxns[i:] {
			otherD := pool.pool[*other.Hash()]
			wantDescendantSize += otherD.Size
			wantDescendantFees += otherD.ModifiedFee
		}
		if txD.DescendantSize != wantDescendantSize {
			t.Fatalf("tx %d: descendant size %d, want %d", i,
				txD.DescendantSize, wantDescendantSize)
		}
		if txD.DescendantFees != wantDescendantFees {
			t.Fatalf("tx %d: descendant fees %d, want %d", i,
				txD.DescendantFees, wantDescendantFees)
		}
	}
	pool.mtx.RUnlock()

	// Removing the second transaction with cascade removes its descendants
	// and updates the aggregates of the remaining ancestor.
	pool.RemoveTransaction(chainTxns[1], true)
	if pool.Count() != 1 {
		t.Fatalf("unexpected pool count after removal: got %d, want 1",
			pool.Count())
	}
	pool.mtx.RLock()
	rootD := pool.pool[*chainTxns[0].Hash()]
	if rootD.DescendantCount != 1 || rootD.AncestorCount != 1 {
		t.Fatalf("root aggregates not restored: ancestors %d, descendants "+
			"%d", rootD.AncestorCount, rootD.DescendantCount)
	}
	if rootD.DescendantSize != rootD.Size || rootD.DescendantFees != rootD.ModifiedFee {
		t.Fatal("root aggregate size/fees not restored")
	}
	pool.mtx.RUnlock()
}

// TestAncestorLimits ensures a transaction chain that exceeds the ancestor
// count limit is rejected.
func TestAncestorLimits(t *testing.T) {
	harness := newPoolHarness(t)
	funding := fundingTx(0x03, 1, 100000000)
	harness.addFakeUtxo(funding, 900)

	prevOut := wire.OutPoint{Hash: *funding.Hash(), Index: 0}
	amount := int64(100000000)
	const fee = int64(25000)
	maxAncestors := harness.txPool.cfg.Policy.MaxAncestors
	for i := int64(0); i < maxAncestors; i++ {
		tx := createTx(prevOut, amount, fee, 1, wire.MaxTxInSequenceNum, 1)
		harness.acceptTx(t, tx)
		prevOut = wire.OutPoint{Hash: *tx.Hash(), Index: 0}
		amount -= fee
	}

	// The next link would have maxAncestors+1 ancestors including itself.
	overLimit := createTx(prevOut, amount, fee, 1, wire.MaxTxInSequenceNum, 1)
	harness.expectRejection(t, overLimit, ErrAncestorLimits)
}

// TestRBFAccepted exercises a successful replace-by-fee: a signaling
// transaction is evicted by a conflicting transaction with a sufficiently
// higher fee.
func TestRBFAccepted(t *testing.T) {
	harness := newPoolHarness(t)
	funding := fundingTx(0x04, 1, 100000000)
	harness.addFakeUtxo(funding, 900)
	contested := wire.OutPoint{Hash: *funding.Hash(), Index: 0}

	// The original transaction signals replaceability via a low sequence.
	t1 := createTx(contested, 100000000, 10000, 1, 0, 1)
	harness.acceptTx(t, t1)

	// A conflicting transaction that pays over three times the fee rate and covers
	// the displaced fees plus its own bandwidth.
	t2 := createTx(contested, 100000000, 40000, 2, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, t2)

	if harness.txPool.IsTransactionInPool(t1.Hash()) {
		t.Fatal("replaced transaction still in the pool")
	}
	if !harness.txPool.IsTransactionInPool(t2.Hash()) {
		t.Fatal("replacement transaction not in the pool")
	}
	if harness.txPool.Count() != 1 {
		t.Fatalf("unexpected pool count: got %d, want 1",
			harness.txPool.Count())
	}
}

// TestRBFRejectedNotSignaling ensures a conflicting transaction is rejected
// when the transaction it conflicts with does not signal replaceability.
func TestRBFRejectedNotSignaling(t *testing.T) {
	harness := newPoolHarness(t)
	funding := fundingTx(0x05, 1, 100000000)
	harness.addFakeUtxo(funding, 900)
	contested := wire.OutPoint{Hash: *funding.Hash(), Index: 0}

	// The original transaction uses the max sequence on all inputs and so
	// does not opt in to replacement.
	t1 := createTx(contested, 100000000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, t1)

	// Even a much higher fee conflicting transaction must be rejected.
	t2 := createTx(contested, 100000000, 1000000, 1, wire.MaxTxInSequenceNum, 1)
	harness.expectRejection(t, t2, ErrMempoolDoubleSpend)

	if !harness.txPool.IsTransactionInPool(t1.Hash()) {
		t.Fatal("original transaction evicted by rejected replacement")
	}
}

// TestRBFRejectedLowFee ensures a replacement that signals properly is still
// rejected when it does not pay for the fees it displaces.
func TestRBFRejectedLowFee(t *testing.T) {
	harness := newPoolHarness(t)
	funding := fundingTx(0x06, 1, 100000000)
	harness.addFakeUtxo(funding, 900)
	contested := wire.OutPoint{Hash: *funding.Hash(), Index: 0}

	t1 := createTx(contested, 100000000, 50000, 1, 0, 1)
	harness.acceptTx(t, t1)

	// Same fee is not strictly greater, so the replacement is rejected.
	t2 := createTx(contested, 100000000, 50000, 1, wire.MaxTxInSequenceNum, 1)
	harness.expectRejection(t, t2, ErrReplacementInsufficientFee)
}

// TestSequenceLockAdmission ensures a transaction with an unmet relative
// height lock is rejected until the chain reaches the required height.
func TestSequenceLockAdmission(t *testing.T) {
	harness := newPoolHarness(t)

	// Coin confirmed at height h with a relative lock of 5 blocks.
	const coinHeight = 1000
	funding := fundingTx(0x07, 1, 100000000)
	harness.addFakeUtxo(funding, coinHeight)

	tx := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0},
		100000000, 10000, 1, blockchain.LockTimeToSequence(false, 5), 2)

	// At tip height h+4 the lock is not yet satisfied.
	harness.chain.SetHeight(coinHeight + 4)
	harness.expectRejection(t, tx, ErrSeqLockUnmet)

	// At tip height h+5 it is.
	harness.chain.SetHeight(coinHeight + 5)
	harness.acceptTx(t, tx)
}

// TestPrematureVersion ensures version 2 transactions are rejected while the
// sequence lock deployment is inactive.
func TestPrematureVersion(t *testing.T) {
	harness := newPoolHarness(t)
	harness.chain.csvActive = false

	funding := fundingTx(0x08, 1, 100000000)
	harness.addFakeUtxo(funding, 900)
	tx := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0},
		100000000, 10000, 1, wire.MaxTxInSequenceNum, 2)
	harness.expectRejection(t, tx, ErrPrematureVersion)
}

// TestOrphanProcessing ensures transactions with unknown inputs become
// orphans and are accepted once their parents arrive.
func TestOrphanProcessing(t *testing.T) {
	harness := newPoolHarness(t)
	funding := fundingTx(0x09, 1, 100000000)
	harness.addFakeUtxo(funding, 900)

	parent := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0},
		100000000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	child := createTx(wire.OutPoint{Hash: *parent.Hash(), Index: 0},
		100000000-10000, 10000, 1, wire.MaxTxInSequenceNum, 1)

	// Submitting the child first makes it an orphan.
	accepted, err := harness.txPool.ProcessTransaction(child, true, false,
		true, 0)
	if err != nil {
		t.Fatalf("orphan unexpectedly rejected: %v", err)
	}
	if len(accepted) != 0 {
		t.Fatal("orphan reported as accepted")
	}
	if !harness.txPool.IsOrphanInPool(child.Hash()) {
		t.Fatal("orphan not in the orphan pool")
	}

	// Without the allow orphan flag, the same shape is rejected with the
	// orphan error, which reports the missing inputs case distinctly.
	otherChild := createTx(wire.OutPoint{Hash: *parent.Hash(), Index: 0},
		100000000-10000, 20000, 1, wire.MaxTxInSequenceNum, 1)
	_, err = harness.txPool.ProcessTransaction(otherChild, false, false,
		true, 0)
	if !errors.Is(err, ErrOrphan) {
		t.Fatalf("got error %v, want kind %v", err, ErrOrphan)
	}

	// Submitting the parent promotes the orphan into the pool.
	accepted, err = harness.txPool.ProcessTransaction(parent, false, false,
		true, 0)
	if err != nil {
		t.Fatalf("parent unexpectedly rejected: %v", err)
	}
	if len(accepted) != 2 {
		t.Fatalf("unexpected number of accepted transactions: got %d, "+
			"want 2", len(accepted))
	}
	if !harness.txPool.IsTransactionInPool(parent.Hash()) ||
		!harness.txPool.IsTransactionInPool(child.Hash()) {

		t.Fatal("parent or promoted orphan not in the pool")
	}
	if harness.txPool.IsOrphanInPool(child.Hash()) {
		t.Fatal("promoted orphan still in the orphan pool")
	}
}

// TestExpiryAndTrim ensures entries past the maximum age are expired and the
// pool trims the lowest fee-rate packages once it exceeds its byte budget.
func TestExpiryAndTrim(t *testing.T) {
	harness := newPoolHarness(t)
	pool := harness.txPool

	// Expiry: backdate an accepted entry and trigger the limiter.
	funding := fundingTx(0x0a, 2, 100000000)
	harness.addFakeUtxo(funding, 900)
	oldTx := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0},
		100000000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, oldTx)

	pool.mtx.Lock()
	pool.pool[*oldTx.Hash()].Added = time.Now().Add(-15 * 24 * time.Hour)
	pool.limitPoolSize()
	pool.mtx.Unlock()

	if pool.IsTransactionInPool(oldTx.Hash()) {
		t.Fatal("expired transaction still in the pool")
	}

	// Trim: lower the byte budget below the size of two entries and ensure
	// the lower fee-rate one is evicted.
	lowFee := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 1},
		100000000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, lowFee)

	funding2 := fundingTx(0x0b, 1, 100000000)
	harness.addFakeUtxo(funding2, 900)
	highFee := createTx(wire.OutPoint{Hash: *funding2.Hash(), Index: 0},
		100000000, 1000000, 1, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, highFee)

	pool.mtx.Lock()
	pool.cfg.Policy.MaxSizeBytes = pool.pool[*highFee.Hash()].Size + 10
	pool.limitPoolSize()
	pool.mtx.Unlock()

	if pool.IsTransactionInPool(lowFee.Hash()) {
		t.Fatal("low fee-rate transaction survived the trim")
	}
	if !pool.IsTransactionInPool(highFee.Hash()) {
		t.Fatal("high fee-rate transaction evicted by the trim")
	}

	// The trim raised the dynamic minimum fee, so an equivalent low
	// fee-rate transaction is now rejected.
	funding3 := fundingTx(0x0c, 1, 100000000)
	harness.addFakeUtxo(funding3, 900)
	again := createTx(wire.OutPoint{Hash: *funding3.Hash(), Index: 0},
		100000000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	harness.expectRejection(t, again, ErrMempoolMinFee)
}

// TestProcessDisconnectedBlock ensures the transactions of a disconnected
// block are resurrected into the pool through the relaxed admission path.
func TestProcessDisconnectedBlock(t *testing.T) {
	harness := newPoolHarness(t)
	funding := fundingTx(0x0f, 2, 100000000)
	harness.addFakeUtxo(funding, 900)

	// Two valid transactions that were mined in the block being
	// disconnected and are not currently in the pool.
	tx1 := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0},
		100000000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	tx2 := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 1},
		100000000, 10000, 1, wire.MaxTxInSequenceNum, 1)

	coinbase := fundingTx(0x10, 1, 5000)
	msgBlock := &wire.MsgBlock{
		Header: wire.BlockHeader{},
		Transactions: []*wire.MsgTx{
			coinbase.MsgTx(), tx1.MsgTx(), tx2.MsgTx(),
		},
	}
	harness.txPool.ProcessDisconnectedBlock(btcutil.NewBlock(msgBlock))

	for _, tx := range []*btcutil.Tx{tx1, tx2} {
		if !harness.txPool.IsTransactionInPool(tx.Hash()) {
			t.Fatalf("disconnected transaction %v not resurrected",
				tx.Hash())
		}
	}
}

// TestRemoveForBlockAndDoubleSpends ensures confirmed transactions leave the
// pool without cascading to their descendants while conflicting spends are
// removed with theirs.
func TestRemoveForBlockAndDoubleSpends(t *testing.T) {
	harness := newPoolHarness(t)
	funding := fundingTx(0x0d, 2, 100000000)
	harness.addFakeUtxo(funding, 900)

	parent := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0},
		100000000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, parent)
	child := createTx(wire.OutPoint{Hash: *parent.Hash(), Index: 0},
		100000000-10000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, child)

	// Simulate a block confirming the parent.
	coinbase := fundingTx(0x0e, 1, 5000)
	msgBlock := &wire.MsgBlock{
		Header:       wire.BlockHeader{},
		Transactions: []*wire.MsgTx{coinbase.MsgTx(), parent.MsgTx()},
	}
	harness.txPool.RemoveForBlock(btcutil.NewBlock(msgBlock))

	if harness.txPool.IsTransactionInPool(parent.Hash()) {
		t.Fatal("confirmed transaction still in the pool")
	}
	if !harness.txPool.IsTransactionInPool(child.Hash()) {
		t.Fatal("descendant of confirmed transaction evicted")
	}

	// The child's ancestor aggregates no longer include the confirmed
	// parent.
	pool := harness.txPool
	pool.mtx.RLock()
	childD := pool.pool[*child.Hash()]
	if childD.AncestorCount != 1 {
		t.Fatalf("unexpected ancestor count after confirm: got %d, want 1",
			childD.AncestorCount)
	}
	pool.mtx.RUnlock()

	// A block confirming a conflicting spend of the second funding output
	// removes the pool's double spend along with its descendants.
	inPool := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 1},
		100000000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, inPool)
	inPoolChild := createTx(wire.OutPoint{Hash: *inPool.Hash(), Index: 0},
		100000000-10000, 10000, 1, wire.MaxTxInSequenceNum, 1)
	harness.acceptTx(t, inPoolChild)

	conflict := createTx(wire.OutPoint{Hash: *funding.Hash(), Index: 1},
		100000000, 20000, 1, 0, 1)
	msgBlock2 := &wire.MsgBlock{
		Header:       wire.BlockHeader{},
		Transactions: []*wire.MsgTx{coinbase.MsgTx(), conflict.MsgTx()},
	}
	harness.txPool.RemoveForBlock(btcutil.NewBlock(msgBlock2))

	if harness.txPool.IsTransactionInPool(inPool.Hash()) {
		t.Fatal("double spend still in the pool after block")
	}
	if harness.txPool.IsTransactionInPool(inPoolChild.Hash()) {
		t.Fatal("descendant of double spend still in the pool after block")
	}
}
