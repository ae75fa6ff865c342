// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/smartcash/smartd/chaincfg"
)

const (
	// MaxTimeOffsetSeconds is the maximum number of seconds a block time is
	// allowed to be ahead of the current time.
	MaxTimeOffsetSeconds = 2 * 60 * 60

	// MinCoinbaseScriptLen is the minimum length a coinbase script can be.
	MinCoinbaseScriptLen = 2

	// MaxCoinbaseScriptLen is the maximum length a coinbase script can be.
	MaxCoinbaseScriptLen = 100

	// MaxBlockSigOpsCost is the maximum number of weighted signature check
	// operations allowed for a block.
	MaxBlockSigOpsCost = 160000

	// WitnessScaleFactor determines the level of "discount" witness data
	// receives compared to "base" data.  It is retained as the weighting
	// applied to legacy signature operations against the weighted block
	// sigop budget.
	WitnessScaleFactor = 4

	// zerocoinSpendOpcode and zerocoinMintOpcode identify the legacy
	// zerocoin transaction form which is rejected past the configured
	// cutoff height.
	zerocoinSpendOpcode = 0xc2
	zerocoinMintOpcode  = 0xc1
)

// IsCoinBaseTx determines whether or not a transaction is a coinbase.  A
// coinbase is a special transaction created by miners that has no inputs.
// This is represented in the block chain by a transaction with a single input
// that has a previous output transaction index set to the maximum value along
// with a zero hash.
func IsCoinBaseTx(msgTx *wire.MsgTx) bool {
	// A coin base must only have one transaction input.
	if len(msgTx.TxIn) != 1 {
		return false
	}

	// The previous output of a coin base must have a max value index and
	// a zero hash.
	prevOut := &msgTx.TxIn[0].PreviousOutPoint
	if prevOut.Index != math.MaxUint32 || prevOut.Hash != *zeroHash {
		return false
	}

	return true
}

// IsCoinBase determines whether or not a transaction is a coinbase.  A
// coinbase is a special transaction created by miners that has no inputs.
//
// This function only differs from IsCoinBaseTx in that it works with a higher
// level util transaction as opposed to a raw wire transaction.
func IsCoinBase(tx *btcutil.Tx) bool {
	return IsCoinBaseTx(tx.MsgTx())
}

// isNullOutpoint determines whether or not a previous transaction output
// point is set.
func isNullOutpoint(outpoint *wire.OutPoint) bool {
	return outpoint.Index == math.MaxUint32 && outpoint.Hash == *zeroHash
}

// IsZerocoinTx returns whether or not the passed transaction uses the legacy
// zerocoin form, which is identified by a spend script starting with the
// zerocoin spend opcode or an output script starting with the zerocoin mint
// opcode.
func IsZerocoinTx(msgTx *wire.MsgTx) bool {
	for _, txIn := range msgTx.TxIn {
		if len(txIn.SignatureScript) > 0 &&
			txIn.SignatureScript[0] == zerocoinSpendOpcode {

			return true
		}
	}
	for _, txOut := range msgTx.TxOut {
		if len(txOut.PkScript) > 0 &&
			txOut.PkScript[0] == zerocoinMintOpcode {

			return true
		}
	}
	return false
}

// CheckTransactionSanity performs some preliminary checks on a transaction to
// ensure it is sane.  These checks are context free.
func CheckTransactionSanity(tx *btcutil.Tx, params *chaincfg.Params) error {
	// A transaction must have at least one input.
	msgTx := tx.MsgTx()
	if len(msgTx.TxIn) == 0 {
		return ruleError(ErrNoTxInputs, "transaction has no inputs")
	}

	// A transaction must have at least one output.
	if len(msgTx.TxOut) == 0 {
		return ruleError(ErrNoTxOutputs, "transaction has no outputs")
	}

	// A transaction must not exceed the maximum allowed block payload when
	// serialized.
	serializedTxSize := msgTx.SerializeSize()
	if int64(serializedTxSize) > params.MaxBlockSerializedSize {
		str := fmt.Sprintf("serialized transaction is too big - got %d, "+
			"max %d", serializedTxSize, params.MaxBlockSerializedSize)
		return ruleError(ErrTxTooBig, str)
	}

	// Ensure the transaction amounts are in range.  Each transaction output
	// must not be negative or more than the max allowed per transaction.
	// Also, the total of all outputs must abide by the same restrictions.
	// All amounts in a transaction are in a unit value known as a satoshi.
	var totalSatoshi int64
	for _, txOut := range msgTx.TxOut {
		satoshi := txOut.Value
		if satoshi < 0 {
			str := fmt.Sprintf("transaction output has negative value of %v",
				satoshi)
			return ruleError(ErrBadTxOutValue, str)
		}
		if satoshi > chaincfg.MaxMoney {
			str := fmt.Sprintf("transaction output value of %v is higher "+
				"than max allowed value of %v", satoshi, chaincfg.MaxMoney)
			return ruleError(ErrBadTxOutValue, str)
		}

		// Binary arithmetic guarantees that any overflow is detected and
		// reported.  This is impossible for Bitcoin, but perhaps possible
		// if an alt increases the total money supply.
		totalSatoshi += satoshi
		if totalSatoshi < 0 {
			str := fmt.Sprintf("total value of all transaction outputs "+
				"exceeds max allowed value of %v", chaincfg.MaxMoney)
			return ruleError(ErrBadTxOutValue, str)
		}
		if totalSatoshi > chaincfg.MaxMoney {
			str := fmt.Sprintf("total value of all transaction outputs is "+
				"%v which is higher than max allowed value of %v",
				totalSatoshi, chaincfg.MaxMoney)
			return ruleError(ErrBadTxOutValue, str)
		}
	}

	// Check for duplicate transaction inputs.
	existingTxOut := make(map[wire.OutPoint]struct{})
	for _, txIn := range msgTx.TxIn {
		if _, exists := existingTxOut[txIn.PreviousOutPoint]; exists {
			return ruleError(ErrDuplicateTxInputs, "transaction contains "+
				"duplicate inputs")
		}
		existingTxOut[txIn.PreviousOutPoint] = struct{}{}
	}

	// Coinbase script length must be between min and max length.
	if IsCoinBase(tx) {
		slen := len(msgTx.TxIn[0].SignatureScript)
		if slen < MinCoinbaseScriptLen || slen > MaxCoinbaseScriptLen {
			str := fmt.Sprintf("coinbase transaction script length of %d is "+
				"out of range (min: %d, max: %d)", slen,
				MinCoinbaseScriptLen, MaxCoinbaseScriptLen)
			return ruleError(ErrBadCoinbaseScriptLen, str)
		}
	} else {
		// Previous transaction outputs referenced by the inputs to this
		// transaction must not be null.
		for _, txIn := range msgTx.TxIn {
			if isNullOutpoint(&txIn.PreviousOutPoint) {
				return ruleError(ErrBadTxInput, "transaction input refers "+
					"to previous output that is null")
			}
		}
	}

	return nil
}

// checkProofOfWork ensures the block header bits which indicate the target
// difficulty is in min/max range and that the block hash is less than the
// target difficulty as claimed.
//
// The flags modify the behavior of this function as follows:
//   - BFNoPoWCheck: The check to ensure the block hash is less than the
//     target difficulty is not performed.
func checkProofOfWork(header *wire.BlockHeader, params *chaincfg.Params, flags BehaviorFlags) error {
	// The target difficulty must be larger than zero.
	target := CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		str := fmt.Sprintf("block target difficulty of %064x is too low",
			target)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	// The target difficulty must be less than the maximum allowed.
	if target.Cmp(params.PowLimit) > 0 {
		str := fmt.Sprintf("block target difficulty of %064x is higher than "+
			"max of %064x", target, params.PowLimit)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	// The block hash must be less than the claimed target unless the flag
	// to avoid proof of work checks is set.
	if flags&BFNoPoWCheck != BFNoPoWCheck {
		// The block hash must be less than the claimed target.
		hash := header.BlockHash()
		hashNum := HashToBig(&hash)
		if hashNum.Cmp(target) > 0 {
			str := fmt.Sprintf("block hash of %064x is higher than expected "+
				"max of %064x", hashNum, target)
			return ruleError(ErrHighHash, str)
		}
	}

	return nil
}

// checkBlockHeaderSanity performs some preliminary checks on a block header
// to ensure it is sane before continuing with processing.  These checks are
// context free.
func checkBlockHeaderSanity(header *wire.BlockHeader, timeSource MedianTimeSource,
	params *chaincfg.Params, flags BehaviorFlags) error {

	// Ensure the proof of work bits in the block header is in min/max range
	// and the block hash is less than the target value described by the
	// bits.
	err := checkProofOfWork(header, params, flags)
	if err != nil {
		return err
	}

	// A block timestamp must not have a greater precision than one second.
	// This check is necessary because Go time.Time values support
	// nanosecond precision whereas the consensus rules only apply to
	// seconds and it's much nicer to deal with standard Go time values
	// instead of converting to seconds everywhere.
	if !header.Timestamp.Equal(time.Unix(header.Timestamp.Unix(), 0)) {
		str := fmt.Sprintf("block timestamp of %v has a higher precision "+
			"than one second", header.Timestamp)
		return ruleError(ErrTimeTooNew, str)
	}

	// Ensure the block time is not too far in the future.
	maxTimestamp := timeSource.AdjustedTime().Add(time.Second *
		MaxTimeOffsetSeconds)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %v is too far in the future",
			header.Timestamp)
		return ruleError(ErrTimeTooNew, str)
	}

	return nil
}

// checkBlockSanity performs some preliminary checks on a block to ensure it
// is sane before continuing with block processing.  These checks are context
// free.
func checkBlockSanity(block *btcutil.Block, timeSource MedianTimeSource,
	params *chaincfg.Params, flags BehaviorFlags) error {

	msgBlock := block.MsgBlock()
	header := &msgBlock.Header
	err := checkBlockHeaderSanity(header, timeSource, params, flags)
	if err != nil {
		return err
	}

	// A block must have at least one transaction.
	numTx := len(msgBlock.Transactions)
	if numTx == 0 {
		return ruleError(ErrNoTransactions, "block does not contain any "+
			"transactions")
	}

	// A block must not exceed the maximum allowed block payload when
	// serialized.  Note that the adaptive limit is enforced contextually,
	// this is the absolute limit the network will ever accept.
	serializedSize := msgBlock.SerializeSize()
	if int64(serializedSize) > params.MaxBlockSerializedSize {
		str := fmt.Sprintf("serialized block is too big - got %d, max %d",
			serializedSize, params.MaxBlockSerializedSize)
		return ruleError(ErrBlockTooBig, str)
	}

	// The first transaction in a block must be a coinbase.
	transactions := block.Transactions()
	if !IsCoinBase(transactions[0]) {
		return ruleError(ErrFirstTxNotCoinbase, "first transaction in block "+
			"is not a coinbase")
	}

	// A block must not have more than one coinbase.
	for i, tx := range transactions[1:] {
		if IsCoinBase(tx) {
			str := fmt.Sprintf("block contains second coinbase at index %d",
				i+1)
			return ruleError(ErrMultipleCoinbases, str)
		}
	}

	// Do some preliminary checks on each transaction to ensure they are
	// sane before continuing.
	for _, tx := range transactions {
		err := CheckTransactionSanity(tx, params)
		if err != nil {
			return err
		}
	}

	// Build merkle tree and ensure the calculated merkle root matches the
	// entry in the block header.  This also has the effect of caching all
	// of the transaction hashes in the block to speed up future hash
	// checks.
	calculatedMerkleRoot, mutated := CalcTxMerkleRoot(transactions)
	if header.MerkleRoot != calculatedMerkleRoot {
		str := fmt.Sprintf("block merkle root is invalid - block header "+
			"indicates %v, but calculated value is %v", header.MerkleRoot,
			calculatedMerkleRoot)
		return ruleError(ErrBadMerkleRoot, str)
	}

	// The merkle tree commitment must not be malleable.  A malleated
	// transaction list shares its root with the committed one despite
	// differing from it, which would otherwise allow a peer to poison the
	// block download of its peers.
	if mutated {
		return ruleError(ErrBadMerkleRoot, "block merkle tree commitment "+
			"is malleable")
	}

	// Check for duplicate transactions.  This check will be fairly quick
	// since the transaction hashes are already cached due to building the
	// merkle tree above.
	existingTxHashes := make(map[chainhash.Hash]struct{}, numTx)
	for _, tx := range transactions {
		hash := tx.Hash()
		if _, exists := existingTxHashes[*hash]; exists {
			str := fmt.Sprintf("block contains duplicate transaction %v",
				hash)
			return ruleError(ErrDuplicateTx, str)
		}
		existingTxHashes[*hash] = struct{}{}
	}

	// The number of signature operations must be less than the maximum
	// allowed per block.
	totalSigOps := 0
	for _, tx := range transactions {
		// We could potentially overflow the accumulator so check for
		// overflow.
		lastSigOps := totalSigOps
		totalSigOps += CountSigOps(tx) * WitnessScaleFactor
		if totalSigOps < lastSigOps || totalSigOps > MaxBlockSigOpsCost {
			str := fmt.Sprintf("block contains too many signature "+
				"operations - got %v, max %v", totalSigOps,
				MaxBlockSigOpsCost)
			return ruleError(ErrTooManySigOps, str)
		}
	}

	return nil
}

// CheckBlockSanity performs some preliminary checks on a block to ensure it
// is sane before continuing with block processing.  These checks are context
// free.
func CheckBlockSanity(block *btcutil.Block, timeSource MedianTimeSource,
	params *chaincfg.Params) error {

	return checkBlockSanity(block, timeSource, params, BFNone)
}

// extractCoinbaseHeight attempts to extract the height of the block from the
// scriptSig of a coinbase transaction.  Coinbase heights are only present in
// blocks of version 2 or later, as a single serialized little-endian push.
func extractCoinbaseHeight(coinbaseTx *btcutil.Tx) (int64, error) {
	sigScript := coinbaseTx.MsgTx().TxIn[0].SignatureScript
	if len(sigScript) < 1 {
		str := "the coinbase signature script must start with the serialized " +
			"block height"
		return 0, ruleError(ErrBadCoinbaseScriptLen, str)
	}

	// Detect the case when the block height is a small integer encoded with
	// an opcode.
	opcode := int(sigScript[0])
	if opcode == txscript.OP_0 {
		return 0, nil
	}
	if opcode >= txscript.OP_1 && opcode <= txscript.OP_16 {
		return int64(opcode - (txscript.OP_1 - 1)), nil
	}

	// Otherwise, the opcode is the length of the following bytes which
	// encode in the block height.
	serializedLen := int(sigScript[0])
	if len(sigScript[1:]) < serializedLen || serializedLen > 8 {
		str := "the coinbase signature script must start with the serialized " +
			"block height"
		return 0, ruleError(ErrBadCoinbaseScriptLen, str)
	}

	serializedHeightBytes := make([]byte, 8)
	copy(serializedHeightBytes, sigScript[1:serializedLen+1])
	var serializedHeight uint64
	for i := 7; i >= 0; i-- {
		serializedHeight = serializedHeight<<8 | uint64(serializedHeightBytes[i])
	}

	return int64(serializedHeight), nil
}

// checkSerializedHeight checks if the signature script in the passed
// transaction starts with the serialized block height of wantHeight.
func checkSerializedHeight(coinbaseTx *btcutil.Tx, wantHeight int64) error {
	serializedHeight, err := extractCoinbaseHeight(coinbaseTx)
	if err != nil {
		return err
	}

	if serializedHeight != wantHeight {
		str := fmt.Sprintf("the coinbase signature script serialized block "+
			"height is %d when %d was expected", serializedHeight, wantHeight)
		return ruleError(ErrBadCoinbaseScriptLen, str)
	}
	return nil
}

// isMajorityVersion determines if a previous number of blocks in the chain
// starting with startNode are at least the minimum passed version.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) isMajorityVersion(minVer int32, startNode *blockNode, numRequired uint64) bool {
	numFound := uint64(0)
	iterNode := startNode
	for i := uint64(0); i < b.chainParams.BlockUpgradeNumToCheck &&
		numFound < numRequired && iterNode != nil; i++ {

		// This node has a version that is at least the minimum version.
		if iterNode.version >= minVer {
			numFound++
		}

		iterNode = iterNode.parent
	}

	return numFound >= numRequired
}

// checkBlockHeaderContext performs several validation checks on the block
// header which depend on its position within the block chain.
//
// The flags modify the behavior of this function as follows:
//   - BFFastAdd: The difficulty and median time checks are not performed.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) checkBlockHeaderContext(header *wire.BlockHeader, prevNode *blockNode, flags BehaviorFlags) error {
	fastAdd := flags&BFFastAdd == BFFastAdd
	if !fastAdd {
		// Ensure the difficulty specified in the block header matches the
		// calculated difficulty based on the previous block and difficulty
		// retarget rules.
		expectedDifficulty := b.calcNextRequiredDifficulty(prevNode,
			header.Timestamp)
		blockDifficulty := header.Bits
		if blockDifficulty != expectedDifficulty {
			str := fmt.Sprintf("block difficulty of %08x is not the "+
				"expected value of %08x", blockDifficulty,
				expectedDifficulty)
			return ruleError(ErrUnexpectedDifficulty, str)
		}

		// Ensure the timestamp for the block header is after the median
		// time of the last several blocks (medianTimeBlocks).
		medianTime := prevNode.CalcPastMedianTime()
		if !header.Timestamp.After(medianTime) {
			str := fmt.Sprintf("block timestamp of %v is not after "+
				"expected %v", header.Timestamp, medianTime)
			return ruleError(ErrTimeTooOld, str)
		}
	}

	// Reject outdated block versions once a majority of the network has
	// upgraded.
	blockHeight := prevNode.height + 1
	for _, upgrade := range []struct {
		version int32
	}{
		{version: 2},
		{version: 3},
		{version: 4},
	} {
		if header.Version < upgrade.version &&
			b.isMajorityVersion(upgrade.version, prevNode,
				b.chainParams.BlockRejectNumRequired) {

			str := fmt.Sprintf("new blocks with version %d are no longer "+
				"valid at height %d", header.Version, blockHeight)
			return ruleError(ErrBlockVersionTooOld, str)
		}
	}

	return nil
}

// checkBlockContext performs several validation checks on the block which
// depend on its position within the block chain.
//
// The flags modify the behavior of this function as follows:
//   - BFFastAdd: The transaction are not checked to see if they are
//     finalized and the somewhat expensive BIP34 validation is not
//     performed.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) checkBlockContext(block *btcutil.Block, prevNode *blockNode, flags BehaviorFlags) error {
	// Perform all block header related validation checks.
	header := &block.MsgBlock().Header
	err := b.checkBlockHeaderContext(header, prevNode, flags)
	if err != nil {
		return err
	}

	fastAdd := flags&BFFastAdd == BFFastAdd
	if fastAdd {
		return nil
	}

	// Obtain the latest state of the deployed CSV soft-fork in order to
	// properly guard the new validation behavior based on the current BIP 9
	// version bits state.
	csvActive, err := b.isCSVActive(prevNode)
	if err != nil {
		return err
	}

	// Once the CSV soft-fork is fully active, transaction lock-times are
	// evaluated against the past median time of the previous block rather
	// than the timestamp of the block being validated.
	blockHeight := prevNode.height + 1
	blockTime := header.Timestamp
	if csvActive {
		blockTime = prevNode.CalcPastMedianTime()
	}

	// Ensure all transactions in the block are finalized and not part of
	// the legacy zerocoin form past its cutoff height.
	zerocoinDisabled := b.chainParams.ZerocoinDisableHeight > 0 &&
		blockHeight >= b.chainParams.ZerocoinDisableHeight
	for _, tx := range block.Transactions() {
		if !IsFinalizedTransaction(tx, blockHeight, blockTime) {
			str := fmt.Sprintf("block contains unfinalized transaction %v",
				tx.Hash())
			return ruleError(ErrUnfinalizedTx, str)
		}

		if zerocoinDisabled && IsZerocoinTx(tx.MsgTx()) {
			str := fmt.Sprintf("block contains legacy zerocoin "+
				"transaction %v past height %d", tx.Hash(),
				b.chainParams.ZerocoinDisableHeight)
			return ruleError(ErrZerocoinDisabled, str)
		}
	}

	// The block must not exceed the current adaptive maximum block size.
	maxBlockSize, err := b.maxBlockSize(prevNode)
	if err != nil {
		return err
	}
	serializedSize := int64(block.MsgBlock().SerializeSize())
	if serializedSize > maxBlockSize {
		str := fmt.Sprintf("serialized block is too big - got %d, max %d",
			serializedSize, maxBlockSize)
		return ruleError(ErrBlockTooBig, str)
	}

	// Ensure coinbase starts with serialized block heights for blocks of
	// version 2 or greater once a majority of the network has upgraded.
	if header.Version >= 2 && b.isMajorityVersion(2, prevNode,
		b.chainParams.BlockEnforceNumRequired) {

		err := checkSerializedHeight(block.Transactions()[0], blockHeight)
		if err != nil {
			return err
		}
	}

	return nil
}

// checkDupTxs ensures blocks do not contain duplicate transactions which
// 'overwrite' older transactions that are not fully spent.  This prevents an
// attack where a coinbase and all of its dependent transactions could be
// duplicated to effectively revert the overwritten transactions to a single
// confirmation thereby making them vulnerable to a double spend.
//
// There are two exceptions for old blocks which are preserved verbatim from
// the reference implementation.
//
// This function MUST be called with the chain state lock held (for reads).
func (b *BlockChain) checkDupTxs(block *btcutil.Block, view *UtxoViewpoint) error {
	// The historical exceptions are identified by their (height, hash)
	// pairs.
	if wantHash, ok := b.chainParams.DuplicateCoinbaseExceptions[int64(block.Height())]; ok {
		if *block.Hash() == wantHash {
			return nil
		}
	}

	// Attempt to fetch duplicate transactions for all of the transactions
	// in this block from the point of view of the parent node.
	fetchSet := make(viewFilteredSet)
	for _, tx := range block.Transactions() {
		outpoint := wire.OutPoint{Hash: *tx.Hash()}
		for txOutIdx := range tx.MsgTx().TxOut {
			outpoint.Index = uint32(txOutIdx)
			fetchSet.add(view, outpoint)
		}
	}
	err := view.fetchUtxosMain(b.utxoCache, fetchSet)
	if err != nil {
		return err
	}

	// Duplicate transactions are only allowed if the previous transaction
	// is fully spent.
	for outpoint := range fetchSet {
		utxo := view.LookupEntry(outpoint)
		if utxo != nil && !utxo.IsSpent() {
			str := fmt.Sprintf("tried to overwrite transaction %v at block "+
				"height %d that is not fully spent", outpoint.Hash,
				utxo.BlockHeight())
			return ruleError(ErrDuplicateTx, str)
		}
	}

	return nil
}

// CountSigOps returns the number of signature operations for all transaction
// input and output scripts in the provided transaction.  This uses the
// quicker, but imprecise, signature operation counting mechanism from
// txscript.
func CountSigOps(tx *btcutil.Tx) int {
	msgTx := tx.MsgTx()

	// Accumulate the number of signature operations in all transaction
	// inputs.
	totalSigOps := 0
	for _, txIn := range msgTx.TxIn {
		numSigOps := txscript.GetSigOpCount(txIn.SignatureScript)
		totalSigOps += numSigOps
	}

	// Accumulate the number of signature operations in all transaction
	// outputs.
	for _, txOut := range msgTx.TxOut {
		numSigOps := txscript.GetSigOpCount(txOut.PkScript)
		totalSigOps += numSigOps
	}

	return totalSigOps
}

// CountP2SHSigOps returns the number of signature operations for all input
// transactions which are of the pay-to-script-hash type.  This uses the
// precise, signature operation counting mechanism from the script engine
// which requires access to the input transaction scripts.
func CountP2SHSigOps(tx *btcutil.Tx, isCoinBaseTx bool, utxoView *UtxoViewpoint) (int, error) {
	// Coinbase transactions have no interesting inputs.
	if isCoinBaseTx {
		return 0, nil
	}

	// Accumulate the number of signature operations in all transaction
	// inputs.
	msgTx := tx.MsgTx()
	totalSigOps := 0
	for txInIndex, txIn := range msgTx.TxIn {
		// Ensure the referenced input transaction is available.
		utxo := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil || utxo.IsSpent() {
			str := fmt.Sprintf("output %v referenced from transaction %s:%d "+
				"either does not exist or has already been spent",
				txIn.PreviousOutPoint, tx.Hash(), txInIndex)
			return 0, ruleError(ErrMissingTxOut, str)
		}

		// We're only interested in pay-to-script-hash types, so skip this
		// input if it's not one.
		pkScript := utxo.PkScript()
		if !txscript.IsPayToScriptHash(pkScript) {
			continue
		}

		// Count the precise number of signature operations in the
		// referenced public key script.
		sigScript := txIn.SignatureScript
		numSigOps := txscript.GetPreciseSigOpCount(sigScript, pkScript, true)

		// We could potentially overflow the accumulator so check for
		// overflow.
		lastSigOps := totalSigOps
		totalSigOps += numSigOps
		if totalSigOps < lastSigOps {
			str := fmt.Sprintf("the public key script from output %v "+
				"contains too many signature operations - overflow",
				txIn.PreviousOutPoint)
			return 0, ruleError(ErrTooManySigOps, str)
		}
	}

	return totalSigOps, nil
}

// CheckTransactionInputs performs a series of checks on the inputs to a
// transaction to ensure they are valid.  An example of some of the checks
// include verifying all inputs exist, ensuring the coinbase seasoning
// requirements are met, detecting double spends, validating all values and
// fees are in the legal range and the total output amount doesn't exceed the
// input amount, and verifying the signatures to prove the spender was the
// owner of the coins and therefore allowed to spend them.  As it checks the
// inputs, it also calculates the total fees for the transaction and returns
// that value.
//
// NOTE: The transaction MUST have already been sanity checked with the
// CheckTransactionSanity function prior to calling this function.
func CheckTransactionInputs(tx *btcutil.Tx, txHeight int64, utxoView *UtxoViewpoint, params *chaincfg.Params) (int64, error) {
	// Coinbase transactions have no inputs.
	if IsCoinBase(tx) {
		return 0, nil
	}

	var totalSatoshiIn int64
	for txInIndex, txIn := range tx.MsgTx().TxIn {
		// Ensure the referenced input transaction is available.
		utxo := utxoView.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil {
			str := fmt.Sprintf("output %v referenced from transaction %s:%d "+
				"does not exist", txIn.PreviousOutPoint, tx.Hash(),
				txInIndex)
			return 0, ruleError(ErrMissingTxOut, str)
		}
		if utxo.IsSpent() {
			str := fmt.Sprintf("output %v referenced from transaction %s:%d "+
				"has already been spent", txIn.PreviousOutPoint, tx.Hash(),
				txInIndex)
			return 0, ruleError(ErrSpentTxOut, str)
		}

		// Ensure the transaction is not spending coins which have not yet
		// reached the required coinbase maturity.
		if utxo.IsCoinBase() {
			originHeight := utxo.BlockHeight()
			blocksSincePrev := txHeight - originHeight
			coinbaseMaturity := int64(params.CoinbaseMaturity)
			if blocksSincePrev < coinbaseMaturity {
				str := fmt.Sprintf("tried to spend coinbase transaction "+
					"output %v from height %v at height %v before "+
					"required maturity of %v blocks",
					txIn.PreviousOutPoint, originHeight, txHeight,
					coinbaseMaturity)
				return 0, ruleError(ErrImmatureSpend, str)
			}
		}

		// Ensure the transaction amounts are in range.  Each of the output
		// values of the input transactions must not be negative or more
		// than the max allowed per transaction.  All amounts in a
		// transaction are in a unit value known as a satoshi.
		originTxSatoshi := utxo.Amount()
		if originTxSatoshi < 0 {
			str := fmt.Sprintf("transaction output has negative value of %v",
				btcutil.Amount(originTxSatoshi))
			return 0, ruleError(ErrBadTxOutValue, str)
		}
		if originTxSatoshi > chaincfg.MaxMoney {
			str := fmt.Sprintf("transaction output value of %v is higher "+
				"than max allowed value of %v",
				btcutil.Amount(originTxSatoshi), chaincfg.MaxMoney)
			return 0, ruleError(ErrBadTxOutValue, str)
		}

		// The total of all outputs must not be more than the max allowed
		// per transaction.  Also, we could potentially overflow the
		// accumulator so check for overflow.
		lastSatoshiIn := totalSatoshiIn
		totalSatoshiIn += originTxSatoshi
		if totalSatoshiIn < lastSatoshiIn ||
			totalSatoshiIn > chaincfg.MaxMoney {
			str := fmt.Sprintf("total value of all transaction inputs is "+
				"%v which is higher than max allowed value of %v",
				totalSatoshiIn, chaincfg.MaxMoney)
			return 0, ruleError(ErrBadTxOutValue, str)
		}
	}

	// Calculate the total output amount for this transaction.  It is safe
	// to ignore overflow and out of range errors here because those error
	// conditions would have already been caught by the transaction sanity
	// checks.
	var totalSatoshiOut int64
	for _, txOut := range tx.MsgTx().TxOut {
		totalSatoshiOut += txOut.Value
	}

	// Ensure the transaction does not spend more than its inputs.
	if totalSatoshiIn < totalSatoshiOut {
		str := fmt.Sprintf("total value of all transaction inputs for "+
			"transaction %v is %v which is less than the amount spent of "+
			"%v", tx.Hash(), totalSatoshiIn, totalSatoshiOut)
		return 0, ruleError(ErrSpendTooHigh, str)
	}

	// NOTE: bitcoind checks if the transaction fees are < 0 here, but that
	// is an impossible condition because of the check above that ensures
	// the inputs are >= the outputs.
	txFeeInSatoshi := totalSatoshiIn - totalSatoshiOut
	return txFeeInSatoshi, nil
}

// consensusScriptVerifyFlags returns the script flags that must be used when
// executing transaction scripts to enforce the consensus rules as of the
// block AFTER the provided block node.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) consensusScriptVerifyFlags(prevNode *blockNode, blockTime time.Time) (txscript.ScriptFlags, error) {
	var scriptFlags txscript.ScriptFlags

	// Enforce the pay-to-script-hash soft fork on all blocks with a
	// timestamp after its activation epoch.
	if blockTime.After(b.chainParams.BIP16Time) ||
		blockTime.Equal(b.chainParams.BIP16Time) {

		scriptFlags |= txscript.ScriptBip16
	}

	// Enforce DER signatures once a super-majority of version 3 blocks has
	// been reached.
	if b.isMajorityVersion(3, prevNode, b.chainParams.BlockRejectNumRequired) {
		scriptFlags |= txscript.ScriptVerifyDERSignatures
	}

	// Enforce CHECKLOCKTIMEVERIFY once a super-majority of version 4 blocks
	// has been reached.
	if b.isMajorityVersion(4, prevNode, b.chainParams.BlockRejectNumRequired) {
		scriptFlags |= txscript.ScriptVerifyCheckLockTimeVerify
	}

	// Enforce CHECKSEQUENCEVERIFY while the sequence locks deployment is
	// active.
	csvActive, err := b.isCSVActive(prevNode)
	if err != nil {
		return 0, err
	}
	if csvActive {
		scriptFlags |= txscript.ScriptVerifyCheckSequenceVerify
	}

	return scriptFlags, nil
}

// MandatoryVerifyFlags returns the script flags which must be enforced for
// the block after the current best chain tip.  A transaction whose scripts
// fail under these flags is invalid by consensus.
//
// This function is safe for concurrent access.
func (b *BlockChain) MandatoryVerifyFlags() (txscript.ScriptFlags, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	tip := b.bestChain.Tip()
	return b.consensusScriptVerifyFlags(tip, b.timeSource.AdjustedTime())
}

// StandardVerifyFlags returns the script flags to use when verifying
// transactions for acceptance to the memory pool.  They are a superset of the
// mandatory flags: a script that fails under these but passes under the
// mandatory flags is non-standard rather than invalid.
//
// This function is safe for concurrent access.
func (b *BlockChain) StandardVerifyFlags() (txscript.ScriptFlags, error) {
	mandatoryFlags, err := b.MandatoryVerifyFlags()
	if err != nil {
		return 0, err
	}
	return mandatoryFlags |
		txscript.ScriptVerifyCleanStack |
		txscript.ScriptVerifyLowS |
		txscript.ScriptVerifyMinimalData |
		txscript.ScriptVerifySigPushOnly |
		txscript.ScriptVerifyStrictEncoding |
		txscript.ScriptDiscourageUpgradableNops, nil
}

// checkNumSigOps checks whether or not the number of signature operations in
// the provided transaction would push the running total for the block over
// the maximum allowed, returning the new running total.
func checkNumSigOps(tx *btcutil.Tx, utxoView *UtxoViewpoint, enforceP2SH bool, cumulativeSigOps int) (int, error) {
	numSigOps := CountSigOps(tx) * WitnessScaleFactor

	// Coinbase transactions have no real inputs, so CountP2SHSigOps is told
	// whether the transaction is a coinbase.
	if enforceP2SH {
		numP2SHSigOps, err := CountP2SHSigOps(tx, IsCoinBase(tx), utxoView)
		if err != nil {
			return 0, err
		}
		numSigOps += numP2SHSigOps * WitnessScaleFactor
	}

	// Check for overflow or going over the limits.  We have to do this on
	// every loop iteration to avoid overflow.
	lastSigOps := cumulativeSigOps
	cumulativeSigOps += numSigOps
	if cumulativeSigOps < lastSigOps || cumulativeSigOps > MaxBlockSigOpsCost {
		str := fmt.Sprintf("block contains too many signature operations - "+
			"got %v, max %v", cumulativeSigOps, MaxBlockSigOpsCost)
		return 0, ruleError(ErrTooManySigOps, str)
	}

	return cumulativeSigOps, nil
}

// checkHivePayments ensures the coinbase of the provided block pays each of
// the configured hive scripts once hive payment enforcement is in effect.
// The exact split schedule is maintained by the hive subsystem, which is
// consulted as an opaque predicate: here only the presence of an output to
// each hive script is enforced.
//
// This function MUST be called with the chain state lock held (for reads).
func (b *BlockChain) checkHivePayments(block *btcutil.Block, blockHeight int64) error {
	params := b.chainParams
	if params.HivePaymentsStartHeight == 0 ||
		blockHeight < params.HivePaymentsStartHeight ||
		len(params.HivePayoutScripts) == 0 {

		return nil
	}

	coinbase := block.Transactions()[0].MsgTx()
	for _, hiveScript := range params.HivePayoutScripts {
		found := false
		for _, txOut := range coinbase.TxOut {
			if bytes.Equal(txOut.PkScript, hiveScript) && txOut.Value > 0 {
				found = true
				break
			}
		}
		if !found {
			str := fmt.Sprintf("block at height %d does not pay the "+
				"required hive script %x", blockHeight, hiveScript)
			return ruleError(ErrBadHivePayment, str)
		}
	}
	return nil
}

// checkConnectBlock performs several checks to confirm connecting the passed
// block to the chain represented by the passed view does not violate any
// rules.  In addition, the passed view is updated to spend all of the
// referenced outputs and add all of the new utxos created by block.  Thus,
// the view will represent the state of the chain as if the block were
// actually connected and consequently the best hash for the view is also
// updated to passed block.
//
// An example of some of the checks performed are ensuring connecting the
// block would not cause any duplicate transaction hashes for old transactions
// that aren't already fully spent, double spends, exceeding the maximum
// allowed signature operations per block, invalid values in relation to the
// expected block subsidy, or fail transaction script validation.
//
// The provided stxos slice will be populated with an entry for each spent
// txout so the caller can store the undo journal needed to disconnect the
// block.
//
// This function MUST be called with the chain state lock held (for writes).
func (b *BlockChain) checkConnectBlock(node *blockNode, block *btcutil.Block, view *UtxoViewpoint, stxos *[]spentTxOut) error {
	// Ensure the provided stxo slice has room for every spent output.
	if stxos != nil && cap(*stxos) < countSpentOutputs(block) {
		*stxos = make([]spentTxOut, 0, countSpentOutputs(block))
	}

	// Defense in depth: re-run the context-free checks in case the caller
	// state transitions have a bug.
	err := checkBlockSanity(block, b.timeSource, b.chainParams, BFNoPoWCheck)
	if err != nil {
		return err
	}

	// Ensure the view is for the node being checked.
	parentHash := &block.MsgBlock().Header.PrevBlock
	if !view.BestHash().IsEqual(parentHash) {
		return AssertError(fmt.Sprintf("inconsistent view when checking "+
			"block connection: best hash is %v instead of expected %v",
			view.BestHash(), parentHash))
	}

	// Enforce the no-duplicate-coinbase rule: a block may not contain a
	// transaction whose hash collides with an older transaction that is
	// not fully spent, aside from the historical exceptions.
	err = b.checkDupTxs(block, view)
	if err != nil {
		return err
	}

	// Load all of the utxos referenced by the inputs for all transactions
	// in the block which don't already exist in the utxo view from the
	// cache.
	err = view.fetchInputUtxos(b.utxoCache, block)
	if err != nil {
		return err
	}

	// Derive the script verification flags that enforce the consensus
	// rules active for this block.
	scriptFlags, err := b.consensusScriptVerifyFlags(node.parent,
		timeUnix(node.timestamp))
	if err != nil {
		return err
	}
	enforceP2SH := scriptFlags&txscript.ScriptBip16 == txscript.ScriptBip16

	// The median time of the parent is the monotone clock for relative
	// lock-time constraints.
	medianTime := node.parent.CalcPastMedianTime()

	// The number of signature operations must be less than the maximum
	// allowed per block.  Note that the preliminary sanity checks on a
	// block also include a check similar to this one, but this check
	// expands the count to include a precise count of pay-to-script-hash
	// signature operations in each of the input transaction public key
	// scripts.
	transactions := block.Transactions()
	totalSigOpCost := 0
	var totalFees int64
	for txIdx, tx := range transactions {
		totalSigOpCost, err = checkNumSigOps(tx, view, enforceP2SH,
			totalSigOpCost)
		if err != nil {
			return err
		}

		txFee, err := CheckTransactionInputs(tx, node.height, view,
			b.chainParams)
		if err != nil {
			return err
		}

		// Sum the total fees and ensure we don't overflow the accumulator.
		lastTotalFees := totalFees
		totalFees += txFee
		if totalFees < lastTotalFees {
			return ruleError(ErrBadFees, "total fees for block overflows "+
				"accumulator")
		}

		// Enforce the relative sequence locks of the non-coinbase
		// transaction inputs.
		if txIdx > 0 {
			sequenceLock, err := b.calcSequenceLock(node.parent, tx, view,
				false)
			if err != nil {
				return err
			}
			if !SequenceLockActive(sequenceLock, node.height, medianTime) {
				str := fmt.Sprintf("block contains transaction %v whose "+
					"input sequence locks are not met", tx.Hash())
				return ruleError(ErrSequenceLockUnmet, str)
			}
		}

		// Add all of the outputs for this transaction which are not
		// provably unspendable as available utxos, spending the referenced
		// utxos into the undo journal.
		err = view.connectTransaction(tx, node.height, stxos)
		if err != nil {
			return err
		}
	}

	// The total output values of the coinbase transaction must not exceed
	// the expected subsidy value plus total transaction fees gained from
	// mining the block.  It is safe to ignore overflow and out of range
	// errors here because those error conditions would have already been
	// caught by CheckTransactionSanity.
	var totalSatoshiOut int64
	for _, txOut := range transactions[0].MsgTx().TxOut {
		totalSatoshiOut += txOut.Value
	}
	expectedSatoshiOut := CalcBlockSubsidy(node.height, b.chainParams) +
		totalFees
	if totalSatoshiOut > expectedSatoshiOut {
		str := fmt.Sprintf("coinbase transaction for block pays %v which "+
			"is more than expected value of %v", totalSatoshiOut,
			expectedSatoshiOut)
		return ruleError(ErrBadCoinbaseValue, str)
	}

	// Enforce the required payments to the hive addresses.
	err = b.checkHivePayments(block, node.height)
	if err != nil {
		return err
	}

	// Don't run scripts if this node is before the latest known good
	// checkpoint since the validity is verified via the checkpoints (all
	// transactions are included in the merkle root hash and any changes
	// will therefore be detected by the next checkpoint).
	runScripts := true
	if b.latestCheckpointHeight > 0 && node.height <= b.latestCheckpointHeight {
		runScripts = false
	}

	// Now that the inexpensive checks are done and have passed, verify the
	// transactions are actually allowed to spend the coins by running the
	// expensive script checks on a parallel worker pool.  Doing this last
	// helps prevent CPU exhaustion attacks.
	if runScripts {
		err := checkBlockScripts(block, view, scriptFlags, scriptFlags,
			b.sigCache)
		if err != nil {
			return err
		}
	}

	// Update the best hash for view to include this block since all of its
	// transactions have been connected.
	view.SetBestHash(block.Hash())

	return nil
}

// timeUnix is a small helper that converts a unix timestamp into a time.Time.
func timeUnix(timestamp int64) time.Time {
	return time.Unix(timestamp, 0)
}
