// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"context"
	"fmt"
	"runtime"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// FetchPrevOutput fetches the previous output referenced by the passed
// outpoint.  A nil value is returned when the output is spent or does not
// exist.  This implements the txscript.PrevOutputFetcher interface on the
// view so it can be used directly by the script engine.
func (view *UtxoViewpoint) FetchPrevOutput(outpoint wire.OutPoint) *wire.TxOut {
	entry := view.LookupEntry(outpoint)
	if entry == nil || entry.IsSpent() {
		return nil
	}
	return &wire.TxOut{
		Value:    entry.Amount(),
		PkScript: entry.PkScript(),
	}
}

// txValidateItem holds a transaction along with which input to validate.
type txValidateItem struct {
	txInIndex int
	txIn      *wire.TxIn
	tx        *btcutil.Tx
}

// txValidator provides a type which asynchronously validates transaction
// inputs.  It provides several channels for communication and a processing
// function that is intended to be in run multiple goroutines.
type txValidator struct {
	validateChan chan *txValidateItem
	resultChan   chan error
	view         *UtxoViewpoint
	flags        txscript.ScriptFlags
	mandatory    txscript.ScriptFlags
	sigCache     *txscript.SigCache
}

// sendResult sends the result of a script pair validation on the internal
// result channel while respecting the context.  This allows orderly shutdown
// when the validation process is aborted early due to a validation error in
// one of the other goroutines.
func (v *txValidator) sendResult(ctx context.Context, result error) {
	select {
	case v.resultChan <- result:
	case <-ctx.Done():
	}
}

// verifyInput executes the script pair of the provided item under the
// provided flags.
func (v *txValidator) verifyInput(txVI *txValidateItem, entry *UtxoEntry,
	flags txscript.ScriptFlags) error {

	vm, err := txscript.NewEngine(entry.PkScript(), txVI.tx.MsgTx(),
		txVI.txInIndex, flags, v.sigCache, nil, entry.Amount(), v.view)
	if err != nil {
		str := fmt.Sprintf("failed to parse input %s:%d which references "+
			"output %v - %v (input script bytes %x, prev output script "+
			"bytes %x)", txVI.tx.Hash(), txVI.txInIndex,
			txVI.txIn.PreviousOutPoint, err, txVI.txIn.SignatureScript,
			entry.PkScript())
		return ruleError(ErrScriptMalformed, str)
	}
	if err := vm.Execute(); err != nil {
		str := fmt.Sprintf("failed to validate input %s:%d which references "+
			"output %v - %v (input script bytes %x, prev output script "+
			"bytes %x)", txVI.tx.Hash(), txVI.txInIndex,
			txVI.txIn.PreviousOutPoint, err, txVI.txIn.SignatureScript,
			entry.PkScript())
		return ruleError(ErrScriptValidation, str)
	}
	return nil
}

// validateHandler consumes items to validate from the internal validate
// channel and returns the result of the validation on the internal result
// channel.  It must be run as a goroutine.
func (v *txValidator) validateHandler(ctx context.Context) {
out:
	for {
		select {
		case <-ctx.Done():
			break out

		case txVI := <-v.validateChan:
			// Ensure the referenced input utxo is available.
			txIn := txVI.txIn
			entry := v.view.LookupEntry(txIn.PreviousOutPoint)
			if entry == nil {
				str := fmt.Sprintf("unable to find unspent output %v "+
					"referenced from transaction %s:%d",
					txIn.PreviousOutPoint, txVI.tx.Hash(), txVI.txInIndex)
				v.sendResult(ctx, ruleError(ErrMissingTxOut, str))
				break out
			}

			// Execute the script pair under the full flags.  On failure,
			// when the failure was caused solely by the optional flags,
			// re-run with only the mandatory flags in order to distinguish
			// a non-standard transaction from an outright invalid one.
			err := v.verifyInput(txVI, entry, v.flags)
			if err != nil && v.mandatory != v.flags {
				if v.verifyInput(txVI, entry, v.mandatory) == nil {
					str := fmt.Sprintf("input %s:%d failed validation under "+
						"the standard flags but passed under the mandatory "+
						"flags", txVI.tx.Hash(), txVI.txInIndex)
					err = ruleError(ErrNonStandardScriptValidation, str)
				}
			}
			if err != nil {
				v.sendResult(ctx, err)
				break out
			}

			// Validation succeeded.
			v.sendResult(ctx, nil)
		}
	}
}

// Validate validates the scripts for all of the passed transaction inputs
// using multiple goroutines.
func (v *txValidator) Validate(items []*txValidateItem) error {
	if len(items) == 0 {
		return nil
	}

	// Limit the number of goroutines to do script validation based on the
	// number of processor cores, reserving one for the controller.  This
	// helps ensure the system stays reasonably responsive under heavy load.
	maxGoRoutines := runtime.NumCPU() - 1
	if maxGoRoutines <= 0 {
		maxGoRoutines = 1
	}
	if maxGoRoutines > len(items) {
		maxGoRoutines = len(items)
	}

	// Start up validation handlers that are used to asynchronously validate
	// each transaction input.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < maxGoRoutines; i++ {
		go v.validateHandler(ctx)
	}

	// Validate each of the inputs.  The context is canceled when any errors
	// occur so all processing goroutines exit regardless of which input had
	// the validation error.
	numInputs := len(items)
	currentItem := 0
	processedItems := 0
	for processedItems < numInputs {
		// Only send items while there are still items that need to be
		// processed.  The select statement will never select a nil channel.
		var validateChan chan *txValidateItem
		var item *txValidateItem
		if currentItem < numInputs {
			validateChan = v.validateChan
			item = items[currentItem]
		}

		select {
		case validateChan <- item:
			currentItem++

		case err := <-v.resultChan:
			processedItems++
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// newTxValidator returns a new instance of txValidator to be used for
// validating transaction scripts asynchronously.
func newTxValidator(view *UtxoViewpoint, flags txscript.ScriptFlags,
	mandatory txscript.ScriptFlags, sigCache *txscript.SigCache) *txValidator {

	return &txValidator{
		validateChan: make(chan *txValidateItem),
		resultChan:   make(chan error),
		view:         view,
		flags:        flags,
		mandatory:    mandatory,
		sigCache:     sigCache,
	}
}

// ValidateTransactionScripts validates the scripts for the passed transaction
// using multiple goroutines.
func ValidateTransactionScripts(tx *btcutil.Tx, utxoView *UtxoViewpoint,
	flags txscript.ScriptFlags, mandatory txscript.ScriptFlags,
	sigCache *txscript.SigCache) error {

	// Collect all of the transaction inputs and required information for
	// validation.
	txIns := tx.MsgTx().TxIn
	txValItems := make([]*txValidateItem, 0, len(txIns))
	for txInIdx, txIn := range txIns {
		// Skip coinbases.
		if txIn.PreviousOutPoint.Index == wire.MaxPrevOutIndex {
			continue
		}

		txValItems = append(txValItems, &txValidateItem{
			txInIndex: txInIdx,
			txIn:      txIn,
			tx:        tx,
		})
	}

	// Validate all of the inputs.
	return newTxValidator(utxoView, flags, mandatory, sigCache).Validate(txValItems)
}

// checkBlockScripts executes and validates the scripts for all transactions
// in the passed block using multiple goroutines.
func checkBlockScripts(block *btcutil.Block, utxoView *UtxoViewpoint,
	flags txscript.ScriptFlags, mandatory txscript.ScriptFlags,
	sigCache *txscript.SigCache) error {

	// Collect all of the transaction inputs and required information for
	// validation for all transactions in the block into a single slice.
	numInputs := 0
	for _, tx := range block.Transactions() {
		numInputs += len(tx.MsgTx().TxIn)
	}
	txValItems := make([]*txValidateItem, 0, numInputs)
	for _, tx := range block.Transactions() {
		for txInIdx, txIn := range tx.MsgTx().TxIn {
			// Skip coinbases.
			if txIn.PreviousOutPoint.Index == wire.MaxPrevOutIndex {
				continue
			}

			txValItems = append(txValItems, &txValidateItem{
				txInIndex: txInIdx,
				txIn:      txIn,
				tx:        tx,
			})
		}
	}

	// Validate all of the inputs.
	return newTxValidator(utxoView, flags, mandatory, sigCache).Validate(txValItems)
}
