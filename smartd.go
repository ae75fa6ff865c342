// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/smartcash/smartd/blobstore"
	"github.com/smartcash/smartd/blockchain"
	"github.com/smartcash/smartd/database"
	"github.com/smartcash/smartd/mempool"
)

// sigCacheMaxEntries is the maximum number of entries kept in the signature
// verification cache.
const sigCacheMaxEntries = 100000

var cfg *config

// netMagicBytes returns the network magic as the 4-byte array used to frame
// records in the flat-file store.
func netMagicBytes(net uint32) [4]byte {
	return [4]byte{
		byte(net), byte(net >> 8), byte(net >> 16), byte(net >> 24),
	}
}

// relayFeeAmount converts the configured minimum relay fee from coins/kB to
// the base unit amount used by the mempool policy.
func relayFeeAmount(coinsPerKB float64) btcutil.Amount {
	amount, err := btcutil.NewAmount(coinsPerKB)
	if err != nil {
		return mempool.DefaultMinRelayTxFee
	}
	return amount
}

// mempoolExpiry converts the configured mempool expiry in hours into a
// duration, defaulting to two weeks when unset.
func mempoolExpiry(hours int64) time.Duration {
	if hours <= 0 {
		return 14 * 24 * time.Hour
	}
	return time.Duration(hours) * time.Hour
}

// smartdMain is the real main function for smartd.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is
// called.
func smartdMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	tcfg, _, err := loadConfig(appName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem through shutdownRequestChannel.
	ctx := shutdownListener()
	defer smtdLog.Info("Shutdown complete")

	// Show version at startup.
	smtdLog.Infof("Version %s (Go version %s %s/%s)", version(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	smtdLog.Infof("Home dir: %s", cfg.HomeDir)

	// Block and transaction processing can cause bursty allocations.  This
	// limits the garbage collector from excessively overallocating during
	// bursts.  This value was arrived at with the help of profiling live
	// usage.
	debug.SetGCPercent(20)

	params := cfg.params()

	// Open the flat-file block store along with the block tree and
	// chainstate databases.
	blocksDir := filepath.Join(cfg.DataDir, "blocks")
	store, err := blobstore.Open(blocksDir, netMagicBytes(uint32(params.Net)))
	if err != nil {
		smtdLog.Errorf("Unable to open block store: %v", err)
		return err
	}
	defer store.Close()

	treeDB, err := database.Open(filepath.Join(blocksDir, "index"))
	if err != nil {
		smtdLog.Errorf("Unable to open block tree database: %v", err)
		return err
	}
	defer treeDB.Close()

	utxoDB, err := database.Open(filepath.Join(cfg.DataDir, "chainstate"))
	if err != nil {
		smtdLog.Errorf("Unable to open chainstate database: %v", err)
		return err
	}
	defer utxoDB.Close()

	// The mempool is wired up through the chain notification callback that
	// is registered before the chain is created, so the variable has to be
	// declared up front.
	var txPool *mempool.TxPool
	notificationHandler := func(notification *blockchain.Notification) {
		if txPool == nil {
			return
		}
		switch notification.Type {
		case blockchain.NTBlockConnected:
			data, ok := notification.Data.(*blockchain.BlockConnectedNtfnsData)
			if !ok {
				break
			}
			// Remove all of the transactions (except the coinbase) in the
			// connected block from the transaction pool, along with anything
			// that became a double spend as a result.
			txPool.RemoveForBlock(data.Block)

		case blockchain.NTBlockDisconnected:
			data, ok := notification.Data.(*blockchain.BlockDisconnectedNtfnsData)
			if !ok {
				break
			}
			// Feed the transactions of the disconnected block back through
			// the admission pipeline so the ones that remain valid are
			// resurrected.
			txPool.ProcessDisconnectedBlock(data.Block)

		case blockchain.NTForkDetected:
			data, ok := notification.Data.(*blockchain.ForkDetectedNtfnsData)
			if !ok {
				break
			}
			smtdLog.Warnf("%s", data.Warning)
		}
	}

	// Create the chain instance backed by the stores opened above.
	sigCache := txscript.NewSigCache(sigCacheMaxEntries)
	chain, err := blockchain.New(&blockchain.Config{
		DB:               treeDB,
		UtxoDB:           utxoDB,
		Store:            store,
		ChainParams:      params,
		TimeSource:       blockchain.NewMedianTime(),
		Notifications:    notificationHandler,
		SigCache:         sigCache,
		Interrupt:        ctx.Done(),
		UtxoCacheMaxSize: cfg.UtxoCacheMaxSize * 1024 * 1024,
		PruneDepth:       cfg.Prune,
	})
	if err != nil {
		// The distinction matters to the user: corruption requires manual
		// intervention while anything else is likely transient.
		var rerr blockchain.RuleError
		if errors.As(err, &rerr) &&
			errors.Is(err, blockchain.ErrUtxoBackendCorruption) {

			smtdLog.Criticalf("The database is corrupted: %v", err)
			smtdLog.Critical("A full reindex (-reindex) or resync is " +
				"required to continue")
			return err
		}
		smtdLog.Errorf("Unable to initialize chain: %v", err)
		return err
	}
	defer chain.ShutdownUtxoCache()

	// Record which optional indexes are enabled so a future run that
	// changes them can detect the mismatch.
	if err := chain.PutFlag(blockchain.FlagTxIndex, cfg.TxIndex); err != nil {
		return err
	}
	if err := chain.PutFlag(blockchain.FlagAddressIndex, cfg.AddressIndex); err != nil {
		return err
	}

	// Create the transaction memory pool wired into the chain instance.
	txPool = mempool.New(&mempool.Config{
		Policy: mempool.Policy{
			MaxTxVersion:           2,
			AcceptNonStd:           cfg.AcceptNonStd,
			FreeTxRelayLimit:       cfg.FreeTxRelayLimit,
			MaxOrphanTxs:           cfg.MaxOrphanTxs,
			MaxOrphanTxSize:        defaultMaxOrphanTxSize,
			MaxSigOpCostPerTx:      blockchain.MaxBlockSigOpsCost / 40,
			MinRelayTxFee:          relayFeeAmount(cfg.MinRelayTxFee),
			MaxTxAge:               mempoolExpiry(cfg.MempoolExpiryHrs),
			MaxSizeBytes:           cfg.MempoolMaxSizeMB * 1000 * 1000,
			MaxAncestors:           defaultMaxAncestors,
			MaxAncestorSizeBytes:   defaultMaxAncestorSize,
			MaxDescendants:         defaultMaxDescendants,
			MaxDescendantSizeBytes: defaultMaxDescendantSz,
		},
		ChainParams:       params,
		FetchUtxoView:     chain.FetchUtxoView,
		BestHeight:        func() int64 { return chain.BestSnapshot().Height },
		BestHash: func() *chainhash.Hash {
			return &chain.BestSnapshot().Hash
		},
		MainChainHasBlock: chain.MainChainHasBlock,
		PastMedianTime: func() time.Time {
			return chain.BestSnapshot().MedianTime
		},
		CalcSequenceLock: func(tx *btcutil.Tx, view *blockchain.UtxoViewpoint) (*blockchain.SequenceLock, error) {
			return chain.CalcSequenceLock(tx, view, true)
		},
		IsDeploymentActive: func(deploymentID int) (bool, error) {
			state, err := chain.ThresholdState(deploymentID)
			if err != nil {
				return false, err
			}
			return state == blockchain.ThresholdActive, nil
		},
		SigCache:             sigCache,
		StandardVerifyFlags:  chain.StandardVerifyFlags,
		MandatoryVerifyFlags: chain.MandatoryVerifyFlags,
	})

	best := chain.BestSnapshot()
	smtdLog.Infof("Chain initialized at height %d (%v), mempool ready (%d "+
		"transactions)", best.Height, best.Hash, txPool.Count())

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems.
	<-ctx.Done()
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := smartdMain(); err != nil {
		os.Exit(1)
	}
}
