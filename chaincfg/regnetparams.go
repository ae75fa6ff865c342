// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// RegNetParams returns the network parameters for the regression test network.
//
// NOTE: The regression test network is only intended for use in automated
// tests, so its parameters deviate from the other networks in ways that make
// generating blocks trivial: the proof of work limit is nearly the maximum
// possible value, difficulty retargeting is disabled, and the various
// activation windows are small.
func RegNetParams() *Params {
	// regNetPowLimit is the highest proof of work value a block can have for
	// the regression test network.  It is the value 2^255 - 1.
	regNetPowLimit := new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)

	return &Params{
		Name:        "regnet",
		Net:         wire.BitcoinNet(0x5ca1fade),
		DefaultPort: "19778",
		DNSSeeds:    nil,

		GenesisBlock: &regNetGenesisBlock,
		GenesisHash:  regNetGenesisHash,

		PowLimit:                 regNetPowLimit,
		PowLimitBits:             0x207fffff,
		ReduceMinDifficulty:      false,
		MinDiffReductionTime:     0,
		NoRetargeting:            true,
		TargetTimespan:           time.Second * 55 * 2016,
		TargetTimePerBlock:       time.Second * 55,
		RetargetAdjustmentFactor: 4,

		CoinbaseMaturity: 100,

		SubsidyBase:           5000 * SatoshiPerCoin,
		SubsidyTaperHeight:    71750,
		SubsidyTerminalHeight: 717499999,

		MaxBlockBaseSize:             1000000,
		MaxBlockSerializedSize:       2000000,
		MaxBlockSizeIncreaseMultiple: 2,
		BlockSizeMedianWindow:        32,

		BlockEnforceNumRequired: 51,
		BlockRejectNumRequired:  75,
		BlockUpgradeNumToCheck:  100,

		BIP16Time: time.Unix(0, 0), // Always active on regnet

		RuleChangeActivationThreshold: 108, // 75% of MinerConfirmationWindow
		MinerConfirmationWindow:       144,
		Deployments: [DefinedDeployments]ConsensusDeployment{
			DeploymentCSV: {
				BitNumber:  0,
				StartTime:  0, // Always available for vote
				ExpireTime: math.MaxUint64,
			},
			DeploymentBlockSize: {
				BitNumber:  2,
				StartTime:  0, // Always available for vote
				ExpireTime: math.MaxUint64,
			},
		},

		ZerocoinDisableHeight: 0,

		DuplicateCoinbaseExceptions: map[int64]chainhash.Hash{},

		HivePayoutScripts:       nil,
		HivePaymentsStartHeight: 0,

		Checkpoints: nil,

		MinRelayTxFee: 1000,
	}
}
