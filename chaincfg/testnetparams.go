// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TestNetParams returns the network parameters for the test network.
func TestNetParams() *Params {
	// testNetPowLimit is the highest proof of work value a block can have for
	// the test network.  It is the value 2^232 - 1.
	testNetPowLimit := new(big.Int).Sub(new(big.Int).Lsh(bigOne, 232), bigOne)

	return &Params{
		Name:        "testnet",
		Net:         wire.BitcoinNet(0x5ca1b0b0),
		DefaultPort: "19678",
		DNSSeeds: []DNSSeed{
			{Host: "testnet-seed.smartcash.cc", HasFiltering: true},
		},

		GenesisBlock: &testNetGenesisBlock,
		GenesisHash:  testNetGenesisHash,

		PowLimit:                 testNetPowLimit,
		PowLimitBits:             0x1e0ffff0,
		ReduceMinDifficulty:      true,
		MinDiffReductionTime:     time.Second * 55 * 2, // TargetTimePerBlock * 2
		NoRetargeting:            false,
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
		BlockSizeMedianWindow:        2016,

		BlockEnforceNumRequired: 51,
		BlockRejectNumRequired:  75,
		BlockUpgradeNumToCheck:  100,

		BIP16Time: time.Unix(1333238400, 0), // April 1, 2012

		RuleChangeActivationThreshold: 1512, // 75% of MinerConfirmationWindow
		MinerConfirmationWindow:       2016,
		Deployments: [DefinedDeployments]ConsensusDeployment{
			DeploymentCSV: {
				BitNumber:  0,
				StartTime:  1506816000, // October 1, 2017
				ExpireTime: 1538352000, // October 1, 2018
			},
			DeploymentBlockSize: {
				BitNumber:  2,
				StartTime:  1529971200, // June 26, 2018
				ExpireTime: 1561507200, // June 26, 2019
			},
		},

		ZerocoinDisableHeight: 1000,

		DuplicateCoinbaseExceptions: map[int64]chainhash.Hash{},

		HivePayoutScripts: [][]byte{
			hexDecode("a914b7f1e4c9f0e7b0a3129a41dd0c7e6b52de37b14587"),
		},
		HivePaymentsStartHeight: 1000,

		Checkpoints: nil,

		MinRelayTxFee: 1000,
	}
}
