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

// MainNetParams returns the network parameters for the main network.
func MainNetParams() *Params {
	// mainPowLimit is the highest proof of work value a block can have for
	// the main network.  It is the value 2^224 - 1.
	mainPowLimit := new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

	return &Params{
		Name:        "mainnet",
		Net:         wire.BitcoinNet(0x5ca1ab1e),
		DefaultPort: "9678",
		DNSSeeds: []DNSSeed{
			{Host: "dnsseed.smartcash.cc", HasFiltering: true},
			{Host: "dnsseed2.smartcash.cc", HasFiltering: false},
		},

		GenesisBlock: &genesisBlock,
		GenesisHash:  genesisHash,

		PowLimit:                 mainPowLimit,
		PowLimitBits:             0x1e0ffff0,
		ReduceMinDifficulty:      false,
		MinDiffReductionTime:     0,
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

		BlockEnforceNumRequired: 750,
		BlockRejectNumRequired:  950,
		BlockUpgradeNumToCheck:  1000,

		BIP16Time: time.Unix(1333238400, 0), // April 1, 2012

		RuleChangeActivationThreshold: 1916, // 95% of MinerConfirmationWindow
		MinerConfirmationWindow:       2016,
		Deployments: [DefinedDeployments]ConsensusDeployment{
			DeploymentCSV: {
				BitNumber:  0,
				StartTime:  1510704000, // November 15, 2017
				ExpireTime: 1542240000, // November 15, 2018
			},
			DeploymentBlockSize: {
				BitNumber:  2,
				StartTime:  1532505600, // July 25, 2018
				ExpireTime: 1564041600, // July 25, 2019
			},
		},

		ZerocoinDisableHeight: 266765,

		// The two historical blocks that violated the duplicate coinbase rule
		// before it existed.
		DuplicateCoinbaseExceptions: map[int64]chainhash.Hash{
			91842: *newHashFromStr("00000000000a4d0a398161ffc163c503763b1f436" +
				"0639393e0e4c8e300e0caec"),
			91880: *newHashFromStr("00000000000743f190a18c5577a3c2d2a1f610ae9" +
				"601ac046a38084ccb7cd721"),
		},

		HivePayoutScripts: [][]byte{
			hexDecode("a914d2b2537b1e2e4b0f1c6d41dd14ae1b0a85f6794587"),
			hexDecode("a914e4b6c9a1dc4e58c83493b1b5ffac764bcd4e177287"),
			hexDecode("a9147e99d2ba4a2e7e4c4e55f0ea9833db4ffb6a797487"),
		},
		HivePaymentsStartHeight: 525000,

		Checkpoints: []Checkpoint{
			{Height: 90000, Hash: newHashFromStr("000000000001ba5a0b6a08a8c1" +
				"f2b9e3fbb46d41a3bfba4277e9d91b5e5e0c6c")},
			{Height: 266765, Hash: newHashFromStr("0000000000012f7e5a871564d7" +
				"9419e8fdabbc8b28ecf5e3f0e9bb45f1c8a2d4")},
		},

		MinRelayTxFee: 1000,
	}
}
