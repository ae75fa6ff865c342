// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"encoding/hex"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// bigOne is 1 represented as a big.Int.  It is defined here to avoid the
// overhead of creating it multiple times.
var bigOne = big.NewInt(1)

const (
	// SatoshiPerCoin is the number of base units in one coin.
	SatoshiPerCoin = 1e8

	// MaxMoney is the maximum transaction amount allowed in base units.
	MaxMoney = 5e9 * SatoshiPerCoin

	// VersionBitsTopBits is the bit pattern the block version must have set in
	// its most significant bits in order for its remaining bits to be
	// interpreted as version bits deployment signals.
	VersionBitsTopBits = 0x20000000

	// VersionBitsTopMask is the mask used to determine whether or not a block
	// version carries the version bits top bits.
	VersionBitsTopMask = 0xe0000000

	// VersionBitsNumBits is the total number of bits available for deployment
	// signaling in a version bits block version.
	VersionBitsNumBits = 29
)

// Checkpoint identifies a known good point in the block chain.  Using
// checkpoints allows a few optimizations for old blocks during initial download
// and also prevents forks from old blocks.
type Checkpoint struct {
	Height int64
	Hash   *chainhash.Hash
}

// ConsensusDeployment defines details related to a specific consensus rule
// change that is voted in via version bits.
type ConsensusDeployment struct {
	// BitNumber defines the specific bit number within the block version
	// this particular soft-fork deployment refers to.
	BitNumber uint8

	// StartTime is the median block time after which voting on the
	// deployment starts.
	StartTime uint64

	// ExpireTime is the median block time after which an attempted
	// deployment expires.
	ExpireTime uint64
}

// Constants that define the deployment offset in the deployments field of the
// parameters for each deployment.  This is useful to be able to get the details
// of a specific deployment by name.
const (
	// DeploymentCSV defines the rule change deployment details for the CSV
	// soft-fork package which includes relative lock-time enforcement
	// (BIP 68), the deployment of the CHECKSEQUENCEVERIFY opcode (BIP 112),
	// and median time past based lock-time calculations (BIP 113).
	DeploymentCSV = iota

	// DeploymentBlockSize defines the rule change deployment details for the
	// adaptive maximum block size rule change.  Once active, the maximum
	// allowed block size is recomputed from a median of recent block sizes.
	DeploymentBlockSize

	// DefinedDeployments is the number of currently defined deployments.
	DefinedDeployments
)

// DNSSeed identifies a DNS seed.
type DNSSeed struct {
	// Host defines the hostname of the seed.
	Host string

	// HasFiltering defines whether the seed supports filtering by service
	// flags.
	HasFiltering bool
}

// String returns the hostname of the DNS seed in human-readable form.
func (d DNSSeed) String() string {
	return d.Host
}

// Params defines a SmartCash network by its parameters.  These parameters may
// be used by applications to differentiate networks as well as addresses and
// keys for one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Net defines the magic bytes used to identify the network.
	Net wire.BitcoinNet

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// DNSSeeds defines a list of DNS seeds for the network that are used
	// as one method to discover peers.
	DNSSeeds []DNSSeed

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *wire.MsgBlock

	// GenesisHash is the starting block hash.
	GenesisHash chainhash.Hash

	// PowLimit defines the highest allowed proof of work value for a block
	// as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// ReduceMinDifficulty defines whether the network should reduce the
	// minimum required difficulty after a long enough period of time has
	// passed without finding a block.  This is really only useful for test
	// networks and MUST NOT be set on the main network.
	ReduceMinDifficulty bool

	// MinDiffReductionTime is the amount of time after which the minimum
	// required difficulty should be reduced when a block hasn't been found.
	//
	// NOTE: This only applies if ReduceMinDifficulty is true.
	MinDiffReductionTime time.Duration

	// NoRetargeting defines whether or not the network has difficulty
	// retargeting enabled.  This is only ever set to true on the regression
	// test network.
	NoRetargeting bool

	// TargetTimespan is the desired amount of time that should elapse
	// before the block difficulty requirement is examined to determine how
	// it should be changed in order to maintain the desired block
	// generation rate.
	TargetTimespan time.Duration

	// TargetTimePerBlock is the desired amount of time to generate each
	// block.
	TargetTimePerBlock time.Duration

	// RetargetAdjustmentFactor is the adjustment factor used to limit
	// the minimum and maximum amount of adjustment that can occur between
	// difficulty retargets.
	RetargetAdjustmentFactor int64

	// CoinbaseMaturity is the number of blocks required before newly mined
	// coins can be spent.
	CoinbaseMaturity uint16

	// SubsidyBase is the flat per-block subsidy, in base units, paid while
	// the chain height is at or below SubsidyTaperHeight.
	SubsidyBase int64

	// SubsidyTaperHeight is the final height that receives the flat base
	// subsidy.  Past it, the subsidy tapers as base*taper/(height+1),
	// rounded to the nearest base unit with exact integer arithmetic.
	SubsidyTaperHeight int64

	// SubsidyTerminalHeight is the height at and after which the subsidy is
	// zero regardless of the taper calculation.
	SubsidyTerminalHeight int64

	// MaxBlockBaseSize is the maximum serialized block size permitted prior
	// to activation of the adaptive block size deployment.
	MaxBlockBaseSize int64

	// MaxBlockSerializedSize is the absolute maximum serialized block size
	// the network will ever accept, regardless of the adaptive limit.
	MaxBlockSerializedSize int64

	// MaxBlockSizeIncreaseMultiple is the multiple applied to the median of
	// recent block sizes when computing the adaptive maximum block size.
	MaxBlockSizeIncreaseMultiple int64

	// BlockSizeMedianWindow is the number of trailing blocks considered
	// when computing the median block size for the adaptive limit.
	BlockSizeMedianWindow int64

	// BlockEnforceNumRequired is the number of blocks, out of
	// BlockUpgradeNumToCheck, that must have a newer block version before
	// rules associated with that version are enforced for new blocks.
	BlockEnforceNumRequired uint64

	// BlockRejectNumRequired is the number of blocks, out of
	// BlockUpgradeNumToCheck, that must have a newer block version before
	// blocks with older versions are rejected.
	BlockRejectNumRequired uint64

	// BlockUpgradeNumToCheck is the number of prior blocks examined when
	// determining block version super-majorities.
	BlockUpgradeNumToCheck uint64

	// BIP16Time is the timestamp on and after which pay-to-script-hash
	// evaluation rules apply.
	BIP16Time time.Time

	// RuleChangeActivationThreshold is the number of blocks in a retarget
	// window which must signal a version bits deployment in order to lock
	// it in.
	RuleChangeActivationThreshold uint32

	// MinerConfirmationWindow is the number of blocks in each version bits
	// threshold state retarget window.
	MinerConfirmationWindow uint32

	// Deployments define the specific consensus rule changes to be voted
	// on via version bits.
	Deployments [DefinedDeployments]ConsensusDeployment

	// ZerocoinDisableHeight is the height at and after which the legacy
	// zerocoin transaction form is rejected.  A value of zero disables the
	// check entirely, which is only useful for test networks.
	ZerocoinDisableHeight int64

	// DuplicateCoinbaseExceptions contains the hashes of the historical
	// blocks that are exempt from the duplicate coinbase rule keyed by
	// their height.
	DuplicateCoinbaseExceptions map[int64]chainhash.Hash

	// HivePayoutScripts are the pay-to-script-hash scripts of the fixed
	// hive addresses that receive a portion of the block reward once hive
	// payments are enforced.
	HivePayoutScripts [][]byte

	// HivePaymentsStartHeight is the height at which hive payment
	// enforcement begins.  A value of zero disables enforcement.
	HivePaymentsStartHeight int64

	// Checkpoints ordered from oldest to newest.
	Checkpoints []Checkpoint

	// MinRelayTxFee defines the minimum transaction fee in base units per
	// 1000 bytes that is considered a non-zero fee for relay and mining
	// purposes.
	MinRelayTxFee int64
}

// newHashFromStr converts the passed big-endian hex string into a
// chainhash.Hash.  It only differs from the one available in chainhash in that
// it panics on an error since it will only (and must only) be called with
// hard-coded, and therefore known good, hashes.
func newHashFromStr(hexStr string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		panic(err)
	}
	return hash
}

// hexDecode converts the passed hex string into bytes and will panic if there
// is an error.  It must only be called with hard-coded values.
func hexDecode(hexStr string) []byte {
	decoded, err := hex.DecodeString(hexStr)
	if err != nil {
		panic(err)
	}
	return decoded
}
