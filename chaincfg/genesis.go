// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// genesisCoinbaseTx is the coinbase transaction for the genesis blocks for
// the main network, test network, and regression test network.
var genesisCoinbaseTx = wire.MsgTx{
	Version: 1,
	TxIn: []*wire.TxIn{
		{
			PreviousOutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{},
				Index: 0xffffffff,
			},
			// Message: "Some things you have to believe to see 16/Jul/2017"
			SignatureScript: hexDecode("04ffff001d01044a536f6d65207468696e6773" +
				"20796f75206861766520746f2062656c6965766520746f2073656520" +
				"31362f4a756c2f32303137"),
			Sequence: 0xffffffff,
		},
	},
	TxOut: []*wire.TxOut{
		{
			Value: 0,
			PkScript: hexDecode("4104678afdb0fe5548271967f1a67130b7105cd6a828" +
				"e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c" +
				"384df7ba0b8d578a4c702b6bf11d5fac"),
		},
	},
	LockTime: 0,
}

// genesisMerkleRoot is the hash of the first transaction in the genesis block.
// It is computed rather than hard coded so that it can never disagree with the
// transaction it commits to.
var genesisMerkleRoot = genesisCoinbaseTx.TxHash()

// genesisBlock defines the genesis block of the block chain which serves as
// the public transaction ledger for the main network.
var genesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: genesisMerkleRoot,
		Timestamp:  time.Unix(1500213600, 0),
		Bits:       0x1e0ffff0,
		Nonce:      245887187,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

// genesisHash is the hash of the first block in the block chain for the main
// network.  Like the merkle root, it is computed from the header it names.
var genesisHash = genesisBlock.Header.BlockHash()

// testNetGenesisBlock defines the genesis block of the block chain which
// serves as the public transaction ledger for the test network.
var testNetGenesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: genesisMerkleRoot,
		Timestamp:  time.Unix(1500214200, 0),
		Bits:       0x1e0ffff0,
		Nonce:      494757680,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

// testNetGenesisHash is the hash of the first block in the block chain for the
// test network.
var testNetGenesisHash = testNetGenesisBlock.Header.BlockHash()

// regNetGenesisBlock defines the genesis block of the block chain which serves
// as the public transaction ledger for the regression test network.
var regNetGenesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: genesisMerkleRoot,
		Timestamp:  time.Unix(1500214500, 0),
		Bits:       0x207fffff,
		Nonce:      0,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

// regNetGenesisHash is the hash of the first block in the block chain for the
// regression test network.
var regNetGenesisHash = regNetGenesisBlock.Header.BlockHash()
