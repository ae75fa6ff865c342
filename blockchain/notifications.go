// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// NotificationType represents the type of a notification message.
type NotificationType int

// NotificationCallback is used for a caller to provide a callback for
// notifications about various chain events.
type NotificationCallback func(*Notification)

// Constants for the type of a notification message.
const (
	// NTBlockAccepted indicates the associated block was accepted into the
	// block chain.  Note that this does not necessarily mean it was added
	// to the main chain.  For that, use NTBlockConnected.
	NTBlockAccepted NotificationType = iota

	// NTBlockConnected indicates the associated block was connected to the
	// main chain.
	NTBlockConnected

	// NTBlockDisconnected indicates the associated block was disconnected
	// from the main chain.
	NTBlockDisconnected

	// NTReorganization indicates that the main chain switched to a
	// different branch.
	NTReorganization

	// NTNewTipBlockChecked indicates a new block that extends the current
	// main chain has passed all of the sanity and contextual checks, such
	// as having valid proof of work, but has not necessarily been connected
	// yet.
	NTNewTipBlockChecked

	// NTForkDetected indicates a side chain with a dangerous amount of
	// cumulative work relative to the main chain has been observed.
	NTForkDetected
)

// notificationTypeStrings is a map of notification types back to their
// constant names for pretty printing.
var notificationTypeStrings = map[NotificationType]string{
	NTBlockAccepted:      "NTBlockAccepted",
	NTBlockConnected:     "NTBlockConnected",
	NTBlockDisconnected:  "NTBlockDisconnected",
	NTReorganization:     "NTReorganization",
	NTNewTipBlockChecked: "NTNewTipBlockChecked",
	NTForkDetected:       "NTForkDetected",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Notification Type (%d)", int(n))
}

// BlockConnectedNtfnsData is the structure for data indicating information
// about a connected block.
type BlockConnectedNtfnsData struct {
	// Block is the block that was connected to the main chain.
	Block *btcutil.Block
}

// BlockDisconnectedNtfnsData is the structure for data indicating information
// about a disconnected block.
type BlockDisconnectedNtfnsData struct {
	// Block is the block that was disconnected from the main chain.
	Block *btcutil.Block
}

// ReorganizationNtfnsData is the structure for data indicating information
// about a reorganization.
type ReorganizationNtfnsData struct {
	OldHash   chainhash.Hash
	OldHeight int64
	NewHash   chainhash.Hash
	NewHeight int64
}

// ForkDetectedNtfnsData is the structure for data indicating information
// about an observed dangerous fork of the chain.
type ForkDetectedNtfnsData struct {
	// TipHash and TipHeight identify the current main chain tip.
	TipHash   chainhash.Hash
	TipHeight int64

	// ForkHash and ForkHeight identify the competing side chain tip.
	ForkHash   chainhash.Hash
	ForkHeight int64

	// Warning is a human-readable description of the condition.
	Warning string
}

// Notification defines notification that is sent to the caller via the
// callback function provided during the call to New and consists of a
// notification type as well as associated data that depends on the type as
// follows:
//
//   - NTBlockAccepted:      *btcutil.Block
//   - NTBlockConnected:     *BlockConnectedNtfnsData
//   - NTBlockDisconnected:  *BlockDisconnectedNtfnsData
//   - NTReorganization:     *ReorganizationNtfnsData
//   - NTNewTipBlockChecked: *btcutil.Block
//   - NTForkDetected:       *ForkDetectedNtfnsData
type Notification struct {
	Type NotificationType
	Data interface{}
}

// sendNotification sends a notification with the passed type and data if the
// caller requested notifications by providing a callback function in the
// call to New.
func (b *BlockChain) sendNotification(typ NotificationType, data interface{}) {
	// Ignore it if the caller didn't request notifications.
	if b.notifications == nil {
		return
	}

	// Generate and send the notification.
	n := Notification{Type: typ, Data: data}
	b.notifications(&n)
}
