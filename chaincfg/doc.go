// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines chain configuration parameters for the three
// standard SmartCash networks and provides the ability for callers to define
// their own custom networks for testing purposes.
package chaincfg
