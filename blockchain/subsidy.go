// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/smartcash/smartd/chaincfg"
)

// CalcBlockSubsidy returns the subsidy amount a block at the provided height
// should have.
//
// The schedule is:
//
//   - height 0 (the genesis block) creates no coins
//   - a flat base subsidy through the taper height
//   - past the taper height the subsidy follows base*taper/(height+1),
//     rounded to the nearest base unit
//   - zero at and beyond the terminal height
//
// The taper is computed with exact integer arithmetic.  The reference
// implementation uses floor(0.5 + base*taper/(h+1)) in floating point, which
// is equivalent to (base*taper + (h+1)/2) / (h+1) in integers without being
// sensitive to the platform rounding mode.
func CalcBlockSubsidy(height int64, params *chaincfg.Params) int64 {
	switch {
	case height == 0:
		return 0
	case height >= params.SubsidyTerminalHeight:
		return 0
	case height <= params.SubsidyTaperHeight:
		return params.SubsidyBase
	}

	divisor := height + 1
	return (params.SubsidyBase*params.SubsidyTaperHeight + divisor/2) / divisor
}
