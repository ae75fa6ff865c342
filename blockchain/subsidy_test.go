// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"github.com/smartcash/smartd/chaincfg"
)

// TestCalcBlockSubsidy ensures the subsidy schedule produces the expected
// values at and around the boundaries of each of its phases.
func TestCalcBlockSubsidy(t *testing.T) {
	params := chaincfg.MainNetParams()
	base := params.SubsidyBase
	taper := params.SubsidyTaperHeight

	// taperValue mirrors the exact integer rounding used by the schedule.
	taperValue := func(height int64) int64 {
		return (base*taper + (height+1)/2) / (height + 1)
	}

	tests := []struct {
		name   string
		height int64
		want   int64
	}{
		{name: "genesis creates no coins", height: 0, want: 0},
		{name: "first block", height: 1, want: base},
		{name: "mid flat phase", height: 35000, want: base},
		{name: "final flat block", height: taper, want: base},
		{name: "first tapered block", height: taper + 1, want: taperValue(taper + 1)},
		{name: "deep taper", height: 1000000, want: taperValue(1000000)},
		{name: "deeper taper", height: 10000000, want: taperValue(10000000)},
		{name: "just before terminal", height: params.SubsidyTerminalHeight - 1,
			want: taperValue(params.SubsidyTerminalHeight - 1)},
		{name: "terminal height", height: params.SubsidyTerminalHeight, want: 0},
		{name: "past terminal", height: params.SubsidyTerminalHeight + 1e6, want: 0},
	}

	for _, test := range tests {
		got := CalcBlockSubsidy(test.height, params)
		if got != test.want {
			t.Errorf("%s: unexpected subsidy at height %d: got %d, want %d",
				test.name, test.height, got, test.want)
		}
	}
}

// TestCalcBlockSubsidyProperties ensures the schedule is non-increasing past
// the flat phase and that the taper never rounds above the base subsidy.
func TestCalcBlockSubsidyProperties(t *testing.T) {
	params := chaincfg.MainNetParams()

	prev := params.SubsidyBase
	for height := params.SubsidyTaperHeight; height < params.SubsidyTaperHeight+5000; height++ {
		got := CalcBlockSubsidy(height, params)
		if got > prev {
			t.Fatalf("subsidy increased at height %d: %d > %d", height, got,
				prev)
		}
		if got > params.SubsidyBase {
			t.Fatalf("subsidy at height %d exceeds the base: %d", height,
				got)
		}
		prev = got
	}
}
