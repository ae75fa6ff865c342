// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sort"
	"sync"
	"time"
)

const (
	// maxTimeSamples is the maximum number of network time samples kept for
	// the offset calculation.  Once the limit is reached, the oldest sample
	// is dropped for each new one.  The limit is intentionally odd so a
	// full sample set always has a well-defined middle element.
	maxTimeSamples = 199

	// minTimeSamples is the number of samples that must be gathered before
	// any offset is applied to the local clock at all.  A couple of skewed
	// early peers must not be able to steer the clock.
	minTimeSamples = 5

	// maxTimeOffsetSecs is the largest clock offset, in either direction,
	// that will ever be applied.  A sample median beyond this range is
	// treated as evidence that something is wrong rather than as a
	// correction, and the offset is pinned to zero.
	maxTimeOffsetSecs = 70 * 60

	// closeTimeSecs is the tolerance used to decide whether at least one
	// sample agrees with the local clock when the median is out of range.
	// When none do, the local clock itself is the most likely culprit and
	// the user is warned.
	closeTimeSecs = 5 * 60
)

// MedianTimeSource provides a mechanism to add several time samples which are
// used to determine a median time which is then used as an offset to the
// local clock.
type MedianTimeSource interface {
	// AdjustedTime returns the current time adjusted by the median time
	// offset as calculated from the time samples added by AddTimeSample.
	AdjustedTime() time.Time

	// AddTimeSample adds a time sample that is used when determining the
	// median time of the added samples.
	AddTimeSample(id string, timeVal time.Time)

	// Offset returns the number of seconds to adjust the local clock based
	// upon the median of the time samples added by AddTimeSample.
	Offset() time.Duration
}

// timeSample pairs the identifier of the source that provided a sample with
// the clock offset it implies, in seconds.
type timeSample struct {
	sourceID   string
	offsetSecs int64
}

// medianTime tracks the clock offsets reported by remote sources and derives
// a bounded adjustment for the local clock from their median.  It implements
// the MedianTimeSource interface.
type medianTime struct {
	mtx sync.Mutex

	// samples holds the gathered offsets in arrival order so the oldest
	// can be evicted once the limit is hit, and sources tracks which
	// identifiers have already contributed so each source is counted at
	// most once.
	samples []timeSample
	sources map[string]struct{}

	// offsetSecs is the currently applied clock offset, recalculated
	// whenever a sample is added.
	offsetSecs int64

	// warnedInvalidClock is set after the user has been warned about a
	// local clock that disagrees with every gathered sample, so the
	// warning only fires once.
	warnedInvalidClock bool
}

// Ensure the medianTime type implements the MedianTimeSource interface.
var _ MedianTimeSource = (*medianTime)(nil)

// NewMedianTime returns a new concurrency-safe instance of a
// MedianTimeSource implementation that derives its adjustment from the
// median of the gathered samples.
func NewMedianTime() MedianTimeSource {
	return &medianTime{sources: make(map[string]struct{})}
}

// AdjustedTime returns the current time adjusted by the median time offset as
// calculated from the time samples added by AddTimeSample.
//
// This function is safe for concurrent access and is part of the
// MedianTimeSource interface implementation.
func (m *medianTime) AdjustedTime() time.Time {
	m.mtx.Lock()
	offsetSecs := m.offsetSecs
	m.mtx.Unlock()

	// The consensus rules deal in whole seconds, so the precision of the
	// result is limited accordingly.
	now := time.Unix(time.Now().Unix(), 0)
	return now.Add(time.Duration(offsetSecs) * time.Second)
}

// Offset returns the number of seconds to adjust the local clock based upon
// the median of the time samples added by AddTimeSample.
//
// This function is safe for concurrent access and is part of the
// MedianTimeSource interface implementation.
func (m *medianTime) Offset() time.Duration {
	m.mtx.Lock()
	offsetSecs := m.offsetSecs
	m.mtx.Unlock()

	return time.Duration(offsetSecs) * time.Second
}

// AddTimeSample adds a time sample that is used when determining the median
// time of the added samples.  Samples from a source that already contributed
// one are ignored.
//
// This function is safe for concurrent access and is part of the
// MedianTimeSource interface implementation.
func (m *medianTime) AddTimeSample(sourceID string, timeVal time.Time) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	// Each source only gets one vote.
	if _, exists := m.sources[sourceID]; exists {
		return
	}
	m.sources[sourceID] = struct{}{}

	// Record the offset the sample implies, evicting the oldest sample
	// once the limit is reached.
	nowSecs := time.Now().Unix()
	m.samples = append(m.samples, timeSample{
		sourceID:   sourceID,
		offsetSecs: timeVal.Unix() - nowSecs,
	})
	if len(m.samples) > maxTimeSamples {
		delete(m.sources, m.samples[0].sourceID)
		m.samples = m.samples[1:]
	}

	m.recalcOffset()

	log.Debugf("Added time sample of %v from %s (total: %d, offset: %v)",
		timeVal.Sub(time.Unix(nowSecs, 0)), sourceID, len(m.samples),
		time.Duration(m.offsetSecs)*time.Second)
}

// recalcOffset recomputes the applied clock offset from the median of the
// gathered samples.  The offset stays at zero until enough samples have been
// gathered, and is reset to zero when the median lands outside of the
// allowed range, warning once when that suggests the local clock is wrong.
//
// This function MUST be called with the instance mutex held.
func (m *medianTime) recalcOffset() {
	if len(m.samples) < minTimeSamples {
		return
	}

	// Determine the median offset.  When the (not yet full) sample set has
	// an even number of entries, the lower of the two middle values is
	// used.
	sorted := make([]int64, len(m.samples))
	for i := range m.samples {
		sorted[i] = m.samples[i].offsetSecs
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[(len(sorted)-1)/2]

	// Apply the median when it is within the allowed range.
	if median >= -maxTimeOffsetSecs && median <= maxTimeOffsetSecs {
		m.offsetSecs = median
		return
	}

	// The sampled network time diverges from the local clock by more than
	// the allowed adjustment, so no offset is applied.  When not even one
	// sample roughly agrees with the local clock, the local clock itself is
	// almost certainly misconfigured.
	m.offsetSecs = 0
	if m.warnedInvalidClock {
		return
	}
	for _, offsetSecs := range sorted {
		if offsetSecs >= -closeTimeSecs && offsetSecs <= closeTimeSecs {
			return
		}
	}
	m.warnedInvalidClock = true
	log.Warnf("The system time appears to disagree with all known network " +
		"peers.  Please check that the date and time are correct, since " +
		"blocks can otherwise be rejected as too far in the future")
}
