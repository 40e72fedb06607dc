package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/omnichannel-engine/internal/events"
)

func tp(channel string, at time.Time) Touchpoint {
	return Touchpoint{Channel: channel, At: at}
}

func weightSum(weights map[string]float64) float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	return sum
}

func TestWeightsSumToOne(t *testing.T) {
	now := time.Now()
	paths := [][]Touchpoint{
		{tp("email", now)},
		{tp("email", now.Add(-time.Hour)), tp("sms", now)},
		{tp("email", now.Add(-72*time.Hour)), tp("sms", now.Add(-24*time.Hour)), tp("push", now), tp("email", now)},
	}
	for _, path := range paths {
		weights := CalculateDataDrivenAttribution(path, now)
		assert.InDelta(t, 1.0, weightSum(weights), 1e-9)
	}
}

func TestPositionBonusFirstAndLast(t *testing.T) {
	// Equal timestamps remove time decay, isolating the position bonus.
	now := time.Now()
	weights := CalculateDataDrivenAttribution([]Touchpoint{
		tp("email", now), tp("sms", now), tp("push", now),
	}, now)

	// First and last earn 1.4x: 1.4/3.8 each, middle 1/3.8.
	assert.InDelta(t, 1.4/3.8, weights["email"], 1e-9)
	assert.InDelta(t, 1.0/3.8, weights["sms"], 1e-9)
	assert.InDelta(t, 1.4/3.8, weights["push"], 1e-9)
	assert.InDelta(t, 1.4, weights["email"]/weights["sms"], 1e-9)
}

func TestTimeDecayMonotonic(t *testing.T) {
	now := time.Now()
	// Identical positions (both middle), different ages.
	recent := CalculateDataDrivenAttribution([]Touchpoint{
		tp("a", now), tp("mid", now.Add(-24*time.Hour)), tp("b", now),
	}, now)
	older := CalculateDataDrivenAttribution([]Touchpoint{
		tp("a", now), tp("mid", now.Add(-240*time.Hour)), tp("b", now),
	}, now)

	assert.Less(t, older["mid"], recent["mid"])
}

func TestSameChannelAccumulates(t *testing.T) {
	now := time.Now()
	weights := CalculateDataDrivenAttribution([]Touchpoint{
		tp("email", now), tp("email", now), tp("sms", now),
	}, now)

	require.Len(t, weights, 2)
	// email holds first (1.4) and middle (1.0) touches, sms the last (1.4).
	assert.InDelta(t, 2.4/3.8, weights["email"], 1e-9)
	assert.InDelta(t, 1.4/3.8, weights["sms"], 1e-9)
}

func TestEmptyPathYieldsNoWeights(t *testing.T) {
	assert.Empty(t, CalculateDataDrivenAttribution(nil, time.Now()))
}

func TestRecordTouchpointCreatesLazily(t *testing.T) {
	bus := events.NewBus()
	var seen []events.Event
	bus.SubscribeAll(func(ev events.Event) { seen = append(seen, ev) })

	engine := NewEngine(bus)
	_, ok := engine.Get("cust_1")
	assert.False(t, ok)

	engine.RecordTouchpoint("cust_1", "email", 0)
	rec := engine.RecordTouchpoint("cust_1", "sms", 0)

	require.Len(t, rec.Touchpoints, 2)
	assert.Equal(t, 0, rec.Touchpoints[0].Position)
	assert.Equal(t, 1, rec.Touchpoints[1].Position)
	assert.Equal(t, "email", rec.Touchpoints[0].Channel)

	require.Len(t, seen, 2)
	assert.Equal(t, events.AttributionRecorded, seen[0].Type)
}

func TestRecordConversionComputesWeights(t *testing.T) {
	bus := events.NewBus()
	var seen []events.Event
	bus.SubscribeAll(func(ev events.Event) { seen = append(seen, ev) })

	engine := NewEngine(bus)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })

	engine.RecordTouchpoint("cust_1", "email", 0)
	engine.RecordTouchpoint("cust_1", "sms", 0)

	rec, err := engine.RecordConversion("cust_1", 250.0)
	require.NoError(t, err)
	assert.Equal(t, 250.0, rec.ConversionValue)
	assert.InDelta(t, 1.0, weightSum(rec.ChannelWeights), 1e-9)
	// Two touchpoints: both are first-or-last, equal timestamps.
	assert.InDelta(t, 0.5, rec.ChannelWeights["email"], 1e-9)

	last := seen[len(seen)-1]
	assert.Equal(t, events.AttributionCalculated, last.Type)
	assert.Equal(t, 250.0, last.Payload["conversion_value"])
}

func TestConversionWithoutTouchpointsFails(t *testing.T) {
	engine := NewEngine(events.NewBus())
	_, err := engine.RecordConversion("cust_unknown", 100.0)
	assert.ErrorIs(t, err, ErrNoTouchpoints)
}

func TestCleanupStaleKeepsConverted(t *testing.T) {
	engine := NewEngine(events.NewBus())
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })

	engine.RecordTouchpoint("stale", "email", 0)
	engine.RecordTouchpoint("converted", "email", 0)
	_, err := engine.RecordConversion("converted", 50)
	require.NoError(t, err)

	engine.SetClock(func() time.Time { return now.Add(48 * time.Hour) })
	engine.RecordTouchpoint("fresh", "sms", 0)

	removed := engine.CleanupStale(now.Add(24 * time.Hour))
	assert.Equal(t, 1, removed)

	_, ok := engine.Get("stale")
	assert.False(t, ok)
	_, ok = engine.Get("converted")
	assert.True(t, ok)
	_, ok = engine.Get("fresh")
	assert.True(t, ok)
}
