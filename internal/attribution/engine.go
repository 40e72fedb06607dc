// Package attribution accumulates customer touchpoints and computes
// time-decayed, position-weighted channel attribution on conversion.
package attribution

import (
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/ignite/omnichannel-engine/internal/events"
)

// ErrNoTouchpoints is returned when a conversion arrives for a customer with
// no recorded touchpoints.
var ErrNoTouchpoints = errors.New("no touchpoints recorded")

// Decay constants. First and last touchpoints in a path earn the position
// bonus; decay halves roughly weekly.
const (
	positionBonus  = 1.4
	decayHours     = 168.0
	defaultModelID = "data_driven_v1"
)

// Touchpoint is one channel exposure on a customer's path to conversion.
type Touchpoint struct {
	Channel  string    `json:"channel"`
	At       time.Time `json:"at"`
	Position int       `json:"position"`
	Value    float64   `json:"value,omitempty"`
}

// Record is a customer's attribution state. Touchpoints are kept in arrival
// order; weights are recomputed on every conversion.
type Record struct {
	CustomerID      string             `json:"customer_id"`
	Touchpoints     []Touchpoint       `json:"touchpoints"`
	ConversionValue float64            `json:"conversion_value"`
	ConvertedAt     time.Time          `json:"converted_at,omitempty"`
	Model           string             `json:"model"`
	ChannelWeights  map[string]float64 `json:"channel_weights,omitempty"`
	Synergy         map[string]float64 `json:"synergy,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Engine owns per-customer attribution records.
type Engine struct {
	bus *events.Bus
	now func() time.Time

	mu      sync.RWMutex
	records map[string]*Record
}

// NewEngine creates an empty attribution engine.
func NewEngine(bus *events.Bus) *Engine {
	return &Engine{
		bus:     bus,
		now:     time.Now,
		records: make(map[string]*Record),
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// RecordTouchpoint appends a touchpoint to the customer's path, creating the
// record lazily on first touch.
func (e *Engine) RecordTouchpoint(customerID, channel string, value float64) *Record {
	now := e.now()

	e.mu.Lock()
	rec, ok := e.records[customerID]
	if !ok {
		rec = &Record{
			CustomerID: customerID,
			Model:      defaultModelID,
			CreatedAt:  now,
		}
		e.records[customerID] = rec
	}
	rec.Touchpoints = append(rec.Touchpoints, Touchpoint{
		Channel:  channel,
		At:       now,
		Position: len(rec.Touchpoints),
		Value:    value,
	})
	rec.UpdatedAt = now
	count := len(rec.Touchpoints)
	snapshot := rec.clone()
	e.mu.Unlock()

	e.bus.Emit(events.AttributionRecorded, map[string]any{
		"customer_id": customerID,
		"channel":     channel,
		"touchpoints": count,
	})
	return snapshot
}

// RecordConversion sets the conversion value and recomputes channel weights
// over the touchpoints recorded so far.
func (e *Engine) RecordConversion(customerID string, conversionValue float64) (*Record, error) {
	now := e.now()

	e.mu.Lock()
	rec, ok := e.records[customerID]
	if !ok || len(rec.Touchpoints) == 0 {
		e.mu.Unlock()
		return nil, ErrNoTouchpoints
	}

	rec.ConversionValue = conversionValue
	rec.ConvertedAt = now
	rec.ChannelWeights = CalculateDataDrivenAttribution(rec.Touchpoints, now)
	rec.UpdatedAt = now
	snapshot := rec.clone()
	e.mu.Unlock()

	log.Printf("[Attribution] conversion customer=%s value=%.2f channels=%d",
		customerID, conversionValue, len(snapshot.ChannelWeights))
	e.bus.Emit(events.AttributionCalculated, map[string]any{
		"customer_id":      customerID,
		"conversion_value": conversionValue,
		"channel_weights":  snapshot.ChannelWeights,
	})
	return snapshot, nil
}

// Get returns a copy of the customer's attribution record.
func (e *Engine) Get(customerID string) (*Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[customerID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// All returns copies of every record.
func (e *Engine) All() []*Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Record, 0, len(e.records))
	for _, rec := range e.records {
		out = append(out, rec.clone())
	}
	return out
}

// CleanupStale drops unconverted records whose last activity predates the
// cutoff. Called from the hourly cleanup loop.
func (e *Engine) CleanupStale(olderThan time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, rec := range e.records {
		if rec.ConvertedAt.IsZero() && rec.UpdatedAt.Before(olderThan) {
			delete(e.records, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[Attribution] cleaned up %d stale records", removed)
	}
	return removed
}

// CalculateDataDrivenAttribution computes per-channel weights for a touchpoint
// path. Each touchpoint starts at 1/n, earns a position bonus when it is the
// first or last touch, and decays exponentially with its age at conversion
// time. Weights are normalized to sum to 1.0.
func CalculateDataDrivenAttribution(touchpoints []Touchpoint, conversionAt time.Time) map[string]float64 {
	n := len(touchpoints)
	if n == 0 {
		return map[string]float64{}
	}

	weights := make(map[string]float64)
	base := 1.0 / float64(n)
	total := 0.0

	for i, tp := range touchpoints {
		w := base
		if i == 0 || i == n-1 {
			w *= positionBonus
		}
		hours := conversionAt.Sub(tp.At).Hours()
		if hours < 0 {
			hours = 0
		}
		w *= math.Exp(-hours / decayHours)

		weights[tp.Channel] += w
		total += w
	}

	if total > 0 {
		for ch := range weights {
			weights[ch] /= total
		}
	}
	return weights
}

func (r *Record) clone() *Record {
	c := *r
	c.Touchpoints = append([]Touchpoint(nil), r.Touchpoints...)
	if r.ChannelWeights != nil {
		c.ChannelWeights = make(map[string]float64, len(r.ChannelWeights))
		for k, v := range r.ChannelWeights {
			c.ChannelWeights[k] = v
		}
	}
	return &c
}
