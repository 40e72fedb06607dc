// Package realtime produces next-best-experience recommendations for a
// customer from current context and rolling channel performance. Scoring is
// pluggable so a real model can replace the rule-based default later.
package realtime

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/omnichannel-engine/internal/channel"
	"github.com/ignite/omnichannel-engine/internal/events"
)

// Context is the customer's current situational signal set (page, device,
// recency, segment, ...).
type Context map[string]any

// Experience is one candidate treatment for a customer.
type Experience struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Content string `json:"content"`
	Timing  string `json:"timing"` // immediate | queued
}

// TimingImmediate marks experiences that must be triggered synchronously
// rather than queued.
const TimingImmediate = "immediate"

// Recommendation is a scored candidate experience.
type Recommendation struct {
	Experience Experience `json:"experience"`
	Score      float64    `json:"score"`
	Confidence float64    `json:"confidence"`
}

// Personalization is the ranked recommendation set plus the single next best
// experience.
type Personalization struct {
	ID              string           `json:"id"`
	CustomerID      string           `json:"customer_id"`
	Recommendations []Recommendation `json:"recommendations"`
	NextBest        *Recommendation  `json:"next_best,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// ScoringStrategy predicts the incremental value of showing an experience to
// a customer. Kind distinguishes the rule-based default from an external
// model integration.
type ScoringStrategy interface {
	Kind() string
	Score(ctx Context, exp Experience, perf channel.Performance) (score, confidence float64)
}

// RuleBasedStrategy scores experiences by the target channel's rolling
// engagement performance, boosted by contextual affinity signals.
type RuleBasedStrategy struct{}

func (RuleBasedStrategy) Kind() string { return "rule-based" }

func (RuleBasedStrategy) Score(ctx Context, exp Experience, perf channel.Performance) (float64, float64) {
	score := perf.OpenRate*0.3 + perf.ClickRate*0.4 + perf.ConversionRate*0.3
	score -= perf.UnsubscribeRate * 0.5

	if preferred, ok := ctx["preferred_channel"].(string); ok && preferred == exp.Channel {
		score += 0.2
	}
	if exp.Timing == TimingImmediate {
		if active, ok := ctx["session_active"].(bool); ok && active {
			score += 0.1
		}
	}
	if score < 0 {
		score = 0
	}

	// Confidence grows with the send volume backing the rates.
	confidence := 0.3
	switch {
	case perf.Sent >= 10000:
		confidence = 0.9
	case perf.Sent >= 1000:
		confidence = 0.7
	case perf.Sent >= 100:
		confidence = 0.5
	}
	return score, confidence
}

// Trigger fires an immediate experience. Wired to the journey layer by the
// orchestrator.
type Trigger func(ctx context.Context, customerID string, exp Experience) error

// Engine ranks candidate experiences per customer.
type Engine struct {
	registry *channel.Registry
	strategy ScoringStrategy
	bus      *events.Bus
	trigger  Trigger
	now      func() time.Time

	mu         sync.RWMutex
	candidates []Experience
	latest     map[string]*Personalization

	refresh time.Duration
	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewEngine creates a real-time engine with the given scoring strategy.
func NewEngine(registry *channel.Registry, strategy ScoringStrategy, bus *events.Bus) *Engine {
	if strategy == nil {
		strategy = RuleBasedStrategy{}
	}
	return &Engine{
		registry: registry,
		strategy: strategy,
		bus:      bus,
		now:      time.Now,
		latest:   make(map[string]*Personalization),
		refresh:  500 * time.Millisecond,
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetRefresh overrides the background refresh interval.
func (e *Engine) SetRefresh(d time.Duration) { e.refresh = d }

// SetTrigger installs the callback invoked for immediate-timing experiences.
func (e *Engine) SetTrigger(t Trigger) { e.trigger = t }

// SetCandidates replaces the candidate experience pool.
func (e *Engine) SetCandidates(candidates []Experience) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append([]Experience(nil), candidates...)
}

// Generate scores every candidate on an active channel, ranks them, and
// returns the personalization. An immediate-timing next-best experience is
// triggered synchronously before returning.
func (e *Engine) Generate(ctx context.Context, customerID string, cctx Context) *Personalization {
	return e.generate(ctx, customerID, cctx, true)
}

func (e *Engine) generate(ctx context.Context, customerID string, cctx Context, fireTrigger bool) *Personalization {
	e.mu.RLock()
	candidates := e.candidates
	e.mu.RUnlock()

	recs := make([]Recommendation, 0, len(candidates))
	for _, exp := range candidates {
		ch, ok := e.registry.Get(exp.Channel)
		if !ok || !ch.Active {
			continue
		}
		score, confidence := e.strategy.Score(cctx, exp, ch.Performance)
		recs = append(recs, Recommendation{Experience: exp, Score: score, Confidence: confidence})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })

	p := &Personalization{
		ID:              uuid.New().String(),
		CustomerID:      customerID,
		Recommendations: recs,
		GeneratedAt:     e.now(),
	}
	if len(recs) > 0 {
		best := recs[0]
		p.NextBest = &best
	}

	e.mu.Lock()
	e.latest[customerID] = p
	e.mu.Unlock()

	if fireTrigger && p.NextBest != nil && p.NextBest.Experience.Timing == TimingImmediate && e.trigger != nil {
		if err := e.trigger(ctx, customerID, p.NextBest.Experience); err != nil {
			log.Printf("[RealTime] trigger experience=%s customer=%s: %v",
				p.NextBest.Experience.ID, customerID, err)
		}
	}

	e.bus.Emit(events.RealTimePersonalization, map[string]any{
		"customer_id":     customerID,
		"strategy":        e.strategy.Kind(),
		"recommendations": len(recs),
	})
	return p
}

// Latest returns the most recently generated personalization for a customer.
func (e *Engine) Latest(customerID string) (*Personalization, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.latest[customerID]
	return p, ok
}

// Start begins the background refresh loop, regenerating recommendations for
// customers with existing personalizations as channel performance shifts.
func (e *Engine) Start() {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return
	}
	e.running = true
	var ctx context.Context
	ctx, e.cancel = context.WithCancel(context.Background())
	e.runMu.Unlock()

	log.Printf("[RealTime] starting, refresh=%s strategy=%s", e.refresh, e.strategy.Kind())
	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop halts the refresh loop.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.runMu.Unlock()
	e.wg.Wait()
	log.Printf("[RealTime] stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshAll(ctx)
		}
	}
}

func (e *Engine) refreshAll(ctx context.Context) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.latest))
	for id := range e.latest {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	// Background refreshes re-rank only; immediate triggers fire solely on
	// explicit Generate calls.
	for _, id := range ids {
		e.generate(ctx, id, Context{}, false)
	}
}
