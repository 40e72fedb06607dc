// Package orchestrator wires the channel registry, capping engine, journey
// executor, attribution engine and real-time personalization into one
// operational surface. All shared state lives here and is handed into each
// subsystem explicitly, so tests can build isolated instances.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/omnichannel-engine/internal/attribution"
	"github.com/ignite/omnichannel-engine/internal/capping"
	"github.com/ignite/omnichannel-engine/internal/channel"
	"github.com/ignite/omnichannel-engine/internal/events"
	"github.com/ignite/omnichannel-engine/internal/gateway"
	"github.com/ignite/omnichannel-engine/internal/journey"
	"github.com/ignite/omnichannel-engine/internal/personalize"
	"github.com/ignite/omnichannel-engine/internal/realtime"
)

// ErrUnknownTemplate is returned when a journey references a template that was
// never registered.
var ErrUnknownTemplate = errors.New("unknown journey template")

// Options configures a new orchestrator.
type Options struct {
	Channels        []channel.Channel
	CappingRules    []capping.Rule
	CappingHistory  capping.History
	Gateway         gateway.Gateway
	Store           journey.Store
	Strategy        realtime.ScoringStrategy
	CleanupInterval time.Duration
	StaleAfter      time.Duration
}

// Orchestrator owns the engine state and exposes the public operations.
type Orchestrator struct {
	Bus          *events.Bus
	Registry     *channel.Registry
	Capping      *capping.Engine
	Personalizer *personalize.Engine
	Executor     *journey.Executor
	Attribution  *attribution.Engine
	Realtime     *realtime.Engine

	memHistory      *capping.MemoryHistory // non-nil when using in-memory history
	cleanupInterval time.Duration
	staleAfter      time.Duration

	mu        sync.RWMutex
	templates map[string][]journey.Step

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a fully wired orchestrator and emits channels_initialized.
func New(opts Options) *Orchestrator {
	bus := events.NewBus()

	registry := channel.NewRegistry()
	chans := opts.Channels
	if len(chans) == 0 {
		chans = channel.DefaultChannels()
	}
	for _, ch := range chans {
		registry.Add(ch)
	}

	history := opts.CappingHistory
	var memHistory *capping.MemoryHistory
	if history == nil {
		memHistory = capping.NewMemoryHistory()
		history = memHistory
	}
	capEngine := capping.NewEngine(history)

	gw := opts.Gateway
	if gw == nil {
		gw = &gateway.LogGateway{}
	}

	personalizer := personalize.NewEngine()
	executor := journey.NewExecutor(registry, capEngine, opts.CappingRules, personalizer, gw, bus)
	if opts.Store != nil {
		executor.SetStore(opts.Store)
	}

	rt := realtime.NewEngine(registry, opts.Strategy, bus)

	o := &Orchestrator{
		Bus:             bus,
		Registry:        registry,
		Capping:         capEngine,
		Personalizer:    personalizer,
		Executor:        executor,
		Attribution:     attribution.NewEngine(bus),
		Realtime:        rt,
		memHistory:      memHistory,
		cleanupInterval: opts.CleanupInterval,
		staleAfter:      opts.StaleAfter,
		templates:       make(map[string][]journey.Step),
	}
	if o.cleanupInterval <= 0 {
		o.cleanupInterval = time.Hour
	}
	if o.staleAfter <= 0 {
		o.staleAfter = 30 * 24 * time.Hour
	}

	bus.Emit(events.ChannelsInitialized, map[string]any{"count": len(chans)})
	return o
}

// RegisterJourneyTemplate installs or replaces a named step sequence.
func (o *Orchestrator) RegisterJourneyTemplate(name string, steps []journey.Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.templates[name] = append([]journey.Step(nil), steps...)
}

// LoadJourneyTemplate returns a copy of the named template's steps.
func (o *Orchestrator) LoadJourneyTemplate(name string) ([]journey.Step, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	steps, ok := o.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return append([]journey.Step(nil), steps...), nil
}

// TemplateNames returns the registered template names.
func (o *Orchestrator) TemplateNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.templates))
	for name := range o.templates {
		names = append(names, name)
	}
	return names
}

// CreateCustomerJourney instantiates the named template for a customer and
// seeds the execution queue.
func (o *Orchestrator) CreateCustomerJourney(ctx context.Context, customerID, templateName string,
	profile personalize.Profile, prefs map[string]journey.ChannelPreference,
	constraints journey.Constraints) (*journey.Journey, error) {

	steps, err := o.LoadJourneyTemplate(templateName)
	if err != nil {
		return nil, err
	}
	return o.Executor.CreateJourney(ctx, customerID, templateName, steps, profile, prefs, constraints)
}

// RecordAttribution appends a touchpoint for the customer. A non-nil
// conversion value additionally recomputes the channel weights.
func (o *Orchestrator) RecordAttribution(customerID, channelID string, value float64, conversionValue *float64) (*attribution.Record, error) {
	rec := o.Attribution.RecordTouchpoint(customerID, channelID, value)
	if conversionValue == nil {
		return rec, nil
	}
	return o.Attribution.RecordConversion(customerID, *conversionValue)
}

// GenerateRealTimePersonalization ranks candidate experiences for a customer
// against current context.
func (o *Orchestrator) GenerateRealTimePersonalization(ctx context.Context, customerID string, rctx realtime.Context) *realtime.Personalization {
	return o.Realtime.Generate(ctx, customerID, rctx)
}

// GetCustomerJourney returns the customer's journey.
func (o *Orchestrator) GetCustomerJourney(customerID string) (*journey.Journey, bool) {
	return o.Executor.GetByCustomer(customerID)
}

// GetAllJourneys returns every journey.
func (o *Orchestrator) GetAllJourneys() []*journey.Journey {
	return o.Executor.All()
}

// GetAttributionData returns the customer's attribution record.
func (o *Orchestrator) GetAttributionData(customerID string) (*attribution.Record, bool) {
	return o.Attribution.Get(customerID)
}

// Start launches the executor tick loop, the realtime refresh loop and the
// periodic cleanup loop.
func (o *Orchestrator) Start() {
	o.runMu.Lock()
	if o.running {
		o.runMu.Unlock()
		return
	}
	o.running = true
	var ctx context.Context
	ctx, o.cancel = context.WithCancel(context.Background())
	o.runMu.Unlock()

	o.Executor.Start()
	o.Realtime.Start()

	o.wg.Add(1)
	go o.cleanupLoop(ctx)
	log.Printf("[Orchestrator] started, cleanup every %s", o.cleanupInterval)
}

// Stop halts all loops and waits for them to exit.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	if !o.running {
		o.runMu.Unlock()
		return
	}
	o.running = false
	o.cancel()
	o.runMu.Unlock()

	o.Realtime.Stop()
	o.Executor.Stop()
	o.wg.Wait()
	log.Printf("[Orchestrator] stopped")
}

func (o *Orchestrator) cleanupLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Cleanup(time.Now().Add(-o.staleAfter))
		}
	}
}

// Cleanup prunes send history and unconverted attribution records older than
// the cutoff.
func (o *Orchestrator) Cleanup(olderThan time.Time) {
	if o.memHistory != nil {
		if n := o.memHistory.Prune(olderThan); n > 0 {
			log.Printf("[Orchestrator] pruned %d send history entries", n)
		}
	}
	o.Attribution.CleanupStale(olderThan)
}
