// Package journey implements the customer journey orchestration core: the
// step executor state machine, its processing queue, and journey state.
//
// Each step execution runs the full cycle
//
//	condition-check -> capping-check -> personalize -> dispatch -> record -> schedule-next
//
// with two escape edges: a failed condition check skips to the next step
// without dispatch, and a failed capping check defers the step (re-enqueued
// with a delay, never silently dropped).
package journey

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/omnichannel-engine/internal/capping"
	"github.com/ignite/omnichannel-engine/internal/channel"
	"github.com/ignite/omnichannel-engine/internal/events"
	"github.com/ignite/omnichannel-engine/internal/gateway"
	"github.com/ignite/omnichannel-engine/internal/personalize"
)

var (
	// ErrJourneyExists is returned when the customer already has a journey
	// that is not completed or cancelled.
	ErrJourneyExists = errors.New("customer already has an active journey")

	// ErrJourneyNotFound is returned for unknown customers or journey ids.
	ErrJourneyNotFound = errors.New("journey not found")

	// ErrUnknownChannel is returned when a step targets a channel missing
	// from the registry.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrNoSteps is returned when a journey is created with no steps.
	ErrNoSteps = errors.New("journey has no steps")
)

// ActionHandler performs an external side effect for an action step (CRM
// update, audience sync, ...).
type ActionHandler func(ctx context.Context, j *Journey, step Step) error

// Executor owns journey state and drains the processing queue one step per
// tick.
type Executor struct {
	registry     *channel.Registry
	capping      *capping.Engine
	rules        []capping.Rule
	personalizer *personalize.Engine
	gateway      gateway.Gateway
	bus          *events.Bus
	store        Store // optional write-behind persistence
	queue        *Queue
	actions      map[string]ActionHandler

	mu         sync.RWMutex
	journeys   map[string]*Journey
	byCustomer map[string]string

	tick          time.Duration
	deferInterval time.Duration
	now           func() time.Time

	totalExecuted int64
	totalErrors   int64

	runMu   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewExecutor wires the executor to its collaborators. Capping rules apply to
// every message dispatch.
func NewExecutor(
	registry *channel.Registry,
	capEngine *capping.Engine,
	rules []capping.Rule,
	personalizer *personalize.Engine,
	gw gateway.Gateway,
	bus *events.Bus,
) *Executor {
	return &Executor{
		registry:      registry,
		capping:       capEngine,
		rules:         rules,
		personalizer:  personalizer,
		gateway:       gw,
		bus:           bus,
		queue:         NewQueue(),
		actions:       make(map[string]ActionHandler),
		journeys:      make(map[string]*Journey),
		byCustomer:    make(map[string]string),
		tick:          100 * time.Millisecond,
		deferInterval: 15 * time.Minute,
		now:           time.Now,
	}
}

// SetStore attaches a persistence store. Journey mutations and history events
// are written through; in-memory state stays authoritative.
func (e *Executor) SetStore(s Store) { e.store = s }

// SetClock overrides the executor clock. Test hook.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// SetTick overrides the scheduler tick interval.
func (e *Executor) SetTick(d time.Duration) { e.tick = d }

// SetDeferInterval overrides the retry delay used when a frequency cap
// defers a step.
func (e *Executor) SetDeferInterval(d time.Duration) { e.deferInterval = d }

// RegisterAction installs the handler invoked by action steps with the given
// name.
func (e *Executor) RegisterAction(name string, h ActionHandler) { e.actions[name] = h }

// CreateJourney builds a journey from the given steps and seeds the queue
// with the first one. Message steps targeting channels missing from the
// registry fail the call immediately.
func (e *Executor) CreateJourney(ctx context.Context, customerID, templateName string, steps []Step,
	profile personalize.Profile, prefs map[string]ChannelPreference, constraints Constraints) (*Journey, error) {

	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	for _, s := range steps {
		if s.Type == StepMessage {
			if _, ok := e.registry.Get(s.Channel); !ok {
				return nil, fmt.Errorf("step %s: %w: %s", s.ID, ErrUnknownChannel, s.Channel)
			}
		}
	}

	e.mu.Lock()
	if jid, ok := e.byCustomer[customerID]; ok {
		if j := e.journeys[jid]; j != nil && (j.Status == StatusActive || j.Status == StatusPaused) {
			e.mu.Unlock()
			return nil, fmt.Errorf("customer %s: %w", customerID, ErrJourneyExists)
		}
	}

	now := e.now()
	j := &Journey{
		ID:           uuid.New().String(),
		CustomerID:   customerID,
		TemplateName: templateName,
		Stage:        StageAwareness,
		Status:       StatusActive,
		Steps:        steps,
		CurrentStep:  steps[0].ID,
		Profile:      profile,
		ChannelPrefs: prefs,
		Constraints:  constraints,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e.journeys[j.ID] = j
	e.byCustomer[customerID] = j.ID
	snapshot := j.clone()
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveJourney(ctx, snapshot); err != nil {
			log.Printf("[Executor] persist journey %s: %v", j.ID, err)
		}
	}

	e.queue.Push(Item{
		JourneyID:  j.ID,
		CustomerID: customerID,
		StepID:     steps[0].ID,
		NotBefore:  now.Add(steps[0].Timing.Delay),
		EnqueuedAt: now,
	})

	e.bus.Emit(events.JourneyCreated, map[string]any{
		"journey_id":  j.ID,
		"customer_id": customerID,
		"template":    templateName,
		"steps":       len(steps),
	})
	return snapshot, nil
}

// Restore re-registers journeys loaded from the store after a restart and
// re-enqueues each one's current step. Journeys for customers that already
// have in-memory state are skipped.
func (e *Executor) Restore(journeys []*Journey) int {
	now := e.now()
	restored := 0

	e.mu.Lock()
	for _, j := range journeys {
		if j == nil || j.CurrentStep == "" {
			continue
		}
		if _, exists := e.byCustomer[j.CustomerID]; exists {
			continue
		}
		e.journeys[j.ID] = j
		e.byCustomer[j.CustomerID] = j.ID
		e.queue.Push(Item{
			JourneyID:  j.ID,
			CustomerID: j.CustomerID,
			StepID:     j.CurrentStep,
			NotBefore:  now,
			EnqueuedAt: now,
		})
		restored++
	}
	e.mu.Unlock()

	return restored
}

// Start begins the scheduler loop. Each tick executes at most one queued
// step, so per-customer ordering is serialized.
func (e *Executor) Start() {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.runMu.Unlock()

	log.Printf("[Executor] starting, tick=%s", e.tick)
	e.wg.Add(1)
	go e.loop()
}

// Stop halts the scheduler and waits for the loop to exit.
func (e *Executor) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.runMu.Unlock()

	e.wg.Wait()
	log.Printf("[Executor] stopped. executed=%d errors=%d",
		atomic.LoadInt64(&e.totalExecuted), atomic.LoadInt64(&e.totalErrors))
}

func (e *Executor) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.ProcessNext(e.ctx)
		}
	}
}

// ProcessNext pops the next due item and executes it. Returns true when a
// step was executed (or deferred/skipped), false when the queue had nothing
// ready. Exported so tests and callers can drive the queue synchronously.
func (e *Executor) ProcessNext(ctx context.Context) bool {
	item, ok := e.queue.Pop(e.now())
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.journeys[item.JourneyID]
	if !ok {
		return false
	}

	switch j.Status {
	case StatusCancelled, StatusCompleted:
		return false
	case StatusPaused:
		item.NotBefore = e.now().Add(e.deferInterval)
		e.queue.Push(item)
		return false
	}

	step, ok := j.FindStep(item.StepID)
	if !ok {
		e.recordEvent(ctx, j, Event{StepID: item.StepID, Outcome: "error", Detail: "step not found"})
		atomic.AddInt64(&e.totalErrors, 1)
		return true
	}

	if len(j.History) == 0 {
		e.bus.Emit(events.JourneyExecutionStarted, map[string]any{
			"journey_id": j.ID, "customer_id": j.CustomerID, "step": step.ID,
		})
	}

	atomic.AddInt64(&e.totalExecuted, 1)
	e.executeStep(ctx, j, step, item)
	return true
}

// executeStep runs one full execution cycle for a step.
func (e *Executor) executeStep(ctx context.Context, j *Journey, step Step, item Item) {
	// Condition check. Condition-type steps branch on their conditions
	// instead of skipping.
	if step.Type != StepCondition && len(step.Conditions) > 0 {
		if !EvaluateConditions(step.Conditions, j.Profile) {
			e.recordEvent(ctx, j, Event{StepID: step.ID, StepName: step.Name, Outcome: "skipped", Detail: "conditions not met"})
			e.bus.Emit(events.StepSkipped, map[string]any{
				"journey_id": j.ID, "customer_id": j.CustomerID,
				"step": step.ID, "reason": "conditions_not_met",
			})
			e.advance(ctx, j, e.nextStepID(j, step.ID), e.now())
			return
		}
	}

	switch step.Type {
	case StepMessage:
		e.executeMessage(ctx, j, step, item)
	case StepWait:
		e.recordEvent(ctx, j, Event{StepID: step.ID, StepName: step.Name, Outcome: "waited",
			Detail: step.WaitDuration.String()})
		e.advance(ctx, j, e.nextStepID(j, step.ID), e.now().Add(step.WaitDuration))
	case StepCondition:
		label := "false"
		if EvaluateConditions(step.Conditions, j.Profile) {
			label = "true"
		}
		e.recordEvent(ctx, j, Event{StepID: step.ID, StepName: step.Name, Outcome: "branched", Detail: label})
		e.advance(ctx, j, e.branchTarget(j, step, label), e.now())
	case StepSplit:
		label := pickSplitBranch(step.SplitDistribution, j.CustomerID)
		e.recordEvent(ctx, j, Event{StepID: step.ID, StepName: step.Name, Outcome: "branched", Detail: label})
		e.advance(ctx, j, e.branchTarget(j, step, label), e.now())
	case StepAction:
		handler, ok := e.actions[step.Action]
		if !ok {
			e.handleStepError(ctx, j, step, fmt.Errorf("no handler for action %q", step.Action))
			return
		}
		if err := handler(ctx, j, step); err != nil {
			e.handleStepError(ctx, j, step, err)
			return
		}
		e.recordEvent(ctx, j, Event{StepID: step.ID, StepName: step.Name, Outcome: "acted", Detail: step.Action})
		e.advance(ctx, j, e.nextStepID(j, step.ID), e.now())
	default:
		e.handleStepError(ctx, j, step, fmt.Errorf("unknown step type %q", step.Type))
	}
}

// executeMessage is the dispatch path: preference gate, time window, capping,
// personalize, deliver, record.
func (e *Executor) executeMessage(ctx context.Context, j *Journey, step Step, item Item) {
	ch, ok := e.registry.Get(step.Channel)
	if !ok {
		e.handleStepError(ctx, j, step, fmt.Errorf("%w: %s", ErrUnknownChannel, step.Channel))
		return
	}

	if !ch.Active || j.channelBlocked(step.Channel) {
		reason := "channel_blocked"
		if !ch.Active {
			reason = "channel_inactive"
		}
		e.recordEvent(ctx, j, Event{StepID: step.ID, StepName: step.Name, Channel: step.Channel,
			Outcome: "skipped", Detail: reason})
		e.bus.Emit(events.StepSkipped, map[string]any{
			"journey_id": j.ID, "customer_id": j.CustomerID,
			"step": step.ID, "channel": step.Channel, "reason": reason,
		})
		e.advance(ctx, j, e.nextStepID(j, step.ID), e.now())
		return
	}

	now := e.now()

	// Allowed time window: reschedule for the next open window, never drop.
	if pref, ok := j.ChannelPrefs[step.Channel]; ok && len(pref.Windows) > 0 {
		if open := nextWindowOpen(now, pref.Windows); open.After(now) {
			e.deferStep(ctx, j, step, item, open, "outside_send_window")
			return
		}
	}

	// Hold the customer+channel pair across check and record so another
	// worker process cannot interleave a send.
	release, err := e.capping.Guard(ctx, j.CustomerID, step.Channel)
	if err != nil {
		if errors.Is(err, capping.ErrLocked) {
			e.deferStep(ctx, j, step, item, now.Add(e.deferInterval), "worker_contention")
			return
		}
		e.handleStepError(ctx, j, step, err)
		return
	}
	defer release()

	allowed, violated, err := e.capping.Check(ctx, j.CustomerID, step.Channel, e.rules, j.Profile.Flat())
	if err != nil {
		e.handleStepError(ctx, j, step, fmt.Errorf("frequency check: %w", err))
		return
	}
	if !allowed {
		detail := "frequency_cap"
		if violated != nil {
			detail = "frequency_cap:" + violated.ID
		}
		e.deferStep(ctx, j, step, item, now.Add(e.deferInterval), detail)
		return
	}

	content := e.personalizer.Personalize(step.Content, j.Profile, j.CustomerID)

	messageID, err := e.gateway.Deliver(ctx, ch, j.CustomerID, content)
	if err != nil {
		e.handleStepError(ctx, j, step, fmt.Errorf("delivery: %w", err))
		return
	}

	if err := e.capping.RecordSend(ctx, j.CustomerID, step.Channel); err != nil {
		log.Printf("[Executor] record send history customer=%s channel=%s: %v", j.CustomerID, step.Channel, err)
	}
	e.registry.RecordSend(step.Channel)

	e.recordEvent(ctx, j, Event{
		StepID: step.ID, StepName: step.Name, Channel: step.Channel,
		Outcome: "sent", Content: content, MessageID: messageID,
	})
	e.bus.Emit(events.MessageSent, map[string]any{
		"journey_id":  j.ID,
		"customer_id": j.CustomerID,
		"channel":     step.Channel,
		"step":        step.ID,
		"message_id":  messageID,
	})

	e.advance(ctx, j, e.nextStepID(j, step.ID), e.now())
}

// deferStep re-enqueues the same step for later without advancing the
// journey, and makes the deferral observable.
func (e *Executor) deferStep(ctx context.Context, j *Journey, step Step, item Item, until time.Time, reason string) {
	item.NotBefore = until
	item.Attempt++
	e.queue.Push(item)

	e.recordEvent(ctx, j, Event{StepID: step.ID, StepName: step.Name, Channel: step.Channel,
		Outcome: "deferred", Detail: reason})
	e.bus.Emit(events.StepDeferred, map[string]any{
		"journey_id":  j.ID,
		"customer_id": j.CustomerID,
		"step":        step.ID,
		"channel":     step.Channel,
		"reason":      reason,
		"retry_at":    until,
	})
}

// handleStepError retries via the first fallback step when one exists;
// otherwise the error is surfaced as an event and the journey halts until
// externally resumed.
func (e *Executor) handleStepError(ctx context.Context, j *Journey, step Step, err error) {
	atomic.AddInt64(&e.totalErrors, 1)
	e.recordEvent(ctx, j, Event{StepID: step.ID, StepName: step.Name, Channel: step.Channel,
		Outcome: "error", Detail: err.Error()})

	if len(step.Fallback) > 0 {
		for _, fb := range step.Fallback {
			if j.stepIndex(fb.ID) < 0 {
				j.Steps = append(j.Steps, fb)
			}
		}
		j.CurrentStep = step.Fallback[0].ID
		j.UpdatedAt = e.now()
		e.queue.PushFront(Item{
			JourneyID:  j.ID,
			CustomerID: j.CustomerID,
			StepID:     step.Fallback[0].ID,
			NotBefore:  e.now(),
			EnqueuedAt: e.now(),
		})
		e.persist(ctx, j)
		return
	}

	e.bus.Emit(events.StepExecutionError, map[string]any{
		"journey_id":  j.ID,
		"customer_id": j.CustomerID,
		"step":        step.ID,
		"error":       err.Error(),
	})
}

// advance moves the journey to nextID (eligible at notBefore) or completes it
// when no steps remain.
func (e *Executor) advance(ctx context.Context, j *Journey, nextID string, notBefore time.Time) {
	j.UpdatedAt = e.now()
	if nextID == "" {
		j.Status = StatusCompleted
		e.recordEvent(ctx, j, Event{StepID: j.CurrentStep, Outcome: "completed"})
		e.bus.Emit(events.JourneyCompleted, map[string]any{
			"journey_id": j.ID, "customer_id": j.CustomerID,
		})
		e.persist(ctx, j)
		return
	}

	j.CurrentStep = nextID
	e.queue.Push(Item{
		JourneyID:  j.ID,
		CustomerID: j.CustomerID,
		StepID:     nextID,
		NotBefore:  notBefore,
		EnqueuedAt: e.now(),
	})
	e.persist(ctx, j)
}

// nextStepID returns the id of the step after `from` in journey order.
func (e *Executor) nextStepID(j *Journey, from string) string {
	i := j.stepIndex(from)
	if i < 0 || i+1 >= len(j.Steps) {
		return ""
	}
	return j.Steps[i+1].ID
}

// branchTarget resolves a branch label to a step id, falling through to the
// next step in order when the label has no target.
func (e *Executor) branchTarget(j *Journey, step Step, label string) string {
	if target, ok := step.Targets[label]; ok && j.stepIndex(target) >= 0 {
		return target
	}
	return e.nextStepID(j, step.ID)
}

// pickSplitBranch deterministically assigns a customer to a branch label by
// the split distribution. Labels are walked in sorted order so assignment is
// stable across runs.
func pickSplitBranch(dist map[string]float64, customerID string) string {
	if len(dist) == 0 {
		return ""
	}
	labels := make([]string, 0, len(dist))
	total := 0.0
	for label, pct := range dist {
		if pct > 0 {
			labels = append(labels, label)
			total += pct
		}
	}
	if total <= 0 || len(labels) == 0 {
		return ""
	}
	sort.Strings(labels)

	h := fnv.New32a()
	h.Write([]byte(customerID))
	point := float64(h.Sum32()%10000) / 10000.0 * total

	acc := 0.0
	for _, label := range labels {
		acc += dist[label]
		if point < acc {
			return label
		}
	}
	return labels[len(labels)-1]
}

// recordEvent appends to the journey's history and writes through to the
// store when configured.
func (e *Executor) recordEvent(ctx context.Context, j *Journey, ev Event) {
	ev.At = e.now()
	j.History = append(j.History, ev)
	if e.store != nil {
		if err := e.store.AppendEvent(ctx, j.ID, ev); err != nil {
			log.Printf("[Executor] persist event journey=%s: %v", j.ID, err)
		}
	}
}

func (e *Executor) persist(ctx context.Context, j *Journey) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateProgress(ctx, j.ID, j.Status, j.CurrentStep); err != nil {
		log.Printf("[Executor] persist progress journey=%s: %v", j.ID, err)
	}
}

// Pause suspends a journey. Its queued steps are re-deferred until resumed.
func (e *Executor) Pause(ctx context.Context, journeyID string) error {
	return e.setStatus(ctx, journeyID, StatusActive, StatusPaused)
}

// Resume reactivates a paused journey.
func (e *Executor) Resume(ctx context.Context, journeyID string) error {
	return e.setStatus(ctx, journeyID, StatusPaused, StatusActive)
}

// Cancel halts a journey permanently and drops its queued steps.
func (e *Executor) Cancel(ctx context.Context, journeyID string) error {
	e.mu.Lock()
	j, ok := e.journeys[journeyID]
	if !ok {
		e.mu.Unlock()
		return ErrJourneyNotFound
	}
	j.Status = StatusCancelled
	j.UpdatedAt = e.now()
	e.mu.Unlock()

	e.queue.DropJourney(journeyID)
	e.persist(ctx, j)
	return nil
}

func (e *Executor) setStatus(ctx context.Context, journeyID string, from, to Status) error {
	e.mu.Lock()
	j, ok := e.journeys[journeyID]
	if !ok {
		e.mu.Unlock()
		return ErrJourneyNotFound
	}
	if j.Status != from {
		e.mu.Unlock()
		return fmt.Errorf("journey %s is %s, expected %s", journeyID, j.Status, from)
	}
	j.Status = to
	j.UpdatedAt = e.now()
	e.mu.Unlock()

	e.persist(ctx, j)
	return nil
}

// GetByCustomer returns a copy of the customer's journey.
func (e *Executor) GetByCustomer(customerID string) (*Journey, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	jid, ok := e.byCustomer[customerID]
	if !ok {
		return nil, false
	}
	j, ok := e.journeys[jid]
	if !ok {
		return nil, false
	}
	return j.clone(), true
}

// All returns copies of every journey.
func (e *Executor) All() []*Journey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Journey, 0, len(e.journeys))
	for _, j := range e.journeys {
		out = append(out, j.clone())
	}
	return out
}

// QueueLen returns the number of queued items.
func (e *Executor) QueueLen() int { return e.queue.Len() }

// Stats returns lifetime executed and error counters.
func (e *Executor) Stats() (executed, errs int64) {
	return atomic.LoadInt64(&e.totalExecuted), atomic.LoadInt64(&e.totalErrors)
}

func (j *Journey) clone() *Journey {
	c := *j
	c.Steps = append([]Step(nil), j.Steps...)
	c.History = append([]Event(nil), j.History...)
	return &c
}
