// Package capping decides whether a customer may receive a message on a
// channel given their rolling-window exposure history. Every message dispatch
// goes through Check first; no channel send bypasses capping.
package capping

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/omnichannel-engine/internal/pkg/distlock"
)

// ErrLocked is returned by Guard when another worker holds the
// customer+channel lock.
var ErrLocked = errors.New("customer/channel held by another worker")

// Rule scopes.
const (
	ScopeGlobal  = "global"
	ScopeChannel = "channel"
)

// Exception raises (or lowers) a rule's exposure cap when its condition holds
// for the customer. Conditions use the "field operator value" form, e.g.
// "segment equals champion".
type Exception struct {
	Condition   string  `json:"condition" yaml:"condition"`
	Multiplier  float64 `json:"multiplier" yaml:"multiplier"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Rule is one frequency-capping rule. All applicable rules must pass for a
// send to be approved; they are evaluated in ascending Priority order and the
// first violated rule blocks the send.
type Rule struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Scope        string        `json:"scope" yaml:"scope"`
	Window       time.Duration `json:"window" yaml:"window"`
	MaxExposures int           `json:"max_exposures" yaml:"max_exposures"`
	Channels     []string      `json:"channels,omitempty" yaml:"channels,omitempty"` // empty = all
	Priority     int           `json:"priority" yaml:"priority"`
	Exceptions   []Exception   `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
}

// appliesTo reports whether the rule constrains the given channel.
func (r Rule) appliesTo(channelID string) bool {
	if r.Scope == ScopeGlobal || len(r.Channels) == 0 {
		return true
	}
	for _, ch := range r.Channels {
		if ch == channelID {
			return true
		}
	}
	return false
}

// allowedExposures is MaxExposures adjusted by the first matching exception.
func (r Rule) allowedExposures(profile map[string]any) int {
	for _, ex := range r.Exceptions {
		if ex.Multiplier > 0 && evalCondition(ex.Condition, profile) {
			return int(math.Floor(float64(r.MaxExposures) * ex.Multiplier))
		}
	}
	return r.MaxExposures
}

// LockFactory builds a distributed lock for a capping key. Set when multiple
// worker processes share one send history, so check-then-record stays atomic
// per (customer, channel).
type LockFactory func(key string) distlock.DistLock

// Engine evaluates capping rules against a send history.
type Engine struct {
	history History
	locks   LockFactory
	now     func() time.Time
}

// NewEngine creates a capping engine over the given history.
func NewEngine(history History) *Engine {
	return &Engine{history: history, now: time.Now}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetLockFactory enables distributed locking around check-then-record.
func (e *Engine) SetLockFactory(f LockFactory) { e.locks = f }

// Guard acquires the (customer, channel) lock and returns its release
// function. Single-process engines run without a lock factory and get a
// no-op. ErrLocked means another worker owns the pair right now; callers
// should retry later rather than bypass the check.
func (e *Engine) Guard(ctx context.Context, customerID, channelID string) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	lock := e.locks(customerID + ":" + channelID)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring capping lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() { _ = lock.Release(context.WithoutCancel(ctx)) }, nil
}

// Check evaluates all applicable rules for customer+channel in priority
// order. Returns false and the violated rule on the first violation. An empty
// history always approves; a rule with MaxExposures 0 blocks its scope
// entirely.
func (e *Engine) Check(ctx context.Context, customerID, channelID string, rules []Rule, profile map[string]any) (bool, *Rule, error) {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.appliesTo(channelID) {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	now := e.now()
	for i := range ordered {
		rule := ordered[i]
		count, err := e.history.CountSince(ctx, customerID, channelID, now.Add(-rule.Window))
		if err != nil {
			return false, nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if count >= rule.allowedExposures(profile) {
			return false, &rule, nil
		}
	}
	return true, nil, nil
}

// RecordSend appends an approved send to the history.
func (e *Engine) RecordSend(ctx context.Context, customerID, channelID string) error {
	return e.history.Record(ctx, customerID, channelID, e.now())
}

// evalCondition evaluates a "field operator value" condition against a flat
// profile. Malformed conditions and missing fields fail closed (non-match).
func evalCondition(condition string, profile map[string]any) bool {
	parts := strings.Fields(condition)
	if len(parts) < 3 {
		return false
	}
	field, op := parts[0], parts[1]
	want := strings.Join(parts[2:], " ")

	got, ok := profile[field]
	if !ok {
		return false
	}

	switch op {
	case "equals":
		return fmt.Sprintf("%v", got) == want
	case "not_equals":
		return fmt.Sprintf("%v", got) != want
	case "greater_than", "less_than":
		gotN, ok1 := toFloat(got)
		wantN, err := strconv.ParseFloat(want, 64)
		if !ok1 || err != nil {
			return false
		}
		if op == "greater_than" {
			return gotN > wantN
		}
		return gotN < wantN
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", got), want)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
