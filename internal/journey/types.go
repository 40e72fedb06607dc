package journey

import (
	"time"

	"github.com/ignite/omnichannel-engine/internal/personalize"
)

// StepType is the kind of work a step performs.
type StepType string

const (
	StepMessage   StepType = "message"
	StepWait      StepType = "wait"
	StepCondition StepType = "condition"
	StepAction    StepType = "action"
	StepSplit     StepType = "split"
)

// Condition is one field/operator/value triple. A step's conditions must all
// hold for it to execute (AND semantics).
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Timing controls when a step becomes eligible after being scheduled.
type Timing struct {
	Delay time.Duration `json:"delay,omitempty"`
}

// Step is one unit of work in a journey. Branching steps (condition/split)
// name their targets by step id via branch labels; a missing label falls
// through to the next step in order.
type Step struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Type       StepType            `json:"type"`
	Channel    string              `json:"channel,omitempty"`
	Content    personalize.Content `json:"content,omitempty"`
	Timing     Timing              `json:"timing,omitempty"`
	Conditions []Condition         `json:"conditions,omitempty"`
	Priority   int                 `json:"priority,omitempty"`
	Fallback   []Step              `json:"fallback,omitempty"`

	// Wait steps: how long before the next step becomes eligible.
	WaitDuration time.Duration `json:"wait_duration,omitempty"`

	// Action steps: name of the registered action handler to invoke.
	Action string `json:"action,omitempty"`

	// Branch label -> target step id. Condition steps use "true"/"false";
	// split steps use the labels of their distribution.
	Targets map[string]string `json:"targets,omitempty"`

	// Split steps: branch label -> percentage. Percentages are normalized
	// over their sum.
	SplitDistribution map[string]float64 `json:"split_distribution,omitempty"`
}

// Stage is the customer's position in the lifecycle funnel.
type Stage string

const (
	StageAwareness     Stage = "awareness"
	StageConsideration Stage = "consideration"
	StageConversion    Stage = "conversion"
	StageRetention     Stage = "retention"
	StageAdvocacy      Stage = "advocacy"
)

// Status is the journey lifecycle state, checked before every dispatch.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Window is an allowed send window in UTC hours, [StartHour, EndHour).
// StartHour > EndHour wraps midnight.
type Window struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// ChannelPreference is a customer's per-channel setting.
type ChannelPreference struct {
	Blocked bool     `json:"blocked,omitempty"`
	Windows []Window `json:"windows,omitempty"` // empty = any time
}

// Constraints carries customer-level messaging restrictions.
type Constraints struct {
	Blacklist []string        `json:"blacklist,omitempty"` // channel ids never to use
	OptOuts   []string        `json:"opt_outs,omitempty"`
	Consent   map[string]bool `json:"consent,omitempty"`
}

// Event is one entry in a journey's append-only history.
type Event struct {
	At        time.Time `json:"at"`
	StepID    string    `json:"step_id"`
	StepName  string    `json:"step_name"`
	Channel   string    `json:"channel,omitempty"`
	Outcome   string    `json:"outcome"` // sent, skipped, deferred, branched, waited, acted, error, completed
	Content   string    `json:"content,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Journey is one customer's multi-step sequence. At most one active journey
// exists per customer.
type Journey struct {
	ID           string                       `json:"id"`
	CustomerID   string                       `json:"customer_id"`
	TemplateName string                       `json:"template_name"`
	Stage        Stage                        `json:"stage"`
	Status       Status                       `json:"status"`
	Steps        []Step                       `json:"steps"`
	CurrentStep  string                       `json:"current_step"`
	Profile      personalize.Profile          `json:"profile"`
	ChannelPrefs map[string]ChannelPreference `json:"channel_preferences,omitempty"`
	Constraints  Constraints                  `json:"constraints,omitempty"`
	History      []Event                      `json:"history"`
	CreatedAt    time.Time                    `json:"created_at"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// stepIndex returns the position of a step id, or -1.
func (j *Journey) stepIndex(id string) int {
	for i := range j.Steps {
		if j.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// FindStep returns the step with the given id.
func (j *Journey) FindStep(id string) (Step, bool) {
	if i := j.stepIndex(id); i >= 0 {
		return j.Steps[i], true
	}
	return Step{}, false
}

// RemainingSteps returns the steps after the current one, in order.
func (j *Journey) RemainingSteps() []Step {
	i := j.stepIndex(j.CurrentStep)
	if i < 0 || i+1 >= len(j.Steps) {
		return nil
	}
	out := make([]Step, len(j.Steps)-i-1)
	copy(out, j.Steps[i+1:])
	return out
}

// channelBlocked reports whether the customer blocks or blacklists a channel.
func (j *Journey) channelBlocked(channelID string) bool {
	if pref, ok := j.ChannelPrefs[channelID]; ok && pref.Blocked {
		return true
	}
	for _, ch := range j.Constraints.Blacklist {
		if ch == channelID {
			return true
		}
	}
	for _, ch := range j.Constraints.OptOuts {
		if ch == channelID {
			return true
		}
	}
	return false
}

// nextWindowOpen returns the earliest time at or after now that falls inside
// one of the windows. With no windows, now is returned.
func nextWindowOpen(now time.Time, windows []Window) time.Time {
	if len(windows) == 0 {
		return now
	}
	for _, w := range windows {
		if w.Contains(now) {
			return now
		}
	}
	// Scan hour by hour; windows repeat daily so 24 hours always suffice.
	t := now.UTC().Truncate(time.Hour)
	for i := 1; i <= 24; i++ {
		candidate := t.Add(time.Duration(i) * time.Hour)
		for _, w := range windows {
			if w.Contains(candidate) {
				return candidate
			}
		}
	}
	return now
}
