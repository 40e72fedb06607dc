// Package channel maintains the static catalog of messaging channels with
// capability flags, constraints and rolling performance stats.
package channel

import (
	"sync"
	"time"
)

// Registry is the shared channel catalog. Duplicate ids overwrite silently;
// that is documented behavior, not an error.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Add inserts or overwrites a channel by id.
func (r *Registry) Add(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[ch.ID]; !exists {
		r.order = append(r.order, ch.ID)
	}
	c := ch
	r.channels[ch.ID] = &c
}

// Get returns a copy of the channel with the given id.
func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// All returns a snapshot of every channel in registration order.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.channels[id])
	}
	return out
}

// Deactivate marks a channel inactive. Unknown ids are ignored.
func (r *Registry) Deactivate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[id]; ok {
		ch.Active = false
	}
}

// RecordSend increments the send counter for a channel.
func (r *Registry) RecordSend(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[id]; ok {
		ch.Performance.Sent++
	}
}

// RecordEngagement updates engagement counters and recomputes the rolling
// rates for a channel.
func (r *Registry) RecordEngagement(id string, kind EngagementKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		return
	}
	p := &ch.Performance
	switch kind {
	case EngagementDelivered:
		p.Delivered++
	case EngagementOpen:
		p.Opens++
	case EngagementClick:
		p.Clicks++
	case EngagementConversion:
		p.Conversions++
	case EngagementUnsubscribe:
		p.Unsubs++
	}
	if p.Sent > 0 {
		p.DeliveryRate = float64(p.Delivered) / float64(p.Sent)
		p.UnsubscribeRate = float64(p.Unsubs) / float64(p.Sent)
	}
	if p.Delivered > 0 {
		p.OpenRate = float64(p.Opens) / float64(p.Delivered)
		p.ClickRate = float64(p.Clicks) / float64(p.Delivered)
		p.ConversionRate = float64(p.Conversions) / float64(p.Delivered)
	}
}

// DefaultChannels is the seed catalog used at registry initialization.
func DefaultChannels() []Channel {
	return []Channel{
		{
			ID: "email", Name: "Email", Type: TypeEmail, Active: true,
			Capabilities: Capabilities{RealTime: false, Personalization: true, RichMedia: true, Tracking: true},
			Constraints: Constraints{
				DailyVolumeCap: 500000, HourlyVolumeCap: 50000,
				MinTimeBetween: 4 * time.Hour, MaxDailyFrequency: 3,
				ComplianceTags: []string{"can-spam", "gdpr"},
			},
			Performance: Performance{CostPerMessage: 0.001},
		},
		{
			ID: "sms", Name: "SMS", Type: TypeSMS, Active: true,
			Capabilities: Capabilities{RealTime: true, Personalization: true, Tracking: true},
			Constraints: Constraints{
				DailyVolumeCap: 100000, HourlyVolumeCap: 20000,
				MinTimeBetween: 12 * time.Hour, MaxDailyFrequency: 1,
				BlockoutHours:  []int{0, 1, 2, 3, 4, 5, 6},
				ComplianceTags: []string{"tcpa", "gdpr"},
			},
			Performance: Performance{CostPerMessage: 0.03},
		},
		{
			ID: "push", Name: "Push Notification", Type: TypePush, Active: true,
			Capabilities: Capabilities{RealTime: true, Personalization: true, RichMedia: true, Tracking: true},
			Constraints: Constraints{
				DailyVolumeCap: 1000000, HourlyVolumeCap: 200000,
				MinTimeBetween: 2 * time.Hour, MaxDailyFrequency: 5,
			},
			Performance: Performance{CostPerMessage: 0.0001},
		},
		{
			ID: "web", Name: "Web Experience", Type: TypeWeb, Active: true,
			Capabilities: Capabilities{RealTime: true, Personalization: true, RichMedia: true, Tracking: true},
			Constraints:  Constraints{DailyVolumeCap: 0, HourlyVolumeCap: 0}, // on-site, no volume caps
		},
		{
			ID: "ads", Name: "Paid Ads", Type: TypeAds, Active: true,
			Capabilities: Capabilities{RealTime: false, Personalization: false, RichMedia: true, Tracking: true},
			Constraints:  Constraints{MaxDailyFrequency: 10},
			Performance:  Performance{CostPerMessage: 0.05},
		},
	}
}
