package orchestrator

import (
	"time"

	"github.com/ignite/omnichannel-engine/internal/channel"
)

// ChannelMetrics is one channel's projection for dashboards.
type ChannelMetrics struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Active         bool    `json:"active"`
	Sent           int64   `json:"sent"`
	DeliveryRate   float64 `json:"delivery_rate"`
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Metrics is the read-only aggregation of engine state.
type Metrics struct {
	GeneratedAt time.Time `json:"generated_at"`

	Channels       []ChannelMetrics `json:"channels"`
	ActiveChannels int              `json:"active_channels"`

	Journeys         int            `json:"journeys"`
	JourneysByStatus map[string]int `json:"journeys_by_status"`
	QueueDepth       int            `json:"queue_depth"`
	StepsExecuted    int64          `json:"steps_executed"`
	StepErrors       int64          `json:"step_errors"`

	AttributionRecords   int     `json:"attribution_records"`
	Conversions          int     `json:"conversions"`
	TotalConversionValue float64 `json:"total_conversion_value"`
}

// GetOmnichannelMetrics projects current state into a metrics snapshot.
func (o *Orchestrator) GetOmnichannelMetrics() Metrics {
	m := Metrics{
		GeneratedAt:      time.Now(),
		JourneysByStatus: make(map[string]int),
	}

	for _, ch := range o.Registry.All() {
		m.Channels = append(m.Channels, channelMetrics(ch))
		if ch.Active {
			m.ActiveChannels++
		}
	}

	journeys := o.Executor.All()
	m.Journeys = len(journeys)
	for _, j := range journeys {
		m.JourneysByStatus[string(j.Status)]++
	}
	m.QueueDepth = o.Executor.QueueLen()
	m.StepsExecuted, m.StepErrors = o.Executor.Stats()

	records := o.Attribution.All()
	m.AttributionRecords = len(records)
	for _, rec := range records {
		if !rec.ConvertedAt.IsZero() {
			m.Conversions++
			m.TotalConversionValue += rec.ConversionValue
		}
	}
	return m
}

func channelMetrics(ch channel.Channel) ChannelMetrics {
	return ChannelMetrics{
		ID:             ch.ID,
		Name:           ch.Name,
		Active:         ch.Active,
		Sent:           ch.Performance.Sent,
		DeliveryRate:   ch.Performance.DeliveryRate,
		OpenRate:       ch.Performance.OpenRate,
		ClickRate:      ch.Performance.ClickRate,
		ConversionRate: ch.Performance.ConversionRate,
	}
}
