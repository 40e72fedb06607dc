package channel

import "time"

// Type classifies a messaging channel.
type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
	TypePush  Type = "push"
	TypeWeb   Type = "web"
	TypeAds   Type = "ads"
)

// Capabilities flags what a channel can do.
type Capabilities struct {
	RealTime        bool `json:"real_time"`
	Personalization bool `json:"personalization"`
	RichMedia       bool `json:"rich_media"`
	Tracking        bool `json:"tracking"`
}

// Constraints holds volume and frequency limits for a channel.
type Constraints struct {
	DailyVolumeCap    int           `json:"daily_volume_cap"`
	HourlyVolumeCap   int           `json:"hourly_volume_cap"`
	MinTimeBetween    time.Duration `json:"min_time_between"`
	MaxDailyFrequency int           `json:"max_daily_frequency"`
	BlockoutHours     []int         `json:"blockout_hours,omitempty"` // UTC hours with no sends
	GeoRestrictions   []string      `json:"geo_restrictions,omitempty"`
	ComplianceTags    []string      `json:"compliance_tags,omitempty"`
}

// Performance holds rolling delivery and engagement stats. Counters feed the
// rates; rates are recomputed on each engagement event.
type Performance struct {
	Sent        int64 `json:"sent"`
	Delivered   int64 `json:"delivered"`
	Opens       int64 `json:"opens"`
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
	Unsubs      int64 `json:"unsubscribes"`

	DeliveryRate    float64 `json:"delivery_rate"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ConversionRate  float64 `json:"conversion_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`

	AvgResponseTime time.Duration `json:"avg_response_time"`
	CostPerMessage  float64       `json:"cost_per_message"`
	ROI             float64       `json:"roi"`
}

// Channel is one entry in the registry. Channels are never deleted, only
// deactivated.
type Channel struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         Type         `json:"type"`
	Active       bool         `json:"active"`
	Capabilities Capabilities `json:"capabilities"`
	Constraints  Constraints  `json:"constraints"`
	Performance  Performance  `json:"performance"`
}

// EngagementKind is a recorded engagement event against a channel.
type EngagementKind string

const (
	EngagementDelivered   EngagementKind = "delivered"
	EngagementOpen        EngagementKind = "open"
	EngagementClick       EngagementKind = "click"
	EngagementConversion  EngagementKind = "conversion"
	EngagementUnsubscribe EngagementKind = "unsubscribe"
)
