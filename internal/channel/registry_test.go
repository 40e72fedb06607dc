package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddOverwritesSilently(t *testing.T) {
	r := NewRegistry()
	r.Add(Channel{ID: "email", Name: "Email v1", Type: TypeEmail, Active: true})
	r.Add(Channel{ID: "email", Name: "Email v2", Type: TypeEmail, Active: true})

	ch, ok := r.Get("email")
	require.True(t, ok)
	assert.Equal(t, "Email v2", ch.Name)
	assert.Len(t, r.All(), 1)
}

func TestAllReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	for _, ch := range DefaultChannels() {
		r.Add(ch)
	}

	snap := r.All()
	require.Len(t, snap, 5)
	assert.Equal(t, "email", snap[0].ID)
	assert.Equal(t, "ads", snap[4].ID)

	// Mutating the snapshot must not touch the registry.
	snap[0].Name = "mutated"
	ch, _ := r.Get("email")
	assert.Equal(t, "Email", ch.Name)
}

func TestDeactivateKeepsChannel(t *testing.T) {
	r := NewRegistry()
	r.Add(Channel{ID: "sms", Type: TypeSMS, Active: true})
	r.Deactivate("sms")

	ch, ok := r.Get("sms")
	require.True(t, ok)
	assert.False(t, ch.Active)
}

func TestEngagementRates(t *testing.T) {
	r := NewRegistry()
	r.Add(Channel{ID: "email", Type: TypeEmail, Active: true})

	for i := 0; i < 10; i++ {
		r.RecordSend("email")
	}
	for i := 0; i < 8; i++ {
		r.RecordEngagement("email", EngagementDelivered)
	}
	r.RecordEngagement("email", EngagementOpen)
	r.RecordEngagement("email", EngagementOpen)
	r.RecordEngagement("email", EngagementClick)

	ch, _ := r.Get("email")
	assert.InDelta(t, 0.8, ch.Performance.DeliveryRate, 1e-9)
	assert.InDelta(t, 0.25, ch.Performance.OpenRate, 1e-9)
	assert.InDelta(t, 0.125, ch.Performance.ClickRate, 1e-9)
}

func TestUnknownChannelIgnored(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() {
		r.RecordSend("nope")
		r.RecordEngagement("nope", EngagementOpen)
		r.Deactivate("nope")
	})
	_, ok := r.Get("nope")
	assert.False(t, ok)
}
