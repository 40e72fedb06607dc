package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/omnichannel-engine/internal/events"
	"github.com/ignite/omnichannel-engine/internal/journey"
	"github.com/ignite/omnichannel-engine/internal/personalize"
	"github.com/ignite/omnichannel-engine/internal/realtime"
)

func welcomeTemplate() []journey.Step {
	return []journey.Step{
		{ID: "s1", Name: "welcome email", Type: journey.StepMessage, Channel: "email",
			Content: personalize.Content{Template: "Welcome {{first_name}}!"}},
	}
}

func TestLoadJourneyTemplateUnknownFails(t *testing.T) {
	o := New(Options{})
	_, err := o.LoadJourneyTemplate("nope")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestCreateCustomerJourneyFromTemplate(t *testing.T) {
	o := New(Options{})
	o.RegisterJourneyTemplate("welcome", welcomeTemplate())

	profile := personalize.Profile{Demographics: map[string]any{"first_name": "Ada"}}
	j, err := o.CreateCustomerJourney(context.Background(), "cust_1", "welcome", profile, nil, journey.Constraints{})
	require.NoError(t, err)
	assert.Equal(t, "welcome", j.TemplateName)
	assert.Equal(t, journey.StatusActive, j.Status)

	got, ok := o.GetCustomerJourney("cust_1")
	require.True(t, ok)
	assert.Equal(t, j.ID, got.ID)
}

func TestCreateCustomerJourneyUnknownTemplate(t *testing.T) {
	o := New(Options{})
	_, err := o.CreateCustomerJourney(context.Background(), "cust_1", "missing",
		personalize.Profile{}, nil, journey.Constraints{})
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestTemplateStepsAreCopied(t *testing.T) {
	o := New(Options{})
	o.RegisterJourneyTemplate("welcome", welcomeTemplate())

	steps, err := o.LoadJourneyTemplate("welcome")
	require.NoError(t, err)
	steps[0].Channel = "sms"

	again, err := o.LoadJourneyTemplate("welcome")
	require.NoError(t, err)
	assert.Equal(t, "email", again[0].Channel)
}

func TestDefaultChannelsSeeded(t *testing.T) {
	o := New(Options{})
	chans := o.Registry.All()
	require.NotEmpty(t, chans)
	_, ok := o.Registry.Get("email")
	assert.True(t, ok)
}

func TestRecordAttributionTouchpointOnly(t *testing.T) {
	o := New(Options{})
	rec, err := o.RecordAttribution("cust_1", "email", 0, nil)
	require.NoError(t, err)
	assert.Len(t, rec.Touchpoints, 1)
	assert.Empty(t, rec.ChannelWeights)
}

func TestRecordAttributionWithConversion(t *testing.T) {
	o := New(Options{})
	var seen []events.Event
	o.Bus.SubscribeAll(func(ev events.Event) { seen = append(seen, ev) })

	_, err := o.RecordAttribution("cust_1", "email", 0, nil)
	require.NoError(t, err)
	value := 120.0
	rec, err := o.RecordAttribution("cust_1", "sms", 0, &value)
	require.NoError(t, err)

	assert.Equal(t, 120.0, rec.ConversionValue)
	sum := 0.0
	for _, w := range rec.ChannelWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	types := make([]string, 0, len(seen))
	for _, ev := range seen {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		events.AttributionRecorded,
		events.AttributionRecorded,
		events.AttributionCalculated,
	}, types)

	got, ok := o.GetAttributionData("cust_1")
	require.True(t, ok)
	assert.Equal(t, rec.ConversionValue, got.ConversionValue)
}

func TestGenerateRealTimePersonalization(t *testing.T) {
	o := New(Options{})
	o.Realtime.SetCandidates([]realtime.Experience{
		{ID: "exp_email", Channel: "email", Timing: "queued"},
	})

	p := o.GenerateRealTimePersonalization(context.Background(), "cust_1", realtime.Context{})
	require.NotNil(t, p)
	assert.Equal(t, "cust_1", p.CustomerID)
	require.NotNil(t, p.NextBest)
}

func TestOmnichannelMetricsProjection(t *testing.T) {
	o := New(Options{})
	o.RegisterJourneyTemplate("welcome", welcomeTemplate())

	ctx := context.Background()
	_, err := o.CreateCustomerJourney(ctx, "cust_1", "welcome", personalize.Profile{}, nil, journey.Constraints{})
	require.NoError(t, err)
	_, err = o.CreateCustomerJourney(ctx, "cust_2", "welcome", personalize.Profile{}, nil, journey.Constraints{})
	require.NoError(t, err)

	o.Executor.ProcessNext(ctx) // completes cust_1's single-step journey

	_, err = o.RecordAttribution("cust_1", "email", 0, nil)
	require.NoError(t, err)
	value := 75.0
	_, err = o.RecordAttribution("cust_1", "sms", 0, &value)
	require.NoError(t, err)

	m := o.GetOmnichannelMetrics()
	assert.Equal(t, 2, m.Journeys)
	assert.Equal(t, 1, m.JourneysByStatus["completed"])
	assert.Equal(t, 1, m.JourneysByStatus["active"])
	assert.Equal(t, 1, m.QueueDepth)
	assert.EqualValues(t, 1, m.StepsExecuted)
	assert.Equal(t, 1, m.AttributionRecords)
	assert.Equal(t, 1, m.Conversions)
	assert.Equal(t, 75.0, m.TotalConversionValue)
	assert.NotZero(t, m.ActiveChannels)

	var email *ChannelMetrics
	for i := range m.Channels {
		if m.Channels[i].ID == "email" {
			email = &m.Channels[i]
		}
	}
	require.NotNil(t, email)
	assert.EqualValues(t, 1, email.Sent)
}

func TestCleanupPrunesStaleState(t *testing.T) {
	o := New(Options{})
	now := time.Now()

	o.Attribution.SetClock(func() time.Time { return now.Add(-48 * time.Hour) })
	o.Attribution.RecordTouchpoint("stale", "email", 0)
	o.Attribution.SetClock(func() time.Time { return now })

	o.Cleanup(now.Add(-24 * time.Hour))
	_, ok := o.GetAttributionData("stale")
	assert.False(t, ok)
}

func TestStartStopIdempotent(t *testing.T) {
	o := New(Options{CleanupInterval: time.Hour})
	o.Start()
	o.Start()
	o.Stop()
	o.Stop()
}
