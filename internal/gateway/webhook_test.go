package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/omnichannel-engine/internal/channel"
	"github.com/ignite/omnichannel-engine/internal/pkg/httpretry"
)

func TestWebhookGatewayDelivers(t *testing.T) {
	var received webhookPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(map[string]string{"message_id": "provider_123"})
	}))
	defer ts.Close()

	g := NewWebhookGateway(ts.URL, 1)
	ch := channel.Channel{ID: "push", Type: channel.TypePush}
	id, err := g.Deliver(context.Background(), ch, "cust_1", "hello")
	require.NoError(t, err)

	assert.Equal(t, "provider_123", id)
	assert.Equal(t, "push", received.Channel)
	assert.Equal(t, "cust_1", received.CustomerID)
	assert.Equal(t, "hello", received.Content)
}

func TestWebhookGatewayUsesGeneratedIDWithoutProviderID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	g := NewWebhookGateway(ts.URL, 1)
	id, err := g.Deliver(context.Background(), channel.Channel{ID: "web", Type: channel.TypeWeb}, "cust_1", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestWebhookGatewayRetriesTransientFailure(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	rc := httpretry.NewRetryClient(nil, 2)
	rc.SetBackoff(time.Millisecond, 10*time.Millisecond)
	g := NewWebhookGatewayWithClient(ts.URL, rc)
	_, err := g.Deliver(context.Background(), channel.Channel{ID: "push", Type: channel.TypePush}, "cust_1", "hi")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestWebhookGatewayClientErrorFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	g := NewWebhookGateway(ts.URL, 1)
	_, err := g.Deliver(context.Background(), channel.Channel{ID: "push", Type: channel.TypePush}, "cust_1", "hi")
	assert.Error(t, err)
}

func TestRouterFallsBackAndFails(t *testing.T) {
	r := NewRouter(nil)
	_, err := r.Deliver(context.Background(), channel.Channel{ID: "ads", Type: channel.TypeAds}, "cust_1", "hi")
	assert.ErrorIs(t, err, ErrNoGateway)

	r = NewRouter(LogGateway{})
	id, err := r.Deliver(context.Background(), channel.Channel{ID: "ads", Type: channel.TypeAds}, "cust_1", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
