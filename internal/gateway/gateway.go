// Package gateway abstracts message delivery. The journey executor talks to a
// single Gateway; the Router fans out to per-channel-type implementations.
package gateway

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/ignite/omnichannel-engine/internal/channel"
)

// ErrNoGateway is returned when no gateway is configured for a channel type.
var ErrNoGateway = errors.New("no gateway configured for channel type")

// Gateway delivers one message to a customer on a channel and returns the
// provider message id.
type Gateway interface {
	Deliver(ctx context.Context, ch channel.Channel, customerID, content string) (string, error)
}

// Router dispatches delivery by channel type, falling back to a default
// gateway when no type-specific one is registered.
type Router struct {
	byType   map[channel.Type]Gateway
	fallback Gateway
}

// NewRouter creates a router with the given fallback. A nil fallback means
// unrouted channel types fail with ErrNoGateway.
func NewRouter(fallback Gateway) *Router {
	return &Router{byType: make(map[channel.Type]Gateway), fallback: fallback}
}

// Register sets the gateway for a channel type.
func (r *Router) Register(t channel.Type, g Gateway) {
	r.byType[t] = g
}

// Deliver routes to the gateway registered for the channel's type.
func (r *Router) Deliver(ctx context.Context, ch channel.Channel, customerID, content string) (string, error) {
	if g, ok := r.byType[ch.Type]; ok {
		return g.Deliver(ctx, ch, customerID, content)
	}
	if r.fallback != nil {
		return r.fallback.Deliver(ctx, ch, customerID, content)
	}
	return "", ErrNoGateway
}

// LogGateway logs deliveries instead of sending them. Default for channel
// types without a real provider.
type LogGateway struct{}

// Deliver logs the message and returns a synthetic message id.
func (LogGateway) Deliver(_ context.Context, ch channel.Channel, customerID, content string) (string, error) {
	id := uuid.New().String()
	log.Printf("[LogGateway] channel=%s customer=%s msg=%s content=%q", ch.ID, customerID, id, truncate(content, 120))
	return id, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
