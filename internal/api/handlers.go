package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/omnichannel-engine/internal/channel"
	"github.com/ignite/omnichannel-engine/internal/journey"
	"github.com/ignite/omnichannel-engine/internal/orchestrator"
	"github.com/ignite/omnichannel-engine/internal/personalize"
	"github.com/ignite/omnichannel-engine/internal/pkg/httputil"
	"github.com/ignite/omnichannel-engine/internal/realtime"
)

// Handlers bundles the HTTP handlers over one orchestrator.
type Handlers struct {
	orch      *orchestrator.Orchestrator
	startTime time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(o *orchestrator.Orchestrator) *Handlers {
	return &Handlers{orch: o, startTime: time.Now()}
}

// HealthCheck reports liveness and queue depth.
//
//	GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status":      "healthy",
		"uptime":      time.Since(h.startTime).Round(time.Second).String(),
		"queue_depth": h.orch.Executor.QueueLen(),
	})
}

type createJourneyRequest struct {
	CustomerID  string                               `json:"customer_id"`
	Template    string                               `json:"template"`
	Profile     personalize.Profile                  `json:"profile"`
	Preferences map[string]journey.ChannelPreference `json:"channel_preferences,omitempty"`
	Constraints journey.Constraints                  `json:"constraints,omitempty"`
}

// CreateJourney instantiates a journey template for a customer.
//
//	POST /api/journeys
func (h *Handlers) CreateJourney(w http.ResponseWriter, r *http.Request) {
	var req createJourneyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.CustomerID == "" || req.Template == "" {
		httputil.BadRequest(w, "customer_id and template are required")
		return
	}

	j, err := h.orch.CreateCustomerJourney(r.Context(), req.CustomerID, req.Template,
		req.Profile, req.Preferences, req.Constraints)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnknownTemplate),
			errors.Is(err, journey.ErrUnknownChannel),
			errors.Is(err, journey.ErrNoSteps):
			httputil.BadRequest(w, err.Error())
		case errors.Is(err, journey.ErrJourneyExists):
			httputil.Conflict(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}
	httputil.Created(w, j)
}

// ListJourneys returns all journeys.
//
//	GET /api/journeys
func (h *Handlers) ListJourneys(w http.ResponseWriter, r *http.Request) {
	journeys := h.orch.GetAllJourneys()
	httputil.OK(w, map[string]any{"journeys": journeys, "count": len(journeys)})
}

// GetJourney returns one customer's journey.
//
//	GET /api/journeys/{customerID}
func (h *Handlers) GetJourney(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	j, ok := h.orch.GetCustomerJourney(customerID)
	if !ok {
		httputil.NotFound(w, "no journey for customer "+customerID)
		return
	}
	httputil.OK(w, j)
}

// PauseJourney suspends a journey.
//
//	POST /api/journeys/{journeyID}/pause
func (h *Handlers) PauseJourney(w http.ResponseWriter, r *http.Request) {
	h.journeyStatusChange(w, r, h.orch.Executor.Pause)
}

// ResumeJourney reactivates a paused journey.
//
//	POST /api/journeys/{journeyID}/resume
func (h *Handlers) ResumeJourney(w http.ResponseWriter, r *http.Request) {
	h.journeyStatusChange(w, r, h.orch.Executor.Resume)
}

// CancelJourney halts a journey permanently and drops its queued steps.
//
//	POST /api/journeys/{journeyID}/cancel
func (h *Handlers) CancelJourney(w http.ResponseWriter, r *http.Request) {
	h.journeyStatusChange(w, r, h.orch.Executor.Cancel)
}

func (h *Handlers) journeyStatusChange(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, journeyID string) error) {

	journeyID := chi.URLParam(r, "journeyID")
	if err := op(r.Context(), journeyID); err != nil {
		if errors.Is(err, journey.ErrJourneyNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.Conflict(w, err.Error())
		return
	}
	httputil.OK(w, map[string]any{"journey_id": journeyID, "ok": true})
}

// ListTemplates returns the registered journey template names.
//
//	GET /api/templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{"templates": h.orch.TemplateNames()})
}

type registerTemplateRequest struct {
	Steps []journey.Step `json:"steps"`
}

// RegisterTemplate installs or replaces a journey template.
//
//	PUT /api/templates/{name}
func (h *Handlers) RegisterTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req registerTemplateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.Steps) == 0 {
		httputil.BadRequest(w, "template needs at least one step")
		return
	}
	h.orch.RegisterJourneyTemplate(name, req.Steps)
	httputil.OK(w, map[string]any{"template": name, "steps": len(req.Steps)})
}

type recordAttributionRequest struct {
	CustomerID      string   `json:"customer_id"`
	Channel         string   `json:"channel"`
	Value           float64  `json:"value,omitempty"`
	ConversionValue *float64 `json:"conversion_value,omitempty"`
}

// RecordAttribution appends a touchpoint, optionally with a conversion.
//
//	POST /api/attribution
func (h *Handlers) RecordAttribution(w http.ResponseWriter, r *http.Request) {
	var req recordAttributionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.CustomerID == "" || req.Channel == "" {
		httputil.BadRequest(w, "customer_id and channel are required")
		return
	}

	rec, err := h.orch.RecordAttribution(req.CustomerID, req.Channel, req.Value, req.ConversionValue)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, rec)
}

// GetAttribution returns a customer's attribution record.
//
//	GET /api/attribution/{customerID}
func (h *Handlers) GetAttribution(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	rec, ok := h.orch.GetAttributionData(customerID)
	if !ok {
		httputil.NotFound(w, "no attribution data for customer "+customerID)
		return
	}
	httputil.OK(w, rec)
}

type personalizationRequest struct {
	CustomerID string           `json:"customer_id"`
	Context    realtime.Context `json:"context,omitempty"`
}

// GeneratePersonalization returns ranked experience recommendations.
//
//	POST /api/personalization
func (h *Handlers) GeneratePersonalization(w http.ResponseWriter, r *http.Request) {
	var req personalizationRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.CustomerID == "" {
		httputil.BadRequest(w, "customer_id is required")
		return
	}
	p := h.orch.GenerateRealTimePersonalization(r.Context(), req.CustomerID, req.Context)
	httputil.OK(w, p)
}

// ListChannels returns the channel catalog with rolling performance.
//
//	GET /api/channels
func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	chans := h.orch.Registry.All()
	httputil.OK(w, map[string]any{"channels": chans, "count": len(chans)})
}

type engagementRequest struct {
	Kind channel.EngagementKind `json:"kind"`
}

// RecordEngagement records a delivery/open/click/conversion/unsubscribe event
// against a channel's rolling performance.
//
//	POST /api/channels/{channelID}/engagement
func (h *Handlers) RecordEngagement(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if _, ok := h.orch.Registry.Get(channelID); !ok {
		httputil.NotFound(w, "unknown channel "+channelID)
		return
	}
	var req engagementRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	h.orch.Registry.RecordEngagement(channelID, req.Kind)
	httputil.OK(w, map[string]any{"channel": channelID, "kind": req.Kind})
}

// Metrics returns the omnichannel metrics projection.
//
//	GET /api/metrics
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.orch.GetOmnichannelMetrics())
}
