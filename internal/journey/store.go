package journey

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Store persists journeys and their history events. In-memory executor state
// stays authoritative; the store is a write-behind audit trail that also
// allows recovering journeys on restart.
type Store interface {
	SaveJourney(ctx context.Context, j *Journey) error
	AppendEvent(ctx context.Context, journeyID string, ev Event) error
	UpdateProgress(ctx context.Context, journeyID string, status Status, currentStep string) error
}

// PostgresStore implements Store over the journeys and journey_events tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveJourney upserts the full journey row. Steps, profile and preferences
// are stored as JSON.
func (s *PostgresStore) SaveJourney(ctx context.Context, j *Journey) error {
	stepsJSON, err := json.Marshal(j.Steps)
	if err != nil {
		return fmt.Errorf("marshaling steps: %w", err)
	}
	profileJSON, _ := json.Marshal(j.Profile)
	prefsJSON, _ := json.Marshal(j.ChannelPrefs)
	constraintsJSON, _ := json.Marshal(j.Constraints)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journeys (id, customer_id, template_name, stage, status, current_step, steps, profile, channel_prefs, constraints, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			stage = EXCLUDED.stage,
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			steps = EXCLUDED.steps,
			updated_at = NOW()`,
		j.ID, j.CustomerID, j.TemplateName, j.Stage, j.Status, j.CurrentStep,
		stepsJSON, profileJSON, prefsJSON, constraintsJSON, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving journey %s: %w", j.ID, err)
	}
	return nil
}

// AppendEvent inserts one history event row.
func (s *PostgresStore) AppendEvent(ctx context.Context, journeyID string, ev Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journey_events (id, journey_id, step_id, step_name, channel, outcome, content, message_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New(), journeyID, ev.StepID, ev.StepName, ev.Channel, ev.Outcome,
		ev.Content, ev.MessageID, ev.Detail, ev.At)
	if err != nil {
		return fmt.Errorf("appending event for journey %s: %w", journeyID, err)
	}
	return nil
}

// UpdateProgress updates the journey's status and current step.
func (s *PostgresStore) UpdateProgress(ctx context.Context, journeyID string, status Status, currentStep string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE journeys SET status = $2, current_step = $3, updated_at = NOW() WHERE id = $1`,
		journeyID, status, currentStep)
	if err != nil {
		return fmt.Errorf("updating journey %s: %w", journeyID, err)
	}
	return nil
}

// LoadActive returns journeys that were in flight at shutdown. Used by the
// server to rebuild executor state on restart.
func (s *PostgresStore) LoadActive(ctx context.Context) ([]*Journey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, template_name, stage, status, current_step, steps, profile, channel_prefs, constraints, created_at, updated_at
		FROM journeys WHERE status IN ('active', 'paused')`)
	if err != nil {
		return nil, fmt.Errorf("loading active journeys: %w", err)
	}
	defer rows.Close()

	var out []*Journey
	for rows.Next() {
		var j Journey
		var stepsJSON, profileJSON, prefsJSON, constraintsJSON []byte
		if err := rows.Scan(&j.ID, &j.CustomerID, &j.TemplateName, &j.Stage, &j.Status, &j.CurrentStep,
			&stepsJSON, &profileJSON, &prefsJSON, &constraintsJSON, &j.CreatedAt, &j.UpdatedAt); err != nil {
			continue
		}
		json.Unmarshal(stepsJSON, &j.Steps)
		json.Unmarshal(profileJSON, &j.Profile)
		json.Unmarshal(prefsJSON, &j.ChannelPrefs)
		json.Unmarshal(constraintsJSON, &j.Constraints)
		out = append(out, &j)
	}
	return out, rows.Err()
}
