package journey

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/omnichannel-engine/internal/personalize"
)

func TestSaveJourneyUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Now()
	j := &Journey{
		ID: "j-1", CustomerID: "cust_1", TemplateName: "welcome",
		Stage: StageAwareness, Status: StatusActive, CurrentStep: "s1",
		Steps:     []Step{{ID: "s1", Type: StepMessage, Channel: "email"}},
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO journeys").
		WithArgs("j-1", "cust_1", "welcome", StageAwareness, StatusActive, "s1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveJourney(context.Background(), j))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventInsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	at := time.Now()
	ev := Event{At: at, StepID: "s1", StepName: "welcome email", Channel: "email",
		Outcome: "sent", Content: "Hi Ada", MessageID: "msg_1"}

	mock.ExpectExec("INSERT INTO journey_events").
		WithArgs(sqlmock.AnyArg(), "j-1", "s1", "welcome email", "email", "sent", "Hi Ada", "msg_1", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.AppendEvent(context.Background(), "j-1", ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgress(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec("UPDATE journeys SET status").
		WithArgs("j-1", StatusPaused, "s2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateProgress(context.Background(), "j-1", StatusPaused, "s2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadActiveRebuildsJourneys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Now()

	steps := `[{"id":"s1","name":"welcome","type":"message","channel":"email"}]`
	profile := `{"demographics":{"first_name":"Ada"}}`

	rows := sqlmock.NewRows([]string{
		"id", "customer_id", "template_name", "stage", "status", "current_step",
		"steps", "profile", "channel_prefs", "constraints", "created_at", "updated_at",
	}).AddRow("j-1", "cust_1", "welcome", "awareness", "active", "s1",
		[]byte(steps), []byte(profile), []byte(`{}`), []byte(`{}`), now, now)

	mock.ExpectQuery("SELECT (.+) FROM journeys WHERE status IN").WillReturnRows(rows)

	loaded, err := store.LoadActive(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	j := loaded[0]
	assert.Equal(t, "cust_1", j.CustomerID)
	assert.Equal(t, StatusActive, j.Status)
	require.Len(t, j.Steps, 1)
	assert.Equal(t, StepMessage, j.Steps[0].Type)
	assert.Equal(t, "Ada", j.Profile.Demographics["first_name"])
}

func TestExecutorWritesThroughToStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rig := newTestRig(t, nil)
	rig.executor.SetStore(NewPostgresStore(db))

	mock.ExpectExec("INSERT INTO journeys").WillReturnResult(sqlmock.NewResult(0, 1))
	// Step execution: sent event, completed event, then the progress update.
	mock.ExpectExec("INSERT INTO journey_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO journey_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE journeys SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	_, err = rig.executor.CreateJourney(ctx, "cust_1", "welcome",
		[]Step{messageStep("s1", "email", "hi")}, personalize.Profile{}, nil, Constraints{})
	require.NoError(t, err)
	require.True(t, rig.executor.ProcessNext(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}
