package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurora/internal/config"
	"aurora/internal/db"
	"aurora/internal/domain"
	"aurora/internal/engine"
	"aurora/internal/logging"
	"aurora/internal/migrate"
	"aurora/internal/scheduler"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func newEngine(t *testing.T, clock *time.Time) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn, db.SQLite)
	require.NoError(t, err)
	eng := engine.New(conn, db.SQLite, config.Default())
	eng.Now = func() time.Time { return *clock }
	eng.Logger = logging.Discard()
	return eng
}

func TestSweepAdvancesReadyInscriptions(t *testing.T) {
	clock := t0
	eng := newEngine(t, &clock)
	ctx := context.Background()

	owner, err := eng.CreateAgent(ctx, engine.AgentInput{Name: "Owner", OwnerUserID: "u-0"}, "admin")
	require.NoError(t, err)
	opp, err := eng.CreateOpportunity(ctx, engine.OpportunityInput{
		Name: "Residency", CreatedBy: owner.ID, OpenAt: t0.Add(-day), CloseAt: t0.Add(30 * day),
		Phases: []engine.PhaseInput{
			{Name: "Apply", OpensAt: t0.Add(-day), ClosesAt: t0.Add(7 * day)},
			{Name: "Interview", OpensAt: t0.Add(7 * day), ClosesAt: t0.Add(14 * day)},
		},
	}, "admin")
	require.NoError(t, err)

	var approved, pending string
	for i, name := range []string{"A", "B", "C"} {
		a, err := eng.CreateAgent(ctx, engine.AgentInput{Name: name, OwnerUserID: "u-" + name}, "admin")
		require.NoError(t, err)
		in, err := eng.CreateInscription(ctx, a.ID, opp.ID, a.ID)
		require.NoError(t, err)
		switch i {
		case 0, 1:
			_, err = eng.SetStatus(ctx, in.Phases[0].ID, domain.StatusApproved, "reviewer")
			require.NoError(t, err)
			approved = in.ID
		default:
			pending = in.ID
		}
	}

	sw := scheduler.Sweeper{Engine: eng, Concurrency: 2, Logger: logging.Discard()}
	res, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.Result{}, res, "next phase not open yet")

	clock = t0.Add(8 * day)
	res, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 2, res.Advanced)

	got, err := eng.GetInscription(ctx, approved)
	require.NoError(t, err)
	require.Len(t, got.Phases, 2)
	assert.Equal(t, opp.Phases[1].ID, got.Phases[1].PhaseID)

	var last domain.TimelineEntry
	for e, err := range eng.Reader.ListByEntity(ctx, domain.EntityInscription, approved) {
		require.NoError(t, err)
		last = e
	}
	assert.Equal(t, engine.SystemActor, last.ActorID)

	got, err = eng.GetInscription(ctx, pending)
	require.NoError(t, err)
	assert.Len(t, got.Phases, 1)

	res, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates, "advanced inscriptions are pending at the new phase")
}

func TestNewRegistersJob(t *testing.T) {
	clock := t0
	eng := newEngine(t, &clock)
	sched, err := scheduler.New(context.Background(), scheduler.Sweeper{Engine: eng}, time.Hour)
	require.NoError(t, err)
	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "auto-advance", jobs[0].Name())
	require.NoError(t, sched.Shutdown())
}
