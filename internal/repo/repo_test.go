package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurora/internal/db"
	"aurora/internal/domain"
	"aurora/internal/migrate"
	"aurora/internal/repo"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn, db.SQLite)
	require.NoError(t, err)
	return repo.Repo{DB: conn, Dialect: db.SQLite}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// seed creates one agent, an opportunity with two phases and one inscription at phase 1.
func seed(t *testing.T, r repo.Repo) (domain.Inscription, domain.InscriptionPhase) {
	t.Helper()
	ctx := context.Background()
	in := domain.Inscription{ID: "ins-1", AgentID: "agent-1", OpportunityID: "opp-1", CreatedAt: t0, UpdatedAt: t0}
	ip := domain.InscriptionPhase{ID: "ip-1", InscriptionID: in.ID, PhaseID: "ph-1", Status: domain.StatusPending, Version: 1, CreatedAt: t0, UpdatedAt: t0}
	err := inTx(t, r, func(tx *sql.Tx) error {
		if err := r.InsertAgent(ctx, tx, domain.Agent{ID: "agent-1", Name: "Ana", OwnerUserID: "user-1", CreatedAt: t0, UpdatedAt: t0}); err != nil {
			return err
		}
		if err := r.InsertOpportunity(ctx, tx, domain.Opportunity{ID: "opp-1", Name: "Call", Slug: "call", CreatedBy: "agent-1",
			OpenAt: t0, CloseAt: t0.Add(30 * 24 * time.Hour), CreatedAt: t0, UpdatedAt: t0}); err != nil {
			return err
		}
		for i, id := range []string{"ph-1", "ph-2"} {
			opens := t0.Add(time.Duration(i) * 7 * 24 * time.Hour)
			if err := r.InsertPhase(ctx, tx, domain.Phase{ID: id, OpportunityID: "opp-1", SequenceNumber: i + 1, Name: id,
				OpensAt: opens, ClosesAt: opens.Add(7 * 24 * time.Hour), CreatedAt: t0}); err != nil {
				return err
			}
		}
		if err := r.InsertInscription(ctx, tx, in); err != nil {
			return err
		}
		return r.InsertInscriptionPhase(ctx, tx, ip)
	})
	require.NoError(t, err)
	return in, ip
}

func TestOpportunityRoundTrip(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	o, err := r.GetOpportunity(context.Background(), "opp-1")
	require.NoError(t, err)
	assert.Equal(t, "call", o.Slug)
	assert.True(t, o.OpenAt.Equal(t0))
	require.Len(t, o.Phases, 2)
	assert.Equal(t, 1, o.Phases[0].SequenceNumber)
	assert.Equal(t, "ph-2", o.Phases[1].ID)
	assert.Equal(t, domain.StateActive, o.Lifecycle.State)
}

func TestSoftDeleteIsFilteredAtBoundary(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seed(t, r)
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		return r.SoftDeleteOpportunity(ctx, tx, "opp-1", t0.Add(time.Hour))
	}))
	_, err := r.GetOpportunity(ctx, "opp-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	items, err := r.ListOpportunities(ctx, repo.OpportunityFilters{})
	require.NoError(t, err)
	assert.Empty(t, items)

	err = inTx(t, r, func(tx *sql.Tx) error {
		return r.SoftDeleteOpportunity(ctx, tx, "opp-1", t0.Add(2*time.Hour))
	})
	assert.ErrorIs(t, err, repo.ErrNotFound, "deleting twice finds nothing")
}

func TestDuplicateActiveInscriptionPhase(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	_, ip := seed(t, r)
	dup := ip
	dup.ID = "ip-dup"
	err := inTx(t, r, func(tx *sql.Tx) error { return r.InsertInscriptionPhase(ctx, tx, dup) })
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	// after soft delete the pair may be reached again
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		return r.SoftDeleteInscriptionPhase(ctx, tx, ip.ID, ip.Version, t0.Add(time.Hour))
	}))
	assert.NoError(t, inTx(t, r, func(tx *sql.Tx) error { return r.InsertInscriptionPhase(ctx, tx, dup) }))
}

func TestUpdateStatusChecksVersion(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	_, ip := seed(t, r)
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateInscriptionPhaseStatus(ctx, tx, ip.ID, domain.StatusApproved, 1, t0.Add(time.Minute))
	}))
	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateInscriptionPhaseStatus(ctx, tx, ip.ID, domain.StatusRejected, 1, t0.Add(2*time.Minute))
	})
	assert.ErrorIs(t, err, repo.ErrVersionConflict)

	var got domain.InscriptionPhase
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		var err error
		got, err = r.GetInscriptionPhaseTx(ctx, tx, ip.ID)
		return err
	}))
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, 2, got.Version)
}

func TestCurrentPhaseAndSummaries(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	in, _ := seed(t, r)
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertInscriptionPhase(ctx, tx, domain.InscriptionPhase{ID: "ip-2", InscriptionID: in.ID, PhaseID: "ph-2",
			Status: domain.StatusWaitlisted, Version: 1, CreatedAt: t0, UpdatedAt: t0})
	}))
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		ip, p, err := r.CurrentPhaseTx(ctx, tx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, "ip-2", ip.ID)
		assert.Equal(t, 2, p.SequenceNumber)
		return nil
	}))

	items, err := r.ListInscriptionSummaries(ctx, repo.InscriptionFilters{OpportunityID: "opp-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ph-2", items[0].Current.PhaseID)
	assert.Equal(t, domain.StatusWaitlisted, items[0].Current.Status)

	phases, err := r.ListInscriptionPhases(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, "ip-1", phases[0].ID)
}

func TestAdvanceCandidates(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	_, ip := seed(t, r)
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateInscriptionPhaseStatus(ctx, tx, ip.ID, domain.StatusApproved, 1, t0)
	}))
	ids, err := r.ListAdvanceCandidates(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids, "phase 2 not open yet")

	ids, err = r.ListAdvanceCandidates(ctx, t0.Add(8*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ins-1"}, ids)
}

func TestUpdateStatusConflictWithMock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn, Dialect: db.SQLite}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE inscription_phases SET status = \?, updated_at = \?, version = version \+ 1 WHERE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := conn.Begin()
	require.NoError(t, err)
	err = r.UpdateInscriptionPhaseStatus(context.Background(), tx, "ip-1", domain.StatusApproved, 3, t0)
	assert.True(t, errors.Is(err, repo.ErrVersionConflict))
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAgentsPagination(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		for i, id := range []string{"a-1", "a-2", "a-3"} {
			created := t0.Add(time.Duration(i) * time.Minute)
			if err := r.InsertAgent(ctx, tx, domain.Agent{ID: id, Name: id, OwnerUserID: "u", CreatedAt: created, UpdatedAt: created}); err != nil {
				return err
			}
		}
		return nil
	}))
	first, err := r.ListAgents(ctx, repo.AgentFilters{OwnerUserID: "u", Page: repo.Page{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a-3", first[0].ID)
	last := first[1]
	rest, err := r.ListAgents(ctx, repo.AgentFilters{OwnerUserID: "u", Page: repo.Page{Limit: 2, CursorCreatedAt: last.CreatedAt, CursorID: last.ID}})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "a-1", rest[0].ID)
}

func TestLockPhaseHoldsRowOnPostgres(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn, Dialect: db.Postgres}

	opens := domain.FormatTime(t0)
	closes := domain.FormatTime(t0.Add(7 * 24 * time.Hour))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT p\.id, .* FROM phases p JOIN opportunities o ON o\.id = p\.opportunity_id WHERE .*p\.id = \$1.* FOR UPDATE OF p`).
		WithArgs("ph-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "opportunity_id", "sequence_number", "name", "opens_at", "closes_at", "created_at"}).
			AddRow("ph-1", "opp-1", 1, "Application", opens, closes, opens))
	mock.ExpectRollback()

	tx, err := conn.Begin()
	require.NoError(t, err)
	p, err := r.LockPhaseTx(context.Background(), tx, "ph-1")
	require.NoError(t, err)
	assert.Equal(t, "Application", p.Name)
	assert.True(t, p.OpensAt.Equal(t0))
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockPhaseOnSQLite(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	ctx := context.Background()

	err := inTx(t, r, func(tx *sql.Tx) error {
		p, err := r.LockPhaseTx(ctx, tx, "ph-2")
		require.NoError(t, err)
		assert.Equal(t, 2, p.SequenceNumber)
		_, err = r.LockPhaseTx(ctx, tx, "ph-missing")
		assert.ErrorIs(t, err, repo.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}
