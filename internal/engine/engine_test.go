package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"aurora/internal/config"
	"aurora/internal/db"
	"aurora/internal/domain"
	"aurora/internal/engine"
	"aurora/internal/logging"
	"aurora/internal/migrate"
	"aurora/internal/notify"
	"aurora/internal/repo"
	"aurora/internal/timeline"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type recorder struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *recorder) Notify(_ context.Context, n notify.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Event
	}
	return out
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Clock    *time.Time
	Notices  *recorder
	Agent    domain.Agent
	Opp      domain.Opportunity
	P1, P2   domain.Phase
	Reviewer string
}

// newTestEnv seeds one agent and an opportunity whose first phase is open at
// t0 and whose second phase opens seven days later.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{Ctx: context.Background(), Notices: &recorder{}, Reviewer: "reviewer-1"}
	clock := t0
	env.Clock = &clock
	eng := engine.New(conn, db.SQLite, config.Default())
	eng.Now = func() time.Time { return *env.Clock }
	eng.Logger = logging.Discard()
	eng.Notifier = env.Notices
	env.Engine = eng

	env.Agent, err = eng.CreateAgent(env.Ctx, engine.AgentInput{Name: "Ana", OwnerUserID: "user-1"}, "admin")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	env.Opp, err = eng.CreateOpportunity(env.Ctx, engine.OpportunityInput{
		Name:      "Open Call 2024",
		CreatedBy: env.Agent.ID,
		OpenAt:    t0.Add(-day),
		CloseAt:   t0.Add(30 * day),
		Phases: []engine.PhaseInput{
			{Name: "Submission", OpensAt: t0.Add(-time.Hour), ClosesAt: t0.Add(7 * day)},
			{Name: "Review", OpensAt: t0.Add(7 * day), ClosesAt: t0.Add(14 * day)},
		},
	}, "admin")
	if err != nil {
		t.Fatalf("create opportunity: %v", err)
	}
	env.P1, env.P2 = env.Opp.Phases[0], env.Opp.Phases[1]
	return env
}

func (env *testEnv) inscribe(t *testing.T) (domain.Inscription, domain.InscriptionPhase) {
	t.Helper()
	in, err := env.Engine.CreateInscription(env.Ctx, env.Agent.ID, env.Opp.ID, env.Agent.ID)
	if err != nil {
		t.Fatalf("create inscription: %v", err)
	}
	return in, in.Phases[0]
}

func (env *testEnv) timeline(t *testing.T, entityType, id string) []domain.TimelineEntry {
	t.Helper()
	var out []domain.TimelineEntry
	for e, err := range env.Engine.Reader.ListByEntity(env.Ctx, entityType, id) {
		if err != nil {
			t.Fatalf("timeline: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func requireErrorAs[T error](t *testing.T, err error) T {
	t.Helper()
	var target T
	if !errors.As(err, &target) {
		t.Fatalf("expected %T, got %v", target, err)
	}
	return target
}

func TestAdvanceBeforeNextPhaseOpens(t *testing.T) {
	env := newTestEnv(t)
	in, ip := env.inscribe(t)
	if ip.PhaseID != env.P1.ID || ip.Status != domain.StatusPending {
		t.Fatalf("first phase = %+v", ip)
	}
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer)
	pe := requireErrorAs[engine.PhaseNotOpenError](t, err)
	if pe.PhaseID != env.P2.ID {
		t.Fatalf("phase not open for %s, want %s", pe.PhaseID, env.P2.ID)
	}
	got, err := env.Engine.GetInscription(env.Ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Phases) != 1 {
		t.Fatalf("failed advance wrote phases: %+v", got.Phases)
	}
}

func TestAdvanceWhenNextPhaseOpen(t *testing.T) {
	env := newTestEnv(t)
	in, ip := env.inscribe(t)
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	*env.Clock = t0.Add(7*day + time.Hour)
	next, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if next.PhaseID != env.P2.ID || next.Status != domain.StatusPending {
		t.Fatalf("next = %+v", next)
	}
	entries := env.timeline(t, domain.EntityInscription, in.ID)
	last := entries[len(entries)-1]
	if last.Field != "phase" || last.From != env.P1.ID || last.To != env.P2.ID || last.ActorID != env.Reviewer {
		t.Fatalf("advance entry = %+v", last)
	}
	list, err := env.Engine.ListInscriptions(env.Ctx, env.Opp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Current.PhaseID != env.P2.ID || list[0].Current.Status != domain.StatusPending {
		t.Fatalf("summary = %+v", list)
	}
}

func TestAdvanceRequiresApprovedStatus(t *testing.T) {
	for _, st := range []domain.Status{domain.StatusPending, domain.StatusWaitlisted, domain.StatusRejected} {
		t.Run(string(st), func(t *testing.T) {
			env := newTestEnv(t)
			in, ip := env.inscribe(t)
			if st != domain.StatusPending {
				if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, st, env.Reviewer); err != nil {
					t.Fatal(err)
				}
			}
			*env.Clock = t0.Add(8 * day)
			_, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer)
			ne := requireErrorAs[engine.NotEligibleError](t, err)
			if ne.Status != st {
				t.Fatalf("status in error = %s", ne.Status)
			}
		})
	}
}

func TestAdvancePastLastPhase(t *testing.T) {
	env := newTestEnv(t)
	in, ip := env.inscribe(t)
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	*env.Clock = t0.Add(8 * day)
	next, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetStatus(env.Ctx, next.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Advance(env.Ctx, in.ID, env.Reviewer)
	requireErrorAs[engine.NoNextPhaseError](t, err)
}

func TestDuplicateInscription(t *testing.T) {
	env := newTestEnv(t)
	env.inscribe(t)
	_, err := env.Engine.CreateInscription(env.Ctx, env.Agent.ID, env.Opp.ID, env.Agent.ID)
	requireErrorAs[engine.DuplicateInscriptionError](t, err)
}

func TestCreateInscriptionFailures(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.CreateInscription(env.Ctx, "", env.Opp.ID, "")
	ve := requireErrorAs[engine.ValidationError](t, err)
	if len(ve.Fields) != 2 || ve.Fields[0].Field != "agent_id" || ve.Fields[1].Field != "actor_id" {
		t.Fatalf("fields = %+v", ve.Fields)
	}

	_, err = env.Engine.CreateInscription(env.Ctx, "ghost", env.Opp.ID, "x")
	nf := requireErrorAs[engine.NotFoundError](t, err)
	if nf.Entity != domain.EntityAgent {
		t.Fatalf("entity = %s", nf.Entity)
	}
	_, err = env.Engine.CreateInscription(env.Ctx, env.Agent.ID, "ghost", "x")
	requireErrorAs[engine.NotFoundError](t, err)

	*env.Clock = t0.Add(-2 * time.Hour)
	_, err = env.Engine.CreateInscription(env.Ctx, env.Agent.ID, env.Opp.ID, "x")
	requireErrorAs[engine.OpportunityClosedError](t, err)
}

func TestAdvanceAfterNextPhaseCloses(t *testing.T) {
	env := newTestEnv(t)
	in, ip := env.inscribe(t)
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	// Review runs [7d, 14d); its closing instant is already outside
	*env.Clock = t0.Add(14 * day)
	_, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer)
	pe := requireErrorAs[engine.PhaseNotOpenError](t, err)
	if pe.PhaseID != env.P2.ID {
		t.Fatalf("phase not open for %s, want %s", pe.PhaseID, env.P2.ID)
	}
	if n := len(env.timeline(t, domain.EntityInscription, in.ID)); n != 1 {
		t.Fatalf("timeline entries = %d, want only the creation", n)
	}
}

func TestCreateInscriptionAfterFirstPhaseCloses(t *testing.T) {
	env := newTestEnv(t)
	*env.Clock = t0.Add(7 * day)
	_, err := env.Engine.CreateInscription(env.Ctx, env.Agent.ID, env.Opp.ID, env.Agent.ID)
	oc := requireErrorAs[engine.OpportunityClosedError](t, err)
	if oc.OpportunityID != env.Opp.ID {
		t.Fatalf("closed opportunity = %s", oc.OpportunityID)
	}
	list, err := env.Engine.ListInscriptions(env.Ctx, env.Opp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("refused inscription was stored: %+v", list)
	}
}

func TestSetStatusOnRolledBackPhase(t *testing.T) {
	env := newTestEnv(t)
	in, ip := env.inscribe(t)
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	*env.Clock = t0.Add(8 * day)
	next, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RollbackPhase(env.Ctx, in.ID, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SetStatus(env.Ctx, next.ID, domain.StatusApproved, env.Reviewer)
	nf := requireErrorAs[engine.NotFoundError](t, err)
	if nf.Entity != domain.EntityInscriptionPhase || nf.ID != next.ID {
		t.Fatalf("not found = %+v", nf)
	}
	if n := len(env.timeline(t, domain.EntityInscriptionPhase, next.ID)); n != 0 {
		t.Fatalf("rolled-back phase got %d status entries", n)
	}
}

func TestReinscribeAfterRemoval(t *testing.T) {
	env := newTestEnv(t)
	first, _ := env.inscribe(t)
	if err := env.Engine.RemoveInscription(env.Ctx, first.ID, "admin"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	second, _ := env.inscribe(t)
	if second.ID == first.ID {
		t.Fatal("re-inscription reused the removed id")
	}
	_, err := env.Engine.CreateInscription(env.Ctx, env.Agent.ID, env.Opp.ID, env.Agent.ID)
	requireErrorAs[engine.DuplicateInscriptionError](t, err)
}

func TestSetStatusStateMachine(t *testing.T) {
	env := newTestEnv(t)
	_, ip := env.inscribe(t)

	got, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusWaitlisted, env.Reviewer)
	if err != nil || got.Status != domain.StatusWaitlisted || got.Version != 2 {
		t.Fatalf("to waitlisted: %+v %v", got, err)
	}
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusPending, env.Reviewer); err == nil {
		t.Fatal("waitlisted -> pending must fail")
	} else {
		ie := requireErrorAs[engine.IllegalTransitionError](t, err)
		if ie.From != domain.StatusWaitlisted || ie.To != domain.StatusPending {
			t.Fatalf("transition error = %+v", ie)
		}
	}
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusRejected, env.Reviewer)
	requireErrorAs[engine.IllegalTransitionError](t, err)

	_, err = env.Engine.SetStatus(env.Ctx, ip.ID, domain.Status("archived"), env.Reviewer)
	requireErrorAs[engine.ValidationError](t, err)

	_, err = env.Engine.SetStatus(env.Ctx, "ghost", domain.StatusApproved, env.Reviewer)
	requireErrorAs[engine.NotFoundError](t, err)

	entries := env.timeline(t, domain.EntityInscriptionPhase, ip.ID)
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].From != "pending" || entries[0].To != "waitlisted" || entries[1].To != "approved" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestSetSameStatusIsNoop(t *testing.T) {
	env := newTestEnv(t)
	_, ip := env.inscribe(t)
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	before := len(env.Notices.events())
	got, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer)
	if err != nil {
		t.Fatalf("same status: %v", err)
	}
	if got.Status != domain.StatusApproved || got.Version != 2 {
		t.Fatalf("no-op changed row: %+v", got)
	}
	if n := len(env.timeline(t, domain.EntityInscriptionPhase, ip.ID)); n != 1 {
		t.Fatalf("timeline entries = %d, want 1", n)
	}
	if len(env.Notices.events()) != before {
		t.Fatal("no-op must not notify")
	}
}

func TestRollbackPhase(t *testing.T) {
	env := newTestEnv(t)
	in, ip := env.inscribe(t)

	_, err := env.Engine.RollbackPhase(env.Ctx, in.ID, env.Reviewer)
	requireErrorAs[engine.NoPreviousPhaseError](t, err)

	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	*env.Clock = t0.Add(8 * day)
	if _, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	prev, err := env.Engine.RollbackPhase(env.Ctx, in.ID, env.Reviewer)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if prev.ID != ip.ID || prev.Status != domain.StatusApproved {
		t.Fatalf("current after rollback = %+v", prev)
	}
	entries := env.timeline(t, domain.EntityInscription, in.ID)
	last := entries[len(entries)-1]
	if last.From != env.P2.ID || last.To != env.P1.ID {
		t.Fatalf("compensating entry = %+v", last)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want created, advance, rollback", len(entries))
	}

	// the phase can be reached again after a rollback
	if _, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer); err != nil {
		t.Fatalf("advance again: %v", err)
	}
}

func TestConcurrentAdvanceCreatesOneRow(t *testing.T) {
	env := newTestEnv(t)
	in, ip := env.inscribe(t)
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	*env.Clock = t0.Add(8 * day)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			var ne engine.NotEligibleError
			var ce engine.ConcurrentModificationError
			if !errors.As(err, &ne) && !errors.As(err, &ce) {
				t.Errorf("unexpected advance error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("successful advances = %d, want 1", ok)
	}
	got, err := env.Engine.GetInscription(env.Ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Phases) != 2 {
		t.Fatalf("active phases = %d, want 2", len(got.Phases))
	}
}

func TestSetStatusConflictTwiceSurfacesConcurrentModification(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	eng := engine.New(conn, db.SQLite, config.Default())
	eng.Now = func() time.Time { return t0 }
	eng.Logger = logging.Discard()

	cols := []string{"id", "inscription_id", "phase_id", "status", "version", "created_at", "updated_at"}
	stamp := domain.FormatTime(t0)
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM inscription_phases ip`).
			WillReturnRows(sqlmock.NewRows(cols).AddRow("ip-1", "ins-1", "ph-1", "pending", 1, stamp, stamp))
		mock.ExpectExec(`UPDATE inscription_phases SET status`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
	}

	_, err = eng.SetStatus(context.Background(), "ip-1", domain.StatusApproved, "reviewer")
	ce := requireErrorAs[engine.ConcurrentModificationError](t, err)
	if ce.ID != "ip-1" {
		t.Fatalf("conflict id = %s", ce.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRemoveAgentRules(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.RemoveAgent(env.Ctx, env.Agent.ID, "admin")
	la := requireErrorAs[engine.LastAgentError](t, err)
	if la.OwnerUserID != "user-1" {
		t.Fatalf("owner = %s", la.OwnerUserID)
	}

	if _, err := env.Engine.CreateAgent(env.Ctx, engine.AgentInput{Name: "Second", OwnerUserID: "user-1"}, "admin"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveAgent(env.Ctx, env.Agent.ID, "admin"); err != nil {
		t.Fatalf("remove agent: %v", err)
	}
	_, err = env.Engine.GetAgent(env.Ctx, env.Agent.ID)
	requireErrorAs[engine.NotFoundError](t, err)
	_, err = env.Engine.GetOpportunity(env.Ctx, env.Opp.ID)
	requireErrorAs[engine.NotFoundError](t, err)

	err = env.Engine.RemoveAgent(env.Ctx, "ghost", "admin")
	requireErrorAs[engine.NotFoundError](t, err)
}

func TestUpdatePhaseLockedOnceReferenced(t *testing.T) {
	env := newTestEnv(t)
	name := "Final review"
	p, err := env.Engine.UpdatePhase(env.Ctx, env.P2.ID, engine.PhaseUpdate{Name: &name}, "admin")
	if err != nil || p.Name != name {
		t.Fatalf("update phase: %+v %v", p, err)
	}
	entries := env.timeline(t, domain.EntityPhase, env.P2.ID)
	if len(entries) != 1 || entries[0].From != "Review" || entries[0].To != name {
		t.Fatalf("phase entries = %+v", entries)
	}

	env.inscribe(t)
	_, err = env.Engine.UpdatePhase(env.Ctx, env.P1.ID, engine.PhaseUpdate{Name: &name}, "admin")
	requireErrorAs[engine.PhaseLockedError](t, err)
}

func TestCreateOpportunityValidation(t *testing.T) {
	env := newTestEnv(t)
	if env.Opp.Slug != "open-call-2024" {
		t.Fatalf("slug = %s", env.Opp.Slug)
	}
	if env.P1.SequenceNumber != 1 || env.P2.SequenceNumber != 2 {
		t.Fatalf("sequence numbers = %d, %d", env.P1.SequenceNumber, env.P2.SequenceNumber)
	}

	_, err := env.Engine.CreateOpportunity(env.Ctx, engine.OpportunityInput{
		Name: "Bad", CreatedBy: env.Agent.ID, OpenAt: t0, CloseAt: t0.Add(-time.Hour),
	}, "admin")
	ve := requireErrorAs[engine.ValidationError](t, err)
	fields := map[string]bool{}
	for _, f := range ve.Fields {
		fields[f.Field] = true
	}
	if !fields["close_at"] || !fields["phases"] {
		t.Fatalf("fields = %+v", ve.Fields)
	}

	_, err = env.Engine.CreateOpportunity(env.Ctx, engine.OpportunityInput{
		Name: "Out of order", CreatedBy: env.Agent.ID, OpenAt: t0, CloseAt: t0.Add(day),
		Phases: []engine.PhaseInput{
			{Name: "b", SequenceNumber: 2, OpensAt: t0, ClosesAt: t0.Add(time.Hour)},
			{Name: "a", SequenceNumber: 1, OpensAt: t0, ClosesAt: t0.Add(time.Hour)},
		},
	}, "admin")
	ve = requireErrorAs[engine.ValidationError](t, err)
	if ve.Fields[0].Field != "phases[1].sequence_number" {
		t.Fatalf("fields = %+v", ve.Fields)
	}
}

func TestUpdateOpportunityRecordsFieldChanges(t *testing.T) {
	env := newTestEnv(t)
	name := "Open Call 2025"
	closeAt := t0.Add(60 * day)
	o, err := env.Engine.UpdateOpportunity(env.Ctx, env.Opp.ID, engine.OpportunityUpdate{Name: &name, CloseAt: &closeAt}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if o.Slug != "open-call-2025" {
		t.Fatalf("slug = %s", o.Slug)
	}
	entries := env.timeline(t, domain.EntityOpportunity, env.Opp.ID)
	var fields []string
	for _, e := range entries {
		if e.Action == domain.ActionUpdated {
			fields = append(fields, e.Field)
		}
	}
	if len(fields) != 3 || fields[0] != "name" || fields[1] != "slug" || fields[2] != "close_at" {
		t.Fatalf("changed fields = %v", fields)
	}

	early := t0.Add(-10 * day)
	_, err = env.Engine.UpdateOpportunity(env.Ctx, env.Opp.ID, engine.OpportunityUpdate{CloseAt: &early}, "admin")
	requireErrorAs[engine.ValidationError](t, err)
}

func TestListInscriptionsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	first, _ := env.inscribe(t)
	other, err := env.Engine.CreateAgent(env.Ctx, engine.AgentInput{Name: "Bea", OwnerUserID: "user-2"}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	*env.Clock = t0.Add(time.Minute)
	second, err := env.Engine.CreateInscription(env.Ctx, other.ID, env.Opp.ID, other.ID)
	if err != nil {
		t.Fatal(err)
	}
	list, err := env.Engine.ListInscriptions(env.Ctx, env.Opp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("order = %+v", list)
	}
	page, err := env.Engine.ListInscriptionsPage(env.Ctx, env.Opp.ID, repo.Page{Limit: 1})
	if err != nil || len(page) != 1 {
		t.Fatalf("page = %+v %v", page, err)
	}

	if err := env.Engine.RemoveInscription(env.Ctx, second.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	list, err = env.Engine.ListInscriptions(env.Ctx, env.Opp.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("after remove = %+v %v", list, err)
	}
	// the pair may inscribe again once the old inscription is removed
	if _, err := env.Engine.CreateInscription(env.Ctx, other.ID, env.Opp.ID, other.ID); err != nil {
		t.Fatalf("re-inscribe: %v", err)
	}

	_, err = env.Engine.ListInscriptions(env.Ctx, "ghost")
	requireErrorAs[engine.NotFoundError](t, err)
}

func TestNotificationsFollowCommits(t *testing.T) {
	env := newTestEnv(t)
	in, ip := env.inscribe(t)
	if _, err := env.Engine.Advance(env.Ctx, in.ID, env.Reviewer); err == nil {
		t.Fatal("expected advance to fail")
	}
	if _, err := env.Engine.SetStatus(env.Ctx, ip.ID, domain.StatusApproved, env.Reviewer); err != nil {
		t.Fatal(err)
	}
	got := env.Notices.events()
	want := []string{"agent.created", "opportunity.created", "inscription.created", "inscription_phase.status_changed"}
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestListTimelineValidatesEntity(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.ListTimeline(env.Ctx, timeline.Query{EntityType: "project", EntityID: "x"})
	requireErrorAs[engine.ValidationError](t, err)
	items, _, err := env.Engine.ListTimeline(env.Ctx, timeline.Query{EntityType: domain.EntityAgent, EntityID: env.Agent.ID})
	if err != nil || len(items) != 1 || items[0].Action != domain.ActionCreated {
		t.Fatalf("agent timeline = %+v %v", items, err)
	}
}
