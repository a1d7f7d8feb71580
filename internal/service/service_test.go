package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miladahmadkhan/promotion-panel/internal/authz"
	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
	"github.com/miladahmadkhan/promotion-panel/internal/repository/sqlite"
	"github.com/miladahmadkhan/promotion-panel/internal/rules"
	"github.com/miladahmadkhan/promotion-panel/internal/rules/rulestest"
)

const (
	pathSeniorSpecialist = "Specialist → Senior Specialist"
	pathPrincipal        = "Advanced Expert → Principal"
)

var _ Store = (*sqlite.Store)(nil)
var _ Store = (*repository.Store)(nil)
var _ RuleSource = (*rules.Loader)(nil)

type fixedRules struct {
	table *rules.Table
}

func (f fixedRules) Table() (*rules.Table, error) { return f.table, nil }

type sentEvent struct {
	eventType    string
	evaluationID string
	actorID      string
	recipients   []string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) PublishEvaluationEvent(_ context.Context, eventType, evaluationID, actorID string, recipients []string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{eventType, evaluationID, actorID, recipients})
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.eventType
	}
	return out
}

type fixture struct {
	store       *sqlite.Store
	notifier    *recordingNotifier
	evaluations *EvaluationService
	decisions   *DecisionService
	lifecycle   *LifecycleService
	reports     *ReportService
	admin       *repository.User
	hrbp        *repository.User
	approver    *repository.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "panel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return newFixtureWithStore(t, store, store)
}

func newFixtureWithStore(t *testing.T, db *sqlite.Store, store Store) *fixture {
	t.Helper()
	log := logger.Nop()
	src := fixedRules{table: rulestest.Table(t)}
	n := &recordingNotifier{}

	decisions := NewDecisionService(store, src, log)
	f := &fixture{
		store:       db,
		notifier:    n,
		evaluations: NewEvaluationService(store, src, n, log),
		decisions:   decisions,
		lifecycle:   NewLifecycleService(store, src, decisions, n, log),
		reports:     NewReportService(store, src, decisions, log),
	}

	ctx := context.Background()
	require.NoError(t, EnsureBootstrapAccounts(ctx, store, log, []Account{
		{Username: "admin", FullName: "Admin", Email: "admin@example.com", Role: authz.RoleAdmin},
		{Username: "hrbp", FullName: "HRBP", Email: "hrbp@example.com", Role: authz.RoleHRBP},
		{Username: "approver", FullName: "Final Approver", Email: "approver@example.com", Role: authz.RoleApprover},
	}))
	var err error
	f.admin, err = db.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	f.hrbp, err = db.GetUserByUsername(ctx, "hrbp")
	require.NoError(t, err)
	f.approver, err = db.GetUserByUsername(ctx, "approver")
	require.NoError(t, err)
	return f
}

func (f *fixture) createEvaluation(t *testing.T, path, department string) *repository.Evaluation {
	t.Helper()
	ev, err := f.evaluations.CreateEvaluation(context.Background(), &CreateEvaluationRequest{
		CandidateID:   "C-100",
		CandidateName: "Jane Candidate",
		Department:    department,
		LevelPath:     path,
		CreatedBy:     f.admin.ID,
	})
	require.NoError(t, err)
	return ev
}

// assign registers one evaluator per role and assigns them. Returns the
// evaluator ids in role order.
func (f *fixture) assign(t *testing.T, ev *repository.Evaluation, roles ...string) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, len(roles))
	for i, role := range roles {
		u, _, err := f.evaluations.RegisterEvaluator(ctx, "Evaluator "+role, "eval"+string(rune('a'+i))+"@example.com")
		require.NoError(t, err)
		_, err = f.evaluations.AssignEvaluator(ctx, &AssignEvaluatorRequest{
			EvaluationID: ev.ID,
			UserID:       u.ID,
			Role:         role,
			AssignedBy:   f.admin.ID,
		})
		require.NoError(t, err)
		ids[i] = u.ID
	}
	return ids
}

func (f *fixture) vote(t *testing.T, evaluationID, evaluatorID string, r engine.Ratings) {
	t.Helper()
	_, err := f.evaluations.SubmitVote(context.Background(), &SubmitVoteRequest{
		EvaluationID: evaluationID,
		EvaluatorID:  evaluatorID,
		Ratings:      r.Strings(),
	})
	require.NoError(t, err)
}

func all(r engine.Rating) engine.Ratings {
	var out engine.Ratings
	for i := range out {
		out[i] = r
	}
	return out
}

func allExcept(r engine.Rating, idx int, other engine.Rating) engine.Ratings {
	out := all(r)
	out[idx] = other
	return out
}
