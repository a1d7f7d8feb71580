package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/database"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// openTestStore connects to PP_TEST_DATABASE_URL and applies migrations.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("PP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PP_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.NewFromURL(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db), "migrations must be idempotent")
	return NewStore(db)
}

func ratingsOf(r engine.Rating) engine.Ratings {
	var out engine.Ratings
	for i := range out {
		out[i] = r
	}
	return out
}

func seed(t *testing.T, s *Store, role string) *User {
	t.Helper()
	u := &User{Username: "u-" + uuid.NewString()[:8], FullName: "Test " + role, Email: "t@example.com", Role: role}
	created, err := s.EnsureUser(context.Background(), u)
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func TestPostgresLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	admin := seed(t, s, "ADMIN")
	evaluator := seed(t, s, "EVALUATOR")
	approver := seed(t, s, "APPROVER")

	ev := &Evaluation{
		CandidateID:   "C-" + uuid.NewString()[:6],
		CandidateName: "Jane Candidate",
		Department:    "Platform",
		LevelPath:     "Advanced Expert → Principal",
		TargetLevel:   "Principal",
		CreatedBy:     admin.ID,
	}
	require.NoError(t, s.CreateEvaluation(ctx, ev))

	d, err := s.GetDecision(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Pending, d.Committee)
	assert.Equal(t, engine.Pending, d.Final)

	a := &Assignment{EvaluationID: ev.ID, UserID: evaluator.ID, Role: "Line Manager"}
	require.NoError(t, s.UpsertAssignment(ctx, a))
	a2 := &Assignment{EvaluationID: ev.ID, UserID: evaluator.ID, Role: "HR Deputy"}
	require.NoError(t, s.UpsertAssignment(ctx, a2))
	assert.Equal(t, a.ID, a2.ID)

	list, err := s.ListAssignments(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "HR Deputy", list[0].Role)

	require.NoError(t, s.UpsertVote(ctx, &Vote{EvaluationID: ev.ID, UserID: evaluator.ID, Ratings: ratingsOf(engine.NotDemonstrated)}))
	require.NoError(t, s.UpsertVote(ctx, &Vote{EvaluationID: ev.ID, UserID: evaluator.ID, Ratings: ratingsOf(engine.Demonstrated)}))
	votes, err := s.ListVotes(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, engine.Demonstrated, votes[0].Ratings[0])

	err = s.CloseWithApproverVote(ctx, &ApproverVote{EvaluationID: ev.ID, ApproverID: approver.ID, Ratings: ratingsOf(engine.Demonstrated)}, engine.Confirmed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
	av, err := s.GetApproverVote(ctx, ev.ID)
	require.NoError(t, err)
	assert.Nil(t, av, "failed close must not leave an approver vote")

	require.NoError(t, s.UpdateStatus(ctx, ev.ID, StatusOpen, StatusReadyForApprover))
	require.NoError(t, s.CloseWithApproverVote(ctx, &ApproverVote{EvaluationID: ev.ID, ApproverID: approver.ID, Ratings: ratingsOf(engine.Demonstrated)}, engine.Confirmed))

	got, err := s.GetEvaluation(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	d, err = s.GetDecision(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Confirmed, d.Final)
	require.NotNil(t, d.DecidedBy)
	assert.Equal(t, approver.ID, *d.DecidedBy)
	assert.NotNil(t, d.DecidedAt)

	before, after := string(StatusOpen), string(StatusClosed)
	require.NoError(t, s.AppendAudit(ctx, &AuditEntry{EvaluationID: ev.ID, Action: "closed", PerformedBy: approver.ID,
		StatusBefore: &before, StatusAfter: &after, Metadata: map[string]any{"final": "Confirmed"}}))
	trail, err := s.ListAudit(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "Confirmed", trail[0].Metadata["final"])
}

func TestPostgresEnsureUserIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := seed(t, s, "HRBP")
	again := &User{Username: first.Username, FullName: "Other", Email: "x@example.com", Role: "HRBP"}
	created, err := s.EnsureUser(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, s.SetUserDepartments(ctx, first.ID, []string{"Sales", "Platform"}))
	depts, err := s.ListUserDepartments(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Platform", "Sales"}, depts)
}

func TestPostgresMissingRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetEvaluation(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	err = s.UpdateStatus(ctx, uuid.NewString(), StatusOpen, StatusClosed)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}
