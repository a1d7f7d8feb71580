package sqlite

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "panel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ratingsOf(r engine.Rating) engine.Ratings {
	var out engine.Ratings
	for i := range out {
		out[i] = r
	}
	return out
}

func seedUser(t *testing.T, s *Store, username, role string) *repository.User {
	t.Helper()
	u := &repository.User{Username: username, FullName: "User " + username, Email: username + "@example.com", Role: role}
	created, err := s.EnsureUser(context.Background(), u)
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func seedEvaluation(t *testing.T, s *Store, createdBy, department string) *repository.Evaluation {
	t.Helper()
	ev := &repository.Evaluation{
		CandidateID:   "C-1",
		CandidateName: "Jane Candidate",
		Department:    department,
		LevelPath:     "Expert → Senior Expert",
		TargetLevel:   "Senior Expert",
		CreatedBy:     createdBy,
	}
	require.NoError(t, s.CreateEvaluation(context.Background(), ev))
	return ev
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.db")
	s, err := Open(path)
	require.NoError(t, err)
	seedUser(t, s, "admin", "ADMIN")
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	u, err := s.GetUserByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", u.Role)
}

func TestCloseOnNilStore(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
}

func TestEvaluationLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	admin := seedUser(t, s, "admin", "ADMIN")
	evaluator := seedUser(t, s, "eva", "EVALUATOR")
	approver := seedUser(t, s, "appr", "APPROVER")

	ev := seedEvaluation(t, s, admin.ID, "Platform")
	assert.Equal(t, repository.StatusOpen, ev.Status)
	assert.NotEmpty(t, ev.ID)

	d, err := s.GetDecision(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Pending, d.Committee)
	assert.Equal(t, engine.Pending, d.Final)
	assert.Nil(t, d.DecidedBy)
	assert.Nil(t, d.DecidedAt)

	a := &repository.Assignment{EvaluationID: ev.ID, UserID: evaluator.ID, Role: "Line Manager"}
	require.NoError(t, s.UpsertAssignment(ctx, a))
	a2 := &repository.Assignment{EvaluationID: ev.ID, UserID: evaluator.ID, Role: "HR Deputy"}
	require.NoError(t, s.UpsertAssignment(ctx, a2))
	assert.Equal(t, a.ID, a2.ID)

	got, err := s.GetAssignment(ctx, ev.ID, evaluator.ID)
	require.NoError(t, err)
	assert.Equal(t, "HR Deputy", got.Role)
	assert.Equal(t, "eva", got.Username)

	assigned, err := s.ListAssignedEvaluations(ctx, evaluator.ID)
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.False(t, assigned[0].Submitted)

	comment := "strong quarter"
	require.NoError(t, s.UpsertVote(ctx, &repository.Vote{EvaluationID: ev.ID, UserID: evaluator.ID, Ratings: ratingsOf(engine.NotDemonstrated)}))
	require.NoError(t, s.UpsertVote(ctx, &repository.Vote{EvaluationID: ev.ID, UserID: evaluator.ID, Ratings: ratingsOf(engine.Demonstrated), Comment: &comment}))

	votes, err := s.ListVotes(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, ratingsOf(engine.Demonstrated), votes[0].Ratings)
	require.NotNil(t, votes[0].Comment)
	assert.Equal(t, comment, *votes[0].Comment)

	assigned, err = s.ListAssignedEvaluations(ctx, evaluator.ID)
	require.NoError(t, err)
	assert.True(t, assigned[0].Submitted)

	err = s.CloseWithApproverVote(ctx, &repository.ApproverVote{EvaluationID: ev.ID, ApproverID: approver.ID, Ratings: ratingsOf(engine.Demonstrated)}, engine.Confirmed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
	av, err := s.GetApproverVote(ctx, ev.ID)
	require.NoError(t, err)
	assert.Nil(t, av, "failed close must not leave an approver vote")

	require.NoError(t, s.UpdateStatus(ctx, ev.ID, repository.StatusOpen, repository.StatusReadyForApprover))
	require.NoError(t, s.CloseWithApproverVote(ctx, &repository.ApproverVote{EvaluationID: ev.ID, ApproverID: approver.ID, Ratings: ratingsOf(engine.Demonstrated)}, engine.Confirmed))

	closed, err := s.GetEvaluation(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusClosed, closed.Status)

	d, err = s.GetDecision(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Pending, d.Committee)
	assert.Equal(t, engine.Confirmed, d.Final)
	require.NotNil(t, d.DecidedBy)
	assert.Equal(t, approver.ID, *d.DecidedBy)
	assert.NotNil(t, d.DecidedAt)

	av, err = s.GetApproverVote(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, av)
	assert.Equal(t, approver.ID, av.ApproverID)
}

func TestCloseEvaluationRecordsBothDecisions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	hrbp := seedUser(t, s, "hrbp", "HRBP")
	ev := seedEvaluation(t, s, hrbp.ID, "Sales")

	require.NoError(t, s.CloseEvaluation(ctx, ev.ID, repository.StatusOpen, engine.Reject, engine.Reject, hrbp.ID))

	d, err := s.GetDecision(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Reject, d.Committee)
	assert.Equal(t, engine.Reject, d.Final)

	err = s.CloseEvaluation(ctx, ev.ID, repository.StatusOpen, engine.Confirmed, engine.Confirmed, hrbp.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))

	d, err = s.GetDecision(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.Reject, d.Final, "a rejected close must not overwrite the decision")
}

func TestSetDecisionKeepsUnsetFields(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	admin := seedUser(t, s, "admin", "ADMIN")
	ev := seedEvaluation(t, s, admin.ID, "")

	committee := engine.RecommendationOnly
	require.NoError(t, s.SetDecision(ctx, ev.ID, repository.DecisionUpdate{Committee: &committee}))

	d, err := s.GetDecision(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.RecommendationOnly, d.Committee)
	assert.Equal(t, engine.Pending, d.Final)
	assert.Nil(t, d.DecidedAt)

	err = s.SetDecision(ctx, "missing", repository.DecisionUpdate{Committee: &committee})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestListEvaluationsFilters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	admin := seedUser(t, s, "admin", "ADMIN")

	platform := seedEvaluation(t, s, admin.ID, "Platform")
	sales := seedEvaluation(t, s, admin.ID, "Sales")
	seedEvaluation(t, s, admin.ID, "Finance")
	require.NoError(t, s.UpdateStatus(ctx, sales.ID, repository.StatusOpen, repository.StatusReadyForApprover))

	all, err := s.ListEvaluations(ctx, repository.EvaluationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byDept, err := s.ListEvaluations(ctx, repository.EvaluationFilter{Departments: []string{"Platform", "Sales"}})
	require.NoError(t, err)
	assert.Len(t, byDept, 2)

	open, err := s.ListEvaluations(ctx, repository.EvaluationFilter{
		Statuses:    []repository.Status{repository.StatusOpen},
		Departments: []string{"Platform", "Sales"},
	})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, platform.ID, open[0].ID)

	page, err := s.ListEvaluations(ctx, repository.EvaluationFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestMissingRows(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.GetEvaluation(ctx, "nope")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	err = s.UpdateStatus(ctx, "nope", repository.StatusOpen, repository.StatusClosed)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = s.GetVote(ctx, "nope", "nobody")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = s.GetAssignment(ctx, "nope", "nobody")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	err = s.UpsertAssignment(ctx, &repository.Assignment{EvaluationID: "nope", UserID: "nobody", Role: "Line Manager"})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	av, err := s.GetApproverVote(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, av)
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := seedUser(t, s, "hrbp", "HRBP")
	again := &repository.User{Username: "hrbp", FullName: "Other", Email: "x@example.com", Role: "HRBP"}
	created, err := s.EnsureUser(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "User hrbp", again.FullName)

	require.NoError(t, s.SetUserDepartments(ctx, first.ID, []string{"Sales", "Platform", "Sales"}))
	depts, err := s.ListUserDepartments(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Platform", "Sales"}, depts)

	require.NoError(t, s.SetUserDepartments(ctx, first.ID, nil))
	depts, err = s.ListUserDepartments(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, depts)

	hrbps, err := s.ListUsersByRole(ctx, "HRBP")
	require.NoError(t, err)
	require.Len(t, hrbps, 1)
	assert.Equal(t, first.ID, hrbps[0].ID)
}

func TestAuditTrailIsAppendOnly(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	admin := seedUser(t, s, "admin", "ADMIN")
	ev := seedEvaluation(t, s, admin.ID, "Platform")

	before, after := string(repository.StatusOpen), string(repository.StatusClosed)
	require.NoError(t, s.AppendAudit(ctx, &repository.AuditEntry{EvaluationID: ev.ID, Action: "created", PerformedBy: admin.ID}))
	require.NoError(t, s.AppendAudit(ctx, &repository.AuditEntry{
		EvaluationID: ev.ID, Action: "closed", PerformedBy: admin.ID,
		StatusBefore: &before, StatusAfter: &after,
		Metadata: map[string]any{"final": "Confirmed"},
	}))

	trail, err := s.ListAudit(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "created", trail[0].Action)
	assert.Nil(t, trail[0].Metadata)
	assert.Equal(t, "closed", trail[1].Action)
	assert.Equal(t, "Confirmed", trail[1].Metadata["final"])
	require.NotNil(t, trail[1].StatusAfter)
	assert.Equal(t, after, *trail[1].StatusAfter)

	_, err = s.sqlDB.ExecContext(ctx, `DELETE FROM evaluation_audit_log`)
	assert.Error(t, err)
}

func TestCloseWithApproverVoteRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	s.now = func() time.Time { return time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC) }

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE evaluations`).
		WithArgs("CLOSED", sqlmock.AnyArg(), "ev-1", "READY_FOR_APPROVER").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO approver_votes`).
		WillReturnError(stderrors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.CloseWithApproverVote(context.Background(), &repository.ApproverVote{
		EvaluationID: "ev-1",
		ApproverID:   "appr-1",
		Ratings:      ratingsOf(engine.Demonstrated),
	}, engine.Confirmed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInternal))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusReportsCurrentStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	mock.ExpectExec(`UPDATE evaluations`).
		WithArgs("CLOSED", sqlmock.AnyArg(), "ev-1", "READY_FOR_APPROVER").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM evaluations`).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("CLOSED"))

	err = s.UpdateStatus(context.Background(), "ev-1", repository.StatusReadyForApprover, repository.StatusClosed)
	require.Error(t, err)

	var appErr *errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.ErrCodeConflict, appErr.Code)
	assert.Equal(t, "CLOSED", appErr.Details["current_status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
