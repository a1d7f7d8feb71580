package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
)

func TestCreateEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     CreateEvaluationRequest
		code    errors.Code
		field   string
		wantErr bool
	}{
		{name: "missing candidate id", req: CreateEvaluationRequest{CandidateName: "X", LevelPath: pathPrincipal}, wantErr: true, code: errors.ErrCodeInvalidInput, field: "candidate_id"},
		{name: "missing candidate name", req: CreateEvaluationRequest{CandidateID: "C", LevelPath: pathPrincipal}, wantErr: true, code: errors.ErrCodeInvalidInput, field: "candidate_name"},
		{name: "unknown level path", req: CreateEvaluationRequest{CandidateID: "C", CandidateName: "X", LevelPath: "Intern → CEO"}, wantErr: true, code: errors.ErrCodeInvalidInput, field: "level_path"},
		{name: "malformed level path", req: CreateEvaluationRequest{CandidateID: "C", CandidateName: "X", LevelPath: "Principal"}, wantErr: true, code: errors.ErrCodeInvalidInput},
		{name: "ascii separator", req: CreateEvaluationRequest{CandidateID: "C", CandidateName: "X", LevelPath: "Advanced Expert -> Principal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.CreatedBy = f.admin.ID
			ev, err := f.evaluations.CreateEvaluation(ctx, &req)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.code), err)
				if tt.field != "" {
					var appErr *errors.Error
					require.True(t, errors.As(err, &appErr))
					assert.Equal(t, tt.field, appErr.Field)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, pathPrincipal, ev.LevelPath)
			assert.Equal(t, "Principal", ev.TargetLevel)
			assert.Equal(t, repository.StatusOpen, ev.Status)

			d, err := f.decisions.GetDecision(ctx, ev.ID)
			require.NoError(t, err)
			assert.Equal(t, engine.Pending, d.Committee)
			assert.Equal(t, engine.Pending, d.Final)
		})
	}
}

func TestAssignEvaluator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvaluation(t, pathSeniorSpecialist, "Platform")

	evaluator, _, err := f.evaluations.RegisterEvaluator(ctx, "Sam Reviewer", "Sam.Reviewer@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "sam.reviewer", evaluator.Username)

	t.Run("role outside the weight table", func(t *testing.T) {
		_, err := f.evaluations.AssignEvaluator(ctx, &AssignEvaluatorRequest{EvaluationID: ev.ID, UserID: evaluator.ID, Role: "CEO Deputy"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
		var appErr *errors.Error
		require.True(t, errors.As(err, &appErr))
		assert.Contains(t, appErr.Details["allowed_roles"], "Second Line Manager")
	})

	t.Run("approver accounts cannot hold assignments", func(t *testing.T) {
		_, err := f.evaluations.AssignEvaluator(ctx, &AssignEvaluatorRequest{EvaluationID: ev.ID, UserID: f.approver.ID, Role: "OPD"})
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := f.evaluations.AssignEvaluator(ctx, &AssignEvaluatorRequest{EvaluationID: ev.ID, UserID: "ghost", Role: "OPD"})
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	})

	t.Run("reassigning changes the role in place", func(t *testing.T) {
		first, err := f.evaluations.AssignEvaluator(ctx, &AssignEvaluatorRequest{EvaluationID: ev.ID, UserID: evaluator.ID, Role: "OPD", AssignedBy: f.admin.ID})
		require.NoError(t, err)
		second, err := f.evaluations.AssignEvaluator(ctx, &AssignEvaluatorRequest{EvaluationID: ev.ID, UserID: evaluator.ID, Role: "Line Manager", AssignedBy: f.admin.ID})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		list, err := f.evaluations.ListAssignments(ctx, ev.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Line Manager", list[0].Role)
		assert.Contains(t, f.notifier.types(), EventEvaluationAssigned)
	})

	t.Run("hrbp accounts may be assigned", func(t *testing.T) {
		_, err := f.evaluations.AssignEvaluator(ctx, &AssignEvaluatorRequest{EvaluationID: ev.ID, UserID: f.hrbp.ID, Role: "HRBP", AssignedBy: f.admin.ID})
		require.NoError(t, err)
	})

	t.Run("closed evaluations reject assignment", func(t *testing.T) {
		closed := f.createEvaluation(t, pathSeniorSpecialist, "Platform")
		_, err := f.lifecycle.Close(ctx, closed.ID, f.admin.ID)
		require.NoError(t, err)
		_, err = f.evaluations.AssignEvaluator(ctx, &AssignEvaluatorRequest{EvaluationID: closed.ID, UserID: evaluator.ID, Role: "OPD"})
		assert.True(t, errors.Is(err, errors.ErrCodeConflict))
	})
}

func TestRegisterEvaluatorReusesAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.evaluations.RegisterEvaluator(ctx, "Sam", "sam@example.com")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := f.evaluations.RegisterEvaluator(ctx, "Samuel", "SAM@other.example")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, _, err = f.evaluations.RegisterEvaluator(ctx, "Nobody", "not-an-email")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	_, _, err = f.evaluations.RegisterEvaluator(ctx, " ", "x@example.com")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestSubmitVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.createEvaluation(t, pathSeniorSpecialist, "Platform")
	ids := f.assign(t, ev, "Line Manager")
	outsider, _, err := f.evaluations.RegisterEvaluator(ctx, "Outsider", "outsider@example.com")
	require.NoError(t, err)

	t.Run("wrong number of ratings", func(t *testing.T) {
		_, err := f.evaluations.SubmitVote(ctx, &SubmitVoteRequest{EvaluationID: ev.ID, EvaluatorID: ids[0], Ratings: all(engine.Demonstrated).Strings()[:7]})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
		assert.Contains(t, err.Error(), "got 7")
	})

	t.Run("rating outside the enumeration", func(t *testing.T) {
		r := all(engine.Demonstrated).Strings()
		r[3] = "demonstrated"
		_, err := f.evaluations.SubmitVote(ctx, &SubmitVoteRequest{EvaluationID: ev.ID, EvaluatorID: ids[0], Ratings: r})
		var appErr *errors.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "ratings[3]", appErr.Field)
	})

	t.Run("unassigned evaluator", func(t *testing.T) {
		_, err := f.evaluations.SubmitVote(ctx, &SubmitVoteRequest{EvaluationID: ev.ID, EvaluatorID: outsider.ID, Ratings: all(engine.Demonstrated).Strings()})
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	})

	t.Run("last write wins", func(t *testing.T) {
		f.vote(t, ev.ID, ids[0], all(engine.NotDemonstrated))
		comment := "revised"
		_, err := f.evaluations.SubmitVote(ctx, &SubmitVoteRequest{EvaluationID: ev.ID, EvaluatorID: ids[0], Ratings: all(engine.Demonstrated).Strings(), Comment: &comment})
		require.NoError(t, err)

		votes, err := f.evaluations.ListVotes(ctx, ev.ID)
		require.NoError(t, err)
		require.Len(t, votes, 1)
		assert.Equal(t, all(engine.Demonstrated), votes[0].Ratings)

		v, err := f.evaluations.GetVote(ctx, ev.ID, ids[0])
		require.NoError(t, err)
		require.NotNil(t, v.Comment)
		assert.Equal(t, "revised", *v.Comment)

		mine, err := f.evaluations.ListAssignedEvaluations(ctx, ids[0])
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.True(t, mine[0].Submitted)
		assert.Equal(t, "Line Manager", mine[0].Role)
	})

	t.Run("closed evaluation", func(t *testing.T) {
		_, err := f.lifecycle.Close(ctx, ev.ID, f.admin.ID)
		require.NoError(t, err)
		_, err = f.evaluations.SubmitVote(ctx, &SubmitVoteRequest{EvaluationID: ev.ID, EvaluatorID: ids[0], Ratings: all(engine.Demonstrated).Strings()})
		assert.True(t, errors.Is(err, errors.ErrCodeConflict))
	})
}

func TestListEvaluationsRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.evaluations.ListEvaluations(context.Background(), repository.EvaluationFilter{
		Statuses: []repository.Status{"ARCHIVED"},
	})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestAllowedRoles(t *testing.T) {
	f := newFixture(t)
	ev := f.createEvaluation(t, pathPrincipal, "")

	roles, err := f.evaluations.AllowedRoles(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Len(t, roles, 6)
	assert.Equal(t, "Department Deputy", roles[1].Role)
	assert.InDelta(t, 0.30, roles[1].Weight, 1e-9)

	_, err = f.evaluations.AllowedRoles(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestSetDepartments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.evaluations.SetDepartments(ctx, f.hrbp.ID, []string{" Sales ", "", "Platform"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Platform", "Sales"}, got)

	_, err = f.evaluations.SetDepartments(ctx, f.admin.ID, []string{"Sales"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}
