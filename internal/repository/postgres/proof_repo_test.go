package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
)

func TestProofRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProofRepo(db)
	ctx := context.Background()
	now := time.Now()
	p := &model.Proof{
		ID: uuid.Must(uuid.NewV4()), AgentID: uuid.Must(uuid.NewV4()), ChallengeID: uuid.Must(uuid.NewV4()),
		Token: "jwt", Difficulty: model.DifficultyEasy, TasksPassed: []model.TaskType{model.TaskCrypto, model.TaskSpeed},
		TimeTakenMs: 4000, Confidence: 0.8, IssuedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
	args := []any{p.ID, p.AgentID, p.ChallengeID, "jwt", "easy", []string{"crypto", "speed"}, int64(4000), 0.8, now, p.ExpiresAt}

	mock.ExpectExec(`INSERT INTO proofs`).WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, p))

	mock.ExpectExec(`INSERT INTO proofs`).WithArgs(args...).WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, p), errs.ErrAlreadyExists)
}

func TestProofRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProofRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now()

	cols := []string{"id", "agent_id", "challenge_id", "token", "difficulty", "tasks_passed", "time_taken_ms",
		"confidence", "issued_at", "expires_at", "verification_count", "last_verified_at", "revoked", "revoked_reason"}
	mock.ExpectQuery(`FROM proofs WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(id, uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), "jwt",
			"hard", []string{"crypto", "speed", "reasoning", "generation"}, int64(9000), 1.0, now, now.Add(time.Hour),
			int64(3), &now, true, "leaked"))
	p, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.DifficultyHard, p.Difficulty)
	require.Equal(t, model.RequiredTasks, p.TasksPassed)
	require.True(t, p.Revoked)
	require.Equal(t, int64(3), p.VerificationCount)

	mock.ExpectQuery(`FROM proofs WHERE id=\$1`).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestProofRepo_VerificationAndRevoke(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewProofRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectExec(`UPDATE proofs SET verification_count=verification_count\+1, last_verified_at=\$2 WHERE id=\$1`).
		WithArgs(id, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.RecordVerification(ctx, id, now))

	mock.ExpectExec(`UPDATE proofs SET revoked=true, revoked_reason=\$2 WHERE id=\$1`).
		WithArgs(id, "compromised").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Revoke(ctx, id, "compromised"))

	mock.ExpectExec(`UPDATE proofs SET revoked=true`).
		WithArgs(id, "again").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.Revoke(ctx, id, "again"), errs.ErrNotFound)
}
