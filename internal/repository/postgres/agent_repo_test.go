package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/agentproof/internal/errs"
	"github.com/and161185/agentproof/internal/model"
)

var agentCols = []string{"id", "name", "description", "public_key", "bio", "status", "claim_token",
	"claim_expires_at", "owner_id", "created_at"}

func TestAgentRepo_Register_ReturnsExisting(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAgentRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	existing := uuid.Must(uuid.NewV4())

	a := &model.Agent{
		ID: uuid.Must(uuid.NewV4()), Name: "bot", PublicKey: "pk", Bio: "hello", Status: model.AgentUnclaimed,
		ClaimToken: "claim", ClaimExpiresAt: now.Add(7 * 24 * time.Hour), CreatedAt: now,
	}
	mock.ExpectQuery(`INSERT INTO agents .* ON CONFLICT \(public_key\) DO UPDATE .* RETURNING id, name`).
		WithArgs(a.ID, "bot", "", "pk", "hello", "unclaimed", "claim", a.ClaimExpiresAt, now).
		WillReturnRows(pgxmock.NewRows(agentCols).
			AddRow(existing, "bot", "", "pk", "hello", "claimed", "old-claim", now, nil, now.Add(-time.Hour)))
	got, err := r.Register(ctx, a)
	require.NoError(t, err)
	require.Equal(t, existing, got.ID)
	require.Equal(t, model.AgentClaimed, got.Status)
	require.Equal(t, "old-claim", got.ClaimToken)
	require.Nil(t, got.OwnerID)
}

func TestAgentRepo_GetByID_And_RecentBios(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAgentRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	owner := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT id, name, .* FROM agents WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(agentCols).
			AddRow(id, "bot", "d", "pk", "bio", "claimed", "c", now, &owner, now))
	a, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, owner, *a.OwnerID)

	mock.ExpectQuery(`FROM agents WHERE id=\$1`).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`SELECT bio FROM agents WHERE bio<>'' ORDER BY updated_at DESC LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"bio"}).AddRow("one").AddRow("two"))
	bios, err := r.RecentBios(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, bios)
}

func TestAgentRepo_RecentBios_NoLimitReturnsAll(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAgentRepo(db)

	for _, limit := range []int{0, -1} {
		mock.ExpectQuery(`SELECT bio FROM agents WHERE bio<>'' ORDER BY updated_at DESC$`).
			WithArgs().
			WillReturnRows(pgxmock.NewRows([]string{"bio"}).AddRow("one").AddRow("two").AddRow("three"))
		bios, err := r.RecentBios(context.Background(), limit)
		require.NoError(t, err)
		require.Len(t, bios, 3, "limit %d", limit)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}
