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

func TestPlatformRepo_Create_And_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPlatformRepo(db)
	ctx := context.Background()
	now := time.Now()
	p := &model.Platform{
		ID: uuid.Must(uuid.NewV4()), Name: "acme", APIKeyHash: "h", APIKeyPrefix: "ap_abcde", Tier: model.TierPro,
		MonthlyQuota: 100_000, UsageMonth: "2026-05", Active: true, CreatedAt: now,
	}
	args := []any{p.ID, "acme", "h", "ap_abcde", "pro", int64(100_000), "2026-05", true, now}

	mock.ExpectExec(`INSERT INTO platforms`).WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, p))
	mock.ExpectExec(`INSERT INTO platforms`).WithArgs(args...).WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, p), errs.ErrAlreadyExists)

	cols := []string{"id", "name", "api_key_hash", "api_key_prefix", "tier", "monthly_quota", "usage_month",
		"verifications_this_month", "verifications_total", "active", "created_at"}
	mock.ExpectQuery(`FROM platforms WHERE api_key_hash=\$1`).
		WithArgs("h").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(p.ID, "acme", "h", "ap_abcde", "pro", int64(100_000), "2026-05",
			int64(12), int64(40), true, now))
	got, err := r.GetByAPIKeyHash(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, model.TierPro, got.Tier)
	require.Equal(t, int64(12), got.VerificationsThisMonth)

	mock.ExpectQuery(`FROM platforms WHERE api_key_hash=\$1`).WithArgs("x").WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByAPIKeyHash(ctx, "x")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPlatformRepo_ConsumeQuota(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPlatformRepo(db)
	ctx := context.Background()
	now := time.Now()
	p := &model.Platform{ID: uuid.Must(uuid.NewV4()), UsageMonth: "2026-04", VerificationsThisMonth: 999}

	mock.ExpectQuery(`UPDATE platforms SET .* RETURNING verifications_this_month, verifications_total`).
		WithArgs(p.ID, "2026-05", now).
		WillReturnRows(pgxmock.NewRows([]string{"verifications_this_month", "verifications_total"}).
			AddRow(int64(1), int64(1000)))
	ok, err := r.ConsumeQuota(ctx, p, "2026-05", now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2026-05", p.UsageMonth)
	require.Equal(t, int64(1), p.VerificationsThisMonth)

	mock.ExpectQuery(`UPDATE platforms SET`).
		WithArgs(p.ID, "2026-05", now).
		WillReturnError(pgx.ErrNoRows)
	ok, err = r.ConsumeQuota(ctx, p, "2026-05", now)
	require.NoError(t, err)
	require.False(t, ok)
}
