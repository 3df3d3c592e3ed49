package migrate

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/agentproof/migrations"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	b, err := fs.ReadFile(migrations.FS, files[0])
	require.NoError(t, err)
	require.Contains(t, string(b), "-- +goose Up")
	require.Contains(t, string(b), "-- +goose Down")
}

func TestZapLogger_Printf(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := zapLogger{s: zap.New(core).Sugar()}
	l.Printf("applied %d migrations", 1)
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "applied 1 migrations", logs.All()[0].Message)
}
