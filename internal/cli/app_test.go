package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/config"
	"backoffice/internal/lock"
	applog "backoffice/internal/log"
	"backoffice/internal/memory"
	"backoffice/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	t.Setenv("AMQP_URL", "")
	t.Setenv("REDIS_URL", "")
	cfg := config.Load()

	seed := filepath.Join(t.TempDir(), "properties.txt")
	require.NoError(t, os.WriteFile(seed, []byte(
		"# id|name|ownership|owner|email\n"+
			"lakeview|Lakeview Cabin|80|Ada|ada@owners.test\n"+
			"harbor|Harbor Loft|100|Bo|\n"), 0600))
	cfg.SeedFile = seed
	return cfg
}

func quietLogger() *applog.Logger {
	return applog.New(applog.Config{Level: slog.LevelError, Output: io.Discard})
}

func TestBuild_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	app, err := Build(ctx, cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	assert.IsType(t, &memory.Store{}, app.Data)
	assert.IsType(t, &lock.Local{}, app.Locker)
	assert.Nil(t, app.AMQP)
	assert.NoError(t, app.Ping(ctx))

	sts, err := app.Store.GetStatuses(ctx, 2024, 3)
	require.NoError(t, err)
	assert.Len(t, sts, 2)

	deps := app.ServerDeps()
	assert.NotNil(t, deps.Exporter)
	assert.Equal(t, cfg.RateLimitPerMinute, deps.RateLimitPerMinute)

	res, err := app.Exporter.ExportMonthEnd(ctx, 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Exported)
	assert.Contains(t, res.URL, "memory://spreadsheets/local")
}

func TestBuild_SQLiteBackendSeedsProperties(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.DataBackend = "sqlite"
	cfg.SQLiteDBPath = filepath.Join(t.TempDir(), "backoffice.db")

	app, err := Build(ctx, cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	assert.IsType(t, &storage.SQLiteRepository{}, app.Data)
	assert.NoError(t, app.Ping(ctx))

	p, err := app.Data.GetProperty(ctx, "lakeview")
	require.NoError(t, err)
	assert.Equal(t, "Lakeview Cabin", p.Name)
	assert.Equal(t, "ada@owners.test", p.OwnerEmail)
}

func TestBuild_RedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()

	app, err := Build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	assert.IsType(t, &lock.Redis{}, app.Locker)
	release, err := app.Locker.Acquire(context.Background(), "status:lakeview|2024|3")
	require.NoError(t, err)
	release()
}

func TestBuild_UnreachableRedisFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + addr

	_, err := Build(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestBuild_BadSeedFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.SeedFile, []byte("lakeview|Lakeview|eighty\n"), 0600))

	_, err := Build(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}
