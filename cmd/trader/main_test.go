package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/infra/config"
	"github.com/coachpo/quanta/internal/infra/persistence"
)

func TestResolveConfigPath(t *testing.T) {
	require.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
	require.Equal(t, filepath.Clean(defaultConfigPath), resolveConfigPath(""))
}

func TestRunStopsWhenContextIsCanceled(t *testing.T) {
	dir := t.TempDir()
	scripts := filepath.Join(dir, "strategies")
	require.NoError(t, os.Mkdir(scripts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "idle.js"), []byte(`
module.exports = {
  metadata: { name: "idle" },
  create(ctx) { return { onStart() { ctx.setTimer("tick", 60000); } }; },
};`), 0o600))

	cfgPath := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
environment: dev
trader:
  id: TRADER-042
  logLevel: warn
instruments:
  - id: BTCUSDT.SIM
    base: BTC
    quote: USDT
    pricePrecision: 2
    sizePrecision: 6
venues:
  - name: SIM
    startingBalances: ["1000 USDT"]
scripts:
  directory: `+scripts+`
`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, run(ctx, cfgPath))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("environment: moon\n"), 0o600))
	require.Error(t, run(context.Background(), cfgPath))
}

func TestBuildAPIServer(t *testing.T) {
	cfg := config.DefaultAppConfig()
	journal := persistence.NewMemoryLog()
	require.Nil(t, buildAPIServer(cfg, journal, nil))

	cfg.API.Addr = "127.0.0.1:0"
	server := buildAPIServer(cfg, journal, nil)
	require.NotNil(t, server)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), cfg.Trader.ID)
}
