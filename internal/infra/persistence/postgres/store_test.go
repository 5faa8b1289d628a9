package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	dbmigrations "github.com/coachpo/quanta/db/migrations"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/infra/config"
	"github.com/coachpo/quanta/internal/infra/persistence"
	"github.com/coachpo/quanta/internal/infra/persistence/migrations"
	"github.com/coachpo/quanta/internal/infra/persistence/postgres"
)

func TestNewStoreAllowsNilPool(t *testing.T) {
	store := postgres.New(nil)
	require.NotNil(t, store)
	require.Nil(t, store.Pool())
	require.Error(t, store.Events().Append(context.Background(), events.OrderDenied{}))
}

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "quanta"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://postgres:secret@%s:%s/quanta?sslmode=disable", host, port.Port())
}

func TestEventStoreRoundTrip(t *testing.T) {
	dsn := startPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	// the listening port opens before postgres accepts queries
	require.Eventually(t, func() bool {
		return migrations.ApplyFS(ctx, dsn, dbmigrations.Files, nil) == nil
	}, 30*time.Second, 500*time.Millisecond)
	require.NoError(t, migrations.ApplyFS(ctx, dsn, dbmigrations.Files, nil))

	cfg := config.DefaultAppConfig().Database
	cfg.DSN = dsn
	store, err := postgres.Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	f := orders.NewFactory("TRADER-001", "S-001", func() model.UnixNanos { return 10 })
	o, err := f.Limit(model.MustParseInstrumentID("ETHUSDT.SIM"), model.OrderSideSell,
		decimal.RequireFromString("1.5"), decimal.RequireFromString("2500.25"), model.TimeInForceGTC)
	require.NoError(t, err)
	head := func(ts model.UnixNanos) events.OrderEventHeader {
		return events.OrderEventHeader{
			TraderID: o.TraderID(), StrategyID: o.StrategyID(), InstrumentID: o.InstrumentID(),
			ClientOrderID: o.ClientOrderID(), EventID: model.NewUUID4(), TsEvent: ts, TsInit: ts,
		}
	}
	venue := events.VenueFields{VenueOrderID: "SIM-7", AccountID: "SIM-001"}
	require.NoError(t, o.Apply(events.OrderSubmitted{OrderEventHeader: head(11), AccountID: "SIM-001"}))
	require.NoError(t, o.Apply(events.OrderAccepted{OrderEventHeader: head(12), VenueFields: venue}))
	require.NoError(t, o.Apply(events.OrderFilled{
		OrderEventHeader: head(13), VenueFields: venue, TradeID: "T-9", Side: model.OrderSideSell,
		OrderType: model.OrderTypeLimit, LastQty: decimal.RequireFromString("1.5"),
		LastPx: decimal.RequireFromString("2500.25"), Currency: "USDT",
		Commission:    &model.Money{Amount: decimal.RequireFromString("0.75"), Currency: "USDT"},
		LiquiditySide: model.LiquiditySideMaker,
	}))

	evs := store.Events()
	for _, ev := range o.Events() {
		require.NoError(t, evs.Append(ctx, ev))
	}
	// duplicates are ignored, including the fill projection
	for _, ev := range o.Events() {
		require.NoError(t, evs.Append(ctx, ev))
	}

	stored, err := evs.Events(ctx, o.ClientOrderID())
	require.NoError(t, err)
	require.Len(t, stored, 4)
	require.Equal(t, events.KindOrderInitialized, stored[0].Kind())

	rebuilt, err := persistence.Rebuild(ctx, evs, o.ClientOrderID())
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, rebuilt.Status())
	require.Equal(t, model.VenueOrderID("SIM-7"), rebuilt.VenueOrderID())

	fills, err := evs.Fills(ctx, "S-001")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, model.TradeID("T-9"), fills[0].TradeID)
	require.True(t, fills[0].LastPx.Equal(decimal.RequireFromString("2500.25")))
	require.NotNil(t, fills[0].Commission)
	require.True(t, fills[0].Commission.Equal(decimal.RequireFromString("0.75")))
}
