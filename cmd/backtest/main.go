// Command backtest replays CSV market data through simulated venues and
// scripted strategies and prints the run's results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/app/execution"
	"github.com/coachpo/quanta/internal/app/scripting"
	"github.com/coachpo/quanta/internal/backtest"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/config"
	"github.com/coachpo/quanta/internal/infra/persistence"
	"github.com/coachpo/quanta/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	data       []string
	instrument string
	scriptsDir string
	strategies []string
	start      string
}

func parseFlags(argv []string) (options, error) {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	var (
		opts       options
		data       string
		strategies string
	)
	fs.StringVar(&opts.configPath, "config", "config/app.yaml", "Path to the trader configuration (defaults apply when missing)")
	fs.StringVar(&data, "data", "", "Comma separated CSV files with trades or quotes")
	fs.StringVar(&opts.instrument, "instrument", "", "Instrument for CSV rows without an instrument column (defaults to the first configured)")
	fs.StringVar(&opts.scriptsDir, "scripts", "", "Directory of JavaScript strategies (defaults to scripts.directory)")
	fs.StringVar(&strategies, "strategy", "", "Comma separated script names to run (defaults to all)")
	fs.StringVar(&opts.start, "start", "", "RFC3339 start time (defaults to the first data timestamp)")
	if err := fs.Parse(argv); err != nil {
		return options{}, err
	}
	opts.data = splitList(data)
	opts.strategies = splitList(strategies)
	if len(opts.data) == 0 {
		return options{}, errors.New("-data is required")
	}
	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func run(ctx context.Context, argv []string, stdout io.Writer) error {
	opts, err := parseFlags(argv)
	if err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(ctx, opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(os.Stderr, cfg.Trader.LogLevel, cfg.Trader.LogFormat)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	observability.SetLogger(logger)

	fallback, err := fallbackInstrument(cfg, opts.instrument)
	if err != nil {
		return err
	}
	start, err := startTime(opts, fallback)
	if err != nil {
		return err
	}

	engine, err := backtest.NewEngine(backtest.Config{
		TraderID:  model.TraderID(cfg.Trader.ID),
		StartTime: start,
		Exec: execution.Config{
			SubmitRate:  cfg.Risk.SubmitRate,
			SubmitBurst: cfg.Risk.SubmitBurst,
		},
	}, logger)
	if err != nil {
		return err
	}
	journal := persistence.NewMemoryLog()
	engine.ExecEngine().SetEventWriter(journal)

	for _, ic := range cfg.Instruments {
		inst, err := ic.Instrument()
		if err != nil {
			return err
		}
		if err := engine.AddInstrument(inst); err != nil {
			return err
		}
	}
	for _, vc := range cfg.Venues {
		ec, cc, err := backtest.VenueFromConfig(vc)
		if err != nil {
			return err
		}
		if _, _, err := engine.AddVenue(ec, cc); err != nil {
			return err
		}
	}

	actors, err := loadScripts(ctx, cfg, opts, engine, logger)
	if err != nil {
		return err
	}

	for _, path := range opts.data {
		feeder, err := backtest.NewCSVFeeder(path, fallback)
		if err != nil {
			return err
		}
		defer feeder.Close()
		engine.AddData(feeder)
	}

	res, err := engine.Run(ctx)
	report(stdout, res, journal, actors)
	return err
}

func fallbackInstrument(cfg config.AppConfig, flagValue string) (model.InstrumentID, error) {
	raw := strings.TrimSpace(flagValue)
	if raw == "" {
		if len(cfg.Instruments) == 0 {
			return model.InstrumentID{}, errors.New("no instrument configured; pass -instrument")
		}
		raw = cfg.Instruments[0].ID
	}
	return model.ParseInstrumentID(raw)
}

func startTime(opts options, fallback model.InstrumentID) (model.UnixNanos, error) {
	if opts.start != "" {
		at, err := time.Parse(time.RFC3339, opts.start)
		if err != nil {
			return 0, fmt.Errorf("parse -start: %w", err)
		}
		return model.NanosFromTime(at), nil
	}
	var earliest model.UnixNanos
	for _, path := range opts.data {
		feeder, err := backtest.NewCSVFeeder(path, fallback)
		if err != nil {
			return 0, err
		}
		first, err := feeder.Next()
		_ = feeder.Close()
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if ts := first.Timestamp(); earliest == 0 || ts < earliest {
			earliest = ts
		}
	}
	return earliest, nil
}

func loadScripts(ctx context.Context, cfg config.AppConfig, opts options, engine *backtest.Engine, logger observability.Logger) ([]*scripting.ScriptActor, error) {
	dir := opts.scriptsDir
	if dir == "" {
		dir = cfg.Scripts.Directory
	}
	if dir == "" {
		if len(opts.strategies) > 0 {
			return nil, errors.New("-strategy needs -scripts or scripts.directory")
		}
		return nil, nil
	}
	loader, err := scripting.NewLoader(dir)
	if err != nil {
		return nil, err
	}
	if err := loader.Refresh(ctx); err != nil {
		return nil, err
	}
	names := opts.strategies
	if len(names) == 0 {
		names = loader.Names()
	}
	actors := make([]*scripting.ScriptActor, 0, len(names))
	for _, name := range names {
		module, err := loader.Get(name)
		if err != nil {
			return nil, err
		}
		a, err := scripting.New(module, scripting.Config{}, engine.Bus(), logger)
		if err != nil {
			return nil, err
		}
		if err := engine.AddStrategy(a.Strategy); err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, nil
}

func report(w io.Writer, res backtest.Result, journal *persistence.MemoryLog, actors []*scripting.ScriptActor) {
	a := res.Analytics
	fmt.Fprintf(w, "iterations:     %d\n", res.Iterations)
	fmt.Fprintf(w, "window:         %s .. %s\n", res.StartNs.Time().Format(time.RFC3339), res.EndNs.Time().Format(time.RFC3339))
	fmt.Fprintf(w, "orders:         %d (filled %d)\n", a.TotalOrders, a.FilledOrders)
	fmt.Fprintf(w, "positions:      %d\n", res.Positions)
	fmt.Fprintf(w, "volume:         %s\n", a.TotalVolume)
	fmt.Fprintf(w, "commissions:    %s\n", amounts(a.Commissions))
	fmt.Fprintf(w, "realized pnl:   %s\n", amounts(a.RealizedPnL))
	fmt.Fprintf(w, "unrealized pnl: %s\n", amounts(a.UnrealizedPnL))
	fmt.Fprintf(w, "max drawdown:   %s\n", amounts(a.MaxDrawdown))
	fmt.Fprintf(w, "balances:       %s\n", amounts(a.Balances))
	fmt.Fprintf(w, "order events:   %d (%d fills)\n", journal.Len(), journal.Fills())
	for _, actor := range actors {
		fmt.Fprintf(w, "script %-8s errors=%d\n", actor.Module().Name, actor.Errors())
	}
}

// amounts renders per-currency amounts as "1.5 BTC, 100 USDT", sorted by currency.
func amounts(m map[string]decimal.Decimal) string {
	if len(m) == 0 {
		return "-"
	}
	currencies := make([]string, 0, len(m))
	for cur := range m {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)
	parts := make([]string, 0, len(currencies))
	for _, cur := range currencies {
		parts = append(parts, m[cur].String()+" "+cur)
	}
	return strings.Join(parts, ", ")
}
