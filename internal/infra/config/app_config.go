// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/quanta/internal/domain/model"
)

// TraderConfig identifies the trader and sets up its logging.
type TraderConfig struct {
	ID        string `yaml:"id"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// RunnerConfig sizes the live event queue.
type RunnerConfig struct {
	QueueCapacity int `yaml:"queueCapacity"`
}

// InstrumentConfig describes a spot currency pair traded by the runtime.
type InstrumentConfig struct {
	ID             string `yaml:"id"`
	Base           string `yaml:"base"`
	Quote          string `yaml:"quote"`
	PricePrecision int32  `yaml:"pricePrecision"`
	SizePrecision  int32  `yaml:"sizePrecision"`
}

// Instrument builds the model instrument.
func (c InstrumentConfig) Instrument() (model.Instrument, error) {
	id, err := model.ParseInstrumentID(c.ID)
	if err != nil {
		return model.Instrument{}, err
	}
	return model.NewCurrencyPair(id, c.Base, c.Quote, c.PricePrecision, c.SizePrecision, 0), nil
}

// VenueConfig describes a simulated venue used for backtests and paper trading.
type VenueConfig struct {
	Name             string        `yaml:"name"`
	OmsType          string        `yaml:"omsType"`
	AccountType      string        `yaml:"accountType"`
	BaseCurrency     string        `yaml:"baseCurrency"`
	StartingBalances []string      `yaml:"startingBalances"`
	FrozenAccount    bool          `yaml:"frozenAccount"`
	Routing          bool          `yaml:"routing"`
	FeeRate          string        `yaml:"feeRate"`
	SlippageBps      string        `yaml:"slippageBps"`
	Latency          time.Duration `yaml:"latency"`
}

// Balances parses StartingBalances entries of the form "<amount> <currency>".
func (c VenueConfig) Balances() ([]model.Money, error) {
	out := make([]model.Money, 0, len(c.StartingBalances))
	for _, raw := range c.StartingBalances {
		parts := strings.Fields(raw)
		if len(parts) != 2 {
			return nil, fmt.Errorf("venue %s: balance %q must be \"<amount> <currency>\"", c.Name, raw)
		}
		amount, err := decimal.NewFromString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("venue %s: balance %q: %w", c.Name, raw, err)
		}
		out = append(out, model.NewMoney(amount, strings.ToUpper(parts[1])))
	}
	return out, nil
}

// Fee returns the flat fee rate, or false when the instrument maker/taker fees apply.
func (c VenueConfig) Fee() (decimal.Decimal, bool, error) {
	if c.FeeRate == "" {
		return decimal.Zero, false, nil
	}
	rate, err := decimal.NewFromString(c.FeeRate)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("venue %s: feeRate: %w", c.Name, err)
	}
	return rate, true, nil
}

// Slippage returns the taker slippage in basis points.
func (c VenueConfig) Slippage() (decimal.Decimal, error) {
	if c.SlippageBps == "" {
		return decimal.Zero, nil
	}
	bps, err := decimal.NewFromString(c.SlippageBps)
	if err != nil {
		return decimal.Zero, fmt.Errorf("venue %s: slippageBps: %w", c.Name, err)
	}
	return bps, nil
}

func (c VenueConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name required")
	}
	switch model.OmsType(c.OmsType) {
	case model.OmsTypeNetting, model.OmsTypeHedging:
	default:
		return fmt.Errorf("venue %s: omsType must be NETTING or HEDGING", c.Name)
	}
	switch model.AccountType(c.AccountType) {
	case model.AccountTypeCash, model.AccountTypeMargin:
	default:
		return fmt.Errorf("venue %s: accountType must be CASH or MARGIN", c.Name)
	}
	balances, err := c.Balances()
	if err != nil {
		return err
	}
	if len(balances) == 0 {
		return fmt.Errorf("venue %s: startingBalances required", c.Name)
	}
	if _, _, err := c.Fee(); err != nil {
		return err
	}
	if _, err := c.Slippage(); err != nil {
		return err
	}
	if c.Latency < 0 {
		return fmt.Errorf("venue %s: latency must be >=0", c.Name)
	}
	return nil
}

// RiskConfig sets the pre-trade submit throttle.
type RiskConfig struct {
	SubmitRate  float64 `yaml:"submitRate"`
	SubmitBurst int     `yaml:"submitBurst"`
}

// StreamConfig configures the live market-data websocket client.
type StreamConfig struct {
	URL         string        `yaml:"url"`
	Venue       string        `yaml:"venue"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

// ScriptsConfig defines where JavaScript actors are discovered.
type ScriptsConfig struct {
	Directory string `yaml:"directory"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// APIConfig configures the read-only status server. An empty Addr disables it.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	Enabled           bool          `yaml:"enabled"`
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
	SinkWorkers       int           `yaml:"sinkWorkers"`
	SinkQueue         int           `yaml:"sinkQueue"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/quanta"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
	if c.SinkWorkers <= 0 {
		c.SinkWorkers = 2
	}
	if c.SinkQueue <= 0 {
		c.SinkQueue = 1024
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// AppConfig is the unified trader configuration sourced from YAML.
type AppConfig struct {
	Environment Environment        `yaml:"environment"`
	Trader      TraderConfig       `yaml:"trader"`
	Runner      RunnerConfig       `yaml:"runner"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Venues      []VenueConfig      `yaml:"venues"`
	Risk        RiskConfig         `yaml:"risk"`
	Stream      StreamConfig       `yaml:"stream"`
	Scripts     ScriptsConfig      `yaml:"scripts"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	API         APIConfig          `yaml:"api"`
	Database    DatabaseConfig     `yaml:"database"`
}

// DefaultAppConfig returns a paper-trading configuration with one simulated venue.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Venues: []VenueConfig{{
			Name:             "SIM",
			StartingBalances: []string{"100000 USDT"},
			Routing:          true,
		}},
		Instruments: []InstrumentConfig{{
			ID:             "BTCUSDT.SIM",
			Base:           "BTC",
			Quote:          "USDT",
			PricePrecision: 2,
			SizePrecision:  6,
		}},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes)
}

// Parse decodes, defaults and validates YAML configuration bytes.
func Parse(bytes []byte) (AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads configPath, falling back to DefaultAppConfig when the
// file does not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	cfg, err := Load(ctx, configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultAppConfig(), nil
	}
	return cfg, err
}

func (c *AppConfig) applyDefaults() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	c.Trader.ID = strings.TrimSpace(c.Trader.ID)
	if c.Trader.ID == "" {
		c.Trader.ID = "TRADER-001"
	}
	if c.Trader.LogLevel == "" {
		c.Trader.LogLevel = "info"
	}
	c.Trader.LogFormat = strings.ToLower(strings.TrimSpace(c.Trader.LogFormat))
	if c.Trader.LogFormat == "" {
		c.Trader.LogFormat = "text"
	}

	if c.Runner.QueueCapacity <= 0 {
		c.Runner.QueueCapacity = 4096
	}

	for i := range c.Venues {
		v := &c.Venues[i]
		v.Name = normalizeVenueName(v.Name)
		v.OmsType = strings.ToUpper(strings.TrimSpace(v.OmsType))
		if v.OmsType == "" {
			v.OmsType = string(model.OmsTypeNetting)
		}
		v.AccountType = strings.ToUpper(strings.TrimSpace(v.AccountType))
		if v.AccountType == "" {
			v.AccountType = string(model.AccountTypeCash)
		}
		v.BaseCurrency = strings.ToUpper(strings.TrimSpace(v.BaseCurrency))
	}
	if len(c.Venues) == 1 {
		c.Venues[0].Routing = true
	}

	if c.Risk.SubmitRate > 0 && c.Risk.SubmitBurst <= 0 {
		c.Risk.SubmitBurst = 1
	}

	c.Stream.URL = strings.TrimSpace(c.Stream.URL)
	c.Stream.Venue = normalizeVenueName(c.Stream.Venue)
	if c.Stream.Venue == "" && len(c.Venues) > 0 {
		c.Stream.Venue = c.Venues[0].Name
	}
	if c.Stream.DialTimeout <= 0 {
		c.Stream.DialTimeout = 10 * time.Second
	}
	if c.Stream.MaxBackoff <= 0 {
		c.Stream.MaxBackoff = 30 * time.Second
	}

	scriptDir := strings.TrimSpace(c.Scripts.Directory)
	if scriptDir != "" {
		c.Scripts.Directory = filepath.Clean(scriptDir)
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "quanta"
	}

	c.API.Addr = strings.TrimSpace(c.API.Addr)

	c.Database.applyDefaults()
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if err := model.CheckValidString(c.Trader.ID, "trader id"); err != nil {
		return err
	}
	switch c.Trader.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("trader logFormat must be text or json")
	}
	if c.Runner.QueueCapacity <= 0 {
		return fmt.Errorf("runner queueCapacity must be >0")
	}

	seenInst := make(map[string]struct{}, len(c.Instruments))
	for _, inst := range c.Instruments {
		if _, err := inst.Instrument(); err != nil {
			return fmt.Errorf("instrument %q: %w", inst.ID, err)
		}
		if inst.Quote == "" {
			return fmt.Errorf("instrument %s: quote currency required", inst.ID)
		}
		if _, ok := seenInst[inst.ID]; ok {
			return fmt.Errorf("duplicate instrument %q", inst.ID)
		}
		seenInst[inst.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(c.Venues))
	routing := 0
	for _, v := range c.Venues {
		if err := v.validate(); err != nil {
			return fmt.Errorf("venues: %w", err)
		}
		if _, ok := seen[v.Name]; ok {
			return fmt.Errorf("duplicate venue name %q", v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Routing {
			routing++
		}
	}
	if routing > 1 {
		return fmt.Errorf("at most one venue may be the routing venue")
	}

	if c.Risk.SubmitRate < 0 {
		return fmt.Errorf("risk submitRate must be >= 0")
	}
	if c.Risk.SubmitBurst < 0 {
		return fmt.Errorf("risk submitBurst must be >= 0")
	}

	if c.Stream.URL != "" && !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
		return fmt.Errorf("stream url must use ws:// or wss://")
	}

	if c.Database.Enabled {
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

// Venue returns the venue named name.
func (c AppConfig) Venue(name string) (VenueConfig, bool) {
	name = normalizeVenueName(name)
	for _, v := range c.Venues {
		if v.Name == name {
			return v, true
		}
	}
	return VenueConfig{}, false
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
