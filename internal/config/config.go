package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"irs-keeper/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig                `mapstructure:"app"`
	Logging   logging.Config           `mapstructure:"logging"`
	Database  DatabaseConfig           `mapstructure:"database"`
	Scheduler SchedulerConfig          `mapstructure:"scheduler"`
	Ethereum  EthereumConfig           `mapstructure:"ethereum"`
	Network   string                   `mapstructure:"network"`
	Networks  map[string]NetworkConfig `mapstructure:"networks"`
	Enforcer  EnforcerConfig           `mapstructure:"enforcer"`
	Scanner   ScannerConfig            `mapstructure:"scanner"`
	Positions PositionsConfig          `mapstructure:"positions"`
	Output    OutputConfig             `mapstructure:"output"`
	History   HistoryConfig            `mapstructure:"history"`
	Metrics   MetricsConfig            `mapstructure:"metrics"`
	Alerting  AlertingConfig           `mapstructure:"alerting"`
	Export    ExportConfig             `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// SchedulerConfig governs keeper round cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers signing and RPC call behaviour shared by all networks.
type EthereumConfig struct {
	PrivateKey          string        `mapstructure:"private_key"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout      time.Duration `mapstructure:"confirm_timeout"`
	GasLimit            uint64        `mapstructure:"gas_limit"`
	GasLimitMultiplier  float64       `mapstructure:"gas_limit_multiplier"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
}

// NetworkConfig is one deployment's addresses and tuning. It is selected by
// name and passed by value, never mutated after load.
type NetworkConfig struct {
	RPCURL           string             `mapstructure:"rpc_url"`
	ChainID          uint64             `mapstructure:"chain_id"`
	Periphery        string             `mapstructure:"periphery"`
	SubgraphURL      string             `mapstructure:"subgraph_url"`
	RateOracles      []RateOracleConfig `mapstructure:"rate_oracles"`
	DeploymentBlocks map[string]uint64  `mapstructure:"deployment_blocks"`
	TokenDecimals    map[string]int32   `mapstructure:"token_decimals"`
}

// RateOracleConfig is the buffer policy of one rate oracle.
type RateOracleConfig struct {
	Name                      string `mapstructure:"name"`
	Address                   string `mapstructure:"address"`
	MinBufferSize             uint64 `mapstructure:"min_buffer_size"`
	MinSecondsSinceLastUpdate uint64 `mapstructure:"min_seconds_since_last_update"`
	MaxDurationSeconds        uint64 `mapstructure:"max_duration_seconds"`
}

// EnforcerConfig tunes buffer enforcement.
type EnforcerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	DryRun      bool `mapstructure:"dry_run"`
	Concurrency int  `mapstructure:"concurrency"`
}

// ScannerConfig bounds the liquidation scanner's load on the RPC endpoint.
type ScannerConfig struct {
	Concurrency       int     `mapstructure:"concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// PositionsConfig selects where candidate positions come from.
type PositionsConfig struct {
	Source   string        `mapstructure:"source"`
	Path     string        `mapstructure:"path"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// OutputConfig controls the liquidation batch artifact.
type OutputConfig struct {
	BatchPath    string `mapstructure:"batch_path"`
	Format       string `mapstructure:"format"`
	TemplatePath string `mapstructure:"template_path"`
	SafeAddress  string `mapstructure:"safe_address"`
}

// HistoryConfig controls historical sampling.
type HistoryConfig struct {
	OutputDir     string `mapstructure:"output_dir"`
	BlockInterval uint64 `mapstructure:"block_interval"`
	TickLower     int32  `mapstructure:"tick_lower"`
	TickUpper     int32  `mapstructure:"tick_upper"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults. A non-empty
// network overrides the configured selection.
func Load(path, network string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IRSKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if network != "" {
		cfg.Network = network
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "irskeeper")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "10m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x69727363))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ethereum.request_timeout", "15s")
	v.SetDefault("ethereum.confirm_timeout", "5m")
	v.SetDefault("ethereum.gas_limit_multiplier", 1.2)
	v.SetDefault("ethereum.receipt_poll_interval", "2s")

	v.SetDefault("network", "mainnet")

	v.SetDefault("enforcer.enabled", false)
	v.SetDefault("enforcer.dry_run", false)
	v.SetDefault("enforcer.concurrency", 4)

	v.SetDefault("scanner.concurrency", 8)
	v.SetDefault("scanner.requests_per_second", 0.0)
	v.SetDefault("scanner.burst", 0)

	v.SetDefault("positions.source", "file")
	v.SetDefault("positions.path", "positions.csv")
	v.SetDefault("positions.page_size", 1000)
	v.SetDefault("positions.timeout", "15s")

	v.SetDefault("output.batch_path", "liquidatePositions.json")
	v.SetDefault("output.format", "safe")

	v.SetDefault("history.output_dir", "historicalData")
	v.SetDefault("history.block_interval", 6570)
	v.SetDefault("history.tick_lower", 0)
	v.SetDefault("history.tick_upper", 60)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9102")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. The buffer
// safety invariant is left to the enforcer so a misconfigured oracle does not
// block scanning.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Ethereum.RequestTimeout <= 0 || c.Ethereum.ConfirmTimeout <= 0 {
		return fmt.Errorf("ethereum.request_timeout and ethereum.confirm_timeout must be greater than zero")
	}

	network, err := c.ActiveNetwork()
	if err != nil {
		return err
	}
	if err := network.validate(c.Network); err != nil {
		return err
	}

	if c.Enforcer.Concurrency <= 0 {
		return fmt.Errorf("enforcer.concurrency must be greater than zero")
	}
	if c.Scanner.Concurrency <= 0 {
		return fmt.Errorf("scanner.concurrency must be greater than zero")
	}
	if c.Scanner.RequestsPerSecond < 0 || c.Scanner.Burst < 0 {
		return fmt.Errorf("scanner.requests_per_second and scanner.burst cannot be negative")
	}

	switch c.Positions.Source {
	case "file":
		if c.Positions.Path == "" {
			return fmt.Errorf("positions.path is required for the file source")
		}
	case "subgraph":
		if network.SubgraphURL == "" {
			return fmt.Errorf("networks.%s.subgraph_url is required for the subgraph source", c.Network)
		}
	case "database":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the database source")
		}
	default:
		return fmt.Errorf("positions.source %q must be one of file, subgraph, database", c.Positions.Source)
	}

	switch c.Output.Format {
	case "safe", "json":
	default:
		return fmt.Errorf("output.format %q must be safe or json", c.Output.Format)
	}
	if c.Output.SafeAddress != "" && !common.IsHexAddress(c.Output.SafeAddress) {
		return fmt.Errorf("output.safe_address %q is not an address", c.Output.SafeAddress)
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ActiveNetwork returns the selected network.
func (c *Config) ActiveNetwork() (NetworkConfig, error) {
	if c.Network == "" {
		return NetworkConfig{}, fmt.Errorf("network must be set")
	}
	network, ok := c.Networks[strings.ToLower(c.Network)]
	if !ok {
		names := make([]string, 0, len(c.Networks))
		for name := range c.Networks {
			names = append(names, name)
		}
		sort.Strings(names)
		return NetworkConfig{}, fmt.Errorf("network %q not configured (have %s)", c.Network, strings.Join(names, ", "))
	}
	return network, nil
}

func (n NetworkConfig) validate(name string) error {
	if n.RPCURL == "" {
		return fmt.Errorf("networks.%s.rpc_url is required", name)
	}
	if n.Periphery != "" && !common.IsHexAddress(n.Periphery) {
		return fmt.Errorf("networks.%s.periphery %q is not an address", name, n.Periphery)
	}

	names := make(map[string]struct{}, len(n.RateOracles))
	for i, o := range n.RateOracles {
		if o.Name == "" {
			return fmt.Errorf("networks.%s.rate_oracles[%d].name is required", name, i)
		}
		if _, dup := names[o.Name]; dup {
			return fmt.Errorf("networks.%s.rate_oracles: duplicate name %q", name, o.Name)
		}
		names[o.Name] = struct{}{}
		if !common.IsHexAddress(o.Address) {
			return fmt.Errorf("networks.%s.rate_oracles[%s].address %q is not an address", name, o.Name, o.Address)
		}
	}
	return nil
}

// DeploymentBlock returns the configured deployment block of a margin engine.
func (n NetworkConfig) DeploymentBlock(engine common.Address) (uint64, bool) {
	block, ok := n.DeploymentBlocks[strings.ToLower(engine.Hex())]
	return block, ok
}

// TokenDecimalsOverride returns configured decimals for a token, if any.
func (n NetworkConfig) TokenDecimalsOverride(token common.Address) (int32, bool) {
	d, ok := n.TokenDecimals[strings.ToLower(token.Hex())]
	return d, ok
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
