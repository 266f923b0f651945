package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
)

const (
	// DefaultMaxReorgBlocksDepth is the depth past which a block is treated as final.
	DefaultMaxReorgBlocksDepth = 10
	// MaxBlockRange caps the number of blocks fetched by a single follower step.
	MaxBlockRange = 1000

	BackendSQLite  = "sqlite"
	BackendPebble  = "pebble"
	BackendLevelDB = "leveldb"
)

// Config represents the complete configuration for the EntityIndexor.
type Config struct {
	// Chain contains the chain provider configuration
	Chain ChainConfig `yaml:"chain" json:"chain" toml:"chain"`

	// Follower contains the chain follower configuration
	Follower FollowerConfig `yaml:"follower" json:"follower" toml:"follower"`

	// Store contains the persisted entity store configuration
	Store StoreConfig `yaml:"store" json:"store" toml:"store"`

	// Indexers contains the configuration for all indexers
	Indexers []IndexerConfig `yaml:"indexers" json:"indexers" toml:"indexers"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the query API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`
}

// ChainConfig configures the connection to the chain data provider.
type ChainConfig struct {
	// RPCURL is the Ethereum RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// Retry contains RPC retry configuration
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.Retry == nil {
		c.Retry = &RetryConfig{}
	}
	c.Retry.ApplyDefaults()
}

// Validate checks if the chain configuration is valid.
func (c *ChainConfig) Validate() error {
	if c.RPCURL == "" {
		return errors.New("chain.rpc_url is required")
	}

	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			return fmt.Errorf("chain.retry: %w", err)
		}
	}

	return nil
}

// RetryConfig represents RPC retry configuration. The delay before retry n
// is n times Backoff, capped at MaxBackoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// Backoff is the delay unit, scaled linearly by the attempt number
	Backoff internalcommon.Duration `yaml:"backoff" json:"backoff" toml:"backoff"`

	// MaxBackoff is the maximum delay between two attempts
	MaxBackoff internalcommon.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.Backoff.Duration == 0 {
		r.Backoff = internalcommon.NewDuration(500 * time.Millisecond) //nolint:mnd
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = internalcommon.NewDuration(10 * time.Second) //nolint:mnd
	}
}

// Validate checks if the retry configuration is valid.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if r.MaxBackoff.Duration < r.Backoff.Duration {
		return errors.New("max_backoff must not be lower than backoff")
	}

	return nil
}

// FollowerConfig configures the chain follower.
type FollowerConfig struct {
	// MaxReorgBlocksDepth is the depth a block must strictly exceed before it is persisted
	MaxReorgBlocksDepth uint64 `yaml:"max_reorg_blocks_depth" json:"max_reorg_blocks_depth" toml:"max_reorg_blocks_depth"` //nolint:lll

	// StepSize is the maximum number of blocks fetched by one step
	StepSize uint64 `yaml:"step_size" json:"step_size" toml:"step_size"`

	// PollInterval is how long to wait for new blocks once the tip is reached
	PollInterval internalcommon.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// StartBlock seeds an empty store. The block at this height is taken as finalized.
	// Accepts decimal or 0x-prefixed hex.
	StartBlock string `yaml:"start_block,omitempty" json:"start_block,omitempty" toml:"start_block,omitempty"`
}

// ApplyDefaults sets default values for optional follower configuration fields.
func (f *FollowerConfig) ApplyDefaults() {
	if f.MaxReorgBlocksDepth == 0 {
		f.MaxReorgBlocksDepth = DefaultMaxReorgBlocksDepth
	}
	if f.StepSize == 0 {
		f.StepSize = MaxBlockRange
	}
	if f.PollInterval.Duration == 0 {
		f.PollInterval = internalcommon.NewDuration(12 * time.Second) //nolint:mnd
	}
}

// Validate checks if the follower configuration is valid.
func (f *FollowerConfig) Validate() error {
	if f.StepSize > MaxBlockRange {
		return fmt.Errorf("follower.step_size: must not exceed %d", MaxBlockRange)
	}

	if f.StartBlock != "" {
		if _, err := f.StartBlockNumber(); err != nil {
			return fmt.Errorf("follower.start_block: %w", err)
		}
	}

	return nil
}

// StartBlockNumber parses StartBlock. It returns nil when no start block is set.
func (f *FollowerConfig) StartBlockNumber() (*uint64, error) {
	if f.StartBlock == "" {
		return nil, nil //nolint:nilnil
	}

	n, err := internalcommon.ParseUint64orHex(f.StartBlock)
	if err != nil {
		return nil, err
	}

	return &n, nil
}

// StoreConfig configures the persisted entity store.
type StoreConfig struct {
	// Backend selects the key/value engine: "sqlite", "pebble" or "leveldb"
	Backend string `yaml:"backend" json:"backend" toml:"backend"`

	// Path is the data directory used by the pebble and leveldb backends
	Path string `yaml:"path,omitempty" json:"path,omitempty" toml:"path,omitempty"`

	// CacheSizeMB is the block cache size of the pebble and leveldb backends
	CacheSizeMB uint64 `yaml:"cache_size_mb,omitempty" json:"cache_size_mb,omitempty" toml:"cache_size_mb,omitempty"`

	// DB contains database configuration for the sqlite backend
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Maintenance contains optional sqlite maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`
}

// ApplyDefaults sets default values for optional store configuration fields.
func (s *StoreConfig) ApplyDefaults() {
	if s.Backend == "" {
		s.Backend = BackendSQLite
	}
	if s.CacheSizeMB == 0 {
		s.CacheSizeMB = 64
	}

	if s.Maintenance != nil {
		s.Maintenance.ApplyDefaults()
	}

	s.DB.ApplyDefaults()
}

// Validate checks if the store configuration is valid.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case BackendSQLite:
		if err := s.DB.Validate(); err != nil {
			return fmt.Errorf("store.db: %w", err)
		}
	case BackendPebble, BackendLevelDB:
		if s.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", s.Backend)
		}
	default:
		return fmt.Errorf("store.backend must be one of: %s, %s, %s", BackendSQLite, BackendPebble, BackendLevelDB)
	}

	if s.Maintenance != nil {
		if err := s.Maintenance.Validate(); err != nil {
			return fmt.Errorf("store.maintenance: %w", err)
		}
	}

	return nil
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		// undo-log entries must survive power loss
		d.Synchronous = "FULL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return errors.New("path is required")
	}

	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return errors.New("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return errors.New("synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval internalcommon.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = internalcommon.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return errors.New("wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components: follower, entity-store, kv-store, chain-provider,
	// maintenance, api, metrics
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[internalcommon.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return errors.New("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := internalcommon.AllComponents[internalcommon.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[internalcommon.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return internalcommon.ToLowerWithTrim(level)
	}
	return internalcommon.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return internalcommon.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return errors.New("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return errors.New("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return errors.New("path must start with '/'")
		}
	}
	return nil
}

// APIConfig configures the HTTP query API.
type APIConfig struct {
	// Enabled controls whether the API server is started
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// ReadTimeout, WriteTimeout and IdleTimeout bound each connection
	ReadTimeout  internalcommon.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout internalcommon.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	IdleTimeout  internalcommon.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// MaxPageSize caps the limit parameter of index queries
	MaxPageSize int `yaml:"max_page_size" json:"max_page_size" toml:"max_page_size"`

	// EntityCacheSize is the number of point reads memoized per request
	EntityCacheSize int `yaml:"entity_cache_size" json:"entity_cache_size" toml:"entity_cache_size"`

	// CORS configures cross-origin access
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = internalcommon.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = internalcommon.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = internalcommon.NewDuration(60 * time.Second) //nolint:mnd
	}
	if a.MaxPageSize == 0 {
		a.MaxPageSize = 1000
	}
	if a.EntityCacheSize == 0 {
		a.EntityCacheSize = 256
	}
	if a.CORS.Enabled && len(a.CORS.AllowedOrigins) == 0 {
		a.CORS.AllowedOrigins = []string{"*"}
	}
}

// Validate checks if the API configuration is valid.
func (a *APIConfig) Validate() error {
	if a.Enabled && a.ListenAddress == "" {
		return errors.New("listen_address is required when the API is enabled")
	}
	if a.MaxPageSize < 0 {
		return errors.New("max_page_size must not be negative")
	}
	if a.EntityCacheSize < 0 {
		return errors.New("entity_cache_size must not be negative")
	}

	return nil
}

// IndexerConfig represents the configuration for a single indexer instance.
type IndexerConfig struct {
	// Name is a unique identifier for this indexer
	Name string `yaml:"name" json:"name" toml:"name"`

	// Type selects a registered indexer factory (see `indexer list`)
	Type string `yaml:"type" json:"type" toml:"type"`

	// Address is the contract address the indexer follows
	Address string `yaml:"address" json:"address" toml:"address"`

	// StartBlock is the block the contract was deployed at
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`
}

// Validate checks if the indexer configuration is valid.
func (i *IndexerConfig) Validate() error {
	if i.Name == "" {
		return errors.New("name is required")
	}
	if i.Type == "" {
		return errors.New("type is required")
	}
	if !common.IsHexAddress(i.Address) {
		return fmt.Errorf("address %q is not a valid hex address", i.Address)
	}

	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Chain.ApplyDefaults()
	c.Follower.ApplyDefaults()
	c.Store.ApplyDefaults()

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}

	if c.API != nil {
		c.API.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Chain.Validate(); err != nil {
		return err
	}

	if err := c.Follower.Validate(); err != nil {
		return err
	}

	if err := c.Store.Validate(); err != nil {
		return err
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if c.API != nil {
		if err := c.API.Validate(); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	if len(c.Indexers) == 0 {
		return errors.New("at least one indexer must be configured")
	}

	names := make(map[string]struct{}, len(c.Indexers))
	for i, indexer := range c.Indexers {
		if err := indexer.Validate(); err != nil {
			return fmt.Errorf("indexer[%d]: %w", i, err)
		}

		name := strings.ToLower(indexer.Name)
		if _, dup := names[name]; dup {
			return fmt.Errorf("indexer[%d]: duplicate indexer name '%s'", i, indexer.Name)
		}
		names[name] = struct{}{}
	}

	return nil
}
