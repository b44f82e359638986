/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the platform
type Config struct {
	// configFileUsed is the path to the config file that was loaded (empty if none)
	configFileUsed string

	// LogLevel is the logging level (debug, info, warn, error)
	LogLevel string `mapstructure:"log-level" json:"logLevel"`

	// TimeZone is the IANA zone used for all scheduling decisions
	TimeZone string `mapstructure:"time-zone" json:"timeZone"`

	// Controller configuration
	Controller ControllerConfig `mapstructure:"controller" json:"controller"`

	// Executor configuration
	Executor ExecutorConfig `mapstructure:"executor" json:"executor"`

	// Monitors loading configuration
	Monitors MonitorsConfig `mapstructure:"monitors" json:"monitors"`

	// Queue configuration
	Queue QueueConfig `mapstructure:"queue" json:"queue"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage" json:"storage"`

	// API server configuration
	API APIConfig `mapstructure:"api" json:"api"`
}

// ControllerConfig configures the controller loop
type ControllerConfig struct {
	// ProcessSchedule is the cron expression for the controller tick
	ProcessSchedule string `mapstructure:"process-schedule" json:"processSchedule"`

	// Concurrency bounds the controller's per-tick monitor fan-out
	Concurrency int `mapstructure:"concurrency" json:"concurrency"`

	// Procedures configures the housekeeping procedures by name
	Procedures map[string]ProcedureConfig `mapstructure:"procedures" json:"procedures"`
}

// ProcedureConfig configures a single housekeeping procedure
type ProcedureConfig struct {
	// Schedule is the procedure's cron expression
	Schedule string `mapstructure:"schedule" json:"schedule"`

	// Params holds procedure-specific parameters
	Params map[string]any `mapstructure:"params" json:"params,omitempty"`
}

// ExecutorConfig configures the executor pool
type ExecutorConfig struct {
	// Concurrency is the number of runners consuming the queue
	Concurrency int `mapstructure:"concurrency" json:"concurrency"`

	// Sleep is how long a runner waits when the queue is empty
	Sleep time.Duration `mapstructure:"sleep" json:"sleep"`

	// MonitorTimeout is the default per-execution timeout for monitor routines
	MonitorTimeout time.Duration `mapstructure:"monitor-timeout" json:"monitorTimeout"`

	// MonitorHeartbeatTime is the interval between monitor heartbeat updates
	MonitorHeartbeatTime time.Duration `mapstructure:"monitor-heartbeat-time" json:"monitorHeartbeatTime"`

	// ReactionTimeout is the per-callback timeout for reactions
	ReactionTimeout time.Duration `mapstructure:"reaction-timeout" json:"reactionTimeout"`

	// RequestTimeout is the timeout for request actions
	RequestTimeout time.Duration `mapstructure:"request-timeout" json:"requestTimeout"`
}

// MonitorsConfig configures monitor registration and loading
type MonitorsConfig struct {
	// LoadSchedule is the cron expression for the monitors load loop
	LoadSchedule string `mapstructure:"load-schedule" json:"loadSchedule"`

	// InternalPath is the well-known path for internal monitor definitions
	InternalPath string `mapstructure:"internal-path" json:"internalPath"`

	// SamplePath is the well-known path for sample monitor definitions
	SamplePath string `mapstructure:"sample-path" json:"samplePath"`

	// LoadSamples enables registering the sample monitors at startup
	LoadSamples bool `mapstructure:"load-samples" json:"loadSamples"`

	// MaxIssuesCreation caps new issues per search execution
	MaxIssuesCreation int `mapstructure:"max-issues-creation" json:"maxIssuesCreation"`

	// LogAllEvents logs events even when no reaction is registered for them
	LogAllEvents bool `mapstructure:"log-all-events" json:"logAllEvents"`
}

// QueueConfig configures the message queue
type QueueConfig struct {
	// Type is the queue backend type (memory, redis)
	Type string `mapstructure:"type" json:"type"`

	// WaitMessageTime is how long a receive blocks waiting for a message
	WaitMessageTime time.Duration `mapstructure:"wait-message-time" json:"waitMessageTime"`

	// VisibilityTime is how long a received message stays invisible
	VisibilityTime time.Duration `mapstructure:"visibility-time" json:"visibilityTime"`

	// Redis configures the redis backend
	Redis RedisConfig `mapstructure:"redis" json:"redis,omitempty"`
}

// RedisConfig configures the redis queue backend
type RedisConfig struct {
	// Addr is the redis host:port
	Addr string `mapstructure:"addr" json:"addr,omitempty"`

	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`

	// DB is the redis database number
	DB int `mapstructure:"db" json:"db,omitempty"`
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	// Type is the storage backend type (sqlite, postgres, mysql)
	Type string `mapstructure:"type" json:"type"`

	// SQLite configuration
	SQLite SQLiteConfig `mapstructure:"sqlite" json:"sqlite,omitempty"`

	// PostgreSQL configuration
	PostgreSQL PostgreSQLConfig `mapstructure:"postgres" json:"postgres,omitempty"`

	// MySQL configuration
	MySQL MySQLConfig `mapstructure:"mysql" json:"mysql,omitempty"`

	// AcquireTimeout bounds connection acquisition
	AcquireTimeout time.Duration `mapstructure:"acquire-timeout" json:"acquireTimeout"`

	// QueryTimeout bounds individual queries
	QueryTimeout time.Duration `mapstructure:"query-timeout" json:"queryTimeout"`

	// CloseTimeout bounds the shutdown drain
	CloseTimeout time.Duration `mapstructure:"close-timeout" json:"closeTimeout"`

	// Pools holds connection pool settings keyed by logical pool name
	Pools map[string]PoolConfig `mapstructure:"pools" json:"pools,omitempty"`
}

// PoolConfig holds connection pool settings for one logical pool
type PoolConfig struct {
	MaxIdleConns    int           `mapstructure:"max-idle-conns" json:"maxIdleConns"`
	MaxOpenConns    int           `mapstructure:"max-open-conns" json:"maxOpenConns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime" json:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn-max-idle-time" json:"connMaxIdleTime"`
}

// SQLiteConfig configures SQLite storage
type SQLiteConfig struct {
	// Path to database file
	Path string `mapstructure:"path" json:"path"`
}

// PostgreSQLConfig configures PostgreSQL storage
type PostgreSQLConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port,omitempty"`
	Database string `mapstructure:"database" json:"database,omitempty"`
	Username string `mapstructure:"username" json:"username,omitempty"`

	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`

	SSLMode string `mapstructure:"ssl-mode" json:"sslMode,omitempty"`
}

// MySQLConfig configures MySQL/MariaDB storage
type MySQLConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port,omitempty"`
	Database string `mapstructure:"database" json:"database,omitempty"`
	Username string `mapstructure:"username" json:"username,omitempty"`

	// Password for authentication (omitted from JSON for security)
	Password string `mapstructure:"password" json:"-"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	// Enabled turns on the admin API server
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Port for the API server
	Port int `mapstructure:"port" json:"port"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		TimeZone: "UTC",
		Controller: ControllerConfig{
			ProcessSchedule: "* * * * *",
			Concurrency:     10,
			Procedures: map[string]ProcedureConfig{
				"monitors_stuck": {
					Schedule: "*/5 * * * *",
					Params:   map[string]any{"time_tolerance": 300},
				},
				"notifications_alert_solved": {
					Schedule: "*/5 * * * *",
				},
				"clean_events": {
					Schedule: "0 3 * * *",
					Params:   map[string]any{"retention_days": 7},
				},
			},
		},
		Executor: ExecutorConfig{
			Concurrency:          4,
			Sleep:                2 * time.Second,
			MonitorTimeout:       60 * time.Second,
			MonitorHeartbeatTime: 5 * time.Second,
			ReactionTimeout:      10 * time.Second,
			RequestTimeout:       10 * time.Second,
		},
		Monitors: MonitorsConfig{
			LoadSchedule:      "* * * * *",
			InternalPath:      "internal_monitors",
			SamplePath:        "sample_monitors",
			LoadSamples:       false,
			MaxIssuesCreation: 100,
			LogAllEvents:      false,
		},
		Queue: QueueConfig{
			Type:            "memory",
			WaitMessageTime: 2 * time.Second,
			VisibilityTime:  15 * time.Second,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "/data/vigilant.db",
			},
			PostgreSQL: PostgreSQLConfig{
				Port:    5432,
				SSLMode: "require",
			},
			MySQL: MySQLConfig{
				Port: 3306,
			},
			AcquireTimeout: 10 * time.Second,
			QueryTimeout:   30 * time.Second,
			CloseTimeout:   10 * time.Second,
			Pools: map[string]PoolConfig{
				"application": {
					MaxIdleConns:    5,
					MaxOpenConns:    20,
					ConnMaxLifetime: 30 * time.Minute,
					ConnMaxIdleTime: 5 * time.Minute,
				},
			},
		},
		API: APIConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// BindFlags binds configuration flags to pflags
func BindFlags(flags *pflag.FlagSet) {
	// Top-level
	flags.String("config", "", "Path to config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("time-zone", "UTC", "IANA time zone for scheduling decisions")

	// Controller
	flags.String("controller.process-schedule", "* * * * *", "Cron expression for the controller tick")
	flags.Int("controller.concurrency", 10, "Controller per-tick monitor fan-out limit")

	// Executor
	flags.Int("executor.concurrency", 4, "Number of executor runners")
	flags.Duration("executor.sleep", 2*time.Second, "Runner sleep when the queue is empty")
	flags.Duration("executor.monitor-timeout", 60*time.Second, "Default monitor execution timeout")
	flags.Duration("executor.monitor-heartbeat-time", 5*time.Second, "Monitor heartbeat interval")
	flags.Duration("executor.reaction-timeout", 10*time.Second, "Per-callback reaction timeout")
	flags.Duration("executor.request-timeout", 10*time.Second, "Request action timeout")

	// Monitors
	flags.String("monitors.load-schedule", "* * * * *", "Cron expression for the monitors load loop")
	flags.String("monitors.internal-path", "internal_monitors", "Path for internal monitor definitions")
	flags.String("monitors.sample-path", "sample_monitors", "Path for sample monitor definitions")
	flags.Bool("monitors.load-samples", false, "Register sample monitors at startup")
	flags.Int("monitors.max-issues-creation", 100, "Cap on new issues per search execution")
	flags.Bool("monitors.log-all-events", false, "Log events without registered reactions")

	// Queue
	flags.String("queue.type", "memory", "Queue backend type (memory, redis)")
	flags.Duration("queue.wait-message-time", 2*time.Second, "Receive wait time")
	flags.Duration("queue.visibility-time", 15*time.Second, "Message visibility window")
	flags.String("queue.redis.addr", "localhost:6379", "Redis address")
	flags.String("queue.redis.password", "", "Redis password")
	flags.Int("queue.redis.db", 0, "Redis database number")

	// Storage
	flags.String("storage.type", "sqlite", "Storage backend type (sqlite, postgres, mysql)")
	flags.String("storage.sqlite.path", "/data/vigilant.db", "Path to SQLite database file")
	flags.String("storage.postgres.host", "", "PostgreSQL host")
	flags.Int("storage.postgres.port", 5432, "PostgreSQL port")
	flags.String("storage.postgres.database", "", "PostgreSQL database name")
	flags.String("storage.postgres.username", "", "PostgreSQL username")
	flags.String("storage.postgres.password", "", "PostgreSQL password")
	flags.String("storage.postgres.ssl-mode", "require", "PostgreSQL SSL mode")
	flags.String("storage.mysql.host", "", "MySQL host")
	flags.Int("storage.mysql.port", 3306, "MySQL port")
	flags.String("storage.mysql.database", "", "MySQL database name")
	flags.String("storage.mysql.username", "", "MySQL username")
	flags.String("storage.mysql.password", "", "MySQL password")
	flags.Duration("storage.acquire-timeout", 10*time.Second, "Connection acquisition timeout")
	flags.Duration("storage.query-timeout", 30*time.Second, "Query timeout")
	flags.Duration("storage.close-timeout", 10*time.Second, "Shutdown drain timeout")

	// API
	flags.Bool("api.enabled", true, "Enable the admin API server")
	flags.Int("api.port", 8080, "Admin API server port")
}

// Load loads configuration from flags, environment, and config file
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults from DefaultConfig
	defaults := DefaultConfig()
	v.SetDefault("log-level", defaults.LogLevel)
	v.SetDefault("time-zone", defaults.TimeZone)
	v.SetDefault("controller.process-schedule", defaults.Controller.ProcessSchedule)
	v.SetDefault("controller.concurrency", defaults.Controller.Concurrency)
	v.SetDefault("executor.concurrency", defaults.Executor.Concurrency)
	v.SetDefault("executor.sleep", defaults.Executor.Sleep)
	v.SetDefault("executor.monitor-timeout", defaults.Executor.MonitorTimeout)
	v.SetDefault("executor.monitor-heartbeat-time", defaults.Executor.MonitorHeartbeatTime)
	v.SetDefault("executor.reaction-timeout", defaults.Executor.ReactionTimeout)
	v.SetDefault("executor.request-timeout", defaults.Executor.RequestTimeout)
	v.SetDefault("monitors.load-schedule", defaults.Monitors.LoadSchedule)
	v.SetDefault("monitors.internal-path", defaults.Monitors.InternalPath)
	v.SetDefault("monitors.sample-path", defaults.Monitors.SamplePath)
	v.SetDefault("monitors.load-samples", defaults.Monitors.LoadSamples)
	v.SetDefault("monitors.max-issues-creation", defaults.Monitors.MaxIssuesCreation)
	v.SetDefault("monitors.log-all-events", defaults.Monitors.LogAllEvents)
	v.SetDefault("queue.type", defaults.Queue.Type)
	v.SetDefault("queue.wait-message-time", defaults.Queue.WaitMessageTime)
	v.SetDefault("queue.visibility-time", defaults.Queue.VisibilityTime)
	v.SetDefault("queue.redis.addr", defaults.Queue.Redis.Addr)
	v.SetDefault("queue.redis.db", defaults.Queue.Redis.DB)
	v.SetDefault("storage.type", defaults.Storage.Type)
	v.SetDefault("storage.sqlite.path", defaults.Storage.SQLite.Path)
	v.SetDefault("storage.postgres.port", defaults.Storage.PostgreSQL.Port)
	v.SetDefault("storage.postgres.ssl-mode", defaults.Storage.PostgreSQL.SSLMode)
	v.SetDefault("storage.mysql.port", defaults.Storage.MySQL.Port)
	v.SetDefault("storage.acquire-timeout", defaults.Storage.AcquireTimeout)
	v.SetDefault("storage.query-timeout", defaults.Storage.QueryTimeout)
	v.SetDefault("storage.close-timeout", defaults.Storage.CloseTimeout)
	v.SetDefault("api.enabled", defaults.API.Enabled)
	v.SetDefault("api.port", defaults.API.Port)

	// Bind flags
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	// Environment variables
	v.SetEnvPrefix("VIGILANT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// Config file
	var configFileUsed string
	if configFile, _ := flags.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		configFileUsed = v.ConfigFileUsed()
	} else {
		// Try default locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/vigilant")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err == nil {
			configFileUsed = v.ConfigFileUsed()
		}
		// Ignore error if no config file found - will use defaults
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Map-valued sections have no flag defaults, fill them in when absent
	if cfg.Controller.Procedures == nil {
		cfg.Controller.Procedures = defaults.Controller.Procedures
	}
	if cfg.Storage.Pools == nil {
		cfg.Storage.Pools = defaults.Storage.Pools
	}

	// Store which config file was used (empty string if none)
	cfg.configFileUsed = configFileUsed

	return cfg, nil
}

// ConfigFileUsed returns the path to the config file that was loaded (empty if none)
func (c *Config) ConfigFileUsed() string {
	return c.configFileUsed
}
