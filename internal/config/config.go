package config

import "time"

// Config is the root configuration for Courier.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Stream  StreamConfig  `yaml:"stream"`
	Poll    PollConfig    `yaml:"poll"`
	Process ProcessConfig `yaml:"process"`
	MCP     MCPConfig     `yaml:"mcp"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// StorageConfig selects the message log backend.
// Driver is one of "memory", "file", "sqlite", "redis".
type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StreamConfig tunes the push transport. MaxLifetime 0 keeps connections
// open until the peer leaves.
type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	PingInterval time.Duration `yaml:"ping_interval"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	Retry        time.Duration `yaml:"retry"`
	WriteBuffer  int           `yaml:"write_buffer"` // websocket write buffer, bytes
}

// PollConfig is used by the poll client of the watch command.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ProcessConfig bounds the simulated long-running task. Steps replaces
// the built-in demo script when set.
type ProcessConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxPerSession int           `yaml:"max_per_session"` // 0 = unbounded
	MaxTimeout    time.Duration `yaml:"max_timeout"`
	DelayScale    float64       `yaml:"step_delay_scale"`
	Steps         []StepConfig  `yaml:"steps"`
}

type StepConfig struct {
	Message string        `yaml:"message"`
	Type    string        `yaml:"type"`
	Delay   time.Duration `yaml:"delay"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
	Notify  bool `yaml:"notify"`
}

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8420,
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "~/.config/courier/courier.db",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "courier:messages:",
			},
		},
		Stream: StreamConfig{
			PollInterval: 100 * time.Millisecond,
			PingInterval: 30 * time.Second,
			MaxLifetime:  300 * time.Second,
			Retry:        1 * time.Second,
			WriteBuffer:  4096,
		},
		Poll: PollConfig{
			Interval: 1 * time.Second,
		},
		Process: ProcessConfig{
			MaxConcurrent: 8,
			MaxTimeout:    10 * time.Minute,
			DelayScale:    1,
		},
		MCP: MCPConfig{
			Enabled: true,
			Notify:  true,
		},
	}
}
