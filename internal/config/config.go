package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up inside the config directory.
const FileName = "vehiclesim.cfg.json"

// PartyConfig identifies the local party in the session.
type PartyConfig struct {
	ID   string `json:"id" mapstructure:"id"`
	Host string `json:"host" mapstructure:"host"`
	Side string `json:"side" mapstructure:"side"`
}

// SimConfig holds tick loop and replication schedule settings.
type SimConfig struct {
	TickRate         int `json:"tickRate" mapstructure:"tickRate"`
	FlushInterval    int `json:"flushInterval" mapstructure:"flushInterval"`
	KeyframeInterval int `json:"keyframeInterval" mapstructure:"keyframeInterval"`
}

// TickDuration is the wall-clock length of one tick.
func (c SimConfig) TickDuration() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.TickRate)
}

// AuthorityConfig tunes simulation authority resolution.
type AuthorityConfig struct {
	LeaseTimeoutTicks       uint64  `json:"leaseTimeoutTicks" mapstructure:"leaseTimeoutTicks"`
	HostSimulatesUnoccupied bool    `json:"hostSimulatesUnoccupied" mapstructure:"hostSimulatesUnoccupied"`
	SimulationRange         float64 `json:"simulationRange" mapstructure:"simulationRange"`
}

// ControlsConfig tunes the control state.
type ControlsConfig struct {
	StartGraceTicks uint64 `json:"startGraceTicks" mapstructure:"startGraceTicks"`
	ForceFullGo     bool   `json:"forceFullGo" mapstructure:"forceFullGo"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds sqlite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	Path         string        `json:"path" mapstructure:"path"`
}

// StorageConfig selects and configures the snapshot storage backend.
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// WebSocketConfig holds the websocket transport settings.
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
	Listen string `json:"listen" mapstructure:"listen"`
}

// TransportConfig selects the message transport.
type TransportConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
}

// OTelConfig mirrors otel.Config minus the runtime log writer.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds InfluxDB connection settings.
type InfluxConfig struct {
	Enabled  bool
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	Bucket   string
}

// ServerURL joins protocol, host and port.
func (c InfluxConfig) ServerURL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GraylogConfig holds the GELF sink settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./vehiclelogs")

	viper.SetDefault("party.id", "host")
	viper.SetDefault("party.host", "host")
	viper.SetDefault("party.side", "server")

	viper.SetDefault("sim.tickRate", 60)
	viper.SetDefault("sim.flushInterval", 3)
	viper.SetDefault("sim.keyframeInterval", 100)

	viper.SetDefault("authority.leaseTimeoutTicks", 300)
	viper.SetDefault("authority.hostSimulatesUnoccupied", true)
	viper.SetDefault("authority.simulationRange", 0.0)

	viper.SetDefault("controls.startGraceTicks", 60)
	viper.SetDefault("controls.forceFullGo", false)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./snapshots")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.path", "./snapshots/vehicles.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "vehiclesim")

	viper.SetDefault("transport.type", "loopback")
	viper.SetDefault("transport.websocket.url", "ws://localhost:5080/relay")
	viper.SetDefault("transport.websocket.secret", "")
	viper.SetDefault("transport.websocket.listen", ":5080")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "vehiclesim")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "vehiclesim")
	viper.SetDefault("influx.bucket", "vehiclesim-status")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetPartyConfig() PartyConfig {
	return PartyConfig{
		ID:   viper.GetString("party.id"),
		Host: viper.GetString("party.host"),
		Side: viper.GetString("party.side"),
	}
}

func GetSimConfig() SimConfig {
	return SimConfig{
		TickRate:         viper.GetInt("sim.tickRate"),
		FlushInterval:    viper.GetInt("sim.flushInterval"),
		KeyframeInterval: viper.GetInt("sim.keyframeInterval"),
	}
}

func GetAuthorityConfig() AuthorityConfig {
	return AuthorityConfig{
		LeaseTimeoutTicks:       viper.GetUint64("authority.leaseTimeoutTicks"),
		HostSimulatesUnoccupied: viper.GetBool("authority.hostSimulatesUnoccupied"),
		SimulationRange:         viper.GetFloat64("authority.simulationRange"),
	}
}

func GetControlsConfig() ControlsConfig {
	return ControlsConfig{
		StartGraceTicks: viper.GetUint64("controls.startGraceTicks"),
		ForceFullGo:     viper.GetBool("controls.forceFullGo"),
	}
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			Path:         viper.GetString("storage.sqlite.path"),
		},
	}
}

func GetTransportConfig() TransportConfig {
	return TransportConfig{
		Type: viper.GetString("transport.type"),
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("transport.websocket.url"),
			Secret: viper.GetString("transport.websocket.secret"),
			Listen: viper.GetString("transport.websocket.listen"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}
