package gateway

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/spf13/viper"
)

// Networks served by the gateway
const (
	NetworkTCP  = "tcp"
	NetworkWS   = "ws"
	NetworkGnet = "gnet"
)

// Serializers of error bodies and demo payloads
const (
	SerializerJSON     = "json"
	SerializerProtobuf = "protobuf"
	SerializerMsgpack  = "msgpack"
)

// Config is the server configuration, it is loaded once and never changes
// after Start.
type Config struct {
	Network             string `mapstructure:"network"`
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	BossThreads         int    `mapstructure:"boss-threads"`
	WorkerThreads       int    `mapstructure:"worker-threads"`
	MaxConnections      int    `mapstructure:"max-connections"`
	ConnectTimeoutMs    int    `mapstructure:"connect-timeout-ms"`
	HeartbeatIntervalMs int    `mapstructure:"heartbeat-interval-ms"`
	HeartbeatTimeoutMs  int    `mapstructure:"heartbeat-timeout-ms"`
	MaxFrameSize        int    `mapstructure:"max-frame-size"`
	DispatchWorkers     int    `mapstructure:"dispatch-workers"`
	DispatchQueue       int    `mapstructure:"dispatch-queue"`
	ShutdownGraceMs     int    `mapstructure:"shutdown-grace-ms"`
	Serializer          string `mapstructure:"serializer"`
	WSPath              string `mapstructure:"ws-path"`
	AdminAddr           string `mapstructure:"admin-addr"`
	HealthAddr          string `mapstructure:"health-addr"`
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Network:             NetworkTCP,
		Host:                "0.0.0.0",
		Port:                3250,
		BossThreads:         1,
		WorkerThreads:       4,
		MaxConnections:      10000,
		ConnectTimeoutMs:    5000,
		HeartbeatIntervalMs: 10000,
		HeartbeatTimeoutMs:  30000,
		MaxFrameSize:        64 * 1024,
		DispatchWorkers:     16,
		DispatchQueue:       4096,
		ShutdownGraceMs:     5000,
		Serializer:          SerializerJSON,
		WSPath:              "/",
	}
}

// LoadConfig reads the `gateway` section of the config file at path over the
// defaults. Every key may be overridden by a GATEWAY_ environment variable,
// e.g. GATEWAY_MAX_CONNECTIONS. An empty path loads defaults and environment.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	def := DefaultConfig()
	defaults := map[string]interface{}{
		"network":               def.Network,
		"host":                  def.Host,
		"port":                  def.Port,
		"boss-threads":          def.BossThreads,
		"worker-threads":        def.WorkerThreads,
		"max-connections":       def.MaxConnections,
		"connect-timeout-ms":    def.ConnectTimeoutMs,
		"heartbeat-interval-ms": def.HeartbeatIntervalMs,
		"heartbeat-timeout-ms":  def.HeartbeatTimeoutMs,
		"max-frame-size":        def.MaxFrameSize,
		"dispatch-workers":      def.DispatchWorkers,
		"dispatch-queue":        def.DispatchQueue,
		"shutdown-grace-ms":     def.ShutdownGraceMs,
		"serializer":            def.Serializer,
		"ws-path":               def.WSPath,
		"admin-addr":            def.AdminAddr,
		"health-addr":           def.HealthAddr,
	}
	for key, value := range defaults {
		v.SetDefault("gateway."+key, value)
	}

	// the section name is the prefix: gateway.max-connections is read from
	// GATEWAY_MAX_CONNECTIONS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Annotatef(err, "read config %s", path)
		}
	}

	// Unmarshal walks every known key, so environment overrides apply
	file := struct {
		Gateway Config `mapstructure:"gateway"`
	}{}
	if err := v.Unmarshal(&file); err != nil {
		return Config{}, errors.Trace(err)
	}
	return file.Gateway, nil
}

// Validate checks that every sizing and timing field is positive
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"port", c.Port},
		{"boss-threads", c.BossThreads},
		{"worker-threads", c.WorkerThreads},
		{"max-connections", c.MaxConnections},
		{"connect-timeout-ms", c.ConnectTimeoutMs},
		{"heartbeat-interval-ms", c.HeartbeatIntervalMs},
		{"heartbeat-timeout-ms", c.HeartbeatTimeoutMs},
		{"max-frame-size", c.MaxFrameSize},
		{"dispatch-workers", c.DispatchWorkers},
		{"dispatch-queue", c.DispatchQueue},
		{"shutdown-grace-ms", c.ShutdownGraceMs},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Annotatef(ErrInvalidConfig, "%s must be positive, got %d", p.name, p.value)
		}
	}
	if c.Port > 65535 {
		return errors.Annotatef(ErrInvalidConfig, "port %d out of range", c.Port)
	}
	switch c.Network {
	case NetworkTCP, NetworkWS, NetworkGnet:
	default:
		return errors.Annotatef(ErrUnknownNetwork, "%q", c.Network)
	}
	switch c.Serializer {
	case SerializerJSON, SerializerProtobuf, SerializerMsgpack:
	default:
		return errors.Annotatef(ErrInvalidConfig, "unknown serializer %q", c.Serializer)
	}
	return nil
}

// Addr returns the listen address
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ConnectTimeout bounds the websocket handshake and every outbound write
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// HeartbeatInterval is the period of the idle sweep
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// HeartbeatTimeout is the inactivity after which a session is closed
func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

// ShutdownGrace bounds how long in-flight handlers may run during shutdown
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMs) * time.Millisecond
}
