package config

import "time"

// SyncConfig is the root configuration for a syncd instance.
type SyncConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Stream   StreamConfig   `yaml:"stream"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this client instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StreamConfig holds WebSocket connection settings.
type StreamConfig struct {
	URL                  string        `yaml:"url"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatEnabled     *bool         `yaml:"heartbeat_enabled"`
	QueueEnabled         *bool         `yaml:"queue_enabled"`
	QueueLimit           int           `yaml:"queue_limit"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
	Subscriptions        []string      `yaml:"subscriptions"`
}

// SnapshotConfig holds settings for the periodic REST snapshot fetch.
type SnapshotConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Period          string        `yaml:"period"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
}

// ServerConfig holds the local HTTP surface (health, state, metrics).
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// HeartbeatOn reports whether the heartbeat monitor is enabled.
func (s StreamConfig) HeartbeatOn() bool {
	return s.HeartbeatEnabled == nil || *s.HeartbeatEnabled
}

// QueueOn reports whether outbound queueing while disconnected is enabled.
func (s StreamConfig) QueueOn() bool {
	return s.QueueEnabled == nil || *s.QueueEnabled
}
