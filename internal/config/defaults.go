package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultStreamURL            = "wss://api.marketintel.io/ws/dashboard"
	DefaultSnapshotURL          = "https://api.marketintel.io"
	DefaultPeriod               = "1d"
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatTimeout     = 10 * time.Second
	DefaultQueueLimit           = 1000
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBufferSize           = 1000
	DefaultRefreshInterval      = 1 * time.Minute
	DefaultSnapshotTimeout      = 10 * time.Second
	DefaultSnapshotMaxRetries   = 3
	DefaultServerPort           = 8080
	DefaultLogLevel             = "info"
)

func (c *SyncConfig) applyDefaults() {
	// Stream defaults
	if c.Stream.URL == "" {
		c.Stream.URL = DefaultStreamURL
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Stream.HeartbeatTimeout == 0 {
		c.Stream.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Stream.QueueLimit == 0 {
		c.Stream.QueueLimit = DefaultQueueLimit
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultBufferSize
	}

	// Snapshot defaults
	if c.Snapshot.BaseURL == "" {
		c.Snapshot.BaseURL = DefaultSnapshotURL
	}
	if c.Snapshot.Period == "" {
		c.Snapshot.Period = DefaultPeriod
	}
	if c.Snapshot.RefreshInterval == 0 {
		c.Snapshot.RefreshInterval = DefaultRefreshInterval
	}
	if c.Snapshot.Timeout == 0 {
		c.Snapshot.Timeout = DefaultSnapshotTimeout
	}
	if c.Snapshot.MaxRetries == 0 {
		c.Snapshot.MaxRetries = DefaultSnapshotMaxRetries
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
