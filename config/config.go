package config

import "time"

// Config holds the runtime configuration of a worker session.
type Config struct {
	Token       string    `yaml:"token"`
	Environment string    `yaml:"environment"`
	Worker      Worker    `yaml:"worker"`
	Signaling   Signaling `yaml:"signaling"`
	Command     Command   `yaml:"command"`
	Logging     Logging   `yaml:"logging"`
}

// Worker holds activity and session options.
type Worker struct {
	ConnectActivitySID    string `yaml:"connect_activity_sid"`
	DisconnectActivitySID string `yaml:"disconnect_activity_sid"`
	CloseExistingSessions bool   `yaml:"close_existing_sessions"`
}

// Signaling holds push transport options.
type Signaling struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Command holds command channel options.
type Command struct {
	Timeout  time.Duration `yaml:"timeout"`
	CertPath string        `yaml:"cert_path"` // optional client certificate (mTLS)
	KeyPath  string        `yaml:"key_path"`
	CAPath   string        `yaml:"ca_path"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		Environment: EnvironmentProd,
		Signaling: Signaling{
			HeartbeatInterval: 60 * time.Second,
		},
		Command: Command{
			Timeout: 5 * time.Second,
		},
		Logging: Logging{
			Level:  "error",
			Format: "text",
		},
	}
}
