package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "taskrouter.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load(yamlPath string) (*Config, error) {
	if yamlPath == "" {
		yamlPath = DefaultConfigFile
	}
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Token, "TASKROUTER_TOKEN")
	setString(&cfg.Environment, "TASKROUTER_ENVIRONMENT")
	setString(&cfg.Worker.ConnectActivitySID, "TASKROUTER_CONNECT_ACTIVITY_SID")
	setString(&cfg.Worker.DisconnectActivitySID, "TASKROUTER_DISCONNECT_ACTIVITY_SID")
	setBool(&cfg.Worker.CloseExistingSessions, "TASKROUTER_CLOSE_EXISTING_SESSIONS")
	setDuration(&cfg.Signaling.HeartbeatInterval, "TASKROUTER_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Command.Timeout, "TASKROUTER_COMMAND_TIMEOUT")
	setString(&cfg.Command.CertPath, "TASKROUTER_CERT_PATH")
	setString(&cfg.Command.KeyPath, "TASKROUTER_KEY_PATH")
	setString(&cfg.Command.CAPath, "TASKROUTER_CA_PATH")
	setString(&cfg.Logging.Level, "TASKROUTER_LOG_LEVEL")
	setString(&cfg.Logging.Format, "TASKROUTER_LOG_FORMAT")
}

func validate(cfg *Config) error {
	if cfg.Token == "" {
		return errors.New("token is required")
	}
	if cfg.Environment == "" {
		return errors.New("environment is required")
	}
	if cfg.Signaling.HeartbeatInterval <= 0 {
		return errors.New("signaling.heartbeat_interval must be > 0")
	}
	if cfg.Command.Timeout <= 0 {
		return errors.New("command.timeout must be > 0")
	}
	if (cfg.Command.CertPath == "") != (cfg.Command.KeyPath == "") {
		return errors.New("command.cert_path and command.key_path must be set together")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
