package backend

import (
	"fmt"

	"bilancio/internal/config"
	"bilancio/internal/scheduler"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	policy, err := scheduler.ParseDatePolicy(appConfig.PostDatePolicy)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Type:         backendType,
		LockTimeout:  appConfig.LockTimeout,
		SQLiteDBPath: appConfig.SQLiteDBPath,
		PostgresURL:  appConfig.PostgresURL,
		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
		Scheduler: scheduler.Config{
			DatePolicy: policy,
			Workers:    appConfig.ProcessWorkers,
			MaxCatchUp: appConfig.MaxCatchUp,
		},
	}
	if appConfig.BalanceCacheEnabled() {
		cfg.BalanceCacheTTL = appConfig.BalanceCacheTTL
		cfg.BalanceCacheSize = appConfig.BalanceCacheSize
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.PostgresURL == "" {
			return fmt.Errorf("Postgres URL is required for postgres backend")
		}
	case MemoryBackend:
		// Nothing to check, state lives in the process.
	}

	// AMQP is optional, but a half-configured broker is a mistake.
	if c.AMQPURL != "" && (c.AMQPExchange == "" || c.AMQPQueue == "") {
		return fmt.Errorf("AMQP exchange and queue are required when an AMQP URL is set")
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, PostgresBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
