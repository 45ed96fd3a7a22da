package config

import "os"

// ClickHouseConfig configures the optional ClickHouse mirror. An empty Addr
// disables the mirror.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool
}

func (cfg ClickHouseConfig) Enabled() bool {
	return cfg.Addr != ""
}

// ApplyClickHouseEnv overrides flag values with CLICKHOUSE_* environment
// variables when they are set.
func ApplyClickHouseEnv(cfg *ClickHouseConfig) {
	applyClickHouseEnv(cfg, os.Getenv)
}

func applyClickHouseEnv(cfg *ClickHouseConfig, getenv func(string) string) {
	if v := getenv("CLICKHOUSE_ADDR_TCP"); v != "" {
		cfg.Addr = v
	}
	if v := getenv("CLICKHOUSE_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := getenv("CLICKHOUSE_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if getenv("CLICKHOUSE_SECURE") == "true" {
		cfg.Secure = true
	}
}
