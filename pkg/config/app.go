package config

import "time"

// AppConfig is coordinatord's top-level configuration, loaded by
// config.LoadWithEnv from a YAML/JSON file with "COORD_"-prefixed
// environment overrides.
type AppConfig struct {
	Node string `yaml:"node" json:"node"`

	HTTPAddr string `yaml:"http_addr" json:"http_addr"`

	PostgresDSN      string `yaml:"postgres_dsn" json:"postgres_dsn"`
	AuditPostgresDSN string `yaml:"audit_postgres_dsn" json:"audit_postgres_dsn"`
	SnapshotSqlitePath string `yaml:"snapshot_sqlite_path" json:"snapshot_sqlite_path"`

	NatsURL    string `yaml:"nats_url" json:"nats_url"`
	NatsPrefix string `yaml:"nats_prefix" json:"nats_prefix"`

	ClusterServers []string `yaml:"cluster_servers" json:"cluster_servers"`
	LogDataDir     string   `yaml:"log_data_dir" json:"log_data_dir"`

	JWTSigningKey string        `yaml:"jwt_signing_key" json:"jwt_signing_key"`
	JWTIssuer     string        `yaml:"jwt_issuer" json:"jwt_issuer"`
	JWTTTL        time.Duration `yaml:"jwt_ttl" json:"jwt_ttl"`

	FreshnessGate time.Duration `yaml:"freshness_gate" json:"freshness_gate"`

	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	TracingExporter string `yaml:"tracing_exporter" json:"tracing_exporter"`
	TracingEndpoint string `yaml:"tracing_endpoint" json:"tracing_endpoint"`

	ResizeIntervalSeconds int `yaml:"resize_interval_seconds" json:"resize_interval_seconds"`
}

// Default returns an AppConfig suitable for a single-node, in-memory run
// with no external dependencies configured.
func Default() AppConfig {
	return AppConfig{
		Node:                  "node-1",
		HTTPAddr:              ":8080",
		MetricsAddr:           ":9090",
		JWTIssuer:             "stream-coordinator",
		JWTTTL:                time.Hour,
		FreshnessGate:         10 * time.Second,
		ResizeIntervalSeconds: 30,
	}
}
