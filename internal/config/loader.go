package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/openaudit/chronolog/internal/db"
	"github.com/openaudit/chronolog/internal/schema"
)

// Config is the full application configuration: database connection, HTTP
// listen settings, versioning policy and migration batching, plus the
// declarative entity type descriptors loaded into the registry at startup.
type Config struct {
	Database   db.Config
	HTTP       HTTPConfig
	Versioning VersioningConfig
	Migration  MigrationConfig
	Types      []TypeConfig
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type VersioningConfig struct {
	// RequireExtraChangeInfo enables strict tracking: every snapshot-producing
	// flush must run inside an extra-change-info scope.
	RequireExtraChangeInfo bool
}

type MigrationConfig struct {
	BatchSize int
}

// TypeConfig is the file form of a schema.Descriptor.
type TypeConfig struct {
	TableName          string   `mapstructure:"table_name"`
	PrimaryKey         []string `mapstructure:"primary_key"`
	Columns            []string `mapstructure:"columns"`
	Untracked          []string `mapstructure:"untracked"`
	Hidden             []string `mapstructure:"hidden"`
	LegacyHistoryTable string   `mapstructure:"legacy_history_table"`
	CreatedAtColumn    string   `mapstructure:"created_at_column"`
}

// Descriptor converts the file form into a registrable descriptor.
func (t TypeConfig) Descriptor() *schema.Descriptor {
	return &schema.Descriptor{
		TableName:          t.TableName,
		PrimaryKey:         t.PrimaryKey,
		Columns:            t.Columns,
		Untracked:          t.Untracked,
		Hidden:             t.Hidden,
		LegacyHistoryTable: t.LegacyHistoryTable,
		CreatedAtColumn:    t.CreatedAtColumn,
	}
}

// Load reads config.yaml from configPath with CHRONOLOG_* environment
// overrides, falling back to defaults when no file exists.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Migration: MigrationConfig{BatchSize: 10000},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("CHRONOLOG")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("http.addr")
	v.BindEnv("versioning.require_extra_change_info")
	v.BindEnv("migration.batch_size")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("http.addr") {
		cfg.HTTP.Addr = v.GetString("http.addr")
	}
	if v.IsSet("http.allowed_origins") {
		cfg.HTTP.AllowedOrigins = v.GetStringSlice("http.allowed_origins")
	}
	if v.IsSet("versioning.require_extra_change_info") {
		cfg.Versioning.RequireExtraChangeInfo = v.GetBool("versioning.require_extra_change_info")
	}
	if v.IsSet("migration.batch_size") {
		cfg.Migration.BatchSize = v.GetInt("migration.batch_size")
	}
	if v.IsSet("types") {
		if err := v.UnmarshalKey("types", &cfg.Types); err != nil {
			return cfg, fmt.Errorf("failed to decode type descriptors: %w", err)
		}
	}

	return cfg, nil
}

// Registry builds and validates the schema registry from the configured
// entity types.
func (c Config) Registry() (*schema.Registry, error) {
	registry := schema.NewRegistry()
	for _, typeConfig := range c.Types {
		if err := registry.Register(typeConfig.Descriptor()); err != nil {
			return nil, fmt.Errorf("failed to register type %q: %w", typeConfig.TableName, err)
		}
	}
	return registry, nil
}
