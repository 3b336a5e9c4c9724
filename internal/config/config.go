package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"IMPORTER_SERVER_"`
	Monday     MondayConfig     `yaml:"monday"`
	Import     ImportConfig     `yaml:"import" envPrefix:"IMPORTER_"`
	Workspace  WorkspaceConfig  `yaml:"workspace" envPrefix:"IMPORTER_WORKSPACE_"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" envPrefix:"IMPORTER_CHECKPOINT_"`
	Notify     NotifyConfig     `yaml:"notify" envPrefix:"IMPORTER_NOTIFY_"`
	Metrics    MetricsConfig    `yaml:"metrics" envPrefix:"IMPORTER_METRICS_"`
	Log        LogConfig        `yaml:"log" envPrefix:"IMPORTER_LOG_"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type MondayConfig struct {
	APIKey            string        `yaml:"api_key" env:"MONDAY_API_KEY"`
	Endpoint          string        `yaml:"endpoint" env:"MONDAY_ENDPOINT" envDefault:"https://api.monday.com/v2"`
	APIVersion        string        `yaml:"api_version" env:"MONDAY_API_VERSION" envDefault:"2024-10"`
	Timeout           time.Duration `yaml:"timeout" env:"MONDAY_TIMEOUT" envDefault:"30s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"MONDAY_REQUESTS_PER_SECOND" envDefault:"5"`
	MaxRetries        uint64        `yaml:"max_retries" env:"MONDAY_MAX_RETRIES" envDefault:"3"`
}

type ImportConfig struct {
	// RowDelay is the pause after each row when a job respects rate limits.
	// Zero disables it.
	RowDelay           time.Duration `yaml:"row_delay" env:"ROW_DELAY" envDefault:"1s"`
	BoardKind          string        `yaml:"board_kind" env:"BOARD_KIND" envDefault:"public"`
	LoadDeepAsSubitems bool          `yaml:"load_deep_as_subitems" env:"LOAD_DEEP_AS_SUBITEMS" envDefault:"false"`
	DateLayouts        []string      `yaml:"date_layouts" env:"DATE_LAYOUTS" envSeparator:"|"`
	Columns            ColumnsConfig `yaml:"columns" envPrefix:"COLUMN_"`
}

// ColumnsConfig names the spreadsheet header columns.
type ColumnsConfig struct {
	Name                 string `yaml:"name" env:"NAME" envDefault:"Name"`
	Outline              string `yaml:"outline" env:"OUTLINE" envDefault:"Outline Level"`
	Start                string `yaml:"start" env:"START" envDefault:"Start"`
	Finish               string `yaml:"finish" env:"FINISH" envDefault:"Finish"`
	Responsible          string `yaml:"responsible" env:"RESPONSIBLE" envDefault:"Resource Names"`
	SecondaryResponsible string `yaml:"secondary_responsible" env:"SECONDARY_RESPONSIBLE" envDefault:"Supervisor"`
}

type WorkspaceConfig struct {
	Dir          string        `yaml:"dir" env:"DIR" envDefault:"./data/jobs"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" envDefault:"2m"`
}

type CheckpointConfig struct {
	Backend     string `yaml:"backend" env:"BACKEND" envDefault:"file"`
	Dir         string `yaml:"dir" env:"DIR"` // defaults to Workspace.Dir
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
}

type NotifyConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	BackupDir string `yaml:"backup_dir" env:"BACKUP_DIR"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED" envDefault:"true"`
	Namespace string `yaml:"namespace" env:"NAMESPACE" envDefault:"outline_importer"`
	Address   string `yaml:"address" env:"ADDRESS"`
}

type LogConfig struct {
	Format string `yaml:"format" env:"FORMAT" envDefault:"text"`
	Level  string `yaml:"level" env:"LEVEL" envDefault:"info"`
	File   string `yaml:"file" env:"FILE"`
}

// EnvFiles are loaded, when present, before the environment is parsed.
var EnvFiles = []string{".env", ".env.local"}

// Load builds the configuration from .env files, the environment and an
// optional YAML file. Values in the YAML file win over the environment.
func Load(path string) (Config, error) {
	if err := loadEnvFiles(EnvFiles); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if path == "" {
		path = os.Getenv("IMPORTER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = cfg.Workspace.Dir
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a job.
func (c Config) Validate() error {
	var errs []error
	switch c.Import.BoardKind {
	case "public", "private", "share":
	default:
		errs = append(errs, fmt.Errorf("import.board_kind must be public, private or share, got %q", c.Import.BoardKind))
	}
	switch c.Checkpoint.Backend {
	case "file":
	case "postgres":
		if c.Checkpoint.PostgresDSN == "" {
			errs = append(errs, errors.New("checkpoint.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported checkpoint backend %q", c.Checkpoint.Backend))
	}
	if c.Import.RowDelay < 0 {
		errs = append(errs, errors.New("import.row_delay must not be negative"))
	}
	if c.Workspace.Dir == "" {
		errs = append(errs, errors.New("workspace.dir is required"))
	}
	return errors.Join(errs...)
}

func loadEnvFiles(files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}
