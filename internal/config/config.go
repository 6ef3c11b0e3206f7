// Package config loads the persisted settings document for backup and
// restore runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultPath is used when neither the -config flag nor BACKUP_CONFIG is set.
const DefaultPath = "/opt/tenant_backup_config.json"

// Config is the immutable settings snapshot for one run. It is constructed
// once at process entry and passed by reference; nothing mutates it after
// Load returns.
type Config struct {
	// DataSource connection
	DataSourceURL string `json:"data_source_url"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`

	// Remote layout
	RemoteRootPath string `json:"remote_root_path"`

	// Local scratch space
	LocalTempDir  string `json:"local_temp_dir"`
	KeepLocalDays int    `json:"keep_local_days"`

	// Run inclusion flags
	IncludeFullDB bool `json:"include_fulldb"`
	IncludeFiles  bool `json:"include_files"`

	// Retry policy
	MaxRetries     int    `json:"max_retries"`
	RetryDelayBase string `json:"retry_delay_base"`

	// Notification
	WebhookURL       string `json:"webhook_url"`
	WebhookOnSuccess bool   `json:"webhook_on_success"`
	WebhookOnFailure bool   `json:"webhook_on_failure"`

	// Logging
	LogPath string `json:"log_path"`

	// Tenant worker pool size
	Workers int `json:"workers"`

	// Run suppression: skip a run when the newest remote archive is
	// younger than this window. ForceBackup overrides.
	MinRunInterval string `json:"min_run_interval"`
	ForceBackup    bool   `json:"force_backup"`

	// Optional metrics/health listener port (0 disables)
	MetricsPort int `json:"metrics_port"`

	// Storage provider configuration
	StorageProvider string `json:"storage_provider"` // "s3" or "gcs"

	// S3
	AWSAccessKeyID     string `json:"aws_access_key_id"`
	AWSSecretAccessKey string `json:"aws_secret_access_key"`
	S3Bucket           string `json:"s3_bucket"`
	S3Region           string `json:"s3_region"`
	S3Endpoint         string `json:"s3_endpoint"`

	// GCS
	GCSBucket                string `json:"gcs_bucket"`
	GoogleProjectID          string `json:"google_project_id"`
	GoogleServiceAccountJSON string `json:"google_service_account_json"`
}

// Default returns the settings written when no config file exists yet.
func Default() *Config {
	return &Config{
		DataSourceURL:    "http://localhost:8090",
		RemoteRootPath:   "tenant-backups",
		LocalTempDir:     filepath.Join(os.TempDir(), "tenant_backup"),
		KeepLocalDays:    7,
		IncludeFullDB:    true,
		IncludeFiles:     true,
		MaxRetries:       3,
		RetryDelayBase:   "10s",
		WebhookOnFailure: true,
		LogPath:          filepath.Join(os.TempDir(), "tenant_backup.log"),
		Workers:          2,
		StorageProvider:  "s3",
	}
}

// Path resolves the config file location from the flag value or environment.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("BACKUP_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// ErrCreatedDefault is returned by Load when no settings document existed
// and a default one was written for the operator to fill in.
var ErrCreatedDefault = fmt.Errorf("config: default settings document created")

// Load reads the settings document at path, applies environment overrides
// and validates. If the file does not exist, a default document is written
// and ErrCreatedDefault is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := writeDefault(path); werr != nil {
			return nil, fmt.Errorf("create default config %s: %w", path, werr)
		}
		return nil, fmt.Errorf("%w at %s: fill admin_email and admin_password, then rerun", ErrCreatedDefault, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeDefault(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// applyEnv lets credentials and provider settings come from the environment;
// env values win over the file.
func (c *Config) applyEnv() {
	setString(&c.DataSourceURL, "DATA_SOURCE_URL")
	setString(&c.AdminEmail, "ADMIN_EMAIL")
	setString(&c.AdminPassword, "ADMIN_PASSWORD")
	setString(&c.StorageProvider, "STORAGE_PROVIDER")
	setString(&c.AWSAccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&c.AWSSecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&c.S3Bucket, "S3_BUCKET")
	setString(&c.S3Region, "S3_REGION")
	setString(&c.S3Endpoint, "S3_ENDPOINT")
	setString(&c.GCSBucket, "GCS_BUCKET")
	setString(&c.GoogleProjectID, "GOOGLE_PROJECT_ID")
	setString(&c.GoogleServiceAccountJSON, "GOOGLE_SERVICE_ACCOUNT_JSON")
	setString(&c.WebhookURL, "WEBHOOK_URL")

	c.Workers = getEnvInt("BACKUP_WORKERS", c.Workers)
	c.MetricsPort = getEnvInt("METRICS_PORT", c.MetricsPort)
	c.ForceBackup = getEnvBool("FORCE_BACKUP", c.ForceBackup)
}

// Validate checks if the configuration is usable for a run.
func (c *Config) Validate() error {
	if c.DataSourceURL == "" {
		return fmt.Errorf("data_source_url is required")
	}
	if c.AdminEmail == "" || c.AdminPassword == "" {
		return fmt.Errorf("admin_email and admin_password are required")
	}
	if c.RemoteRootPath == "" {
		return fmt.Errorf("remote_root_path is required")
	}

	switch c.StorageProvider {
	case "s3":
		if err := c.validateS3(); err != nil {
			return err
		}
	case "gcs":
		if err := c.validateGCS(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid storage_provider: %s (must be 's3' or 'gcs')", c.StorageProvider)
	}

	if c.KeepLocalDays < 0 {
		return fmt.Errorf("keep_local_days must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if _, err := time.ParseDuration(c.RetryDelayBase); err != nil {
		return fmt.Errorf("invalid retry_delay_base: %w", err)
	}
	if c.MinRunInterval != "" {
		if _, err := time.ParseDuration(c.MinRunInterval); err != nil {
			return fmt.Errorf("invalid min_run_interval: %w", err)
		}
	}
	return nil
}

func (c *Config) validateS3() error {
	if c.AWSAccessKeyID == "" {
		return fmt.Errorf("aws_access_key_id is required for S3 storage")
	}
	if c.AWSSecretAccessKey == "" {
		return fmt.Errorf("aws_secret_access_key is required for S3 storage")
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("s3_bucket is required for S3 storage")
	}
	if c.S3Region == "" && c.S3Endpoint == "" {
		return fmt.Errorf("s3_region is required for S3 storage (unless s3_endpoint is set)")
	}
	return nil
}

func (c *Config) validateGCS() error {
	if c.GCSBucket == "" {
		return fmt.Errorf("gcs_bucket is required for GCS storage")
	}
	if c.GoogleProjectID == "" {
		return fmt.Errorf("google_project_id is required for GCS storage")
	}
	if c.GoogleServiceAccountJSON == "" {
		return fmt.Errorf("google_service_account_json is required for GCS storage")
	}
	return nil
}

// RetryBaseDelay returns the parsed retry_delay_base. Validate guarantees
// the value parses.
func (c *Config) RetryBaseDelay() time.Duration {
	d, err := time.ParseDuration(c.RetryDelayBase)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// RunInterval returns the parsed min_run_interval, zero when unset.
func (c *Config) RunInterval() time.Duration {
	if c.MinRunInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.MinRunInterval)
	if err != nil {
		return 0
	}
	return d
}

// setString overrides dst when the environment variable is set and non-empty.
func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// getEnvInt gets an integer from environment variable with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean from environment variable with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
