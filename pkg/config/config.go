// Package config provides environment-based configuration for the Pages build core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the API server and job worker.
type Config struct {
	// Database configuration
	DatabaseDSN string

	// Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Server configuration
	APIHost string
	APIPort int

	// APIBaseURL is the externally reachable base URL the executor posts
	// status callbacks to.
	APIBaseURL string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// External services
	GitHub   GitHubConfig
	Executor ExecutorConfig
	S3       S3Config

	// Build lifecycle
	Build BuildConfig

	// Scheduled job configuration
	Jobs JobsConfig
}

// GitHubConfig holds code host API configuration.
type GitHubConfig struct {
	// APIURL is the base URL for the GitHub API.
	APIURL string
	// Organization is the GitHub organization audited for membership.
	Organization string
	// AuditorUsername is the system user that nightly builds are attributed to.
	AuditorUsername string
	// AuditorToken is used for org membership reconciliation.
	AuditorToken string
}

// ExecutorConfig holds build executor service configuration.
type ExecutorConfig struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// S3Config holds object storage configuration for archived build logs.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// BuildConfig holds build lifecycle tuning.
type BuildConfig struct {
	// Timeout is how long a processing build may run before the sweeper fails it.
	Timeout time.Duration
	// TaskedTimeout is how long a tasked build may sit without updates.
	TaskedTimeout time.Duration
}

// JobsConfig holds scheduled job configuration.
type JobsConfig struct {
	// Concurrency bounds how many job invocations run at once.
	Concurrency int
	// Schedules maps job names to cron expressions.
	Schedules map[string]string
	// Disabled lists job names that should not be registered.
	Disabled []string
	// ConfigFile optionally points to a YAML file overriding the above.
	ConfigFile string
	// ArchiveWindow is how far back the daily log archival job looks.
	ArchiveWindow time.Duration
	// InactivityCutoff is how long without sign-in before membership is revoked.
	InactivityCutoff time.Duration
}

// Default cron expressions per job. The nightly schedule intentionally fires
// once daily; anything more frequent is a development stub.
const (
	DefaultNightlySchedule = "0 5 * * *"
	DefaultTimeoutSchedule = "*/10 * * * *"
	DefaultArchiveSchedule = "0 6 * * *"
	DefaultVerifySchedule  = "0 3 * * *"
	DefaultAuditSchedule   = "0 4 * * *"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/pages?sslmode=disable"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		APIPort:         getIntEnv("API_PORT", 8080),
		APIBaseURL:      getEnv("API_BASE_URL", "http://localhost:8080"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		GitHub: GitHubConfig{
			APIURL:          getEnv("GITHUB_API_URL", "https://api.github.com"),
			Organization:    getEnv("GITHUB_ORGANIZATION", ""),
			AuditorUsername: getEnv("GITHUB_AUDITOR_USERNAME", "pages-auditor"),
			AuditorToken:    getEnv("GITHUB_AUDITOR_TOKEN", ""),
		},
		Executor: ExecutorConfig{
			Endpoint: getEnv("EXECUTOR_ENDPOINT", "http://localhost:9000"),
			Token:    getEnv("EXECUTOR_TOKEN", ""),
			Timeout:  getDurationEnv("EXECUTOR_TIMEOUT", 30*time.Second),
		},
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", "s3.amazonaws.com"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", "pages-build-logs"),
			Region:    getEnv("S3_REGION", "us-gov-west-1"),
			UseSSL:    getBoolEnv("S3_USE_SSL", true),
		},
		Build: BuildConfig{
			Timeout:       time.Duration(getIntEnv("BUILD_TIMEOUT", 45)) * time.Minute,
			TaskedTimeout: getDurationEnv("BUILD_TASKED_TIMEOUT", 5*time.Minute),
		},
		Jobs: JobsConfig{
			Concurrency: getIntEnv("JOB_CONCURRENCY", 5),
			Schedules: map[string]string{
				"nightlyBuilds":                    getEnv("NIGHTLY_BUILDS_SCHEDULE", DefaultNightlySchedule),
				"timeoutBuilds":                    getEnv("TIMEOUT_BUILDS_SCHEDULE", DefaultTimeoutSchedule),
				"archiveBuildLogsDaily":            getEnv("ARCHIVE_BUILD_LOGS_SCHEDULE", DefaultArchiveSchedule),
				"verifyRepos":                      getEnv("VERIFY_REPOS_SCHEDULE", DefaultVerifySchedule),
				"revokeMembershipForInactiveUsers": getEnv("REVOKE_MEMBERSHIP_SCHEDULE", DefaultAuditSchedule),
			},
			ConfigFile:       getEnv("JOBS_CONFIG", ""),
			ArchiveWindow:    getDurationEnv("ARCHIVE_WINDOW", 24*time.Hour),
			InactivityCutoff: getDurationEnv("INACTIVITY_CUTOFF", 90*24*time.Hour),
		},
	}

	if cfg.Jobs.ConfigFile != "" {
		if err := cfg.Jobs.applyFile(cfg.Jobs.ConfigFile); err != nil {
			return nil, fmt.Errorf("loading jobs config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Build.Timeout <= 0 {
		return fmt.Errorf("BUILD_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
