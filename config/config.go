// Package config loads publisher configuration from environment
// variables, with an optional settings.env file for local runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Snapshot storage backends.
const (
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

type Config struct {
	// LDAP source
	LDAPURL            string
	LDAPBaseDN         string
	LDAPBindDN         string
	LDAPBindPassword   string
	LDAPPageSize       uint32
	LDAPConnectRetries int

	// Identity transformation
	UserIDPrefix  string
	PublisherName string

	// Signing key, PEM-encoded RSA private key
	SigningKeyPEM string

	// CIS endpoints and credentials
	DiscoveryURL      string
	OAuthClientID     string
	OAuthClientSecret string
	NullProfileURL    string

	// Snapshot storage
	SnapshotBackend string
	SnapshotBucket  string
	SnapshotKey     string
	LastRunKey      string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UseSSL        bool
	PostgresDSN     string
	SnapshotDir     string

	// Run behavior
	PublishWorkers int
	PublishRetries int
	RunTimeout     time.Duration
	DryRun         bool
}

// Load reads configuration from the environment. When envFile exists it
// is loaded first; a missing file is not an error (scheduled runs inject
// everything through the environment directly).
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{}
	var err error

	if cfg.LDAPURL, err = required("LDAP_URL"); err != nil {
		return nil, err
	}
	if cfg.LDAPBaseDN, err = required("LDAP_BASEDN"); err != nil {
		return nil, err
	}
	if cfg.LDAPBindDN, err = required("LDAP_BIND_DN"); err != nil {
		return nil, err
	}
	if cfg.LDAPBindPassword, err = required("LDAP_BIND_PASSWORD"); err != nil {
		return nil, err
	}

	pageSize, err := envInt("LDAP_PAGE_SIZE", 500)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("LDAP_PAGE_SIZE: must be > 0, got %d", pageSize)
	}
	cfg.LDAPPageSize = uint32(pageSize)

	if cfg.LDAPConnectRetries, err = envInt("LDAP_CONNECT_RETRIES", 3); err != nil {
		return nil, err
	}

	if cfg.UserIDPrefix, err = required("LDAP_USER_ID_PREFIX"); err != nil {
		return nil, err
	}
	if cfg.PublisherName, err = required("PUBLISHER_NAME"); err != nil {
		return nil, err
	}
	if cfg.SigningKeyPEM, err = required("PUBLISHER_SIGNING_KEY"); err != nil {
		return nil, err
	}

	if cfg.DiscoveryURL, err = required("IAM_DISCOVERY_URL"); err != nil {
		return nil, err
	}
	if cfg.OAuthClientID, err = required("OAUTH_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.OAuthClientSecret, err = required("OAUTH_CLIENT_SECRET"); err != nil {
		return nil, err
	}
	if cfg.NullProfileURL, err = required("CIS_NULL_PROFILE_URL"); err != nil {
		return nil, err
	}

	cfg.SnapshotBackend = envDefault("SNAPSHOT_BACKEND", BackendS3)
	cfg.SnapshotKey = envDefault("SNAPSHOT_KEY", "ldap-publisher/snapshot.json.zst")
	cfg.LastRunKey = envDefault("LASTRUN_KEY", "ldap-publisher/last-run.json")

	switch cfg.SnapshotBackend {
	case BackendS3:
		if cfg.S3Endpoint, err = required("SNAPSHOT_S3_ENDPOINT"); err != nil {
			return nil, err
		}
		if cfg.S3AccessKey, err = required("SNAPSHOT_S3_ACCESS_KEY"); err != nil {
			return nil, err
		}
		if cfg.S3SecretKey, err = required("SNAPSHOT_S3_SECRET_KEY"); err != nil {
			return nil, err
		}
		if cfg.SnapshotBucket, err = required("SNAPSHOT_BUCKET"); err != nil {
			return nil, err
		}
		if cfg.S3UseSSL, err = envBool("SNAPSHOT_S3_USE_SSL", true); err != nil {
			return nil, err
		}
	case BackendPostgres:
		if cfg.PostgresDSN, err = required("SNAPSHOT_PG_DSN"); err != nil {
			return nil, err
		}
	case BackendFile:
		if cfg.SnapshotDir, err = required("SNAPSHOT_DIR"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("SNAPSHOT_BACKEND: unknown backend %q (valid: s3, postgres, file)", cfg.SnapshotBackend)
	}

	if cfg.PublishWorkers, err = envInt("PUBLISH_WORKERS", 32); err != nil {
		return nil, err
	}
	if cfg.PublishWorkers <= 0 {
		return nil, fmt.Errorf("PUBLISH_WORKERS: must be > 0, got %d", cfg.PublishWorkers)
	}
	if cfg.PublishRetries, err = envInt("PUBLISH_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RunTimeout, err = envDuration("RUN_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DryRun, err = envBool("DRY_RUN", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

func required(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: required environment variable not set", key)
	}
	return val, nil
}

func envDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, val)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, val)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (Go format, e.g. 10m, 90s)", key, val)
	}
	return d, nil
}
