// Package config loads the bridge configuration from the environment and an optional .env file
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment variable names
const (
	EnvAPIURL           = "LARAVEL_API_URL"
	EnvDatabaseURL      = "FIREBASE_DATABASE_URL"
	EnvServiceAccount   = "FIREBASE_SERVICE_ACCOUNT"
	EnvFeedPath         = "FIREBASE_PATH"
	EnvUserDatabase     = "DEFAULT_USER_DB"
	EnvSyncInterval     = "SYNC_INTERVAL"
	EnvDebug            = "DEBUG"
	EnvRequestTimeout   = "REQUEST_TIMEOUT"
	EnvStatusInterval   = "STATUS_INTERVAL"
	EnvResetInterval    = "RESET_INTERVAL"
	EnvFeedSource       = "FEED_SOURCE"
	EnvJournalPath      = "JOURNAL_PATH"
	EnvJournalMax       = "JOURNAL_MAX"
	EnvAPIAddr          = "API_ADDR"
	EnvAPIJWTSecret     = "API_JWT_SECRET"
	EnvAPIJWTExpiration = "API_JWT_EXPIRATION"

	// MQTT settings
	EnvMQTTBroker   = "MQTT_BROKER"
	EnvMQTTClientID = "MQTT_CLIENT_ID"
	EnvMQTTUsername = "MQTT_USERNAME"
	EnvMQTTPassword = "MQTT_PASSWORD"
	EnvMQTTPrefix   = "MQTT_PREFIX"
	EnvMQTTUseTLS   = "MQTT_USE_TLS"
)

// Feed sources
const (
	FeedFirebase = "firebase"
	FeedMQTT     = "mqtt"
)

// Default values
const (
	DefaultAPIURL           = "https://jwt-prod.up.railway.app/api"
	DefaultDatabaseURL      = "https://wattch-48f16-default-rtdb.asia-southeast1.firebasedatabase.app"
	DefaultServiceAccount   = "./firebase-service-account.json"
	DefaultFeedPath         = "WATTch"
	DefaultUserDatabase     = "admin"
	DefaultSyncInterval     = 10 * time.Second
	DefaultDebug            = true
	DefaultRequestTimeout   = 5 * time.Second
	DefaultStatusInterval   = 60 * time.Second
	DefaultResetInterval    = 60 * time.Second
	DefaultFeedSource       = FeedFirebase
	DefaultJournalMax       = 10000
	DefaultAPIJWTExpiration = 24 * time.Hour

	// MQTT defaults
	DefaultMQTTPrefix = "wattch"
)

// knownKeys lists every key read from the environment
var knownKeys = []string{
	EnvAPIURL, EnvDatabaseURL, EnvServiceAccount, EnvFeedPath, EnvUserDatabase,
	EnvSyncInterval, EnvDebug, EnvRequestTimeout, EnvStatusInterval, EnvResetInterval,
	EnvFeedSource, EnvJournalPath, EnvJournalMax, EnvAPIAddr, EnvAPIJWTSecret, EnvAPIJWTExpiration,
	EnvMQTTBroker, EnvMQTTClientID, EnvMQTTUsername, EnvMQTTPassword, EnvMQTTPrefix, EnvMQTTUseTLS,
}

// Config holds all application configuration.
// All access should be through getter methods for thread safety.
type Config struct {
	mu sync.RWMutex

	// Downstream API
	apiURL         string
	userDatabase   string
	requestTimeout time.Duration

	// Realtime store
	feedSource         string
	databaseURL        string
	serviceAccountPath string
	feedPath           string

	// Sync behaviour
	syncInterval   time.Duration
	statusInterval time.Duration
	resetInterval  time.Duration
	debug          bool

	// Journal
	journalPath string
	journalMax  int

	// Status API
	apiAddr          string
	apiJWTSecret     string
	apiJWTExpiration time.Duration

	// MQTT settings
	mqttBroker   string
	mqttClientID string
	mqttUsername string
	mqttPassword string
	mqttPrefix   string
	mqttUseTLS   bool
}

// Load reads the optional .env file at filePath and overlays the process
// environment on top of it (environment variables win).
func Load(filePath string) (*Config, error) {
	values := make(map[string]string)

	if filePath != "" {
		file, err := os.Open(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		} else {
			fileValues, err := ParseEnvFile(file)
			file.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
			}
			values = fileValues
		}
	}

	for _, key := range knownKeys {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}

	return FromValues(values)
}

// FromValues builds a validated Config from key-value pairs
func FromValues(values map[string]string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.applyValues(values)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults initializes all fields with default values.
func (c *Config) setDefaults() {
	c.apiURL = DefaultAPIURL
	c.userDatabase = DefaultUserDatabase
	c.requestTimeout = DefaultRequestTimeout
	c.feedSource = DefaultFeedSource
	c.databaseURL = DefaultDatabaseURL
	c.serviceAccountPath = DefaultServiceAccount
	c.feedPath = DefaultFeedPath
	c.syncInterval = DefaultSyncInterval
	c.statusInterval = DefaultStatusInterval
	c.resetInterval = DefaultResetInterval
	c.debug = DefaultDebug
	c.journalPath = ""
	c.journalMax = DefaultJournalMax
	c.apiAddr = ""
	c.apiJWTSecret = ""
	c.apiJWTExpiration = DefaultAPIJWTExpiration

	// MQTT defaults
	c.mqttBroker = ""
	c.mqttClientID = ""
	c.mqttUsername = ""
	c.mqttPassword = ""
	c.mqttPrefix = DefaultMQTTPrefix
	c.mqttUseTLS = false
}

// applyValues applies parsed key-value pairs to config.
func (c *Config) applyValues(values map[string]string) {
	if v, ok := values[EnvAPIURL]; ok && v != "" {
		c.apiURL = NormalizeAPIURL(v)
	}
	if v, ok := values[EnvUserDatabase]; ok && v != "" {
		c.userDatabase = v
	}
	if v, ok := values[EnvRequestTimeout]; ok {
		c.requestTimeout = parseMillis(v, DefaultRequestTimeout)
	}

	if v, ok := values[EnvFeedSource]; ok && v != "" {
		c.feedSource = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := values[EnvDatabaseURL]; ok && v != "" {
		c.databaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := values[EnvServiceAccount]; ok && v != "" {
		c.serviceAccountPath = v
	}
	if v, ok := values[EnvFeedPath]; ok && v != "" {
		c.feedPath = strings.Trim(v, "/")
	}

	if v, ok := values[EnvSyncInterval]; ok {
		c.syncInterval = parseMillis(v, DefaultSyncInterval)
	}
	if v, ok := values[EnvStatusInterval]; ok {
		c.statusInterval = parseMillis(v, DefaultStatusInterval)
	}
	if v, ok := values[EnvResetInterval]; ok {
		c.resetInterval = parseMillis(v, DefaultResetInterval)
	}
	if v, ok := values[EnvDebug]; ok && strings.TrimSpace(v) != "" {
		c.debug = parseBool(v)
	}

	if v, ok := values[EnvJournalPath]; ok {
		c.journalPath = v
	}
	if v, ok := values[EnvJournalMax]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.journalMax = n
		}
	}

	if v, ok := values[EnvAPIAddr]; ok {
		c.apiAddr = v
	}
	if v, ok := values[EnvAPIJWTSecret]; ok {
		c.apiJWTSecret = v
	}
	if v, ok := values[EnvAPIJWTExpiration]; ok && v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			c.apiJWTExpiration = time.Duration(seconds) * time.Second
		}
	}

	// MQTT settings
	if v, ok := values[EnvMQTTBroker]; ok {
		c.mqttBroker = v
	}
	if v, ok := values[EnvMQTTClientID]; ok {
		c.mqttClientID = v
	}
	if v, ok := values[EnvMQTTUsername]; ok {
		c.mqttUsername = v
	}
	if v, ok := values[EnvMQTTPassword]; ok {
		c.mqttPassword = v
	}
	if v, ok := values[EnvMQTTPrefix]; ok {
		c.mqttPrefix = strings.Trim(v, "/")
	}
	if v, ok := values[EnvMQTTUseTLS]; ok {
		c.mqttUseTLS = parseBool(v)
	}
}

// validate checks if configuration is valid.
func (c *Config) validate() error {
	if err := validateHTTPURL(c.apiURL); err != nil {
		return fmt.Errorf("%s: %w", EnvAPIURL, err)
	}
	if c.userDatabase == "" {
		return errors.New("user database name cannot be empty")
	}

	switch c.feedSource {
	case FeedFirebase:
		if err := validateHTTPURL(c.databaseURL); err != nil {
			return fmt.Errorf("%s: %w", EnvDatabaseURL, err)
		}
		if c.serviceAccountPath == "" {
			return errors.New("service account path cannot be empty")
		}
	case FeedMQTT:
		if c.mqttBroker == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvMQTTBroker, EnvFeedSource, FeedMQTT)
		}
	default:
		return fmt.Errorf("unknown feed source: %q", c.feedSource)
	}

	if c.apiAddr != "" {
		if err := validateAddr(c.apiAddr); err != nil {
			return fmt.Errorf("%s: %w", EnvAPIAddr, err)
		}
	}

	if c.apiJWTExpiration < time.Minute {
		return errors.New("JWT expiration must be at least 1 minute")
	}

	return nil
}

// Getters (thread-safe)

// APIURL returns the consumption API base URL, always ending in /api.
func (c *Config) APIURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiURL
}

// UserDatabase returns the logical user/database name sent downstream.
func (c *Config) UserDatabase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userDatabase
}

// RequestTimeout returns the outbound call timeout.
func (c *Config) RequestTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requestTimeout
}

// FeedSource returns the change feed implementation to use.
func (c *Config) FeedSource() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedSource
}

// DatabaseURL returns the realtime database URL.
func (c *Config) DatabaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.databaseURL
}

// ServiceAccountPath returns the path of the service account credentials.
func (c *Config) ServiceAccountPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serviceAccountPath
}

// FeedPath returns the subscribed realtime database path.
func (c *Config) FeedPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedPath
}

// SyncInterval returns the maximum quiet period before an unchanged reading is re-sent.
func (c *Config) SyncInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncInterval
}

// StatusInterval returns the period of the status report.
func (c *Config) StatusInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusInterval
}

// ResetInterval returns the period of the reset check.
func (c *Config) ResetInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resetInterval
}

// Debug returns whether debug logging is enabled.
func (c *Config) Debug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.debug
}

// JournalPath returns the journal database path, empty when disabled.
func (c *Config) JournalPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.journalPath
}

// JournalMax returns the number of journal records kept.
func (c *Config) JournalMax() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.journalMax
}

// APIAddr returns the status API listen address, empty when disabled.
func (c *Config) APIAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiAddr
}

// APIJWTSecret returns the status API token secret, empty when auth is off.
func (c *Config) APIJWTSecret() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiJWTSecret
}

// APIJWTExpiration returns the lifetime of minted status API tokens.
func (c *Config) APIJWTExpiration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiJWTExpiration
}

// MQTT Getters

// MQTTBroker returns the MQTT broker address.
func (c *Config) MQTTBroker() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttBroker
}

// MQTTClientID returns the MQTT client ID.
func (c *Config) MQTTClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttClientID
}

// MQTTUsername returns the MQTT username.
func (c *Config) MQTTUsername() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttUsername
}

// MQTTPassword returns the MQTT password.
func (c *Config) MQTTPassword() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttPassword
}

// MQTTPrefix returns the MQTT topic prefix.
func (c *Config) MQTTPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttPrefix
}

// MQTTUseTLS returns whether TLS is enabled for MQTT.
func (c *Config) MQTTUseTLS() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mqttUseTLS
}

// Overrides from the command line

// SetAPIAddr sets the status API listen address.
func (c *Config) SetAPIAddr(addr string) error {
	if addr != "" {
		if err := validateAddr(addr); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiAddr = addr
	return nil
}

// SetDebug enables or disables debug logging.
func (c *Config) SetDebug(debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debug = debug
}

// Helper functions

// NormalizeAPIURL makes sure the base URL ends with /api.
func NormalizeAPIURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasSuffix(u, "/api") {
		return u
	}
	return u + "/api"
}

// parseMillis parses a millisecond count, falling back to def when the
// value is empty, malformed or not positive.
func parseMillis(s string, def time.Duration) time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// parseBool parses a boolean string value.
// Accepts: true, false, 1, 0, yes, no, on, off (case-insensitive)
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %s", addr)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port number: %s", port)
	}
	return nil
}

// String returns a string representation of the config (without secrets).
func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	secretDisplay := "[not set]"
	if c.apiJWTSecret != "" {
		secretDisplay = "[set]"
	}

	return fmt.Sprintf(
		"Config{APIURL: %q, Feed: %s, DatabaseURL: %q, Path: %q, UserDB: %q, SyncInterval: %v, Debug: %v, APIAddr: %q, APISecret: %s, MQTTBroker: %q, Journal: %q}",
		c.apiURL, c.feedSource, c.databaseURL, c.feedPath, c.userDatabase, c.syncInterval, c.debug,
		c.apiAddr, secretDisplay, c.mqttBroker, c.journalPath,
	)
}
