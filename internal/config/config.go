// Package config loads guardlink configuration from the environment.
// Precedence is ENV > defaults; every value is typed and validated at startup.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the full runtime configuration of the client core.
type Config struct {
	// APIURL is the base URL of the dispatch backend's REST surface.
	APIURL string
	// SocketURL is the persistent connection endpoint (wss://<host>/clientSocket).
	SocketURL string
	// Listen is the local address for the health/metrics HTTP surface.
	Listen string
	// DataDir holds the credential store database.
	DataDir string

	// SampleInterval is the location reporting cadence.
	SampleInterval time.Duration
	// ReconnectDelay is the fixed delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// TokenThreshold is how close to expiry the access token may get
	// before a refresh is performed.
	TokenThreshold time.Duration
	// ProbeIntervalUp is the connectivity poll interval while reachable.
	ProbeIntervalUp time.Duration
	// ProbeIntervalDown is the connectivity poll interval while unreachable.
	ProbeIntervalDown time.Duration

	// PositionURL is an optional local position feed (GET returning
	// {"latitude":..,"longitude":..}). When empty, the static coordinates
	// below are reported.
	PositionURL string
	// Latitude and Longitude are the fallback static position.
	Latitude  float64
	Longitude float64

	LogLevel string
}

// Load reads configuration from GUARDLINK_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIURL:            ParseString("GUARDLINK_API_URL", "https://localhost:8443"),
		SocketURL:         ParseString("GUARDLINK_SOCKET_URL", "wss://localhost:8443/clientSocket"),
		Listen:            ParseString("GUARDLINK_LISTEN", ":8090"),
		DataDir:           ParseString("GUARDLINK_DATA", "/var/lib/guardlink"),
		SampleInterval:    ParseDuration("GUARDLINK_SAMPLE_INTERVAL", 10*time.Second),
		ReconnectDelay:    ParseDuration("GUARDLINK_RECONNECT_DELAY", 5*time.Second),
		TokenThreshold:    ParseDuration("GUARDLINK_TOKEN_THRESHOLD", 2*time.Minute),
		ProbeIntervalUp:   ParseDuration("GUARDLINK_PROBE_INTERVAL_UP", 15*time.Second),
		ProbeIntervalDown: ParseDuration("GUARDLINK_PROBE_INTERVAL_DOWN", 5*time.Second),
		PositionURL:       ParseString("GUARDLINK_POSITION_URL", ""),
		Latitude:          ParseFloat("GUARDLINK_LATITUDE", 0),
		Longitude:         ParseFloat("GUARDLINK_LONGITUDE", 0),
		LogLevel:          ParseString("GUARDLINK_LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks endpoint schemes and interval sanity.
func (c *Config) Validate() error {
	api, err := url.Parse(c.APIURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") {
		return fmt.Errorf("invalid API URL %q", c.APIURL)
	}
	sock, err := url.Parse(c.SocketURL)
	if err != nil || (sock.Scheme != "ws" && sock.Scheme != "wss") {
		return fmt.Errorf("invalid socket URL %q (scheme must be ws or wss)", c.SocketURL)
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("sample interval must be positive, got %s", c.SampleInterval)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	if c.TokenThreshold < c.SampleInterval {
		return fmt.Errorf("token threshold %s must not be below the sample interval %s",
			c.TokenThreshold, c.SampleInterval)
	}
	return nil
}

// TokenCheckEvery returns how many location ticks pass between credential
// checks in the reporting loop.
func (c *Config) TokenCheckEvery() int {
	n := int(c.TokenThreshold / c.SampleInterval)
	if n < 1 {
		n = 1
	}
	return n
}
