package config

import "time"

// ServerConfig holds the control server's runtime configuration, resolved
// from SIGNAGE_* environment variables with sensible defaults.
type ServerConfig struct {
	ListenAddr      string
	MetricsAddr     string // empty disables the metrics listener
	DataDir         string
	DBPath          string
	AdvertisedPort  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RegisterRateLimit bounds /player/register attempts per IP per window.
	// The access-code namespace is only 10^6, so enrolment is rate limited.
	RegisterRateLimit  int
	RegisterRateWindow time.Duration
}

// ParseServerConfig resolves the server configuration from the environment.
func ParseServerConfig() ServerConfig {
	dataDir := ParseString("SIGNAGE_DATA", "/var/lib/signage")
	return ServerConfig{
		ListenAddr:         ParseString("SIGNAGE_LISTEN", ":8000"),
		MetricsAddr:        ParseString("SIGNAGE_METRICS_ADDR", ""),
		DataDir:            dataDir,
		DBPath:             ParseString("SIGNAGE_DB_PATH", dataDir+"/signage.db"),
		AdvertisedPort:     ParseInt("SIGNAGE_ADVERTISED_PORT", 8000),
		ReadTimeout:        ParseDuration("SIGNAGE_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:       ParseDuration("SIGNAGE_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:        ParseDuration("SIGNAGE_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:    ParseDuration("SIGNAGE_SHUTDOWN_TIMEOUT", 15*time.Second),
		RegisterRateLimit:  ParseInt("SIGNAGE_REGISTER_RATE_LIMIT", 10),
		RegisterRateWindow: ParseDuration("SIGNAGE_REGISTER_RATE_WINDOW", time.Minute),
	}
}
