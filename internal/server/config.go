package server

// Config holds the suggestion service settings.
type Config struct {
	Addr                   string
	Port                   int
	LeaseTTLSeconds        int
	ShutdownTimeoutSeconds int
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		Port:                   8080,
		LeaseTTLSeconds:        600,
		ShutdownTimeoutSeconds: 10,
	}
}
