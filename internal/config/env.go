package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "LDAPSYNCD_CONFIG"
	EnvRID    = "LDAPSYNCD_RID" // restrict a one-shot run to a single rid
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string
	RID        string
}

// ReadEnvOverrides reads the environment variables this package recognizes.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		RID:        os.Getenv(EnvRID),
	}
}

// ResolveConfigPath determines the config file path using CLI flag > env
// var > platform default, in that priority order.
func ResolveConfigPath(env EnvOverrides, cliFlag string) string {
	if cliFlag != "" {
		return cliFlag
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}
