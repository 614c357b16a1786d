package config

// Default values for configuration options, chosen to be safe starting
// points that work without any config file beyond the required `[[source]]`
// tables.
const (
	defaultConnectTimeout  = "10s"
	defaultReadTimeout     = "60s"
	defaultTLS             = "starttls"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultScope           = "sub"
	defaultType            = "refreshAndPersist"
	defaultSyncData        = "plain"
	defaultIntervalSeconds = 60
	defaultRetry           = "60 +"
	defaultSizeLimit       = 0
	defaultTimeLimit       = 0
	defaultContextAttr     = "contextCSN"
	defaultUUIDAttr        = "entryUUID"
	defaultStampAttr       = "entryCSN"
)

// DefaultConfig returns a Config populated with default global values and
// no sources. Sources must come from the config file — there is no sensible
// zero-config default for "which directory to replicate from".
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			ReadTimeout:    defaultReadTimeout,
			TLS:            defaultTLS,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// applySourceDefaults fills zero-valued fields of a SourceSection with
// package defaults. Called after TOML decoding, before validation.
func applySourceDefaults(s *SourceSection) {
	if s.Scope == "" {
		s.Scope = defaultScope
	}

	if s.Type == "" {
		s.Type = defaultType
	}

	if s.SyncData == "" {
		s.SyncData = defaultSyncData
	}

	if s.IntervalSeconds == 0 {
		s.IntervalSeconds = defaultIntervalSeconds
	}

	if s.Retry == "" {
		s.Retry = defaultRetry
	}

	if s.Database == "" {
		s.Database = "default"
	}
}

// applyDatabaseDefaults fills zero-valued fields of a DatabaseSection
// with package defaults. Called after TOML decoding, before validation.
func applyDatabaseDefaults(d *DatabaseSection) {
	if d.ContextAttr == "" {
		d.ContextAttr = defaultContextAttr
	}

	if d.UUIDAttr == "" {
		d.UUIDAttr = defaultUUIDAttr
	}

	if d.StampAttr == "" {
		d.StampAttr = defaultStampAttr
	}
}
